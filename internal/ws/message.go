package ws

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"

	"github.com/connectly/internal/model"
)

// Client -> server commands.
const (
	CmdJoinChat  = "join_chat"
	CmdLeaveChat = "leave_chat"
	CmdTyping    = "typing"
	CmdChatSeen  = "chat:seen"
)

// Frame is the envelope used in both directions: {"event": "...", "data": ...}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outgoingFrame struct {
	Event model.EventType `json:"event"`
	Data  any             `json:"data"`
}

type TypingCommand struct {
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

type SeenCommand struct {
	ChatID string `json:"chatId"`
}

// bufPool pools bytes.Buffer for JSON encoding in the hot path (one encode per emit).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// encodeFrame serializes an event once; the result is shared by every recipient.
func encodeFrame(event model.EventType, payload any) ([]byte, error) {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)
	if err := json.NewEncoder(buf).Encode(outgoingFrame{Event: event, Data: payload}); err != nil {
		return nil, err
	}
	// json.Encoder appends '\n'; trim it for WebSocket text messages.
	data := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	return append([]byte(nil), data...), nil
}

// chatIDFrom accepts both "chat-id" and {"chatId": "chat-id"}.
func chatIDFrom(data json.RawMessage) string {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var obj SeenCommand
	if err := json.Unmarshal(data, &obj); err == nil {
		return strings.TrimSpace(obj.ChatID)
	}
	return ""
}
