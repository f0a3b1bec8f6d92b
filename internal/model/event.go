package model

import "time"

type EventType string

// Server -> client events.
const (
	EventNewMessage     EventType = "new_message"
	EventMessageUpdated EventType = "message_updated"
	EventMessageDeleted EventType = "message_deleted"
	EventTyping         EventType = "typing"
	EventPresenceList   EventType = "presence:list"
	EventChatSeen       EventType = "chat:seen"
	EventChatCreated    EventType = "chat:created"
)

// MessageUpdated carries only the fields an edit may change.
type MessageUpdated struct {
	ChatID    string    `json:"chatId"`
	MessageID string    `json:"messageId"`
	Text      string    `json:"text"`
	EditedAt  time.Time `json:"editedAt"`
}

type MessageDeleted struct {
	ChatID    string    `json:"chatId"`
	MessageID string    `json:"messageId"`
	IsDeleted bool      `json:"isDeleted"`
	DeletedAt time.Time `json:"deletedAt"`
}

type Typing struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type ChatSeen struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}
