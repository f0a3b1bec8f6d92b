package service

import (
	"strings"

	"github.com/connectly/internal/model"
)

// TypingCoordinator relays typing indicators to the rest of a chat room. Nothing is stored.
type TypingCoordinator struct {
	bus Broadcaster
}

func NewTypingCoordinator(bus Broadcaster) *TypingCoordinator {
	return &TypingCoordinator{bus: bus}
}

// SetTyping notifies every connection in the chat room except excludeConnID.
func (t *TypingCoordinator) SetTyping(chatID, userID string, isTyping bool, excludeConnID string) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" || userID == "" {
		return
	}
	t.bus.EmitExcept(chatID, excludeConnID, model.EventTyping, model.Typing{
		ChatID:   chatID,
		UserID:   userID,
		IsTyping: isTyping,
	})
}
