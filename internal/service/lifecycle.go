package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/connectly/internal/apperr"
	"github.com/connectly/internal/logger"
	"github.com/connectly/internal/model"
)

// notifyTimeout bounds one offline notification for a created message.
const notifyTimeout = 15 * time.Second

// MessageLifecycle owns message state: create, edit, soft delete, hard delete and
// seen receipts. Every event is emitted only after the store write succeeded.
type MessageLifecycle struct {
	messages MessageStore
	bus      Broadcaster
	notifier Notifier
	validate *validator.Validate
	clock    func() time.Time

	notifying sync.WaitGroup
}

// NewMessageLifecycle builds the lifecycle. notifier may be nil.
func NewMessageLifecycle(messages MessageStore, bus Broadcaster, notifier Notifier) *MessageLifecycle {
	return &MessageLifecycle{
		messages: messages,
		bus:      bus,
		notifier: notifier,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		clock:    now,
	}
}

func (l *MessageLifecycle) chatForMember(ctx context.Context, chatID, userID string) (*model.Chat, error) {
	chat, err := l.messages.GetChat(ctx, chatID)
	if err != nil {
		return nil, storeErr(err, "chat not found")
	}
	if !chat.HasMember(userID) {
		return nil, apperr.Forbidden("not a member of this chat")
	}
	return chat, nil
}

// ownMessage loads a message the caller is allowed to mutate.
func (l *MessageLifecycle) ownMessage(ctx context.Context, messageID, callerID string) (*model.Message, error) {
	msg, err := l.messages.GetMessage(ctx, strings.TrimSpace(messageID))
	if err != nil {
		return nil, storeErr(err, "message not found")
	}
	if msg.SenderID != callerID {
		return nil, apperr.Forbidden("only the sender can modify this message")
	}
	return msg, nil
}

func (l *MessageLifecycle) Create(ctx context.Context, chatID, senderID, text string, attachments []model.Attachment) (*model.Message, error) {
	defer logger.DeferLogDuration("lifecycle.Create", time.Now())()
	chatID = strings.TrimSpace(chatID)
	text = strings.TrimSpace(text)
	if chatID == "" {
		return nil, apperr.Validation("chatId is required")
	}
	if text == "" && len(attachments) == 0 {
		return nil, apperr.Validation("message must contain text or attachments")
	}
	for i := range attachments {
		if err := l.validate.Struct(attachments[i]); err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, fmt.Sprintf("attachment %d is invalid", i), err)
		}
	}

	chat, err := l.chatForMember(ctx, chatID, senderID)
	if err != nil {
		return nil, err
	}

	at := l.clock()
	msg := &model.Message{
		ID:          uuid.NewString(),
		ChatID:      chat.ID,
		SenderID:    senderID,
		Text:        text,
		Attachments: append([]model.Attachment(nil), attachments...),
		CreatedAt:   at,
	}
	msg.Normalize()
	if err := l.messages.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("lifecycle.Create: %w", storeErr(err, "chat not found"))
	}

	l.bus.Emit(chat.ID, model.EventNewMessage, msg)
	if l.notifier != nil {
		l.notifying.Add(1)
		go func(chat model.Chat, msg model.Message) {
			defer l.notifying.Done()
			ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			defer cancel()
			l.notifier.MessageCreated(ctx, chat, msg)
		}(*chat, *msg)
	}
	return msg, nil
}

// Wait blocks until in-flight notifications finish or ctx is done.
func (l *MessageLifecycle) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.notifying.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *MessageLifecycle) Edit(ctx context.Context, messageID, callerID, newText string) (*model.Message, error) {
	defer logger.DeferLogDuration("lifecycle.Edit", time.Now())()
	newText = strings.TrimSpace(newText)
	if newText == "" {
		return nil, apperr.Validation("text is required")
	}
	msg, err := l.ownMessage(ctx, messageID, callerID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, apperr.Conflict("message is deleted")
	}

	at := l.clock()
	msg.Text = newText
	msg.EditedAt = &at
	if err := l.messages.UpdateMessage(ctx, msg, at); err != nil {
		return nil, fmt.Errorf("lifecycle.Edit: %w", storeErr(err, "message not found"))
	}

	l.bus.Emit(msg.ChatID, model.EventMessageUpdated, model.MessageUpdated{
		ChatID:    msg.ChatID,
		MessageID: msg.ID,
		Text:      msg.Text,
		EditedAt:  at,
	})
	return msg, nil
}

// Delete soft-deletes: content is cleared and the message can no longer change.
func (l *MessageLifecycle) Delete(ctx context.Context, messageID, callerID string) (*model.Message, error) {
	defer logger.DeferLogDuration("lifecycle.Delete", time.Now())()
	msg, err := l.ownMessage(ctx, messageID, callerID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, apperr.Conflict("message already deleted")
	}

	at := l.clock()
	msg.IsDeleted = true
	msg.DeletedAt = &at
	msg.Normalize()
	if err := l.messages.UpdateMessage(ctx, msg, at); err != nil {
		return nil, fmt.Errorf("lifecycle.Delete: %w", storeErr(err, "message not found"))
	}

	l.bus.Emit(msg.ChatID, model.EventMessageDeleted, model.MessageDeleted{
		ChatID:    msg.ChatID,
		MessageID: msg.ID,
		IsDeleted: true,
		DeletedAt: at,
	})
	return msg, nil
}

// HardDelete removes the row entirely. Clients see the same message_deleted event.
func (l *MessageLifecycle) HardDelete(ctx context.Context, messageID, callerID string) error {
	defer logger.DeferLogDuration("lifecycle.HardDelete", time.Now())()
	msg, err := l.ownMessage(ctx, messageID, callerID)
	if err != nil {
		return err
	}

	at := l.clock()
	if err := l.messages.DeleteMessage(ctx, msg.ID, at); err != nil {
		return fmt.Errorf("lifecycle.HardDelete: %w", storeErr(err, "message not found"))
	}

	l.bus.Emit(msg.ChatID, model.EventMessageDeleted, model.MessageDeleted{
		ChatID:    msg.ChatID,
		MessageID: msg.ID,
		IsDeleted: true,
		DeletedAt: at,
	})
	return nil
}

// MarkSeen adds callerID to seen_by of every message the other member wrote.
// chat:seen is emitted on every successful call, even when nothing changed.
func (l *MessageLifecycle) MarkSeen(ctx context.Context, chatID, callerID string) (int64, error) {
	defer logger.DeferLogDuration("lifecycle.MarkSeen", time.Now())()
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return 0, apperr.Validation("chatId is required")
	}
	chat, err := l.chatForMember(ctx, chatID, callerID)
	if err != nil {
		return 0, err
	}
	n, err := l.messages.MarkSeen(ctx, chat.ID, callerID, l.clock())
	if err != nil {
		return 0, fmt.Errorf("lifecycle.MarkSeen: %w", err)
	}
	l.bus.Emit(chat.ID, model.EventChatSeen, model.ChatSeen{ChatID: chat.ID, UserID: callerID})
	return n, nil
}
