package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/connectly/internal/apperr"
	"github.com/connectly/internal/logger"
	"github.com/connectly/internal/model"
	"github.com/connectly/internal/repository"
)

// ChatService creates one-to-one chats and serves chat lists and history.
type ChatService struct {
	chats    ChatStore
	messages MessageStore
	users    UserStore
	bus      Broadcaster
	clock    func() time.Time
}

func NewChatService(chats ChatStore, messages MessageStore, users UserStore, bus Broadcaster) *ChatService {
	return &ChatService{chats: chats, messages: messages, users: users, bus: bus, clock: now}
}

// GetOrCreate returns the chat between callerID and otherID, creating it on first contact.
// created reports whether this call inserted it; the peer then receives chat:created.
func (s *ChatService) GetOrCreate(ctx context.Context, callerID, otherID string) (view *model.ChatView, created bool, err error) {
	defer logger.DeferLogDuration("chat.GetOrCreate", time.Now())()
	otherID = strings.TrimSpace(otherID)
	if otherID == "" {
		return nil, false, apperr.Validation("otherUserId is required")
	}
	if otherID == callerID {
		return nil, false, apperr.Validation("cannot create a chat with yourself")
	}
	if _, err := s.users.GetByID(ctx, otherID); err != nil {
		return nil, false, storeErr(err, "user not found")
	}

	chat, err := s.chats.FindByMembers(ctx, callerID, otherID)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		at := s.clock()
		chat = &model.Chat{
			ID:        uuid.NewString(),
			Members:   model.PairOf(callerID, otherID),
			CreatedAt: at,
			UpdatedAt: at,
		}
		err = s.chats.Create(ctx, chat)
		if errors.Is(err, repository.ErrDuplicate) {
			// the other side created it concurrently
			chat, err = s.chats.FindByMembers(ctx, callerID, otherID)
		} else if err == nil {
			created = true
		}
		if err != nil {
			return nil, false, fmt.Errorf("chat.GetOrCreate: %w", err)
		}
	default:
		return nil, false, fmt.Errorf("chat.GetOrCreate find: %w", err)
	}

	view, err = s.view(ctx, chat)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.bus.Emit(model.UserRoom(otherID), model.EventChatCreated, view)
	}
	return view, created, nil
}

// List returns the caller's chats, most recently active first.
func (s *ChatService) List(ctx context.Context, userID string) ([]model.ChatView, error) {
	defer logger.DeferLogDuration("chat.List", time.Now())()
	chats, err := s.chats.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("chat.List: %w", err)
	}
	ids := lo.Uniq(lo.FlatMap(chats, func(c model.Chat, _ int) []string { return c.Members[:] }))
	users, err := s.users.GetPublicByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("chat.List users: %w", err)
	}
	byID := lo.KeyBy(users, func(u model.UserPublic) string { return u.ID })

	views := make([]model.ChatView, 0, len(chats))
	for i := range chats {
		last, err := s.lastMessage(ctx, &chats[i])
		if err != nil {
			return nil, err
		}
		views = append(views, newView(&chats[i], byID, last))
	}
	return views, nil
}

// Messages returns the full history of a chat, oldest first, to one of its members.
func (s *ChatService) Messages(ctx context.Context, chatID, userID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("chat.Messages", time.Now())()
	chat, err := s.chats.GetByID(ctx, strings.TrimSpace(chatID))
	if err != nil {
		return nil, storeErr(err, "chat not found")
	}
	if !chat.HasMember(userID) {
		return nil, apperr.Forbidden("not a member of this chat")
	}
	msgs, err := s.messages.ListMessages(ctx, chat.ID)
	if err != nil {
		return nil, fmt.Errorf("chat.Messages: %w", err)
	}
	return msgs, nil
}

// IsMember backs the optional join check of the socket hub.
func (s *ChatService) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	return s.chats.IsMember(ctx, chatID, userID)
}

func (s *ChatService) view(ctx context.Context, chat *model.Chat) (*model.ChatView, error) {
	users, err := s.users.GetPublicByIDs(ctx, chat.Members[:])
	if err != nil {
		return nil, fmt.Errorf("chat.view users: %w", err)
	}
	last, err := s.lastMessage(ctx, chat)
	if err != nil {
		return nil, err
	}
	v := newView(chat, lo.KeyBy(users, func(u model.UserPublic) string { return u.ID }), last)
	return &v, nil
}

func (s *ChatService) lastMessage(ctx context.Context, chat *model.Chat) (*model.Message, error) {
	if chat.LastMessageID == nil {
		return nil, nil
	}
	msg, err := s.messages.GetMessage(ctx, *chat.LastMessageID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chat.lastMessage: %w", err)
	}
	return msg, nil
}

func newView(chat *model.Chat, users map[string]model.UserPublic, last *model.Message) model.ChatView {
	members := lo.FilterMap(chat.Members[:], func(id string, _ int) (model.UserPublic, bool) {
		u, ok := users[id]
		return u, ok
	})
	return model.ChatView{
		ID:          chat.ID,
		Members:     members,
		LastMessage: last,
		CreatedAt:   chat.CreatedAt,
		UpdatedAt:   chat.UpdatedAt,
	}
}
