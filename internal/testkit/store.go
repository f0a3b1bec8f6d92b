// Package testkit provides in-memory stores with the same contract as the
// Postgres repositories, for service, handler and socket tests.
package testkit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/connectly/internal/model"
	"github.com/connectly/internal/repository"
)

// Store keeps users, chats and messages in maps. It satisfies
// service.MessageStore and service.ChatStore; Users() returns the UserStore view.
type Store struct {
	mu       sync.Mutex
	users    map[string]model.User
	chats    map[string]model.Chat
	messages map[string]model.Message
	order    []string
	seen     map[string][]string

	// FailWrites makes every message mutation return this error.
	FailWrites error
	// FailChatTouch fails the chat activity update that accompanies a message
	// write; the whole write is then discarded, as a rolled back transaction would be.
	FailChatTouch error
}

func NewStore() *Store {
	return &Store{
		users:    make(map[string]model.User),
		chats:    make(map[string]model.Chat),
		messages: make(map[string]model.Message),
		seen:     make(map[string][]string),
	}
}

func (s *Store) Users() *UserStore { return &UserStore{s: s} }

func (s *Store) snapshot(m model.Message) *model.Message {
	m.Attachments = append([]model.Attachment(nil), m.Attachments...)
	m.SeenBy = append([]string(nil), s.seen[m.ID]...)
	m.Normalize()
	return &m
}

func (s *Store) CreateMessage(_ context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	if err := s.checkTouchLocked(msg.ChatID); err != nil {
		return err
	}
	m := *msg
	m.SeenBy = nil
	s.messages[m.ID] = m
	s.order = append(s.order, m.ID)
	id := m.ID
	s.touchLocked(m.ChatID, &id, m.CreatedAt)
	return nil
}

func (s *Store) GetMessage(_ context.Context, id string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.snapshot(m), nil
}

func (s *Store) UpdateMessage(_ context.Context, msg *model.Message, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	cur, ok := s.messages[msg.ID]
	if !ok || cur.IsDeleted {
		return repository.ErrStale
	}
	if err := s.checkTouchLocked(cur.ChatID); err != nil {
		return err
	}
	cur.Text = msg.Text
	cur.Attachments = append([]model.Attachment(nil), msg.Attachments...)
	cur.EditedAt = msg.EditedAt
	cur.IsDeleted = msg.IsDeleted
	cur.DeletedAt = msg.DeletedAt
	s.messages[msg.ID] = cur
	s.touchLocked(cur.ChatID, nil, at)
	return nil
}

func (s *Store) DeleteMessage(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	m, ok := s.messages[id]
	if !ok {
		return repository.ErrNotFound
	}
	if err := s.checkTouchLocked(m.ChatID); err != nil {
		return err
	}
	delete(s.messages, id)
	delete(s.seen, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	chat := s.chats[m.ChatID]
	chat.LastMessageID = nil
	for i := len(s.order) - 1; i >= 0; i-- {
		if s.messages[s.order[i]].ChatID == m.ChatID {
			last := s.order[i]
			chat.LastMessageID = &last
			break
		}
	}
	s.chats[m.ChatID] = chat
	s.touchLocked(m.ChatID, nil, at)
	return nil
}

func (s *Store) ListMessages(_ context.Context, chatID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, 0)
	for _, id := range s.order {
		if m := s.messages[id]; m.ChatID == chatID {
			out = append(out, *s.snapshot(m))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) MarkSeen(_ context.Context, chatID, userID string, _ time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return 0, s.FailWrites
	}
	var n int64
	for _, id := range s.order {
		m := s.messages[id]
		if m.ChatID != chatID || m.SenderID == userID || m.IsDeleted {
			continue
		}
		if containsString(s.seen[id], userID) {
			continue
		}
		s.seen[id] = append(s.seen[id], userID)
		n++
	}
	return n, nil
}

func (s *Store) GetChat(ctx context.Context, chatID string) (*model.Chat, error) {
	return s.GetByID(ctx, chatID)
}

// checkTouchLocked reports whether the chat activity update for chatID would fail.
func (s *Store) checkTouchLocked(chatID string) error {
	if s.FailChatTouch != nil {
		return s.FailChatTouch
	}
	if _, ok := s.chats[chatID]; !ok {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) touchLocked(chatID string, lastMessageID *string, at time.Time) {
	c := s.chats[chatID]
	if at.After(c.UpdatedAt) {
		c.UpdatedAt = at
	}
	if lastMessageID != nil {
		id := *lastMessageID
		c.LastMessageID = &id
	}
	s.chats[chatID] = c
}

func (s *Store) FindByMembers(_ context.Context, userID1, userID2 string) (*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pair := model.PairOf(userID1, userID2)
	for _, c := range s.chats {
		if c.Members == pair {
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) Create(_ context.Context, chat *model.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat.Members = model.PairOf(chat.Members[0], chat.Members[1])
	for _, c := range s.chats {
		if c.Members == chat.Members {
			return repository.ErrDuplicate
		}
	}
	s.chats[chat.ID] = *chat
	return nil
}

func (s *Store) IsMember(_ context.Context, chatID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	return ok && c.HasMember(userID), nil
}

func (s *Store) GetByID(_ context.Context, id string) (*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (s *Store) ListForUser(_ context.Context, userID string) ([]model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Chat, 0)
	for _, c := range s.chats {
		if c.HasMember(userID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// UserStore is the user-table view of Store.
type UserStore struct {
	s *Store
}

func (u *UserStore) Create(_ context.Context, user *model.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for _, existing := range u.s.users {
		if existing.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	u.s.users[user.ID] = *user
	return nil
}

func (u *UserStore) GetByID(_ context.Context, id string) (*model.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := u.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &user, nil
}

func (u *UserStore) GetByEmail(_ context.Context, email string) (*model.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for _, user := range u.s.users {
		if user.Email == strings.ToLower(email) {
			return &user, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (u *UserStore) SearchByEmail(_ context.Context, query, excludeID string, limit int) ([]model.UserPublic, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	out := make([]model.UserPublic, 0)
	q := strings.ToLower(query)
	for _, user := range u.s.users {
		if user.ID != excludeID && strings.Contains(user.Email, q) {
			out = append(out, user.ToPublic())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (u *UserStore) GetPublicByIDs(_ context.Context, ids []string) ([]model.UserPublic, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	out := make([]model.UserPublic, 0, len(ids))
	for _, id := range ids {
		if user, ok := u.s.users[id]; ok {
			out = append(out, user.ToPublic())
		}
	}
	return out, nil
}

// AddUser inserts a user directly, bypassing registration.
func (s *Store) AddUser(id, name, email string) model.User {
	u := model.User{ID: id, Name: name, Email: email, CreatedAt: time.Now().UTC()}
	s.mu.Lock()
	s.users[id] = u
	s.mu.Unlock()
	return u
}

// Epoch is the creation time of chats inserted with AddChat.
var Epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// AddChat inserts a chat between a and b directly, created at Epoch.
func (s *Store) AddChat(id, a, b string) model.Chat {
	c := model.Chat{ID: id, Members: model.PairOf(a, b), CreatedAt: Epoch, UpdatedAt: Epoch}
	s.mu.Lock()
	s.chats[id] = c
	s.mu.Unlock()
	return c
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
