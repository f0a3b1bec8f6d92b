//go:generate go run go.uber.org/mock/mockgen -source=ports.go -destination=../mocks/mock_ports.go -package=mocks
package service

import (
	"context"
	"time"

	"github.com/connectly/internal/model"
)

// Broadcaster delivers events to the connections subscribed to a room at call time.
// Implementations must serialize the payload before returning.
type Broadcaster interface {
	Emit(room string, event model.EventType, payload any)
	EmitExcept(room, excludeConnID string, event model.EventType, payload any)
	EmitAll(event model.EventType, payload any)
}

// MessageStore writes each message mutation together with the chat's activity
// (updated_at, last message) atomically: either both are stored or neither is.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	UpdateMessage(ctx context.Context, msg *model.Message, at time.Time) error
	DeleteMessage(ctx context.Context, id string, at time.Time) error
	ListMessages(ctx context.Context, chatID string) ([]model.Message, error)
	MarkSeen(ctx context.Context, chatID, userID string, at time.Time) (int64, error)
	GetChat(ctx context.Context, chatID string) (*model.Chat, error)
}

type ChatStore interface {
	FindByMembers(ctx context.Context, userID1, userID2 string) (*model.Chat, error)
	Create(ctx context.Context, chat *model.Chat) error
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
	GetByID(ctx context.Context, id string) (*model.Chat, error)
	ListForUser(ctx context.Context, userID string) ([]model.Chat, error)
}

type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	SearchByEmail(ctx context.Context, query, excludeID string, limit int) ([]model.UserPublic, error)
	GetPublicByIDs(ctx context.Context, ids []string) ([]model.UserPublic, error)
}

// Notifier is told about every persisted message, off the request path.
type Notifier interface {
	MessageCreated(ctx context.Context, chat model.Chat, msg model.Message)
}

type TokenIssuer interface {
	Issue(userID string) (string, error)
}

// now is the clock shared by the services: UTC at the precision the store keeps.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
