package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connectly/internal/logger"
	"github.com/connectly/internal/model"
)

const chatCols = `id, member_low, member_high, last_message_id, created_at, updated_at`

// ChatRepository stores one-to-one chats. Membership is fixed at insert time.
type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

func scanChat(s interface{ Scan(dest ...any) error }, c *model.Chat) error {
	if err := s.Scan(&c.ID, &c.Members[0], &c.Members[1], &c.LastMessageID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return nil
}

func getChat(ctx context.Context, q pgxQuerier, id string) (*model.Chat, error) {
	c := &model.Chat{}
	row := q.QueryRow(ctx, `SELECT `+chatCols+` FROM chats WHERE id = $1`, id)
	if err := scanChat(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// Create inserts the chat with its members in canonical order.
// A second chat for the same pair is rejected with ErrDuplicate.
func (r *ChatRepository) Create(ctx context.Context, c *model.Chat) error {
	defer logger.DeferLogDuration("chat.Create", time.Now())()
	c.Members = model.PairOf(c.Members[0], c.Members[1])
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chats (id, member_low, member_high, last_message_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.Members[0], c.Members[1], c.LastMessageID, c.CreatedAt, c.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("chatRepo.Create: %w", err)
	}
	return nil
}

func (r *ChatRepository) GetByID(ctx context.Context, id string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetByID", time.Now())()
	c, err := getChat(ctx, r.pool, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("chatRepo.GetByID: %w", err)
	}
	return c, err
}

func (r *ChatRepository) FindByMembers(ctx context.Context, userID1, userID2 string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.FindByMembers", time.Now())()
	pair := model.PairOf(userID1, userID2)
	c := &model.Chat{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+chatCols+` FROM chats WHERE member_low = $1 AND member_high = $2`,
		pair[0], pair[1],
	)
	if err := scanChat(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("chatRepo.FindByMembers: %w", err)
	}
	return c, nil
}

func (r *ChatRepository) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	defer logger.DeferLogDuration("chat.IsMember", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM chats WHERE id = $1 AND (member_low = $2 OR member_high = $2))`,
		chatID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("chatRepo.IsMember: %w", err)
	}
	return exists, nil
}

// ListForUser returns the user's chats, most recent activity first.
func (r *ChatRepository) ListForUser(ctx context.Context, userID string) ([]model.Chat, error) {
	defer logger.DeferLogDuration("chat.ListForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+chatCols+` FROM chats
		 WHERE member_low = $1 OR member_high = $1
		 ORDER BY updated_at DESC, id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.ListForUser query: %w", err)
	}
	defer rows.Close()

	chats := make([]model.Chat, 0, 16)
	for rows.Next() {
		var c model.Chat
		if err := scanChat(rows, &c); err != nil {
			return nil, fmt.Errorf("chatRepo.ListForUser scan: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.ListForUser rows: %w", err)
	}
	return chats, nil
}
