package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connectly/internal/logger"
	"github.com/connectly/internal/model"
)

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// seen_by is aggregated from message_seen so concurrent receipts never overwrite each other.
const messageCols = `m.id, m.chat_id, m.sender_id, m.text, m.attachments, m.created_at, m.edited_at, m.is_deleted, m.deleted_at,
	ARRAY(SELECT s.user_id FROM message_seen s WHERE s.message_id = m.id ORDER BY s.seen_at, s.user_id)`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func scanMessage(s interface{ Scan(dest ...any) error }, m *model.Message) error {
	if err := s.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Text, &m.Attachments, &m.CreatedAt,
		&m.EditedAt, &m.IsDeleted, &m.DeletedAt, &m.SeenBy); err != nil {
		return err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.EditedAt = utcPtr(m.EditedAt)
	m.DeletedAt = utcPtr(m.DeletedAt)
	m.Normalize()
	return nil
}

// CreateMessage inserts m and makes it the chat's last message in one transaction.
func (r *MessageRepository) CreateMessage(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	m.Normalize()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("msgRepo.CreateMessage begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, chat_id, sender_id, text, attachments, created_at, edited_at, is_deleted, deleted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.ChatID, m.SenderID, m.Text, m.Attachments, m.CreatedAt, m.EditedAt, m.IsDeleted, m.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.CreateMessage: %w", err)
	}
	if err := touchChat(ctx, tx, m.ChatID, &m.ID, m.CreatedAt); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("msgRepo.CreateMessage commit: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetMessage", time.Now())()
	m := &model.Message{}
	row := r.pool.QueryRow(ctx, `SELECT `+messageCols+` FROM messages m WHERE m.id = $1`, id)
	if err := scanMessage(row, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgRepo.GetMessage: %w", err)
	}
	return m, nil
}

// ListMessages returns the chat history oldest first, deleted messages included.
func (r *MessageRepository) ListMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListMessages", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+` FROM messages m
		 WHERE m.chat_id = $1
		 ORDER BY m.created_at ASC, m.id ASC`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListMessages query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, 64)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.ListMessages scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListMessages rows: %w", err)
	}
	return messages, nil
}

// UpdateMessage writes the mutable fields of m and advances the chat's
// updated_at to at, in one transaction. Deleted rows are never rewritten:
// if the row was deleted after the caller read it, ErrStale is returned.
func (r *MessageRepository) UpdateMessage(ctx context.Context, m *model.Message, at time.Time) error {
	defer logger.DeferLogDuration("msg.UpdateMessage", time.Now())()
	m.Normalize()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("msgRepo.UpdateMessage begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE messages SET text = $2, attachments = $3, edited_at = $4, is_deleted = $5, deleted_at = $6
		 WHERE id = $1 AND is_deleted = false`,
		m.ID, m.Text, m.Attachments, m.EditedAt, m.IsDeleted, m.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.UpdateMessage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStale
	}
	if err := touchChat(ctx, tx, m.ChatID, nil, at); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("msgRepo.UpdateMessage commit: %w", err)
	}
	return nil
}

// DeleteMessage physically removes the message, repoints the chat's
// last_message_id to the newest remaining message and advances updated_at to at.
func (r *MessageRepository) DeleteMessage(ctx context.Context, id string, at time.Time) error {
	defer logger.DeferLogDuration("msg.DeleteMessage", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("msgRepo.DeleteMessage begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var chatID string
	err = tx.QueryRow(ctx, `DELETE FROM messages WHERE id = $1 RETURNING chat_id`, id).Scan(&chatID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("msgRepo.DeleteMessage delete: %w", err)
	}
	_, err = tx.Exec(ctx,
		`UPDATE chats SET updated_at = GREATEST(updated_at, $2), last_message_id = (
		     SELECT id FROM messages WHERE chat_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1
		 ) WHERE id = $1`, chatID, at,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.DeleteMessage repoint: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("msgRepo.DeleteMessage commit: %w", err)
	}
	return nil
}

// MarkSeen records userID as a viewer of every non-deleted message in the chat
// authored by someone else. Already-seen messages are left untouched.
func (r *MessageRepository) MarkSeen(ctx context.Context, chatID, userID string, at time.Time) (int64, error) {
	defer logger.DeferLogDuration("msg.MarkSeen", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO message_seen (message_id, user_id, seen_at)
		 SELECT id, $2, $3 FROM messages
		 WHERE chat_id = $1 AND sender_id <> $2 AND is_deleted = false
		 ON CONFLICT (message_id, user_id) DO NOTHING`,
		chatID, userID, at,
	)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.MarkSeen: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *MessageRepository) GetChat(ctx context.Context, chatID string) (*model.Chat, error) {
	defer logger.DeferLogDuration("msg.GetChat", time.Now())()
	c, err := getChat(ctx, r.pool, chatID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("msgRepo.GetChat: %w", err)
	}
	return c, err
}

// touchChat advances updated_at (never backwards) and, when lastMessageID is set,
// points the chat at that message.
func touchChat(ctx context.Context, q pgxQuerier, chatID string, lastMessageID *string, at time.Time) error {
	tag, err := q.Exec(ctx,
		`UPDATE chats SET updated_at = GREATEST(updated_at, $3), last_message_id = COALESCE($2, last_message_id)
		 WHERE id = $1`,
		chatID, lastMessageID, at,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.touchChat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
