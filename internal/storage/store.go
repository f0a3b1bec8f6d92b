package storage

import "context"

// PresenceStore: счётчики открытых соединений по user_id.
// Реализации: memory.Client (один процесс), redis.Client (общий между экземплярами).
//
// Incr и Decr возвращают новое значение счётчика; переходы 0→1 и 1→0
// определяет вызывающий по этому значению. Decr никогда не уходит ниже нуля.
type PresenceStore interface {
	Incr(ctx context.Context, userID string) (int64, error)
	Decr(ctx context.Context, userID string) (int64, error)
	Count(ctx context.Context, userID string) (int64, error)
	// Online возвращает пользователей с ненулевым счётчиком, порядок не определён.
	Online(ctx context.Context) ([]string, error)
	// Reset сбрасывает все счётчики (при старте процесса, когда соединений ещё нет).
	Reset(ctx context.Context) error
	Close() error
}
