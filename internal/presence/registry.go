// Package presence tracks which users hold at least one open connection.
package presence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/connectly/internal/logger"
	"github.com/connectly/internal/storage"
)

// Registry counts connections per user on top of a storage.PresenceStore and
// reports online/offline transitions to the caller.
type Registry struct {
	store storage.PresenceStore
}

func NewRegistry(store storage.PresenceStore) *Registry {
	return &Registry{store: store}
}

// Connect registers one more connection for userID.
// becameOnline is true only for the 0→1 transition.
func (r *Registry) Connect(ctx context.Context, userID string) (becameOnline bool, err error) {
	defer logger.DeferLogDuration("presence.Connect", time.Now())()
	n, err := r.store.Incr(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("presence.Connect: %w", err)
	}
	return n == 1, nil
}

// Disconnect releases one connection of userID.
// becameOffline is true only when the last connection is gone.
func (r *Registry) Disconnect(ctx context.Context, userID string) (becameOffline bool, err error) {
	defer logger.DeferLogDuration("presence.Disconnect", time.Now())()
	n, err := r.store.Decr(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("presence.Disconnect: %w", err)
	}
	return n == 0, nil
}

// ListOnline returns the online user ids sorted, never nil.
func (r *Registry) ListOnline(ctx context.Context) ([]string, error) {
	ids, err := r.store.Online(ctx)
	if err != nil {
		return nil, fmt.Errorf("presence.ListOnline: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Registry) IsOnline(ctx context.Context, userID string) bool {
	n, err := r.store.Count(ctx, userID)
	if err != nil {
		logger.Errorf("presence.IsOnline %s: %v", userID, err)
		return false
	}
	return n > 0
}
