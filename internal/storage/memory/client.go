package memory

import (
	"context"
	"sync"
)

// Client хранит счётчики соединений в памяти процесса.
type Client struct {
	mu     sync.RWMutex
	counts map[string]int64
}

func New() *Client {
	return &Client{counts: make(map[string]int64)}
}

func (c *Client) Close() error { return nil }

func (c *Client) Incr(ctx context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[userID]++
	return c.counts[userID], nil
}

// Decr уменьшает счётчик; на нуле ключ удаляется, лишний Decr возвращает 0.
func (c *Client) Decr(ctx context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.counts[userID] - 1
	if n <= 0 {
		delete(c.counts, userID)
		return 0, nil
	}
	c.counts[userID] = n
	return n, nil
}

func (c *Client) Count(ctx context.Context, userID string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counts[userID], nil
}

func (c *Client) Online(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.counts))
	for id := range c.counts {
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *Client) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.counts)
	return nil
}
