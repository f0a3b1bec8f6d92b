package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Тест выполняется только при заданном REDIS_URL (например redis://localhost:6379/15).
func TestPresenceCountersAgainstRedis(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	req := require.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := New(ctx, url, "test:"+uuid.NewString()+":")
	req.NoError(err)
	defer c.Close()
	defer func() { _ = c.Reset(context.Background()) }()

	n, err := c.Incr(ctx, "u1")
	req.NoError(err)
	req.EqualValues(1, n)
	n, _ = c.Incr(ctx, "u1")
	req.EqualValues(2, n)

	online, err := c.Online(ctx)
	req.NoError(err)
	req.Equal([]string{"u1"}, online)

	n, _ = c.Decr(ctx, "u1")
	req.EqualValues(1, n)
	n, _ = c.Decr(ctx, "u1")
	req.EqualValues(0, n)
	n, _ = c.Decr(ctx, "u1")
	req.EqualValues(0, n)

	online, _ = c.Online(ctx)
	req.Empty(online)
	cnt, err := c.Count(ctx, "u1")
	req.NoError(err)
	req.Zero(cnt)
}
