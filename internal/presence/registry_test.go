package presence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/connectly/internal/storage/memory"
)

func TestTransitionsAreReportedOnce(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	r := NewRegistry(memory.New())

	online, err := r.Connect(ctx, "u1")
	req.NoError(err)
	req.True(online)

	online, err = r.Connect(ctx, "u1")
	req.NoError(err)
	req.False(online, "second connection must not announce again")
	req.True(r.IsOnline(ctx, "u1"))

	offline, err := r.Disconnect(ctx, "u1")
	req.NoError(err)
	req.False(offline)
	req.True(r.IsOnline(ctx, "u1"))

	offline, err = r.Disconnect(ctx, "u1")
	req.NoError(err)
	req.True(offline)
	req.False(r.IsOnline(ctx, "u1"))
}

func TestListOnlineSorted(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	r := NewRegistry(memory.New())

	ids, err := r.ListOnline(ctx)
	req.NoError(err)
	req.NotNil(ids)
	req.Empty(ids)

	_, _ = r.Connect(ctx, "zoe")
	_, _ = r.Connect(ctx, "adam")
	_, _ = r.Connect(ctx, "adam")

	ids, err = r.ListOnline(ctx)
	req.NoError(err)
	req.Equal([]string{"adam", "zoe"}, ids)
}
