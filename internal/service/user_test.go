package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/connectly/internal/apperr"
	"github.com/connectly/internal/auth"
	"github.com/connectly/internal/testkit"
)

func TestRegisterAndLogin(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	issuer := auth.NewIssuer("secret", time.Hour)
	svc := NewUserService(testkit.NewStore().Users(), issuer)

	sess, err := svc.Register(ctx, " Alice ", " Alice@Example.com ", "pw-123456")
	req.NoError(err)
	req.Equal("alice@example.com", sess.User.Email)
	req.Equal("Alice", sess.User.Name)

	uid, err := issuer.Verify(ctx, sess.Token)
	req.NoError(err)
	req.Equal(sess.User.ID, uid)

	_, err = svc.Register(ctx, "Other", "alice@example.com", "pw")
	req.ErrorIs(err, apperr.ErrConflict)

	logged, err := svc.Login(ctx, "ALICE@example.com", "pw-123456")
	req.NoError(err)
	req.Equal(sess.User.ID, logged.User.ID)

	_, err = svc.Login(ctx, "alice@example.com", "wrong")
	req.ErrorIs(err, apperr.ErrUnauthorized)
	_, err = svc.Login(ctx, "nobody@example.com", "pw")
	req.ErrorIs(err, apperr.ErrUnauthorized)
}

func TestSearchExcludesCaller(t *testing.T) {
	req := require.New(t)
	store := testkit.NewStore()
	store.AddUser("u1", "Alice", "alice@example.com")
	store.AddUser("u2", "Alex", "alex@example.com")
	store.AddUser("u3", "Bob", "bob@other.org")
	svc := NewUserService(store.Users(), auth.NewIssuer("s", time.Hour))

	found, err := svc.Search(context.Background(), "u1", "AL")
	req.NoError(err)
	req.Len(found, 1)
	req.Equal("u2", found[0].ID)

	found, err = svc.Search(context.Background(), "u1", "  ")
	req.NoError(err)
	req.Empty(found)
}
