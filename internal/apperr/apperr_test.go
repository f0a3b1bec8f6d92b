package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMatchesSentinelByKind(t *testing.T) {
	req := require.New(t)

	err := Conflict("message already deleted")
	req.ErrorIs(err, ErrConflict)
	req.NotErrorIs(err, ErrForbidden)

	wrapped := fmt.Errorf("lifecycle.Delete: %w", err)
	req.ErrorIs(wrapped, ErrConflict)
	req.Equal(KindConflict, KindOf(wrapped))
	req.Equal("message already deleted", Message(wrapped))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("message is empty"), http.StatusBadRequest},
		{"not found", NotFound("chat not found"), http.StatusNotFound},
		{"forbidden", Forbidden("not a member"), http.StatusForbidden},
		{"conflict", Conflict("deleted"), http.StatusConflict},
		{"unauthorized", Unauthorized("invalid token"), http.StatusUnauthorized},
		{"plain error", errors.New("pg: connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestMessageHidesInternalDetails(t *testing.T) {
	req := require.New(t)
	req.Equal("internal error", Message(errors.New("dial tcp 10.0.0.3:5432: refused")))

	cause := errors.New("signature is invalid")
	err := Wrap(KindUnauthorized, "invalid token", cause)
	req.ErrorIs(err, cause)
	req.Equal("invalid token", Message(err))
	req.Equal("invalid token: signature is invalid", err.Error())
}
