package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/connectly/internal/logger"
)

// TokenVerifier проверяет токен и возвращает user_id (auth.Issuer).
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// BearerToken достаёт токен из заголовка "Authorization: Bearer <token>".
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// BearerAuth пропускает запрос дальше только с валидным токеном; user_id кладётся в контекст.
func BearerAuth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing token")
				return
			}
			userID, err := verifier.Verify(r.Context(), token)
			if err != nil || userID == "" {
				logger.Debugf("auth rejected token=%s path=%s: %v", MaskToken(token), r.URL.Path, err)
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}
