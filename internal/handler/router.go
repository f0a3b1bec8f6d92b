package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/connectly/internal/middleware"
)

type Handlers struct {
	Auth     *AuthHandler
	Users    *UserHandler
	Chats    *ChatHandler
	Messages *MessageHandler
	Uploads  *UploadHandler
	Push     *PushHandler
	// WS is the connection gate; it authenticates on its own.
	WS http.Handler
}

type RouterOptions struct {
	Verifier    middleware.TokenVerifier
	CORSOrigins []string
	RateLimit   middleware.RateLimitConfig
	// AccessLog enables chi's per-request access log on top of RequestLog.
	AccessLog bool
}

// skipWebsocket applies mw to everything except websocket upgrades:
// wrapped writers without http.Hijacker break the upgrade.
func skipWebsocket(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		wrapped := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}
			wrapped.ServeHTTP(w, r)
		})
	}
}

func NewRouter(h Handlers, opts RouterOptions) http.Handler {
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	limit := middleware.RateLimit(opts.RateLimit)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	if opts.AccessLog {
		r.Use(chimw.Logger)
	}
	r.Use(middleware.RecoverJSON)
	r.Use(skipWebsocket(chimw.Compress(5)))
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: !containsWildcard(origins),
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/ws", h.WS)
	r.Get("/uploads/{name}", h.Uploads.Serve)
	r.Get("/api/push/vapid", h.Push.VAPIDKey)

	r.Group(func(r chi.Router) {
		r.Use(limit)
		r.Post("/api/auth/register", h.Auth.Register)
		r.Post("/api/auth/login", h.Auth.Login)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(opts.Verifier))
		r.Use(limit)

		r.Get("/api/users/me", h.Users.Me)
		r.Get("/api/users/search", h.Users.Search)

		r.Get("/api/chats", h.Chats.List)
		r.Post("/api/chats", h.Chats.Create)
		r.Post("/api/chats/message", h.Messages.Create)
		r.Get("/api/chats/{chatId}/messages", h.Chats.Messages)
		r.Post("/api/chats/{chatId}/seen", h.Chats.Seen)

		r.Patch("/api/messages/{messageId}", h.Messages.Edit)
		r.Delete("/api/messages/{messageId}", h.Messages.Delete)
		r.Delete("/api/messages/{messageId}/hard", h.Messages.HardDelete)

		r.Post("/api/uploads/single", h.Uploads.Single)

		r.Post("/api/push/subscribe", h.Push.Subscribe)
		r.Delete("/api/push/subscribe", h.Push.Unsubscribe)
	})
	return r
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
