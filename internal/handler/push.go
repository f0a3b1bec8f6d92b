package handler

import (
	"context"
	"net/http"

	"github.com/connectly/internal/middleware"
	"github.com/connectly/internal/push"
)

// PushSubscriptions: хранилище подписок (repository.PushSubscriptionRepository).
type PushSubscriptions interface {
	Save(ctx context.Context, userID string, sub push.Subscription) error
	Delete(ctx context.Context, userID, endpoint string) error
}

// PushHandler управляет подписками на Web Push. keys == nil: пуши выключены.
type PushHandler struct {
	subs PushSubscriptions
	keys *push.VAPIDKeys
}

func NewPushHandler(subs PushSubscriptions, keys *push.VAPIDKeys) *PushHandler {
	return &PushHandler{subs: subs, keys: keys}
}

// subscribeRequest: subscription из PushManager.subscribe() как есть.
type subscribeRequest struct {
	Subscription push.Subscription `json:"subscription" validate:"required"`
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required"`
}

type vapidResponse struct {
	Enabled   bool   `json:"enabled"`
	PublicKey string `json:"publicKey,omitempty"`
}

// VAPIDKey отдаёт фронту публичный ключ для PushManager.subscribe().
func (h *PushHandler) VAPIDKey(w http.ResponseWriter, _ *http.Request) {
	if h.keys == nil {
		writeJSON(w, http.StatusOK, vapidResponse{})
		return
	}
	writeJSON(w, http.StatusOK, vapidResponse{Enabled: true, PublicKey: h.keys.PublicKey})
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if h.keys == nil {
		writeError(w, http.StatusServiceUnavailable, "push notifications are disabled")
		return
	}
	var req subscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := h.subs.Save(r.Context(), middleware.GetUserID(r.Context()), req.Subscription); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := h.subs.Delete(r.Context(), middleware.GetUserID(r.Context()), req.Endpoint); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
