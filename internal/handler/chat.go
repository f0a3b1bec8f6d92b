package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/connectly/internal/middleware"
	"github.com/connectly/internal/service"
)

type ChatHandler struct {
	chats     *service.ChatService
	lifecycle *service.MessageLifecycle
}

func NewChatHandler(chats *service.ChatService, lifecycle *service.MessageLifecycle) *ChatHandler {
	return &ChatHandler{chats: chats, lifecycle: lifecycle}
}

type createChatRequest struct {
	OtherUserID string `json:"otherUserId" validate:"required"`
}

func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	chats, err := h.chats.List(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

// Create returns the chat with otherUserId: 201 when it was just created, 200 when it existed.
func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	view, created, err := h.chats.GetOrCreate(r.Context(), middleware.GetUserID(r.Context()), req.OtherUserID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, view)
}

func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.chats.Messages(r.Context(), chi.URLParam(r, "chatId"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type seenResponse struct {
	ChatID string `json:"chatId"`
	Marked int64  `json:"marked"`
}

func (h *ChatHandler) Seen(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	n, err := h.lifecycle.MarkSeen(r.Context(), chatID, middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, seenResponse{ChatID: chatID, Marked: n})
}
