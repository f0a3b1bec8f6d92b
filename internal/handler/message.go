package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/connectly/internal/middleware"
	"github.com/connectly/internal/model"
	"github.com/connectly/internal/service"
)

type MessageHandler struct {
	lifecycle *service.MessageLifecycle
}

func NewMessageHandler(lifecycle *service.MessageLifecycle) *MessageHandler {
	return &MessageHandler{lifecycle: lifecycle}
}

type createMessageRequest struct {
	ChatID      string             `json:"chatId" validate:"required"`
	Text        string             `json:"text" validate:"max=10000"`
	Attachments []model.Attachment `json:"attachments" validate:"max=10,dive"`
}

type editMessageRequest struct {
	Text string `json:"text" validate:"required,max=10000"`
}

func (h *MessageHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	msg, err := h.lifecycle.Create(r.Context(), req.ChatID, middleware.GetUserID(r.Context()), req.Text, req.Attachments)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	var req editMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	msg, err := h.lifecycle.Edit(r.Context(), chi.URLParam(r, "messageId"), middleware.GetUserID(r.Context()), req.Text)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	msg, err := h.lifecycle.Delete(r.Context(), chi.URLParam(r, "messageId"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *MessageHandler) HardDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.lifecycle.HardDelete(r.Context(), chi.URLParam(r, "messageId"), middleware.GetUserID(r.Context())); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
