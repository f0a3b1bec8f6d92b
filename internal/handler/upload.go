package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/connectly/internal/apperr"
	"github.com/connectly/internal/upload"
)

// multipart memory budget; larger parts spill to temp files.
const uploadMemory = 8 << 20

type UploadHandler struct {
	files *upload.Service
}

func NewUploadHandler(files *upload.Service) *UploadHandler {
	return &UploadHandler{files: files}
}

// Single accepts one multipart "file" part and returns the attachment tuple
// to be sent along with a message.
func (h *UploadHandler) Single(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.files.MaxSize+uploadMemory)
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeAppError(w, r, apperr.Validation("file too large"))
			return
		}
		writeAppError(w, r, apperr.Validation("multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	att, err := h.files.Save(r.Context(), header.Filename, file)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, att)
}

func (h *UploadHandler) Serve(w http.ResponseWriter, r *http.Request) {
	h.files.Serve(w, r, chi.URLParam(r, "name"))
}
