package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/uploadkit/uploadkit/internal/repository"
	"github.com/uploadkit/uploadkit/internal/storage"
)

// FileHandler serves stored files over signed temporary URLs and issues
// those URLs for upload records.
type FileHandler struct {
	storage storage.Storage
	uploads repository.UploadRepository
	expiry  time.Duration
}

func NewFileHandler(st storage.Storage, uploads repository.UploadRepository, expiry time.Duration) *FileHandler {
	return &FileHandler{storage: st, uploads: uploads, expiry: expiry}
}

// ServeTemporary streams the file at the request's {path...} segment.
// Signature verification happens in middleware; by the time this runs the
// path is trusted.
func (h *FileHandler) ServeTemporary(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	if path == "" {
		http.NotFound(w, r)
		return
	}

	content, err := h.storage.Get(r.Context(), path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		slog.Error("failed to read file from storage", "error", err, "path", path)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", mimetype.Detect(content).String())
	w.Header().Set("Cache-Control", "private, no-store")
	_, _ = w.Write(content)
}

// TemporaryLink resolves an upload record to a time-limited URL for its
// bytes: presigned on S3, locally signed on disk storage.
func (h *FileHandler) TemporaryLink(w http.ResponseWriter, r *http.Request) {
	upload, err := h.uploads.ByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, repository.ErrUploadNotFound) {
			http.NotFound(w, r)
			return
		}
		slog.Error("failed to load upload record", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	url, err := h.storage.TemporaryURL(r.Context(), upload.Path, h.expiry, storage.URLOptions{
		ContentType:        upload.Type,
		ContentDisposition: fmt.Sprintf("inline; filename=%q", upload.OriginalName),
	})
	if err != nil {
		slog.Error("failed to issue temporary URL", "error", err, "path", upload.Path)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"url":        url,
		"expires_in": h.expiry.String(),
	})
}
