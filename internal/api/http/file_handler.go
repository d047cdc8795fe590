package http

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"github.com/gorilla/mux"

	"equiprent-backend/internal/logger"
	"equiprent-backend/internal/storage"
)

// FileHandler serves objects from the local storage backend at the URLs it hands out.
type FileHandler struct {
	files storage.Storage
}

func NewFileHandler(files storage.Storage) *FileHandler {
	return &FileHandler{files: files}
}

// HandleDownload handles GET requests for stored identifier images and exports
func (h *FileHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "Missing key parameter", http.StatusBadRequest)
		return
	}

	file, err := h.files.ReadFile(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		logger.Error("Failed to read stored file", "key", key, "error", err)
		http.Error(w, "Failed to read file", http.StatusInternalServerError)
		return
	}
	defer file.Close()

	contentType := "application/octet-stream"
	switch filepath.Ext(key) {
	case ".png":
		contentType = "image/png"
	case ".pdf":
		contentType = "application/pdf"
	case ".xlsx":
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")

	if _, err := io.Copy(w, file); err != nil {
		logger.Warn("File download interrupted", "key", key, "error", err)
	}
}

// RegisterFileRoutes registers the download endpoint local storage URLs point at
func RegisterFileRoutes(router *mux.Router, files storage.Storage) {
	handler := NewFileHandler(files)
	router.HandleFunc(apiPrefix+"/files/{token}", handler.HandleDownload).Methods("GET")
}
