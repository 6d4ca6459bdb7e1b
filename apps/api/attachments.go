package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// maxUploadBytes mirrors the client-side ceiling; the client rejects
// oversized payloads without calling, the server enforces it anyway.
const maxUploadBytes = 10 << 20

// UploadHandler stores attachment binaries on local disk and serves them
// back. A production deployment would put object storage behind the same
// interface.
type UploadHandler struct {
	dir string
}

func NewUploadHandler(dir string) *UploadHandler {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatalf("Failed to create upload dir: %v", err)
	}
	return &UploadHandler{dir: dir}
}

type uploadResponse struct {
	URL string `json:"url"`
}

func (h *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		h.serve(w, r)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Attachment too large", http.StatusRequestEntityTooLarge)
		return
	}

	name := r.Header.Get("X-Attachment-Name")
	id := uuid.NewString() + sanitizeExt(name)
	if err := os.WriteFile(filepath.Join(h.dir, id), data, 0o644); err != nil {
		log.Printf("Failed to store attachment: %v", err)
		http.Error(w, "Failed to store attachment", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(uploadResponse{URL: "/attachments/" + id})
}

func (h *UploadHandler) serve(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/attachments/")
	if id == "" || strings.Contains(id, "/") || strings.Contains(id, "..") {
		http.Error(w, "Invalid attachment id", http.StatusBadRequest)
		return
	}
	http.ServeFile(w, r, filepath.Join(h.dir, id))
}

func sanitizeExt(name string) string {
	ext := filepath.Ext(name)
	if len(ext) > 8 || strings.ContainsAny(ext, "/\\") {
		return ""
	}
	return ext
}
