package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-booklist/internal/export"
	"github.com/JakeFAU/realtime-booklist/internal/studio"
)

type setKeyRequest struct {
	APIKey string `json:"api_key"`
}

func (s *Server) keyStatus(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Keys == nil {
		writeError(w, http.StatusServiceUnavailable, "key storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"configured": s.deps.Keys.HasAPIKey()})
}

func (s *Server) setKey(w http.ResponseWriter, r *http.Request) {
	if s.deps.Keys == nil {
		writeError(w, http.StatusServiceUnavailable, "key storage unavailable")
		return
	}
	var req setKeyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRunBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	key := strings.TrimSpace(req.APIKey)
	if key == "" {
		writeError(w, http.StatusBadRequest, "api_key is required")
		return
	}
	if err := s.deps.Keys.SetAPIKey(key); err != nil {
		s.logger.Error("store api key failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearKey(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Keys == nil {
		writeError(w, http.StatusServiceUnavailable, "key storage unavailable")
		return
	}
	if err := s.deps.Keys.ClearAPIKey(); err != nil {
		s.logger.Error("clear api key failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to clear key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// download handles GET /v1/downloads/{name}, streaming a delivered archive.
func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	if s.deps.Downloads == nil || s.deps.Locator == nil {
		writeError(w, http.StatusServiceUnavailable, "downloads unavailable")
		return
	}
	name := chi.URLParam(r, "name")
	if !strings.HasSuffix(name, ".zip") || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		writeError(w, http.StatusBadRequest, "invalid archive name")
		return
	}
	rc, err := s.deps.Downloads.GetObject(r.Context(), s.deps.Locator.ObjectPath(name))
	if err != nil {
		if errors.Is(err, studio.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive not found")
			return
		}
		s.logger.Error("open archive failed", zap.String("name", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to open archive")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", contentDisposition(name))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("archive stream interrupted", zap.String("name", name), zap.Error(err))
	}
}

// contentDisposition carries the UTF-8 file name per RFC 6266.
func contentDisposition(name string) string {
	return `attachment; filename="download.zip"; filename*=UTF-8''` + url.PathEscape(name)
}
