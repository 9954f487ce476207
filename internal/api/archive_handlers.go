package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-booklist/internal/studio"
)

const (
	defaultArchiveLimit = 50
	maxArchiveLimit     = 500
	archiveTimeout      = 3 * time.Second
)

// ArchiveHandler exposes the archived subjects.
type ArchiveHandler struct {
	store   studio.ArchiveStore
	timeout time.Duration
	logger  *zap.Logger
}

// NewArchiveHandler wires the store and logger.
func NewArchiveHandler(store studio.ArchiveStore, logger *zap.Logger) *ArchiveHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveHandler{
		store:   store,
		timeout: archiveTimeout,
		logger:  logger,
	}
}

// List handles GET /v1/archive?limit=&offset=. It returns
// {"projects": [...], "total": n} newest first, 400 for invalid paging, 503
// when the store is missing, or 500 if the store fails.
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "archive store unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultArchiveLimit, maxArchiveLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	projects, err := h.store.List(ctx)
	if err != nil {
		h.logger.Error("list archive failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list archive")
		return
	}
	total := len(projects)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"projects": projects[offset:end],
		"total":    total,
	})
}

// Delete handles DELETE /v1/archive/{id}: 204 on success, 404 when the store
// reports studio.ErrNotFound, 503 when the store is missing, 500 otherwise.
func (h *ArchiveHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "archive store unavailable")
		return
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.store.Delete(ctx, id); err != nil {
		if errors.Is(err, studio.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		h.logger.Error("delete archived project failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete project")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
