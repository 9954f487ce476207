package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-booklist/internal/export"
	"github.com/JakeFAU/realtime-booklist/internal/metrics"
	"github.com/JakeFAU/realtime-booklist/internal/studio"
)

const maxRunBody = 4 << 10

type startRunRequest struct {
	Book string `json:"book"`
}

// startRun handles POST /v1/runs. The body is optional; {"book": "..."}
// places a subject in slot 0. It answers 202 with the run id, or 409 while
// another run holds the line.
func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runner == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline unavailable")
		return
	}
	var req startRunRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRunBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	// The run outlives this request.
	runID, err := s.deps.Runner.Start(context.WithoutCancel(r.Context()), req.Book)
	if err != nil {
		if errors.Is(err, studio.ErrBusy) {
			metrics.ObserveBusyRejection()
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("start run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) state(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Runner == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Runner.State())
}

var markdown = goldmark.New()

// preview handles GET /v1/runs/current/preview?index=. It renders the
// buffered posts of the current run as HTML, or 404 when nothing is buffered.
func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runner == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline unavailable")
		return
	}
	buffer := s.deps.Runner.State().Buffer
	if len(buffer) == 0 {
		writeError(w, http.StatusNotFound, "no generated content buffered")
		return
	}
	if raw := r.URL.Query().Get("index"); raw != "" {
		i, err := strconv.Atoi(raw)
		if err != nil || i < 0 || i >= len(buffer) {
			writeError(w, http.StatusBadRequest, "invalid index")
			return
		}
		buffer = buffer[i : i+1]
	}

	var out bytes.Buffer
	out.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"></head><body>\n")
	for _, c := range buffer {
		out.WriteString("<article>\n")
		if err := markdown.Convert(postMarkdown(c), &out); err != nil {
			s.logger.Error("render preview failed", zap.String("subject", c.OriginalBook), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to render preview")
			return
		}
		out.WriteString("</article>\n")
	}
	out.WriteString("</body></html>\n")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out.Bytes()); err != nil {
		s.logger.Debug("preview write failed", zap.Error(err))
	}
}

// postMarkdown is the notes file followed by the quotes and tags.
func postMarkdown(c studio.GeneratedContent) []byte {
	var b strings.Builder
	b.Write(export.Notes(c.Title, c.FullContent))
	b.WriteString("\n")
	for _, q := range c.Quotes {
		fmt.Fprintf(&b, "\n> %s\n", q)
	}
	if len(c.Tags) > 0 {
		b.WriteString("\n")
		for i, tag := range c.Tags {
			if i > 0 {
				b.WriteString(" ")
			}
			b.WriteString("`#" + tag + "`")
		}
		b.WriteString("\n")
	}
	return []byte(b.String())
}
