package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const eventWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// events handles GET /v1/events. It upgrades to a websocket and writes the
// pipeline state as JSON on connect and after every change. Client messages
// are ignored; the stream ends when the client disconnects.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runner == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline unavailable")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for state := range s.deps.Runner.Subscribe(ctx) {
		if err := conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout)); err != nil {
			return
		}
		if err := conn.WriteJSON(state); err != nil {
			s.logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}
