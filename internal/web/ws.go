package web

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleMetricsStream pushes the server's metric summary over a WebSocket
// every wsInterval until the client disconnects.
func (s *Server) handleMetricsStream(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	srv, err := s.repo.GetServer(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		_ = conn.WriteJSON(map[string]string{"error": "server not found"})
		return
	}
	if err != nil {
		_ = conn.WriteJSON(map[string]string{"error": err.Error()})
		return
	}
	if !srv.IsActive {
		_ = conn.WriteJSON(map[string]string{"error": "server is not active"})
		return
	}

	// Drain the read side so close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.wsInterval)
	defer ticker.Stop()
	for {
		summary := s.prom.ServerSummary(r.Context(), srv.JobName, srv.Instance)
		frame := map[string]any{
			"server_id":   srv.ID,
			"server_name": srv.Name,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
			"metrics":     summary,
		}
		if err := conn.WriteJSON(frame); err != nil {
			return
		}
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
