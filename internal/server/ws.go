package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goswarm/internal/bus"
)

const wsWriteTimeout = 10 * time.Second

// handleWebSocket upgrades the connection and forwards bus events until
// the client disconnects. The feed is observe-only; commands go through
// the HTTP API.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id := "ws_" + uuid.NewString()[:8]
	var writeMu sync.Mutex
	s.eventPub.Subscribe(id, func(ev bus.Event) {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			slog.Debug("websocket write failed", "client", id, "error", err)
		}
	})
	defer s.eventPub.Unsubscribe(id)

	slog.Info("observer connected", "client", id)
	defer slog.Info("observer disconnected", "client", id)

	// Drain reads to notice the close frame; inbound payloads are ignored.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
