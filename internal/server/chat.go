package server

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goswarm/internal/agent"
	"github.com/nextlevelbuilder/goswarm/internal/bus"
	"github.com/nextlevelbuilder/goswarm/internal/store"
	"github.com/nextlevelbuilder/goswarm/internal/tools"
	"github.com/nextlevelbuilder/goswarm/pkg/protocol"
)

// preemptWindow is how long an urgent request waits for the preempted
// run to observe its cancellation and release the busy lock.
const preemptWindow = 2 * time.Second

type chatRequest struct {
	Message   string `json:"message"`
	AppName   string `json:"app_name"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// handleChat runs one user turn and streams the output as ndjson, one
// {"chunk": {...}} object per line.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}
	if req.AppName == "" {
		req.AppName = s.cfg.App.Name
	}
	if req.UserID == "" {
		req.UserID = "user"
	}
	if req.SessionID == "" {
		req.SessionID = "sess_" + uuid.NewString()[:8]
	}
	key := store.SessionKey{AppName: req.AppName, UserID: req.UserID, SessionID: req.SessionID}
	preview := taskPreview(req.Message)

	urgent := strings.HasPrefix(req.Message, tools.UrgentPrefix)
	if !s.busy.TryAcquire(key, preview) {
		if !urgent {
			s.writeBusy(w)
			return
		}
		// Urgent: kill the running turn at its next guard check, then
		// wait for the lock to come free.
		snap := s.busy.Snapshot()
		if snap.Locked {
			s.runtime.Cancels().Mailbox(snap.SessionKey.String()).TrySignal()
			slog.Info("urgent preemption", "preempted", snap.SessionKey.String(), "by", key.String())
		}
		if !s.busy.AcquireWithin(r.Context(), key, preview, preemptWindow) {
			s.writeBusy(w)
			return
		}
	}
	defer s.busy.Release()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	// Batch dispatch emits from worker goroutines; writes must not interleave.
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	emit := func(c protocol.Chunk) {
		mu.Lock()
		if err := enc.Encode(protocol.Line{Chunk: c}); err == nil {
			flusher.Flush()
		}
		mu.Unlock()
		s.mirrorChunk(c)
	}

	s.eventPub.Broadcast(bus.Event{Name: protocol.EventRun, Payload: map[string]interface{}{
		"type":    protocol.RunStarted,
		"session": key.String(),
		"preview": preview,
	}})

	start := time.Now()
	err := s.runtime.Run(r.Context(), key, req.Message, emit)

	outcome := protocol.RunCompleted
	switch {
	case errors.Is(err, agent.ErrCancelled):
		outcome = protocol.RunCancelled
	case err != nil:
		outcome = protocol.RunFailed
		slog.Error("run failed", "session", key.String(), "error", err)
		emit(protocol.Text("\n[System] Run failed: " + err.Error() + "\n"))
	}
	s.eventPub.Broadcast(bus.Event{Name: protocol.EventRun, Payload: map[string]interface{}{
		"type":    outcome,
		"session": key.String(),
		"took_ms": time.Since(start).Milliseconds(),
	}})
}

// mirrorChunk copies dispatch progress onto the WebSocket feed so
// observers see sub-task activity without tailing the chat stream.
func (s *Server) mirrorChunk(c protocol.Chunk) {
	if c.Type != protocol.ChunkSwarmEvent {
		return
	}
	s.eventPub.Broadcast(bus.Event{Name: protocol.EventSwarm, Payload: map[string]interface{}{
		"type":        c.SubType,
		"worker_port": c.WorkerPort,
		"preview":     c.TaskPreview,
		"error":       c.Error,
	}})
}

// writeBusy renders the 503 contract callers use to decide between
// waiting, retrying elsewhere, and urgent preemption.
func (s *Server) writeBusy(w http.ResponseWriter) {
	snap := s.busy.Snapshot()
	writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
		"status":               "busy",
		"current_task":         snap.TaskPreview,
		"running_time_seconds": snap.RunningSeconds(),
		"suggestion":           "Wait for the current task, dispatch to another node, or resend with the " + strings.TrimSpace(tools.UrgentPrefix) + " prefix to preempt.",
	})
}

func taskPreview(message string) string {
	runes := []rune(strings.TrimPrefix(message, tools.UrgentPrefix))
	if len(runes) > 50 {
		return string(runes[:50]) + "..."
	}
	return string(runes)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
