// Package server is the node's HTTP facade: the streaming chat endpoint
// peers and UIs call, session CRUD, cancellation, and a WebSocket event
// feed for observers.
package server

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/goswarm/internal/agent"
	"github.com/nextlevelbuilder/goswarm/internal/bus"
	"github.com/nextlevelbuilder/goswarm/internal/config"
	"github.com/nextlevelbuilder/goswarm/internal/registry"
	"github.com/nextlevelbuilder/goswarm/internal/store"
	"github.com/nextlevelbuilder/goswarm/pkg/protocol"
)

//go:embed static
var staticFS embed.FS

// Server routes HTTP traffic into the session runtime.
type Server struct {
	cfg      *config.Config
	runtime  *agent.Runtime
	sessions store.SessionStore
	registry registry.Registry
	busy     *agent.BusyLock
	eventPub bus.EventPublisher
	port     int

	upgrader   websocket.Upgrader
	limiter    *ipLimiter
	peerClient *http.Client

	httpServer *http.Server
}

func NewServer(cfg *config.Config, rt *agent.Runtime, sessions store.SessionStore, reg registry.Registry, eventPub bus.EventPublisher, port int) *Server {
	s := &Server{
		cfg:        cfg,
		runtime:    rt,
		sessions:   sessions,
		registry:   reg,
		busy:       agent.NewBusyLock(),
		eventPub:   eventPub,
		port:       port,
		limiter:    newIPLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateBurst),
		peerClient: &http.Client{Timeout: 5 * time.Second},
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Nodes talk to each other across hosts; origin checks add
		// nothing without an auth layer in front.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return s
}

// Busy exposes the node's busy lock for health reporting and tests.
func (s *Server) Busy() *agent.BusyLock { return s.busy }

// BuildMux registers all routes on a fresh mux.
func (s *Server) BuildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.limiter.wrap(s.handleChat))
	mux.HandleFunc("POST /api/cancel", s.handleCancel)
	mux.HandleFunc("POST /api/stop_worker", s.handleStopWorker)

	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}/history", s.handleSessionHistory)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.Handle("GET /", http.FileServer(http.FS(mustSub(staticFS, "static"))))
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.BuildMux(),
	}

	slog.Info("node listening", "addr", addr)

	go func() {
		<-ctx.Done()
		// Last event observers see before their connection drops.
		s.eventPub.Broadcast(bus.Event{Name: protocol.EventShutdown, Payload: map[string]interface{}{
			"port": s.port,
		}})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.busy.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"port":   s.port,
		"busy":   snap.Locked,
	})
}

// StartTestServer binds a random loopback port for integration tests and
// returns the base URL.
func StartTestServer(ctx context.Context, s *Server) (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("listen: %w", err)
	}
	s.httpServer = &http.Server{Handler: s.BuildMux()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()
	go s.httpServer.Serve(ln)
	return "http://" + ln.Addr().String(), nil
}
