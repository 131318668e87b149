package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nextlevelbuilder/goswarm/internal/store"
)

type cancelRequest struct {
	AppName   string `json:"app_name"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// handleCancel posts a cancellation signal to a session's mailbox. The
// running turn observes it at its next guard check; there is no hard
// kill.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	if req.AppName == "" {
		req.AppName = s.cfg.App.Name
	}
	if req.UserID == "" {
		req.UserID = "user"
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id is required"})
		return
	}

	key := store.SessionKey{AppName: req.AppName, UserID: req.UserID, SessionID: req.SessionID}
	signalled := s.runtime.Cancels().Mailbox(key.String()).TrySignal()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "success",
		"signalled": signalled,
	})
}

type stopWorkerRequest struct {
	Port      int    `json:"worker_port"`
	AppName   string `json:"app_name"`
	UserID    string `json:"user_id"`
	SessionID string `json:"worker_session_id"`
}

// handleStopWorker forwards a cancellation to a peer node, so the
// orchestrating node can stop a delegated sub-task it no longer needs.
func (s *Server) handleStopWorker(w http.ResponseWriter, r *http.Request) {
	var req stopWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	if req.Port == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "worker_port is required"})
		return
	}

	nodes, err := s.registry.Active(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	var target string
	for _, n := range nodes {
		if n.Port == req.Port {
			target = n.URL
			break
		}
	}
	if target == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("no active node on port %d", req.Port)})
		return
	}

	body, _ := json.Marshal(cancelRequest{AppName: req.AppName, UserID: req.UserID, SessionID: req.SessionID})
	resp, err := s.peerClient.Post(target+"/api/cancel", "application/json", bytes.NewReader(body))
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": fmt.Sprintf("reach worker: %v", err)})
		return
	}
	defer resp.Body.Close()

	var relayed map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&relayed); err != nil {
		relayed = map[string]interface{}{"status": "ok"}
	}
	relayed["worker_port"] = req.Port
	writeJSON(w, resp.StatusCode, relayed)
}
