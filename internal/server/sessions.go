package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goswarm/internal/store"
	"github.com/nextlevelbuilder/goswarm/internal/tools"
)

type createSessionRequest struct {
	AppName   string `json:"app_name"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
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
		req.SessionID = "sess_" + uuid.NewString()[:8]
	}

	key := store.SessionKey{AppName: req.AppName, UserID: req.UserID, SessionID: req.SessionID}
	sess, err := s.sessions.GetOrCreate(r.Context(), key)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if req.Title != "" && sess.Title == "" {
		if err := s.sessions.SetTitle(r.Context(), key, req.Title); err == nil {
			sess.Title = req.Title
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": key.SessionID,
		"app_name":   key.AppName,
		"user_id":    key.UserID,
		"title":      sess.Title,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	appName := r.URL.Query().Get("app_name")
	if appName == "" {
		appName = s.cfg.App.Name
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "user"
	}

	infos, err := s.sessions.List(r.Context(), appName, userID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": infos})
}

// historyMessage is the UI-facing rendering of one turn.
type historyMessage struct {
	Role   string         `json:"role"`
	Text   string         `json:"text,omitempty"`
	Blocks []historyBlock `json:"blocks,omitempty"`
}

type historyBlock struct {
	Type    string                 `json:"type"` // "tool_call" or "tool_result"
	Name    string                 `json:"name"`
	Args    map[string]interface{} `json:"args,omitempty"`
	Content string                 `json:"content,omitempty"`
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	key := s.sessionKeyFromRequest(r)
	events, err := s.sessions.Events(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": renderHistory(events)})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	key := s.sessionKeyFromRequest(r)
	err := s.sessions.Delete(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.runtime.DropSession(key)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) sessionKeyFromRequest(r *http.Request) store.SessionKey {
	appName := r.URL.Query().Get("app_name")
	if appName == "" {
		appName = s.cfg.App.Name
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "user"
	}
	return store.SessionKey{AppName: appName, UserID: userID, SessionID: r.PathValue("id")}
}

// renderHistory flattens the event log for the UI: user and assistant
// text plus tool traffic as typed blocks.
func renderHistory(events []store.Event) []historyMessage {
	messages := make([]historyMessage, 0, len(events))
	for _, ev := range events {
		msg := historyMessage{Role: "user"}
		if ev.Author == store.AuthorModel {
			msg.Role = "assistant"
		}
		for _, p := range ev.Content.Parts {
			switch {
			case p.FunctionCall != nil:
				msg.Blocks = append(msg.Blocks, historyBlock{
					Type: "tool_call",
					Name: p.FunctionCall.Name,
					Args: p.FunctionCall.Args,
				})
			case p.FunctionResponse != nil:
				msg.Role = "tool"
				msg.Blocks = append(msg.Blocks, historyBlock{
					Type:    "tool_result",
					Name:    p.FunctionResponse.Name,
					Content: tools.CompactJSON(p.FunctionResponse.Result),
				})
			case p.Thought:
				// Reasoning stays out of the replayed history.
			default:
				msg.Text += p.Text
			}
		}
		if msg.Text == "" && len(msg.Blocks) == 0 {
			continue
		}
		messages = append(messages, msg)
	}
	return messages
}
