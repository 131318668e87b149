package store

import (
	"errors"
	"time"
)

// Event authors.
const (
	AuthorUser   = "user"
	AuthorModel  = "model"
	AuthorSystem = "system"
)

// ErrNotFound is returned when a session key does not exist.
var ErrNotFound = errors.New("session not found")

// SessionKey uniquely identifies a conversation.
type SessionKey struct {
	AppName   string `json:"app_name"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// String renders the composite key used as the sessions table primary key.
func (k SessionKey) String() string {
	return k.AppName + "/" + k.UserID + "/" + k.SessionID
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	ID   string                 `json:"id,omitempty"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// FunctionResponse is the recorded outcome of a tool invocation.
type FunctionResponse struct {
	ID     string                 `json:"id,omitempty"`
	Name   string                 `json:"name"`
	Result map[string]interface{} `json:"result,omitempty"`
}

// Part is a tagged union: exactly one of Text, FunctionCall, FunctionResponse
// is meaningful. Thought marks a Text part as model reasoning.
type Part struct {
	Text             string            `json:"text,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
}

// Content is one turn's payload.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Event is one record in a session's append log.
type Event struct {
	Author    string    `json:"author"`
	Content   Content   `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// TextEvent builds a single-part text event.
func TextEvent(author, role, text string) Event {
	return Event{
		Author:    author,
		Content:   Content{Role: role, Parts: []Part{{Text: text}}},
		CreatedAt: time.Now().UTC(),
	}
}

// Session holds one conversation's state. Events is a defensive copy;
// mutations go through the store API.
type Session struct {
	Key       SessionKey             `json:"key"`
	Title     string                 `json:"title"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	Events    []Event                `json:"events"`
}

// SessionInfo is lightweight session metadata for listing.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
