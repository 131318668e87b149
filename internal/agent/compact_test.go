package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/goswarm/internal/config"
	"github.com/nextlevelbuilder/goswarm/internal/providers"
	"github.com/nextlevelbuilder/goswarm/internal/store"
)

// scriptStep is one pre-planned model response for fakeProvider.
type scriptStep struct {
	resp   *providers.ChatResponse
	err    error
	stream []providers.StreamChunk
}

// fakeProvider plays scripted ChatStream steps in order and answers Chat
// (the summarizer path) with a fixed summary.
type fakeProvider struct {
	mu      sync.Mutex
	steps   []scriptStep
	summary string
	chatErr error

	chatCalls   []providers.ChatRequest
	streamCalls []providers.ChatRequest
}

func (f *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	f.mu.Lock()
	f.chatCalls = append(f.chatCalls, req)
	f.mu.Unlock()
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return &providers.ChatResponse{Content: f.summary, FinishReason: "stop"}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	f.mu.Lock()
	f.streamCalls = append(f.streamCalls, req)
	if len(f.steps) == 0 {
		f.mu.Unlock()
		return nil, errors.New("fakeProvider: script exhausted")
	}
	step := f.steps[0]
	f.steps = f.steps[1:]
	f.mu.Unlock()

	for _, c := range step.stream {
		onChunk(c)
	}
	if step.err != nil {
		return nil, step.err
	}
	return step.resp, nil
}

func (f *fakeProvider) DefaultModel() string { return "fake-model" }
func (f *fakeProvider) Name() string         { return "fake" }

func newAgentStore(t *testing.T) store.SessionStore {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seedConversation(t *testing.T, st store.SessionStore, key store.SessionKey, turns int) {
	t.Helper()
	ctx := context.Background()
	if _, err := st.GetOrCreate(ctx, key); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := st.AppendEvent(ctx, key, store.TextEvent(store.AuthorSystem, "system", "base instructions")); err != nil {
		t.Fatalf("append system event: %v", err)
	}
	for i := 0; i < turns; i++ {
		if err := st.AppendEvent(ctx, key, store.TextEvent(store.AuthorUser, "user", fmt.Sprintf("question %d", i))); err != nil {
			t.Fatalf("append user event: %v", err)
		}
		if err := st.AppendEvent(ctx, key, store.TextEvent(store.AuthorModel, "model", fmt.Sprintf("answer %d", i))); err != nil {
			t.Fatalf("append model event: %v", err)
		}
	}
}

func TestCompactReplacesLogWithSummary(t *testing.T) {
	st := newAgentStore(t)
	key := store.SessionKey{AppName: "swarm_app", UserID: "u", SessionID: "s"}
	seedConversation(t, st, key, 20)

	p := &fakeProvider{summary: "User wants the logs counted. Done: counted 4213 lines. Open: report format undecided."}
	c := NewCompactor(st, p, config.CompactionConfig{MaxEvents: 700, MinEvents: 10}, 128000)

	if err := c.Compact(context.Background(), key, nil); err != nil {
		t.Fatalf("compact: %v", err)
	}

	events, err := st.Events(context.Background(), key)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected system event + summary, got %d events", len(events))
	}
	if events[0].Author != store.AuthorSystem {
		t.Errorf("system events must survive compaction, got author %q", events[0].Author)
	}
	got := events[1].Content.Parts[0].Text
	want := summaryPrefix + p.summary
	if got != want {
		t.Errorf("summary event body:\ngot  %q\nwant %q", got, want)
	}
	if events[1].Author != store.AuthorUser {
		t.Errorf("summary must be a user event, got %q", events[1].Author)
	}
}

func TestCompactBelowMinEventsIsNoOp(t *testing.T) {
	st := newAgentStore(t)
	key := store.SessionKey{AppName: "swarm_app", UserID: "u", SessionID: "tiny"}
	seedConversation(t, st, key, 2) // 5 events, below MinEvents

	p := &fakeProvider{summary: "unused"}
	c := NewCompactor(st, p, config.CompactionConfig{MaxEvents: 700, MinEvents: 10}, 128000)

	if err := c.Compact(context.Background(), key, nil); err != nil {
		t.Fatalf("compact: %v", err)
	}
	if len(p.chatCalls) != 0 {
		t.Error("summarizer must not run below the event floor")
	}
	events, _ := st.Events(context.Background(), key)
	if len(events) != 5 {
		t.Errorf("log must be untouched, got %d events", len(events))
	}
}

func TestCompactIsIdempotent(t *testing.T) {
	st := newAgentStore(t)
	key := store.SessionKey{AppName: "swarm_app", UserID: "u", SessionID: "twice"}
	seedConversation(t, st, key, 20)

	p := &fakeProvider{summary: "the summary"}
	c := NewCompactor(st, p, config.CompactionConfig{MaxEvents: 700, MinEvents: 10}, 128000)

	if err := c.Compact(context.Background(), key, nil); err != nil {
		t.Fatalf("first compact: %v", err)
	}
	if err := c.Compact(context.Background(), key, nil); err != nil {
		t.Fatalf("second compact: %v", err)
	}
	// The compacted log is below MinEvents, so the second run is a no-op.
	if len(p.chatCalls) != 1 {
		t.Errorf("expected one summarizer call, got %d", len(p.chatCalls))
	}
}

func TestCompactSummarizerFailureLeavesLogUntouched(t *testing.T) {
	st := newAgentStore(t)
	key := store.SessionKey{AppName: "swarm_app", UserID: "u", SessionID: "fail"}
	seedConversation(t, st, key, 20)
	before, _ := st.Events(context.Background(), key)

	p := &fakeProvider{chatErr: errors.New("model down")}
	c := NewCompactor(st, p, config.CompactionConfig{MaxEvents: 700, MinEvents: 10}, 128000)

	if err := c.Compact(context.Background(), key, nil); err == nil {
		t.Fatal("expected error from failing summarizer")
	}
	after, _ := st.Events(context.Background(), key)
	if len(after) != len(before) {
		t.Errorf("log must survive a failed summarization: %d -> %d events", len(before), len(after))
	}
}

func TestCompactPendingCallGetsSyntheticResponse(t *testing.T) {
	st := newAgentStore(t)
	key := store.SessionKey{AppName: "swarm_app", UserID: "u", SessionID: "pending"}
	seedConversation(t, st, key, 20)

	p := &fakeProvider{summary: "summary"}
	c := NewCompactor(st, p, config.CompactionConfig{MaxEvents: 700, MinEvents: 10}, 128000)

	pending := &store.FunctionCall{ID: "call_1", Name: "bash"}
	if err := c.Compact(context.Background(), key, pending); err != nil {
		t.Fatalf("compact: %v", err)
	}

	events, _ := st.Events(context.Background(), key)
	last := events[len(events)-1]
	fr := last.Content.Parts[0].FunctionResponse
	if fr == nil || fr.ID != "call_1" {
		t.Fatalf("expected synthetic function response, got %+v", last)
	}
	if fr.Result["status"] != "interrupted_by_compaction" {
		t.Errorf("synthetic result: %v", fr.Result)
	}
}

func TestShouldCompactTriggers(t *testing.T) {
	c := NewCompactor(nil, nil, config.CompactionConfig{MaxEvents: 30, MinEvents: 10}, 1000)

	var small []store.Event
	for i := 0; i < 5; i++ {
		small = append(small, store.TextEvent(store.AuthorUser, "user", "hi"))
	}
	if ok, _ := c.ShouldCompact(small); ok {
		t.Error("below MinEvents must never compact")
	}

	var structural []store.Event
	for i := 0; i < 31; i++ {
		structural = append(structural, store.TextEvent(store.AuthorUser, "user", "hi"))
	}
	if ok, reason := c.ShouldCompact(structural); !ok || reason != "structural" {
		t.Errorf("structural trigger: ok=%v reason=%q", ok, reason)
	}

	// 12 events but enough characters that chars/3 exceeds 90% of a
	// 1000-token window.
	var predictive []store.Event
	for i := 0; i < 12; i++ {
		predictive = append(predictive, store.TextEvent(store.AuthorUser, "user", strings.Repeat("x", 300)))
	}
	if ok, reason := c.ShouldCompact(predictive); !ok || reason != "predictive" {
		t.Errorf("predictive trigger: ok=%v reason=%q", ok, reason)
	}
}

func TestTrimTranscriptKeepsHeadAndTail(t *testing.T) {
	head := strings.Repeat("A", transcriptCapChars/2)
	tail := strings.Repeat("Z", transcriptCapChars/2)
	long := head + strings.Repeat("m", transcriptCapChars) + tail

	got := trimTranscript(long)
	if len(got) > transcriptCapChars+100 {
		t.Errorf("trimmed transcript still too large: %d chars", len(got))
	}
	if !strings.HasPrefix(got, "AAAA") {
		t.Error("head of the conversation must survive")
	}
	if !strings.HasSuffix(got, "ZZZZ") {
		t.Error("tail of the conversation must survive")
	}
	if !strings.Contains(got, "omitted") {
		t.Error("missing elision marker")
	}
}
