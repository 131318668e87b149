package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/goswarm/internal/registry"
	"github.com/nextlevelbuilder/goswarm/pkg/protocol"
)

func newDispatchRegistry(t *testing.T) *registry.SQLiteRegistry {
	t.Helper()
	r, err := registry.OpenSQLiteRegistry(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func register(t *testing.T, r *registry.SQLiteRegistry, port int, url string) {
	t.Helper()
	err := r.Register(context.Background(), registry.Node{Port: port, URL: url, Status: registry.StatusActive, LastSeen: 1})
	if err != nil {
		t.Fatalf("register %d: %v", port, err)
	}
}

// chatRequest is the peer-facing request body shape.
type chatRequest struct {
	Message   string `json:"message"`
	AppName   string `json:"app_name"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// streamingPeer returns a test server that records requests and streams
// the given chunks as ndjson.
func streamingPeer(t *testing.T, chunks []protocol.Chunk, got *[]chatRequest, mu *sync.Mutex) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode peer request: %v", err)
		}
		if got != nil {
			mu.Lock()
			*got = append(*got, req)
			mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		for _, c := range chunks {
			_ = enc.Encode(protocol.Line{Chunk: c})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDispatchExcludesSelf(t *testing.T) {
	reg := newDispatchRegistry(t)
	var (
		mu  sync.Mutex
		got []chatRequest
	)
	self := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("dispatcher must never call its own node")
	}))
	defer self.Close()
	peer := streamingPeer(t, []protocol.Chunk{protocol.Text("peer report")}, &got, &mu)

	register(t, reg, 8000, self.URL)
	register(t, reg, 8001, peer.URL)

	d := NewDispatchTool(reg, "swarm_app", nil)
	ctx := WithNodePort(context.Background(), 8000)
	res := d.Execute(ctx, map[string]interface{}{"task_instruction": "count the logs"})

	if res.IsError {
		t.Fatalf("dispatch failed: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "✅ [SWARM TASK COMPLETED]") {
		t.Errorf("missing completion banner: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "port=8001") {
		t.Errorf("report should name the worker port: %s", res.ForLLM)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly one peer call, got %d", len(got))
	}
	if got[0].UserID != "node_8000" {
		t.Errorf("caller identity: %q", got[0].UserID)
	}
}

func TestDispatchMasksWorkerProcess(t *testing.T) {
	reg := newDispatchRegistry(t)
	peer := streamingPeer(t, []protocol.Chunk{
		protocol.ToolCallChunk("bash", map[string]interface{}{"command": "wc -l app.log"}),
		protocol.ToolResultChunk("bash", "4213 app.log", true),
		protocol.Text("Counted 4213 lines, details in ./workspace/sub_x/report.md"),
	}, nil, nil)
	register(t, reg, 8001, peer.URL)

	var emitted []protocol.Chunk
	ctx := WithNodePort(context.Background(), 8000)
	ctx = WithEmitter(ctx, func(c protocol.Chunk) { emitted = append(emitted, c) })

	d := NewDispatchTool(reg, "swarm_app", nil)
	res := d.Execute(ctx, map[string]interface{}{"task_instruction": "count lines"})

	if res.IsError {
		t.Fatalf("dispatch failed: %s", res.ForLLM)
	}
	if strings.Contains(res.ForLLM, "wc -l") || strings.Contains(res.ForLLM, "4213 app.log") {
		t.Errorf("tool traffic leaked into the report: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "Counted 4213 lines") {
		t.Errorf("text chunks should form the report: %s", res.ForLLM)
	}

	var subTypes []string
	for _, c := range emitted {
		if c.Type == protocol.ChunkSwarmEvent {
			subTypes = append(subTypes, c.SubType)
		}
	}
	want := []string{protocol.SwarmInit, protocol.SwarmChunk, protocol.SwarmFinish}
	if fmt.Sprint(subTypes) != fmt.Sprint(want) {
		t.Errorf("swarm_event order: got %v, want %v", subTypes, want)
	}
}

func TestDispatchTargetedBusyReturnsGuidance(t *testing.T) {
	reg := newDispatchRegistry(t)
	busy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":               "busy",
			"current_task":         "indexing repo",
			"running_time_seconds": 42.0,
			"suggestion":           "retry later",
		})
	}))
	defer busy.Close()
	register(t, reg, 8001, busy.URL)

	d := NewDispatchTool(reg, "swarm_app", nil)
	ctx := WithNodePort(context.Background(), 8000)
	res := d.Execute(ctx, map[string]interface{}{
		"task_instruction": "do it",
		"target_port":      float64(8001),
	})

	if res.IsError {
		t.Fatalf("targeted busy should be guidance, not an error: %s", res.ForLLM)
	}
	for _, want := range []string{"busy", "indexing repo", "42", "URGENT"} {
		if !strings.Contains(res.ForLLM, want) {
			t.Errorf("guidance missing %q: %s", want, res.ForLLM)
		}
	}
}

func TestDispatchPrunesDeadPeer(t *testing.T) {
	reg := newDispatchRegistry(t)
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close() // connection refused from now on
	register(t, reg, 8002, dead.URL)

	d := NewDispatchTool(reg, "swarm_app", nil)
	ctx := WithNodePort(context.Background(), 8000)
	res := d.Execute(ctx, map[string]interface{}{"task_instruction": "anything"})

	if !res.IsError {
		t.Fatalf("expected failure with only a dead peer, got: %s", res.ForLLM)
	}
	nodes, err := reg.Active(context.Background())
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(nodes) != 0 {
		t.Errorf("dead peer should be pruned, registry still has %+v", nodes)
	}
}

func TestDispatchKeepsLivePeerAfterHTTPError(t *testing.T) {
	reg := newDispatchRegistry(t)
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer broken.Close()
	register(t, reg, 8002, broken.URL)

	d := NewDispatchTool(reg, "swarm_app", nil)
	ctx := WithNodePort(context.Background(), 8000)
	res := d.Execute(ctx, map[string]interface{}{"task_instruction": "anything"})

	if !res.IsError {
		t.Fatalf("expected failure when the only peer errors, got: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "HTTP 500") {
		t.Errorf("error should surface the peer's status: %s", res.ForLLM)
	}
	// The peer answered, so it is alive; a transient server error must
	// not deregister it.
	nodes, err := reg.Active(context.Background())
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(nodes) != 1 || nodes[0].Port != 8002 {
		t.Errorf("live peer must stay registered, got %+v", nodes)
	}
}

func TestDispatchNoPeersSuggestsLocalExecution(t *testing.T) {
	reg := newDispatchRegistry(t)
	register(t, reg, 8000, "http://localhost:8000") // self only

	d := NewDispatchTool(reg, "swarm_app", nil)
	ctx := WithNodePort(context.Background(), 8000)
	res := d.Execute(ctx, map[string]interface{}{"task_instruction": "anything"})

	if res.IsError {
		t.Fatalf("empty candidate set must not be an error: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "locally") {
		t.Errorf("expected local-execution instruction: %s", res.ForLLM)
	}
}

func TestDispatchUrgentMarkerAndContract(t *testing.T) {
	reg := newDispatchRegistry(t)
	var (
		mu  sync.Mutex
		got []chatRequest
	)
	peer := streamingPeer(t, []protocol.Chunk{protocol.Text("ok")}, &got, &mu)
	register(t, reg, 8001, peer.URL)

	d := NewDispatchTool(reg, "swarm_app", nil)
	ctx := WithNodePort(context.Background(), 8000)
	res := d.Execute(ctx, map[string]interface{}{
		"task_instruction": "stop the bleeding",
		"context_info":     "prod incident",
		"priority":         "URGENT",
	})
	if res.IsError {
		t.Fatalf("dispatch failed: %s", res.ForLLM)
	}

	if len(got) != 1 {
		t.Fatalf("expected one call, got %d", len(got))
	}
	msg := got[0].Message
	if !strings.HasPrefix(msg, UrgentPrefix) {
		t.Errorf("urgent marker must lead the message: %q", msg[:40])
	}
	for _, want := range []string{"[SWARM WORKER DIRECTIVE]", "./workspace/", "[CONTEXT]\nprod incident", "[TASK]\nstop the bleeding"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestBatchDelimiterAndOrder(t *testing.T) {
	reg := newDispatchRegistry(t)
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		// Echo the task line back as the report.
		idx := strings.LastIndex(req.Message, "[TASK]\n")
		w.Header().Set("Content-Type", "application/x-ndjson")
		_ = json.NewEncoder(w).Encode(protocol.Line{Chunk: protocol.Text("done: " + req.Message[idx+len("[TASK]\n"):])})
	}))
	defer peer.Close()
	register(t, reg, 8001, peer.URL)

	d := NewDispatchTool(reg, "swarm_app", nil)
	batch := NewDispatchBatchTool(d)
	ctx := WithNodePort(context.Background(), 8000)
	res := batch.Execute(ctx, map[string]interface{}{
		"tasks": []interface{}{"alpha", "beta", "gamma"},
	})
	if res.IsError {
		t.Fatalf("batch failed: %s", res.ForLLM)
	}

	// The delimiter is a wire format the UI parses; it must match byte
	// for byte and preserve task order regardless of completion order.
	for i, task := range []string{"alpha", "beta", "gamma"} {
		delim := fmt.Sprintf("--- 任务 %d 结果 ---", i+1)
		pos := strings.Index(res.ForLLM, delim)
		if pos < 0 {
			t.Fatalf("missing delimiter %q in:\n%s", delim, res.ForLLM)
		}
		section := res.ForLLM[pos:]
		if end := strings.Index(section[len(delim):], "--- 任务"); end >= 0 {
			section = section[:len(delim)+end]
		}
		if !strings.Contains(section, "done: "+task) {
			t.Errorf("section %d should report %q:\n%s", i+1, task, section)
		}
	}
}
