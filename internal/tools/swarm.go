package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goswarm/internal/registry"
	"github.com/nextlevelbuilder/goswarm/pkg/protocol"
)

// UrgentPrefix marks a chat message that preempts a busy node. The peer's
// chat endpoint matches it literally.
const UrgentPrefix = "[URGENT_INTERRUPT] "

const (
	chatTimeout     = 180 * time.Second
	registryTimeout = 5 * time.Second
)

// DispatchTool delegates a sub-task to a peer node: a tool the model
// calls, not an infrastructure daemon. Peers come from the registry with
// this node excluded; dead peers are pruned on connect failure.
type DispatchTool struct {
	registry registry.Registry
	appName  string
	client   *http.Client
}

func NewDispatchTool(reg registry.Registry, appName string, client *http.Client) *DispatchTool {
	if client == nil {
		client = &http.Client{Timeout: chatTimeout}
	}
	return &DispatchTool{registry: reg, appName: appName, client: client}
}

func (t *DispatchTool) Name() string { return "dispatch_task" }

func (t *DispatchTool) Description() string {
	return "Delegate a sub-task to a peer node in the swarm. The peer executes it with its own tools and returns a report. Use priority URGENT only to preempt a busy peer."
}

func (t *DispatchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task_instruction": map[string]interface{}{
				"type":        "string",
				"description": "The complete, self-contained task for the worker",
			},
			"context_info": map[string]interface{}{
				"type":        "string",
				"description": "Background the worker needs (paths, decisions so far)",
			},
			"target_port": map[string]interface{}{
				"type":        "number",
				"description": "Pin the task to one peer's port; omit to spread load",
			},
			"sub_session_id": map[string]interface{}{
				"type":        "string",
				"description": "Reuse a worker session for follow-up tasks; omit for a fresh one",
			},
			"priority": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"NORMAL", "URGENT"},
				"description": "URGENT preempts a busy worker",
			},
		},
		"required": []string{"task_instruction"},
	}
}

func (t *DispatchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	task, _ := args["task_instruction"].(string)
	if task == "" {
		return ErrorResult("task_instruction is required")
	}
	contextInfo, _ := args["context_info"].(string)
	priority, _ := args["priority"].(string)
	subSessionID, _ := args["sub_session_id"].(string)
	if subSessionID == "" {
		subSessionID = "sub_" + uuid.NewString()[:8]
	}

	targetPort := 0
	if v, ok := args["target_port"].(float64); ok {
		targetPort = int(v)
	}

	selfPort := NodePortFromCtx(ctx)

	candidates, errResult := t.candidates(ctx, selfPort, targetPort)
	if errResult != nil {
		return errResult
	}
	if len(candidates) == 0 {
		return NewResult("No peer nodes are available in the swarm. Execute the task locally with your own tools.")
	}

	message := buildWorkerMessage(task, contextInfo, subSessionID, priority == "URGENT")
	callerID := fmt.Sprintf("node_%d", selfPort)
	preview := taskPreview(task)
	emit := EmitterFromCtx(ctx)

	var lastErr error
	for _, peer := range candidates {
		report, err := t.sendToPeer(ctx, peer, message, callerID, subSessionID, preview, emit)
		if err == nil {
			return NewResult(fmt.Sprintf(
				"✅ [SWARM TASK COMPLETED]\nWorker: port=%d, session=%s\n%s\n\n[System Hint] Cite worker port %d when you report this result to the user.",
				peer.Port, subSessionID, report, peer.Port))
		}
		lastErr = err

		var busyErr *peerBusyError
		if errors.As(err, &busyErr) {
			if targetPort != 0 {
				return NewResult(fmt.Sprintf(
					"⚠️ Worker port=%d is busy.\nCurrent task: %s\nRunning for: %.0fs\nDecide: retry with priority=URGENT to preempt it, or call dispatch_task without target_port to pick another peer.",
					peer.Port, busyErr.CurrentTask, busyErr.RunningTime))
			}
			// Untargeted: a busy peer is skipped, not an error.
			continue
		}

		// Only a connect failure marks a peer dead. A reachable peer
		// that answered with an HTTP error or broke its stream keeps
		// its registry row; the next candidate is tried either way.
		var connErr *peerConnectError
		if !errors.As(err, &connErr) {
			slog.Warn("peer dispatch failed", "port", peer.Port, "error", err)
			continue
		}
		slog.Warn("peer unreachable, pruning from registry", "port", peer.Port, "error", err)
		regCtx, cancelReg := context.WithTimeout(context.Background(), registryTimeout)
		if derr := t.registry.Deregister(regCtx, peer.Port); derr != nil {
			slog.Warn("prune failed", "port", peer.Port, "error", derr)
		}
		cancelReg()
	}

	return ErrorResult(fmt.Sprintf("All %d candidate peer(s) failed. Last error: %v", len(candidates), lastErr))
}

// candidates reads the registry, drops this node's own row, and either
// pins the target port or shuffles for load spreading.
func (t *DispatchTool) candidates(ctx context.Context, selfPort, targetPort int) ([]registry.Node, *Result) {
	regCtx, cancelReg := context.WithTimeout(ctx, registryTimeout)
	defer cancelReg()

	nodes, err := t.registry.Active(regCtx)
	if err != nil {
		return nil, ErrorResult(fmt.Sprintf("swarm registry unavailable: %v", err)).WithError(err)
	}

	peers := nodes[:0]
	for _, n := range nodes {
		if n.Port != selfPort {
			peers = append(peers, n)
		}
	}

	if targetPort != 0 {
		for _, n := range peers {
			if n.Port == targetPort {
				return []registry.Node{n}, nil
			}
		}
		return nil, ErrorResult(fmt.Sprintf("target_port %d not found in registry (it may have stopped); call dispatch_task without target_port", targetPort))
	}

	rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })
	return peers, nil
}

// buildWorkerMessage prepends the reporting contract (and the urgent
// marker) to the task so every worker answers in the masked, path-only
// style the leader's context can afford.
func buildWorkerMessage(task, contextInfo, subSessionID string, urgent bool) string {
	var b strings.Builder
	if urgent {
		b.WriteString(UrgentPrefix)
	}
	fmt.Fprintf(&b, "[SWARM WORKER DIRECTIVE]\nYou are a worker node in the swarm. Store long artifacts (code, logs, documents) under ./workspace/%s/ and report only file paths and brief status. Do not dump full code or long text in your reply.\n\n", subSessionID)
	if contextInfo != "" {
		fmt.Fprintf(&b, "[CONTEXT]\n%s\n\n", contextInfo)
	}
	fmt.Fprintf(&b, "[TASK]\n%s", task)
	return b.String()
}

// peerConnectError marks a peer that could not be reached at all, as
// opposed to one that answered with an error.
type peerConnectError struct {
	port int
	err  error
}

func (e *peerConnectError) Error() string {
	return fmt.Sprintf("connect to peer %d: %v", e.port, e.err)
}

func (e *peerConnectError) Unwrap() error { return e.err }

type peerBusyError struct {
	CurrentTask string  `json:"current_task"`
	RunningTime float64 `json:"running_time_seconds"`
}

func (e *peerBusyError) Error() string {
	return fmt.Sprintf("peer busy with %q for %.0fs", e.CurrentTask, e.RunningTime)
}

// sendToPeer posts the nested chat request and consumes the stream,
// projecting only text chunks into the final report (process masking)
// while re-emitting progress as swarm_event chunks on the leader stream.
func (t *DispatchTool) sendToPeer(ctx context.Context, peer registry.Node, message, callerID, subSessionID, preview string, emit Emitter) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"message":    message,
		"app_name":   t.appName,
		"user_id":    callerID,
		"session_id": subSessionID,
	})
	if err != nil {
		return "", fmt.Errorf("encode dispatch payload: %w", err)
	}

	url := strings.TrimRight(peer.URL, "/") + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		if emit != nil {
			emit(protocol.SwarmEvent(protocol.SwarmFail, peer.Port, preview, "", err.Error()))
		}
		return "", &peerConnectError{port: peer.Port, err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		var busy peerBusyError
		body, _ := io.ReadAll(resp.Body)
		_ = json.Unmarshal(body, &busy)
		return "", &busy
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if emit != nil {
			emit(protocol.SwarmEvent(protocol.SwarmFail, peer.Port, preview, "", fmt.Sprintf("HTTP %d", resp.StatusCode)))
		}
		return "", fmt.Errorf("peer %d returned HTTP %d: %s", peer.Port, resp.StatusCode, string(body))
	}

	if emit != nil {
		emit(protocol.SwarmEvent(protocol.SwarmInit, peer.Port, preview, "", ""))
	}

	var finalReport strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var wire protocol.Line
		if err := json.Unmarshal(line, &wire); err != nil {
			continue
		}
		// Process masking: only text reaches the leader's report.
		// Tool calls and intermediate results stay on the worker.
		if wire.Chunk.Type == protocol.ChunkText {
			finalReport.WriteString(wire.Chunk.Content)
			if emit != nil {
				emit(protocol.SwarmEvent(protocol.SwarmChunk, peer.Port, preview, wire.Chunk.Content, ""))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if emit != nil {
			emit(protocol.SwarmEvent(protocol.SwarmFail, peer.Port, preview, "", err.Error()))
		}
		return "", fmt.Errorf("read peer %d stream: %w", peer.Port, err)
	}

	if emit != nil {
		emit(protocol.SwarmEvent(protocol.SwarmFinish, peer.Port, preview, "", ""))
	}
	return strings.TrimSpace(finalReport.String()), nil
}

func taskPreview(task string) string {
	task = strings.ReplaceAll(task, "\n", " ")
	runes := []rune(task)
	if len(runes) > 50 {
		return string(runes[:50]) + "..."
	}
	return task
}
