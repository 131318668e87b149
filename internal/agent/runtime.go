package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/goswarm/internal/cancel"
	"github.com/nextlevelbuilder/goswarm/internal/config"
	"github.com/nextlevelbuilder/goswarm/internal/providers"
	"github.com/nextlevelbuilder/goswarm/internal/store"
	"github.com/nextlevelbuilder/goswarm/internal/tools"
	"github.com/nextlevelbuilder/goswarm/pkg/protocol"
)

const (
	autoTitleRunes = 30

	cancelNotice = "[System] Run cancelled by user."

	// compactionHintRatio is the share of the structural threshold at
	// which the model starts seeing a hint to activate the compactor.
	compactionHintRatio = 0.8

	compactionHint = "\n\n[System Note] The conversation history is getting long. Consider activating the 'compactor' skill to summarize it before continuing."

	compactionNotice = "\n[System] Context window exceeded. Compacting conversation history and retrying...\n"
)

// SkillCatalog is what the runtime needs from the skill manager: the
// activation surface skill_load uses plus the discovery list embedded in
// the system prompt.
type SkillCatalog interface {
	tools.SkillSource
	Discovery() string
}

// Runtime drives one node's sessions through the reason-act loop:
// model call, tool execution, repeat, with compaction and cancellation
// guards woven between the steps.
type Runtime struct {
	store     store.SessionStore
	provider  providers.Provider
	compactor *Compactor
	skills    SkillCatalog
	cancels   *cancel.Hub
	cfg       *config.Config
	nodePort  int
	tracer    trace.Tracer

	mu         sync.Mutex
	registries map[string]*tools.Registry
}

func NewRuntime(st store.SessionStore, p providers.Provider, compactor *Compactor, skills SkillCatalog, cancels *cancel.Hub, cfg *config.Config, nodePort int) *Runtime {
	return &Runtime{
		store:      st,
		provider:   p,
		compactor:  compactor,
		skills:     skills,
		cancels:    cancels,
		cfg:        cfg,
		nodePort:   nodePort,
		tracer:     otel.Tracer("goswarm/agent"),
		registries: make(map[string]*tools.Registry),
	}
}

// Cancels exposes the cancellation hub so the HTTP facade can post
// signals for /api/cancel and urgent preemption.
func (r *Runtime) Cancels() *cancel.Hub { return r.cancels }

// CompactSession is the CompactFunc bound into skill_load and the
// compactor skill.
func (r *Runtime) CompactSession(ctx context.Context, key store.SessionKey) error {
	return r.compactor.Compact(ctx, key, nil)
}

// Run executes one user turn against a session, streaming output through
// emit. It returns ErrCancelled when the session's mailbox trips.
func (r *Runtime) Run(ctx context.Context, key store.SessionKey, message string, emit func(protocol.Chunk)) error {
	box := r.cancels.Mailbox(key.String())
	// A signal posted after the previous run ended must not kill this one.
	box.TryConsume()

	sess, err := r.store.GetOrCreate(ctx, key)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	if sess.Title == "" {
		if err := r.store.SetTitle(ctx, key, titleFrom(message)); err != nil {
			slog.Warn("set session title", "session", key.String(), "error", err)
		}
	}

	userText := message
	if threshold := int(float64(r.cfg.Compaction.MaxEvents) * compactionHintRatio); threshold > 0 && len(sess.Events) >= threshold {
		userText += compactionHint
	}
	if err := r.store.AppendEvent(ctx, key, store.TextEvent(store.AuthorUser, "user", userText)); err != nil {
		return fmt.Errorf("append user event: %w", err)
	}

	// Pre-flight compaction keeps the first model call of the turn under
	// the window. Failure here is non-fatal; the reactive tier catches
	// what slips through.
	if should, reason := r.compactor.ShouldCompact(sess.Events); should {
		slog.Info("pre-flight compaction", "session", key.String(), "trigger", reason)
		if err := r.compactor.Compact(ctx, key, nil); err != nil {
			slog.Warn("pre-flight compaction failed", "session", key.String(), "error", err)
		}
	}

	reg := r.sessionRegistry(key)
	if warn := r.cfg.Agent.ToolWarnLimit; warn > 0 && reg.Len() > warn {
		slog.Warn("large tool set degrades model accuracy", "session", key.String(), "tools", reg.Len())
	}

	toolCtx := tools.WithSessionKey(ctx, key)
	toolCtx = tools.WithRegistry(toolCtx, reg)
	toolCtx = tools.WithMailbox(toolCtx, box)
	toolCtx = tools.WithEmitter(toolCtx, tools.Emitter(emit))
	toolCtx = tools.WithNodePort(toolCtx, r.nodePort)
	toolCtx = tools.WithWorkspace(toolCtx, r.cfg.WorkspaceDir())

	compactionRetried := false
	for iter := 0; iter < r.cfg.Agent.MaxToolIterations; iter++ {
		if r.checkCancelled(ctx, key, box, emit) {
			return ErrCancelled
		}

		events, err := r.store.Events(ctx, key)
		if err != nil {
			return fmt.Errorf("load events: %w", err)
		}

		resp, err := r.callModel(ctx, key, events, reg, emit)
		if errors.Is(err, providers.ErrContextWindowExceeded) && !compactionRetried {
			compactionRetried = true
			emit(protocol.Text(compactionNotice))
			if cerr := r.compactor.Compact(ctx, key, nil); cerr != nil {
				return fmt.Errorf("reactive compaction: %w (after %w)", cerr, err)
			}
			iter--
			continue
		}
		if err != nil {
			return fmt.Errorf("model call: %w", err)
		}

		calls := normalizeCalls(resp.ToolCalls)
		if err := r.store.AppendEvent(ctx, key, modelEvent(resp, calls)); err != nil {
			return fmt.Errorf("append model event: %w", err)
		}
		if len(calls) == 0 {
			return nil
		}

		for _, call := range calls {
			if r.checkCancelled(ctx, key, box, emit) {
				return ErrCancelled
			}
			emit(protocol.ToolCallChunk(call.Name, call.Args))

			res := r.executeTool(toolCtx, key, reg, call)
			payload := tools.Truncate(res.ForLLM)
			emit(protocol.ToolResultChunk(call.Name, payload, !res.IsError))

			respEvent := store.Event{
				Author: store.AuthorUser,
				Content: store.Content{
					Role: "user",
					Parts: []store.Part{{FunctionResponse: &store.FunctionResponse{
						ID:     call.ID,
						Name:   call.Name,
						Result: tools.EncodeResult(res),
					}}},
				},
				CreatedAt: time.Now().UTC(),
			}
			if err := r.store.AppendEvent(ctx, key, respEvent); err != nil {
				return fmt.Errorf("append tool result: %w", err)
			}
		}
	}

	slog.Warn("tool iteration limit reached", "session", key.String(), "limit", r.cfg.Agent.MaxToolIterations)
	emit(protocol.Text("\n[System] Tool iteration limit reached. Stopping here; ask me to continue if more work remains.\n"))
	return nil
}

// sessionRegistry returns the session's tool set, creating it with the
// core tools on first use. Skill activations mutate it in place, so
// mounted tools survive across turns within the process.
func (r *Runtime) sessionRegistry(key store.SessionKey) *tools.Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.registries[key.String()]
	if !ok {
		reg = tools.NewRegistry(tools.NewSkillLoadTool(r.skills, r.CompactSession))
		r.registries[key.String()] = reg
	}
	return reg
}

// DropSession discards per-session runtime state after deletion.
func (r *Runtime) DropSession(key store.SessionKey) {
	r.mu.Lock()
	delete(r.registries, key.String())
	r.mu.Unlock()
	r.cancels.Drop(key.String())
}

// checkCancelled consumes a pending cancellation signal, finalizing the
// session with a notice so the history explains the truncated turn.
func (r *Runtime) checkCancelled(ctx context.Context, key store.SessionKey, box *cancel.Mailbox, emit func(protocol.Chunk)) bool {
	if !box.TryConsume() {
		return false
	}
	if err := r.store.AppendEvent(ctx, key, store.TextEvent(store.AuthorUser, "user", cancelNotice)); err != nil {
		slog.Warn("append cancel notice", "session", key.String(), "error", err)
	}
	emit(protocol.Text("\n" + cancelNotice + "\n"))
	return true
}

func (r *Runtime) callModel(ctx context.Context, key store.SessionKey, events []store.Event, reg *tools.Registry, emit func(protocol.Chunk)) (*providers.ChatResponse, error) {
	ctx, span := r.tracer.Start(ctx, "agent.model_call", trace.WithAttributes(
		attribute.String("session", key.String()),
		attribute.Int("events", len(events)),
	))
	defer span.End()

	req := providers.ChatRequest{
		Messages: r.renderMessages(events),
		Tools:    reg.Definitions(),
	}
	resp, err := r.provider.ChatStream(ctx, req, func(chunk providers.StreamChunk) {
		if chunk.Thinking != "" {
			emit(protocol.Thought(chunk.Thinking))
		}
		if chunk.Content != "" {
			emit(protocol.Text(chunk.Content))
		}
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if resp.Usage != nil {
		span.SetAttributes(attribute.Int("tokens.total", resp.Usage.TotalTokens))
	}
	return resp, nil
}

func (r *Runtime) executeTool(ctx context.Context, key store.SessionKey, reg *tools.Registry, call store.FunctionCall) (res *tools.Result) {
	ctx, span := r.tracer.Start(ctx, "agent.tool_call", trace.WithAttributes(
		attribute.String("session", key.String()),
		attribute.String("tool", call.Name),
	))
	defer span.End()

	tool, ok := reg.Get(call.Name)
	if !ok {
		return tools.ErrorResult(fmt.Sprintf(
			"Tool not found: %s. Only these tools are currently loaded: %s. Use skill_load to activate the skill that provides it.",
			call.Name, boundNames(reg)))
	}

	// A panicking tool fails its own call, never the whole run.
	defer func() {
		if p := recover(); p != nil {
			slog.Error("tool panic", "tool", call.Name, "panic", p)
			res = tools.ErrorResult(fmt.Sprintf("tool %s panicked: %v", call.Name, p))
		}
	}()

	start := time.Now()
	res = tool.Execute(ctx, call.Args)
	if res == nil {
		res = tools.ErrorResult(fmt.Sprintf("tool %s returned no result", call.Name))
	}
	slog.Debug("tool executed",
		"tool", call.Name,
		"error", res.IsError,
		"took", time.Since(start).Round(time.Millisecond))
	if res.IsError {
		span.SetAttributes(attribute.Bool("error", true))
	}
	return res
}

// renderMessages flattens the event log into provider messages. Tool
// results follow their call in order; calls that lost their result get a
// synthetic one, and results whose call was compacted away are dropped,
// so the wire history is always well-formed.
func (r *Runtime) renderMessages(events []store.Event) []providers.Message {
	msgs := []providers.Message{{Role: "system", Content: r.systemPrompt()}}

	responses := make(map[string]map[string]interface{})
	for _, ev := range events {
		for _, p := range ev.Content.Parts {
			if p.FunctionResponse != nil && p.FunctionResponse.ID != "" {
				responses[p.FunctionResponse.ID] = p.FunctionResponse.Result
			}
		}
	}

	for _, ev := range events {
		var (
			text  strings.Builder
			calls []providers.ToolCall
		)
		for _, p := range ev.Content.Parts {
			switch {
			case p.FunctionCall != nil:
				calls = append(calls, providers.ToolCall{
					ID:        p.FunctionCall.ID,
					Name:      p.FunctionCall.Name,
					Arguments: p.FunctionCall.Args,
				})
			case p.FunctionResponse != nil:
				// Emitted in call order below.
			case p.Thought:
				// Reasoning is streamed, never replayed.
			default:
				text.WriteString(p.Text)
			}
		}

		switch ev.Author {
		case store.AuthorModel:
			msgs = append(msgs, providers.Message{Role: "assistant", Content: text.String(), ToolCalls: calls})
			for _, call := range calls {
				result, ok := responses[call.ID]
				if !ok {
					result = map[string]interface{}{"status": "interrupted"}
				}
				msgs = append(msgs, providers.Message{
					Role:       "tool",
					Content:    tools.CompactJSON(result),
					ToolCallID: call.ID,
				})
			}
		default:
			if text.Len() > 0 {
				msgs = append(msgs, providers.Message{Role: "user", Content: text.String()})
			}
		}
	}
	return msgs
}

func (r *Runtime) systemPrompt() string {
	var b strings.Builder
	if custom := r.cfg.Agent.SystemPrompt; custom != "" {
		b.WriteString(custom)
	} else {
		b.WriteString("You are a capable assistant running as one node of an agent swarm. Work step by step, use tools when they help, and report results concisely.")
	}
	if discovery := r.skills.Discovery(); discovery != "" {
		b.WriteString("\n\n## Available skills\nActivate a skill with skill_load before attempting work it covers:\n\n")
		b.WriteString(discovery)
	}
	return b.String()
}

// normalizeCalls assigns IDs to tool calls that arrived without one, so
// call/result pairing is stable in the event log.
func normalizeCalls(in []providers.ToolCall) []store.FunctionCall {
	out := make([]store.FunctionCall, 0, len(in))
	for _, c := range in {
		id := c.ID
		if id == "" {
			id = "call_" + uuid.NewString()[:8]
		}
		out = append(out, store.FunctionCall{ID: id, Name: c.Name, Args: c.Arguments})
	}
	return out
}

func modelEvent(resp *providers.ChatResponse, calls []store.FunctionCall) store.Event {
	var parts []store.Part
	if resp.Thinking != "" {
		parts = append(parts, store.Part{Text: resp.Thinking, Thought: true})
	}
	if resp.Content != "" {
		parts = append(parts, store.Part{Text: resp.Content})
	}
	for i := range calls {
		parts = append(parts, store.Part{FunctionCall: &calls[i]})
	}
	return store.Event{
		Author:    store.AuthorModel,
		Content:   store.Content{Role: "model", Parts: parts},
		CreatedAt: time.Now().UTC(),
	}
}

func boundNames(reg *tools.Registry) string {
	var names []string
	for _, t := range reg.List() {
		names = append(names, t.Name())
	}
	return strings.Join(names, ", ")
}

// titleFrom derives the auto-title from the first user message.
func titleFrom(message string) string {
	title := strings.TrimSpace(message)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	runes := []rune(title)
	if len(runes) > autoTitleRunes {
		title = string(runes[:autoTitleRunes]) + "..."
	}
	return title
}
