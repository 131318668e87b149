package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/goswarm/internal/config"
	"github.com/nextlevelbuilder/goswarm/internal/providers"
	"github.com/nextlevelbuilder/goswarm/internal/store"
)

const (
	// summaryPrefix leads the synthetic user event that replaces the
	// compacted history. The UI and follow-up prompts rely on this exact
	// wording.
	summaryPrefix = "[System] Context cleared. Summary of previous conversation:\n"

	// transcriptCapChars bounds the transcript sent to the summarizer.
	// Over the cap we keep the head and tail and cut the middle.
	transcriptCapChars = 200000
	transcriptHeadPct  = 0.2
	transcriptTailPct  = 0.3

	// predictiveRatio triggers compaction before the model call when the
	// estimated token count crosses this share of the context window.
	predictiveRatio = 0.9

	// charsPerToken is the coarse estimate used for predictive checks.
	charsPerToken = 3
)

const summarizerInstruction = `Summarize the conversation above for context compaction.
Preserve, in this order:
1. The user's original goal and any constraints they stated.
2. Steps already completed, with key decisions and their outcomes.
3. Open questions and what remains to be done.
Omit code blocks and verbose tool output; reference files by path instead.
The summary must be self-contained: a reader with no other context should be able to continue the work.`

// Compactor rewrites a session's event log into a compact form when the
// history approaches the model's context window.
type Compactor struct {
	store    store.SessionStore
	provider providers.Provider
	cfg      config.CompactionConfig

	// contextWindow is the model's window in tokens, used by the
	// predictive trigger.
	contextWindow int
}

func NewCompactor(st store.SessionStore, p providers.Provider, cfg config.CompactionConfig, contextWindow int) *Compactor {
	return &Compactor{store: st, provider: p, cfg: cfg, contextWindow: contextWindow}
}

// ShouldCompact reports whether the event log warrants compaction and
// which trigger fired. Logs below MinEvents never compact, so a freshly
// compacted session does not immediately re-trigger.
func (c *Compactor) ShouldCompact(events []store.Event) (bool, string) {
	if len(events) < c.cfg.MinEvents {
		return false, ""
	}
	if c.contextWindow > 0 {
		estTokens := transcriptChars(events) / charsPerToken
		if float64(estTokens) > float64(c.contextWindow)*predictiveRatio {
			return true, "predictive"
		}
	}
	if c.cfg.MaxEvents > 0 && len(events) > c.cfg.MaxEvents {
		return true, "structural"
	}
	return false, ""
}

// Compact summarizes the session's history and atomically replaces the
// event log with the original system events plus one summary event.
//
// pending, when non-nil, is a tool call that was interrupted by
// compaction; a synthetic response for it is appended so the model never
// sees a call without a matching result. On summarizer failure the log
// is left untouched and the error returned, so the caller can surface
// the original condition instead.
func (c *Compactor) Compact(ctx context.Context, key store.SessionKey, pending *store.FunctionCall) error {
	events, err := c.store.Events(ctx, key)
	if err != nil {
		return fmt.Errorf("load events for compaction: %w", err)
	}
	if len(events) < c.cfg.MinEvents {
		return nil
	}

	transcript := renderTranscript(events)
	if len(transcript) > transcriptCapChars {
		transcript = trimTranscript(transcript)
	}

	model := c.cfg.Model
	if model == "" {
		model = c.provider.DefaultModel()
	}
	start := time.Now()
	resp, err := c.provider.Chat(ctx, providers.ChatRequest{
		Model: model,
		Messages: []providers.Message{
			{Role: "user", Content: transcript + "\n\n" + summarizerInstruction},
		},
	})
	if err != nil {
		return fmt.Errorf("summarize history: %w", err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return fmt.Errorf("summarize history: empty summary")
	}

	replacement := make([]store.Event, 0, 4)
	for _, ev := range events {
		if ev.Author == store.AuthorSystem {
			replacement = append(replacement, ev)
		}
	}
	replacement = append(replacement, store.TextEvent(store.AuthorUser, "user", summaryPrefix+summary))
	if pending != nil {
		replacement = append(replacement, store.Event{
			Author: store.AuthorUser,
			Content: store.Content{
				Role: "user",
				Parts: []store.Part{{FunctionResponse: &store.FunctionResponse{
					ID:     pending.ID,
					Name:   pending.Name,
					Result: map[string]interface{}{"status": "interrupted_by_compaction"},
				}}},
			},
			CreatedAt: time.Now().UTC(),
		})
	}

	if err := c.store.ReplaceEvents(ctx, key, replacement); err != nil {
		return fmt.Errorf("replace events: %w", err)
	}
	slog.Info("compacted session",
		"session", key.String(),
		"before", len(events),
		"after", len(replacement),
		"took", time.Since(start).Round(time.Millisecond))
	return nil
}

// transcriptChars approximates the prompt size of an event log.
func transcriptChars(events []store.Event) int {
	n := 0
	for _, ev := range events {
		for _, p := range ev.Content.Parts {
			n += len(p.Text)
			if p.FunctionCall != nil {
				n += len(p.FunctionCall.Name)
				n += len(fmt.Sprint(p.FunctionCall.Args))
			}
			if p.FunctionResponse != nil {
				n += len(p.FunctionResponse.Name)
				n += len(fmt.Sprint(p.FunctionResponse.Result))
			}
		}
	}
	return n
}

// renderTranscript flattens the event log into a role-tagged transcript
// for the summarizer.
func renderTranscript(events []store.Event) string {
	var b strings.Builder
	for _, ev := range events {
		for _, p := range ev.Content.Parts {
			switch {
			case p.FunctionCall != nil:
				fmt.Fprintf(&b, "[%s] called tool %s(%v)\n", ev.Author, p.FunctionCall.Name, p.FunctionCall.Args)
			case p.FunctionResponse != nil:
				fmt.Fprintf(&b, "[tool:%s] %v\n", p.FunctionResponse.Name, p.FunctionResponse.Result)
			case p.Text != "":
				if p.Thought {
					continue
				}
				fmt.Fprintf(&b, "[%s] %s\n", ev.Author, p.Text)
			}
		}
	}
	return b.String()
}

// trimTranscript keeps the head and tail of an oversized transcript.
// The head carries the original goal, the tail the current state.
func trimTranscript(s string) string {
	head := int(float64(transcriptCapChars) * transcriptHeadPct)
	tail := int(float64(transcriptCapChars) * transcriptTailPct)
	return s[:head] + "\n\n[... middle of conversation omitted ...]\n\n" + s[len(s)-tail:]
}
