package tools

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/goswarm/internal/store"
)

// CompactFunc forces compaction of one session's history. Injected as a
// callback so tools never import the agent package.
type CompactFunc func(ctx context.Context, key store.SessionKey) error

// SmartCompactTool forces compaction independent of thresholds. Mounted
// by the compactor skill.
type SmartCompactTool struct {
	compact CompactFunc
}

func NewSmartCompactTool(compact CompactFunc) *SmartCompactTool {
	return &SmartCompactTool{compact: compact}
}

func (t *SmartCompactTool) Name() string { return "smart_compact" }

func (t *SmartCompactTool) Description() string {
	return "Summarize and clear the conversation history now. Use when context is long and earlier detail is no longer needed."
}

func (t *SmartCompactTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *SmartCompactTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	if t.compact == nil {
		return ErrorResult("compaction engine not configured")
	}
	key := SessionKeyFromCtx(ctx)
	if err := t.compact(ctx, key); err != nil {
		return ErrorResult(fmt.Sprintf("compaction failed: %v", err)).WithError(err)
	}
	return NewResult("✅ Context compacted. The conversation history has been replaced with a summary; continue from there.")
}
