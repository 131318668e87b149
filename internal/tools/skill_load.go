package tools

import (
	"context"
	"fmt"
	"strings"
)

// CompactorSkillID is the skill whose activation runs the compaction
// engine immediately, in addition to mounting its tools.
const CompactorSkillID = "compactor"

// SkillSource is the skill manager surface skill_load needs: existence
// checks, instruction bodies, and bound tool construction.
type SkillSource interface {
	Has(id string) bool
	IDs() []string
	Body(id string) (string, error)
	Tools(id string) ([]Tool, error)
}

// SkillLoadTool is the meta-tool every session starts with. It activates
// a skill: returns the full instruction body and appends the skill's
// tools to the calling session's registry.
type SkillLoadTool struct {
	source  SkillSource
	compact CompactFunc
}

func NewSkillLoadTool(source SkillSource, compact CompactFunc) *SkillLoadTool {
	return &SkillLoadTool{source: source, compact: compact}
}

func (t *SkillLoadTool) Name() string { return "skill_load" }

func (t *SkillLoadTool) Description() string {
	return "Load a skill by id: returns its full instructions and makes its tools available. Call this before attempting work a skill covers."
}

func (t *SkillLoadTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"skill_id": map[string]interface{}{
				"type":        "string",
				"description": "Id of the skill to activate (from the skill list in the system prompt)",
			},
		},
		"required": []string{"skill_id"},
	}
}

func (t *SkillLoadTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	id, _ := args["skill_id"].(string)
	if id == "" {
		return ErrorResult("skill_id is required")
	}

	// Activating the compactor compacts the current session immediately
	// and also mounts smart_compact for explicit follow-up calls.
	if id == CompactorSkillID && t.compact != nil {
		key := SessionKeyFromCtx(ctx)
		if err := t.compact(ctx, key); err != nil {
			return ErrorResult(fmt.Sprintf("compaction failed: %v", err)).WithError(err)
		}
		mounted, _ := t.mount(ctx, id)
		return NewResult(fmt.Sprintf(
			"✅ Context compacted. The conversation history has been replaced with a summary; continue from there. %d new tool(s) available.",
			mounted))
	}

	if !t.source.Has(id) {
		return ErrorResult(fmt.Sprintf("skill not found: %s. Available skills: %s", id, strings.Join(t.source.IDs(), ", ")))
	}

	body, err := t.source.Body(id)
	if err != nil {
		return ErrorResult(fmt.Sprintf("load skill %s: %v", id, err)).WithError(err)
	}

	mounted, err := t.mount(ctx, id)
	if err != nil {
		return ErrorResult(fmt.Sprintf("load skill tools %s: %v", id, err)).WithError(err)
	}

	// The body rides inside the confirmation so the model sees the
	// expanded SOP on its next turn.
	return NewResult(fmt.Sprintf(
		"✅ Skill '%s' loaded. %d new tool(s) available.\n\n--- SKILL INSTRUCTIONS ---\n%s",
		id, mounted, body))
}

// mount appends the skill's bound tools to the session registry and
// returns how many were new. A skill with no factory mounts nothing.
func (t *SkillLoadTool) mount(ctx context.Context, id string) (int, error) {
	skillTools, err := t.source.Tools(id)
	if err != nil {
		return 0, err
	}
	reg := RegistryFromCtx(ctx)
	if reg == nil {
		return 0, nil
	}
	mounted := 0
	for _, st := range skillTools {
		if reg.Register(st) {
			mounted++
		}
	}
	return mounted, nil
}
