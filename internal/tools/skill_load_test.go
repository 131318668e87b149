package tools

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/goswarm/internal/store"
)

type fakeSkillSource struct {
	bodies map[string]string
	tools  map[string][]Tool
}

func (f *fakeSkillSource) Has(id string) bool { _, ok := f.bodies[id]; return ok }
func (f *fakeSkillSource) IDs() []string {
	ids := make([]string, 0, len(f.bodies))
	for id := range f.bodies {
		ids = append(ids, id)
	}
	return ids
}
func (f *fakeSkillSource) Body(id string) (string, error) {
	body, ok := f.bodies[id]
	if !ok {
		return "", fmt.Errorf("skill not found: %s", id)
	}
	return body, nil
}
func (f *fakeSkillSource) Tools(id string) ([]Tool, error) { return f.tools[id], nil }

type namedTool struct{ name string }

func (t *namedTool) Name() string                       { return t.name }
func (t *namedTool) Description() string                { return t.name }
func (t *namedTool) Parameters() map[string]interface{} { return map[string]interface{}{} }
func (t *namedTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	return NewResult("ok")
}

func TestSkillLoadMountsToolsAndReturnsBody(t *testing.T) {
	src := &fakeSkillSource{
		bodies: map[string]string{"swarm": "## Dispatch procedure\nAlways cite the worker."},
		tools:  map[string][]Tool{"swarm": {&namedTool{name: "dispatch_task"}, &namedTool{name: "dispatch_batch_tasks"}}},
	}
	loader := NewSkillLoadTool(src, nil)
	reg := NewRegistry(loader)
	ctx := WithRegistry(context.Background(), reg)

	res := loader.Execute(ctx, map[string]interface{}{"skill_id": "swarm"})
	if res.IsError {
		t.Fatalf("skill_load failed: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "Dispatch procedure") {
		t.Errorf("confirmation must embed the instruction body: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "2 new tool(s)") {
		t.Errorf("confirmation should count mounted tools: %s", res.ForLLM)
	}
	if _, ok := reg.Get("dispatch_task"); !ok {
		t.Error("dispatch_task not mounted")
	}
	if reg.Len() != 3 {
		t.Errorf("expected 3 bound tools, got %d", reg.Len())
	}
}

func TestSkillLoadIsIdempotent(t *testing.T) {
	src := &fakeSkillSource{
		bodies: map[string]string{"bash": "run things"},
		tools:  map[string][]Tool{"bash": {&namedTool{name: "bash"}}},
	}
	loader := NewSkillLoadTool(src, nil)
	reg := NewRegistry(loader)
	ctx := WithRegistry(context.Background(), reg)

	loader.Execute(ctx, map[string]interface{}{"skill_id": "bash"})
	res := loader.Execute(ctx, map[string]interface{}{"skill_id": "bash"})
	if res.IsError {
		t.Fatalf("second load failed: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "0 new tool(s)") {
		t.Errorf("duplicate names must be skipped: %s", res.ForLLM)
	}
	if reg.Len() != 2 {
		t.Errorf("expected 2 bound tools, got %d", reg.Len())
	}
}

func TestSkillLoadUnknownSkill(t *testing.T) {
	src := &fakeSkillSource{bodies: map[string]string{"swarm": "x"}}
	loader := NewSkillLoadTool(src, nil)
	ctx := WithRegistry(context.Background(), NewRegistry(loader))

	res := loader.Execute(ctx, map[string]interface{}{"skill_id": "teleport"})
	if !res.IsError {
		t.Fatal("unknown skill must be an error result")
	}
	if !strings.Contains(res.ForLLM, "swarm") {
		t.Errorf("error should list available skills: %s", res.ForLLM)
	}
}

func TestSkillLoadCompactorRunsEngine(t *testing.T) {
	var compacted []store.SessionKey
	compact := func(ctx context.Context, key store.SessionKey) error {
		compacted = append(compacted, key)
		return nil
	}
	loader := NewSkillLoadTool(&fakeSkillSource{bodies: map[string]string{}}, compact)
	key := store.SessionKey{AppName: "swarm_app", UserID: "u", SessionID: "s"}
	ctx := WithSessionKey(context.Background(), key)

	res := loader.Execute(ctx, map[string]interface{}{"skill_id": CompactorSkillID})
	if res.IsError {
		t.Fatalf("compactor activation failed: %s", res.ForLLM)
	}
	if len(compacted) != 1 || compacted[0] != key {
		t.Errorf("compaction engine not invoked for session: %+v", compacted)
	}
}

func TestSkillLoadCompactorMountsSmartCompact(t *testing.T) {
	var compacted []store.SessionKey
	compact := func(ctx context.Context, key store.SessionKey) error {
		compacted = append(compacted, key)
		return nil
	}
	src := &fakeSkillSource{
		bodies: map[string]string{CompactorSkillID: "compact when long"},
		tools:  map[string][]Tool{CompactorSkillID: {NewSmartCompactTool(compact)}},
	}
	loader := NewSkillLoadTool(src, compact)
	reg := NewRegistry(loader)
	key := store.SessionKey{AppName: "swarm_app", UserID: "u", SessionID: "s"}
	ctx := WithSessionKey(WithRegistry(context.Background(), reg), key)

	res := loader.Execute(ctx, map[string]interface{}{"skill_id": CompactorSkillID})
	if res.IsError {
		t.Fatalf("compactor activation failed: %s", res.ForLLM)
	}
	if len(compacted) != 1 {
		t.Fatalf("activation should compact once, got %d", len(compacted))
	}

	// Activation mounts smart_compact so the model can force later
	// compactions without reloading the skill.
	sc, ok := reg.Get("smart_compact")
	if !ok {
		t.Fatal("smart_compact not mounted by compactor activation")
	}
	if res := sc.Execute(ctx, nil); res.IsError {
		t.Fatalf("smart_compact failed: %s", res.ForLLM)
	}
	if len(compacted) != 2 || compacted[1] != key {
		t.Errorf("smart_compact should run the engine again: %+v", compacted)
	}
}

func TestRegistryOrderAndDefinitions(t *testing.T) {
	reg := NewRegistry(&namedTool{name: "skill_load"}, &namedTool{name: "bash"})
	reg.Register(&namedTool{name: "dispatch_task"})

	defs := reg.Definitions()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Function.Name
	}
	want := []string{"skill_load", "bash", "dispatch_task"}
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Errorf("definitions order: got %v, want %v", names, want)
	}
}

func TestTruncateMarksOversizedResults(t *testing.T) {
	big := strings.Repeat("x", MaxResultChars+100)
	got := Truncate(big)
	if len(got) >= len(big) {
		t.Error("oversized result not truncated")
	}
	if !strings.HasSuffix(got, "[output truncated]") {
		t.Errorf("missing truncation marker: ...%s", got[len(got)-30:])
	}
}
