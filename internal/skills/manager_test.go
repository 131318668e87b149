package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/goswarm/internal/store"
	"github.com/nextlevelbuilder/goswarm/internal/tools"
)

func writeSkill(t *testing.T, root, id, name, description, body string) {
	t.Helper()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	manifest := "---\nname: " + name + "\ndescription: " + description + "\n---\n" + body
	if err := os.WriteFile(filepath.Join(dir, ManifestName), []byte(manifest), 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func TestScanReadsFrontMatterOnly(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "swarm", "Swarm Dispatch", "Delegate sub-tasks to peer nodes", "## SOP\nLong instructions here.")
	writeSkill(t, root, "bash", "Shell", "Run shell commands", "## SOP\nShell usage.")

	m := NewManager(root)
	if err := m.Scan(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if !m.Has("swarm") || !m.Has("bash") {
		t.Fatalf("skills not discovered: %v", m.IDs())
	}
	discovery := m.Discovery()
	if !strings.Contains(discovery, "Swarm Dispatch") || !strings.Contains(discovery, "Delegate sub-tasks") {
		t.Errorf("discovery missing metadata:\n%s", discovery)
	}
	// Phase 1 must not leak instruction bodies into the system prompt.
	if strings.Contains(discovery, "Long instructions") {
		t.Errorf("discovery leaked a skill body:\n%s", discovery)
	}
}

func TestScanSkipsInvalidSkills(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "good", "Good", "works", "body")

	// No front-matter delimiter at all.
	bad := filepath.Join(root, "bad")
	os.MkdirAll(bad, 0755)
	os.WriteFile(filepath.Join(bad, ManifestName), []byte("just markdown, no front matter"), 0644)

	// Directory without a manifest.
	os.MkdirAll(filepath.Join(root, "empty"), 0755)

	m := NewManager(root)
	if err := m.Scan(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if m.Has("bad") || m.Has("empty") {
		t.Errorf("invalid skills must be skipped: %v", m.IDs())
	}
	if !m.Has("good") {
		t.Errorf("valid skill lost: %v", m.IDs())
	}
}

func TestBodyReturnsFullInstructions(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "swarm", "Swarm", "dispatch", "## Dispatch SOP\n1. Pick a peer.\n2. Cite the worker.")

	m := NewManager(root)
	if err := m.Scan(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	body, err := m.Body("swarm")
	if err != nil {
		t.Fatalf("body: %v", err)
	}
	if !strings.Contains(body, "Cite the worker") {
		t.Errorf("body incomplete: %q", body)
	}
	if strings.Contains(body, "description:") {
		t.Errorf("front-matter leaked into body: %q", body)
	}

	if _, err := m.Body("absent"); err == nil {
		t.Error("expected error for unknown skill")
	}
}

func TestRescanPicksUpNewSkills(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)
	if err := m.Scan(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(m.IDs()) != 0 {
		t.Fatalf("expected empty skill set, got %v", m.IDs())
	}

	writeSkill(t, root, "late", "Late Arrival", "added after startup", "body")
	if err := m.Scan(); err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if !m.Has("late") {
		t.Error("rescan missed new skill")
	}
}

func TestBuiltinFactoriesProduceTools(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "swarm", "Swarm", "dispatch", "body")
	writeSkill(t, root, "bash", "Shell", "run", "body")
	writeSkill(t, root, "compactor", "Compactor", "summarize", "body")

	m := NewManager(root)
	RegisterBuiltins(m)
	m.Bind(Deps{
		AppName: "swarm_app",
		Compact: func(ctx context.Context, key store.SessionKey) error { return nil },
	})
	if err := m.Scan(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	swarmTools, err := m.Tools("swarm")
	if err != nil {
		t.Fatalf("swarm tools: %v", err)
	}
	names := map[string]bool{}
	for _, tool := range swarmTools {
		names[tool.Name()] = true
	}
	if !names["dispatch_task"] || !names["dispatch_batch_tasks"] {
		t.Errorf("swarm factory tools: %v", names)
	}

	compactorTools, err := m.Tools(tools.CompactorSkillID)
	if err != nil {
		t.Fatalf("compactor tools: %v", err)
	}
	if len(compactorTools) != 1 || compactorTools[0].Name() != "smart_compact" {
		t.Errorf("compactor factory tools: %+v", compactorTools)
	}
}

func TestInstructionsOnlySkillYieldsNoTools(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "style-guide", "Style Guide", "writing conventions", "Use short sentences.")

	m := NewManager(root)
	if err := m.Scan(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	got, err := m.Tools("style-guide")
	if err != nil {
		t.Fatalf("tools: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no tools, got %d", len(got))
	}
}
