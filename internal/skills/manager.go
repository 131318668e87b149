// Package skills discovers skill packages on disk and lazily loads them.
// A skill is a directory under the skills root holding a SKILL.md manifest:
// YAML front-matter (name, description) followed by a markdown body, the
// skill's standard operating procedure. Discovery reads only front-matter;
// the body and tool bindings load when the model activates the skill.
//
// Go cannot import code from disk, so tool bindings are compiled-in
// factories registered per skill id. The manifest on disk decides which
// skills exist; the binary decides what their tools do.
package skills

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/goswarm/internal/registry"
	"github.com/nextlevelbuilder/goswarm/internal/tools"
)

// ManifestName is the per-skill manifest file.
const ManifestName = "SKILL.md"

// ErrSkillNotFound marks an activation request for an unknown skill id.
var ErrSkillNotFound = errors.New("skill not found")

// Skill is the discovery-phase view of one skill package.
type Skill struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Dir         string `yaml:"-"`
}

// Deps carries the node-level handles tool factories bind against.
type Deps struct {
	Registry  registry.Registry
	NodePort  int
	AppName   string
	Workspace string
	Compact   tools.CompactFunc
	Client    *http.Client
}

// Factory builds a skill's tool set against node dependencies.
type Factory func(deps Deps) []tools.Tool

// Manager scans the skills directory and serves two-phase loads.
type Manager struct {
	dir string

	mu        sync.RWMutex
	skills    map[string]Skill
	order     []string
	factories map[string]Factory
	deps      Deps
}

func NewManager(dir string) *Manager {
	return &Manager{
		dir:       dir,
		skills:    make(map[string]Skill),
		factories: make(map[string]Factory),
	}
}

// Bind sets the dependencies handed to tool factories.
func (m *Manager) Bind(deps Deps) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deps = deps
}

// RegisterTools registers the compiled-in tool factory for a skill id.
func (m *Manager) RegisterTools(id string, f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[id] = f
}

// Scan reads front-matter of every skill directory. Directories without a
// valid manifest are skipped. Safe to call repeatedly; the watcher calls
// it on every change.
func (m *Manager) Scan() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			m.mu.Lock()
			m.skills = make(map[string]Skill)
			m.order = nil
			m.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read skills dir: %w", err)
	}

	found := make(map[string]Skill)
	var order []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		dir := filepath.Join(m.dir, id)
		front, _, err := readManifest(filepath.Join(dir, ManifestName))
		if err != nil {
			slog.Debug("skipping skill", "id", id, "reason", err)
			continue
		}
		found[id] = Skill{
			ID:          id,
			Name:        front.Name,
			Description: front.Description,
			Dir:         dir,
		}
		order = append(order, id)
	}

	m.mu.Lock()
	m.skills = found
	m.order = order
	m.mu.Unlock()
	return nil
}

// Watch rescans the skills directory whenever it changes, until ctx ends.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("skills watcher: %w", err)
	}
	if err := watcher.Add(m.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", m.dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) != 0 {
					if err := m.Scan(); err != nil {
						slog.Warn("skills rescan failed", "error", err)
					} else {
						slog.Debug("skills rescanned", "trigger", ev.Name)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("skills watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Has reports whether a skill id is discoverable.
func (m *Manager) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.skills[id]
	return ok
}

// IDs returns the discovered skill ids in directory order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Discovery renders the YAML skill list embedded in the system prompt:
// only id, name, and description, never the instruction bodies.
func (m *Manager) Discovery() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]Skill, 0, len(m.order))
	for _, id := range m.order {
		list = append(list, m.skills[id])
	}
	out, err := yaml.Marshal(list)
	if err != nil {
		return ""
	}
	return string(out)
}

// Body returns a skill's full markdown instruction body (phase 2).
func (m *Manager) Body(id string) (string, error) {
	m.mu.RLock()
	sk, ok := m.skills[id]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSkillNotFound, id)
	}
	_, body, err := readManifest(filepath.Join(sk.Dir, ManifestName))
	if err != nil {
		return "", fmt.Errorf("read skill %s: %w", id, err)
	}
	return body, nil
}

// Tools builds the skill's tool bindings. A discoverable skill without a
// registered factory is instructions-only and yields no tools.
func (m *Manager) Tools(id string) ([]tools.Tool, error) {
	m.mu.RLock()
	_, known := m.skills[id]
	factory := m.factories[id]
	deps := m.deps
	m.mu.RUnlock()

	if !known {
		return nil, fmt.Errorf("%w: %s", ErrSkillNotFound, id)
	}
	if factory == nil {
		return nil, nil
	}
	return factory(deps), nil
}

type frontMatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// readManifest splits SKILL.md into YAML front-matter and markdown body.
// A manifest without front-matter is invalid.
func readManifest(path string) (frontMatter, string, error) {
	var fm frontMatter
	data, err := os.ReadFile(path)
	if err != nil {
		return fm, "", err
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	if !strings.HasPrefix(text, "---\n") {
		return fm, "", errors.New("missing front-matter")
	}
	rest := text[len("---\n"):]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return fm, "", errors.New("unterminated front-matter")
	}
	header := rest[:idx]
	body := rest[idx+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")

	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return fm, "", fmt.Errorf("parse front-matter: %w", err)
	}
	if fm.Name == "" {
		return fm, "", errors.New("front-matter missing name")
	}
	return fm, strings.TrimSpace(body), nil
}
