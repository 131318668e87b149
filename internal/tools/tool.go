package tools

import (
	"context"
	"sync"

	"github.com/nextlevelbuilder/goswarm/internal/providers"
)

// Tool is a callable the model can invoke mid-conversation.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Registry is one session's mutable ordered tool set. Core tools are
// mounted at session creation; skill activation appends more. Duplicate
// names are ignored so repeated skill_load calls stay idempotent.
type Registry struct {
	mu     sync.Mutex
	order  []string
	byName map[string]Tool
}

func NewRegistry(core ...Tool) *Registry {
	r := &Registry{byName: make(map[string]Tool)}
	for _, t := range core {
		r.Register(t)
	}
	return r
}

// Register appends a tool, skipping names already bound.
func (r *Registry) Register(t Tool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.byName[name]; exists {
		return false
	}
	r.byName[name] = t
	r.order = append(r.order, name)
	return true
}

// Get returns a bound tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byName[name]
	return t, ok
}

// List returns the bound tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Len returns the number of bound tools.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Definitions renders the tool schemas the model call sends.
func (r *Registry) Definitions() []providers.ToolDefinition {
	defs := make([]providers.ToolDefinition, 0, r.Len())
	for _, t := range r.List() {
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}
