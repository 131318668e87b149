package skills

import (
	"os"

	"github.com/nextlevelbuilder/goswarm/internal/tools"
)

// Built-in skill ids with compiled-in tool bindings.
const (
	SkillSwarm = "swarm"
	SkillBash  = "bash"
	SkillWeb   = "web"
)

// RegisterBuiltins wires the factories for the skills this binary ships
// tool bindings for. Skills on disk without a factory here are
// instructions-only: loading them mounts no tools.
func RegisterBuiltins(m *Manager) {
	m.RegisterTools(SkillSwarm, func(deps Deps) []tools.Tool {
		dispatch := tools.NewDispatchTool(deps.Registry, deps.AppName, deps.Client)
		return []tools.Tool{dispatch, tools.NewDispatchBatchTool(dispatch)}
	})
	m.RegisterTools(SkillBash, func(deps Deps) []tools.Tool {
		return []tools.Tool{tools.NewShellTool(deps.Workspace)}
	})
	m.RegisterTools(SkillWeb, func(deps Deps) []tools.Tool {
		return []tools.Tool{
			tools.NewWebFetchTool(tools.WebFetchConfig{}),
			tools.NewWebSearchTool(tools.WebSearchConfig{BraveAPIKey: os.Getenv("SWARM_BRAVE_API_KEY")}),
		}
	})
	m.RegisterTools(tools.CompactorSkillID, func(deps Deps) []tools.Tool {
		return []tools.Tool{tools.NewSmartCompactTool(deps.Compact)}
	})
}
