package agent

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tillerhq/tiller/internal/catalog"
	"github.com/tillerhq/tiller/pkg/models"
)

// ToolRegistry holds the tools available to the runtime. Registration and
// lookup may race with a running loop, so access is synchronized; the loop
// re-resolves each tool by name at dispatch time and picks up changes between
// iterations.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry returns an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering a name twice is a programming error.
func (r *ToolRegistry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool has empty name")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// Unregister removes a tool by name. Removing an unknown name is a no-op.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the tool registered under name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools sorted by name.
func (r *ToolRegistry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Definitions returns the wire-level definitions of the tools compatible with
// the given model, sorted by name.
func (r *ToolRegistry) Definitions(model catalog.Model) []models.ToolDefinition {
	tools := r.List()
	defs := make([]models.ToolDefinition, 0, len(tools))
	for _, tool := range tools {
		if mc, ok := tool.(ModelConstrained); ok && !mc.CompatibleWith(model) {
			continue
		}
		defs = append(defs, models.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Schema:      tool.Schema(),
		})
	}
	return defs
}
