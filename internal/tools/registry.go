package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/saorsa-labs/fae/internal/llm"
	"github.com/saorsa-labs/fae/internal/logging"
)

// Registry holds the available tools. Registration order is preserved so the
// schema list sent to the provider is stable across turns.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Re-registering a name replaces the previous tool and
// keeps its position.
func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return fmt.Errorf("tool must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
	logging.Debugf("[tools] registered %s", t.Name())
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// SchemasForAPI returns the definitions for every tool admitted under mode,
// in registration order. At ModeOff the list is empty, so the provider never
// sees tools it cannot call.
func (r *Registry) SchemasForAPI(mode Mode) []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var defs []llm.ToolDefinition
	for _, name := range r.order {
		t := r.tools[name]
		if !mode.Allows(t.Mode()) {
			continue
		}
		schema, err := json.Marshal(t.Schema())
		if err != nil {
			logging.Warnf("[tools] schema for %s does not marshal: %v", name, err)
			continue
		}
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: schema,
		})
	}
	return defs
}
