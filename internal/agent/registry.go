// Package agent runs Hive's agent stages and tool invocations as isolated jobs.
package agent

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mbhatt1/hive-sub000/internal/jobrunner"
)

// Resource prefixes understood by the registry.
const (
	AgentPrefix = "agent:"
	ToolPrefix  = "tool:"
)

// Kind distinguishes agent stages from tool invocations.
type Kind string

const (
	KindAgent Kind = "agent"
	KindTool  Kind = "tool"
)

// Definition describes how to launch one agent or tool.
type Definition struct {
	Image   string           `mapstructure:"image" yaml:"image"`
	Command []string         `mapstructure:"command" yaml:"command,omitempty"`
	Limits  jobrunner.Limits `mapstructure:"limits" yaml:"limits,omitempty"`
	Timeout time.Duration    `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// Descriptor is a registered definition together with its identity.
type Descriptor struct {
	Kind       Kind
	Name       string
	Definition Definition
}

// Resource returns the resource string that resolves to this descriptor.
func (d Descriptor) Resource() string {
	return string(d.Kind) + ":" + d.Name
}

// Registry maps agent stage names and tool kinds to job definitions.
// Names are case-insensitive.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Definition
	tools  map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]Definition),
		tools:  make(map[string]Definition),
	}
}

// RegisterAgent registers the definition for an agent stage.
func (r *Registry) RegisterAgent(name string, def Definition) error {
	return r.register(r.agents, "agent", name, def)
}

// RegisterTool registers the definition for a tool kind.
func (r *Registry) RegisterTool(kind string, def Definition) error {
	return r.register(r.tools, "tool", kind, def)
}

func (r *Registry) register(into map[string]Definition, what, name string, def Definition) error {
	if name == "" {
		return fmt.Errorf("%s name cannot be empty", what)
	}
	if def.Image == "" && len(def.Command) == 0 {
		return fmt.Errorf("%s %q requires an image or command", what, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(name)
	if _, exists := into[key]; exists {
		return fmt.Errorf("%s %q already registered", what, name)
	}
	into[key] = def
	return nil
}

// HasAgent reports whether an agent stage is registered.
func (r *Registry) HasAgent(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[strings.ToLower(name)]
	return ok
}

// HasTool reports whether a tool kind is registered.
func (r *Registry) HasTool(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[strings.ToLower(kind)]
	return ok
}

// Tools returns the registered tool kinds in lexical order.
func (r *Registry) Tools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.tools))
	for k := range r.tools {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// List returns every registered descriptor, agents first, sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.agents)+len(r.tools))
	for name, def := range r.agents {
		out = append(out, Descriptor{Kind: KindAgent, Name: name, Definition: def})
	}
	for name, def := range r.tools {
		out = append(out, Descriptor{Kind: KindTool, Name: name, Definition: def})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind == KindAgent
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Resolve looks up a resource of the form "agent:<stage>" or "tool:<kind>".
func (r *Registry) Resolve(resource string) (Descriptor, error) {
	var (
		kind  Kind
		name  string
		table map[string]Definition
	)
	switch {
	case strings.HasPrefix(resource, AgentPrefix):
		kind, name, table = KindAgent, strings.TrimPrefix(resource, AgentPrefix), r.agents
	case strings.HasPrefix(resource, ToolPrefix):
		kind, name, table = KindTool, strings.TrimPrefix(resource, ToolPrefix), r.tools
	default:
		return Descriptor{}, fmt.Errorf("unsupported resource %q", resource)
	}

	r.mu.RLock()
	def, ok := table[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return Descriptor{}, fmt.Errorf("no %s registered for %q", kind, name)
	}
	return Descriptor{Kind: kind, Name: strings.ToLower(name), Definition: def}, nil
}
