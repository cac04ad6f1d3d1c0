// Package tools provides the tool registry and the server's tools.
package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/vinayprograms/devsupport/errors"
	"github.com/vinayprograms/devsupport/policy"
)

// Tool represents an executable tool.
type Tool interface {
	// Name returns the tool name.
	Name() string
	// Description returns a description for the client.
	Description() string
	// Parameters returns the JSON schema for parameters.
	Parameters() map[string]interface{}
	// Execute runs the tool. The result is marshalled to JSON by the caller.
	Execute(ctx context.Context, args Args) (interface{}, error)
}

// ToolDefinition is the client-facing tool definition.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Registry holds all registered tools.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	policy *policy.Policy
}

// NewRegistry creates an empty registry. Tools disabled by pol are hidden
// from Definitions and Get.
func NewRegistry(pol *policy.Policy) *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		policy: pol,
	}
}

// Policy returns the registry's policy.
func (r *Registry) Policy() *policy.Policy {
	return r.policy
}

// Register adds a tool to the registry, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns an enabled tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok || !r.policy.IsToolEnabled(name) {
		return nil
	}
	return t
}

// Has returns true if the registry has an enabled tool with the given name.
func (r *Registry) Has(name string) bool {
	if r == nil {
		return false
	}
	return r.Get(name) != nil
}

// Definitions returns definitions for enabled tools, sorted by name.
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		if !r.policy.IsToolEnabled(t.Name()) {
			continue
		}
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs the named tool. An unknown or disabled tool is UNSUPPORTED.
// A panicking tool is reported as INTERNAL.
func (r *Registry) Execute(ctx context.Context, name string, args Args) (result interface{}, err error) {
	t := r.Get(name)
	if t == nil {
		return nil, errors.Unsupported("unknown tool: "+name, errors.WithMetadata(errors.MetaTool, name))
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = errors.RecoverPanic(rec)
		}
	}()

	if args == nil {
		args = Args{}
	}
	return t.Execute(ctx, args)
}

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
