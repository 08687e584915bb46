// Package tools manages the tool registry consulted by the transport: tool
// definitions handed to providers, JSON-schema validation of tool inputs,
// and dispatch of builtin tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/beyondbetter/bb-core/pkg/types"
)

// Tool parameter limits.
const (
	MaxToolNameLength = 256
	MaxToolInputSize  = 10 << 20
)

// Tool is one registered tool. The core dispatches and validates; execution
// semantics belong to the implementation.
type Tool interface {
	Name() string
	Description() string

	// InputSchema returns the Draft 2020-12 JSON schema for the tool input.
	InputSchema() json.RawMessage

	// Run executes the tool with an already-validated input.
	Run(ctx context.Context, input map[string]any) (*Result, error)
}

// Result is a tool execution outcome, rendered into a tool_result part.
type Result struct {
	Content string
	IsError bool
}

// Registry is a thread-safe name-to-tool table.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("tools: invalid tool name %q", name)
	}
	r.mu.Lock()
	r.tools[name] = tool
	r.mu.Unlock()
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.tools, name)
	r.mu.Unlock()
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	return tool, ok
}

// Definitions returns provider-facing definitions for all registered tools,
// in no particular order.
func (r *Registry) Definitions() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]types.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, types.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.InputSchema(),
		})
	}
	return defs
}

// ValidateInput checks input against the named tool's schema. The returned
// string is empty on success and a human-readable failure summary otherwise;
// error is reserved for lookup or compile failures.
func (r *Registry) ValidateInput(name string, input map[string]any) (string, error) {
	tool, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("tools: unknown tool %q", name)
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("tools: encode input for %s: %w", name, err)
	}
	if len(payload) > MaxToolInputSize {
		return fmt.Sprintf("tool input exceeds maximum size of %d bytes", MaxToolInputSize), nil
	}
	return ValidateAgainstSchema(tool.InputSchema(), payload)
}
