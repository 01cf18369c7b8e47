// Package tools provides the tool registry and the tools the banking assistant can call.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a tool name does not resolve.
	ErrNotFound = errors.New("tool not found")
	// ErrAlreadyExists is returned when two tools share a name.
	ErrAlreadyExists = errors.New("tool already registered")
	// ErrEmptyName is returned when a tool has no name.
	ErrEmptyName = errors.New("tool name is empty")
)

// Descriptor describes a tool to the model and to the dispatcher.
type Descriptor struct {
	Name        string
	Description string
	// Parameters is the JSON Schema of the tool arguments.
	Parameters map[string]any
	// Requires lists the capabilities the caller must hold.
	Requires CapabilitySet
}

// Result is the output of one tool invocation.
type Result struct {
	Content string
	// Diagnostic is optional structured metadata, e.g. {"sql": "..."}.
	Diagnostic map[string]any
}

// Tool is a named capability the model can invoke.
type Tool interface {
	Descriptor() Descriptor
	// Invoke runs the tool. creds only holds getters for capabilities the tool requires.
	Invoke(ctx context.Context, args json.RawMessage, creds Credentials) (*Result, error)
}

// Registry is a read-only catalog of tools, safe for concurrent use.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry builds a registry from tools, preserving their order.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, tool := range tools {
		name := strings.TrimSpace(tool.Descriptor().Name)
		if name == "" {
			return nil, ErrEmptyName
		}
		if _, ok := r.tools[name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
		}
		r.tools[name] = tool
		r.order = append(r.order, name)
	}
	return r, nil
}

// Lookup resolves a tool by name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Get resolves a tool by name, returning ErrNotFound when absent.
func (r *Registry) Get(name string) (Tool, error) {
	tool, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return tool, nil
}

// Descriptors returns the descriptors of all tools in registration order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Descriptor())
	}
	return out
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.order)
}

// FuncTool adapts a function into a Tool.
type FuncTool struct {
	desc Descriptor
	fn   func(ctx context.Context, args json.RawMessage, creds Credentials) (*Result, error)
}

// NewFuncTool creates a Tool from a descriptor and a function.
func NewFuncTool(desc Descriptor, fn func(ctx context.Context, args json.RawMessage, creds Credentials) (*Result, error)) *FuncTool {
	if desc.Requires == nil {
		desc.Requires = NewCapabilitySet()
	}
	return &FuncTool{desc: desc, fn: fn}
}

// Descriptor returns the tool descriptor.
func (t *FuncTool) Descriptor() Descriptor {
	return t.desc
}

// Invoke runs the wrapped function.
func (t *FuncTool) Invoke(ctx context.Context, args json.RawMessage, creds Credentials) (*Result, error) {
	return t.fn(ctx, args, creds)
}

var _ Tool = (*FuncTool)(nil)
