package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/agentswarm/types"
)

// ToolFunc defines the tool function signature.
type ToolFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Backend provides a set of tools. The router discovers them at
// registration time via Tools and dispatches calls via Execute.
type Backend interface {
	Tools() []types.ToolDescriptor
	Execute(ctx context.Context, tool string, args json.RawMessage) (json.RawMessage, error)
}

// FuncBackend is a Backend assembled from individual functions.
// Useful for in-process tools and tests.
type FuncBackend struct {
	descriptors []types.ToolDescriptor
	fns         map[string]ToolFunc
}

// NewFuncBackend 创建空的函数后端。
func NewFuncBackend() *FuncBackend {
	return &FuncBackend{
		fns: make(map[string]ToolFunc),
	}
}

// Add registers one tool on the backend. Returns the backend for chaining.
// A repeated name replaces the previous function.
func (b *FuncBackend) Add(desc types.ToolDescriptor, fn ToolFunc) *FuncBackend {
	if _, exists := b.fns[desc.Name]; !exists {
		b.descriptors = append(b.descriptors, desc)
	} else {
		for i := range b.descriptors {
			if b.descriptors[i].Name == desc.Name {
				b.descriptors[i] = desc
				break
			}
		}
	}
	b.fns[desc.Name] = fn
	return b
}

// Tools implements Backend.
func (b *FuncBackend) Tools() []types.ToolDescriptor {
	out := make([]types.ToolDescriptor, len(b.descriptors))
	copy(out, b.descriptors)
	return out
}

// Execute implements Backend.
func (b *FuncBackend) Execute(ctx context.Context, tool string, args json.RawMessage) (json.RawMessage, error) {
	fn, ok := b.fns[tool]
	if !ok {
		return nil, fmt.Errorf("backend does not provide tool %q", tool)
	}
	return fn(ctx, args)
}
