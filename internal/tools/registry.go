// Package tools implements the declarative tool registry and dispatcher
// of spec §4.7: each tool is {name, description, inputSchema, handler}; a
// call is argument-validated against inputSchema before the handler runs.
// It is grounded on the teacher's internal/tools package layout (one
// subpackage per tool family registered into a shared registry at startup)
// generalised from the teacher's many tool families down to the fixed
// wire-stable set spec §4.7 names.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Result is the MCP tools/call result envelope (spec §4.7): a list of
// content blocks, with IsError set when the handler fails or the arguments
// do not parse or match the tool's schema. Only an unknown tool name is
// left to the JSON-RPC layer to report as a protocol error.
type Result struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func TextResult(text string) Result {
	return Result{Content: []ContentBlock{{Type: "text", Text: text}}}
}

func ErrorResult(text string) Result {
	return Result{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: true}
}

// Handler executes a validated tool call.
type Handler func(ctx context.Context, args json.RawMessage) (Result, error)

// Tool is one registry entry.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     Handler

	schema *jsonschema.Schema
}

// Descriptor is the wire shape returned by tools/list.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ExecutionRecorder observes each completed tool call; satisfied by
// internal/metrics.Metrics. Kept as a narrow local interface to avoid a
// dependency on the concrete metrics package from this one.
type ExecutionRecorder interface {
	RecordToolExecution(toolName string, isError bool)
}

// Registry holds the fixed tool set for one process lifetime. Tools are
// registered at startup; mu guards the tool map and the recorder against
// lookups running concurrently with registration.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*Tool
	recorder ExecutionRecorder
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// SetRecorder attaches a metrics recorder; nil disables recording (the
// default, so existing callers and tests are unaffected).
func (r *Registry) SetRecorder(rec ExecutionRecorder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorder = rec
}

// Register compiles t's inputSchema and adds it to the registry. A
// malformed schema is a programmer error, so Register panics rather than
// returning one — schemas are baked in at compile time, not user input.
func (r *Registry) Register(t Tool) {
	compiled, err := jsonschema.CompileString(t.Name+".json", string(t.InputSchema))
	if err != nil {
		panic(fmt.Sprintf("tools: invalid schema for %q: %v", t.Name, err))
	}
	t.schema = compiled

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = &t
}

// List returns every registered tool's descriptor, sorted by name for a
// stable tools/list response.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, Descriptor{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call validates args against the named tool's inputSchema and, on
// success, invokes its handler. An unknown tool name is reported via ok=false
// so the JSON-RPC layer can answer with -32601 (Method not found) rather
// than a tool-level error result.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (Result, bool, error) {
	r.mu.RLock()
	t, found := r.tools[name]
	r.mu.RUnlock()
	if !found {
		return Result{}, false, nil
	}

	var decoded interface{}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, &decoded); err != nil {
		return ErrorResult(fmt.Sprintf("invalid arguments: %v", err)), true, nil
	}
	if err := t.schema.Validate(decoded); err != nil {
		return ErrorResult(fmt.Sprintf("arguments do not match schema: %v", err)), true, nil
	}

	result, err := t.Handler(ctx, args)

	r.mu.RLock()
	rec := r.recorder
	r.mu.RUnlock()

	if err != nil {
		if rec != nil {
			rec.RecordToolExecution(name, true)
		}
		return ErrorResult(err.Error()), true, nil
	}
	if rec != nil {
		rec.RecordToolExecution(name, result.IsError)
	}
	return result, true, nil
}
