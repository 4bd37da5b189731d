package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolFunc is the normalized call signature every tool binding resolves to.
// Params are the bridged, context-injected arguments as JSON.
type ToolFunc func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)

// Registration declares one tool. Implementations in the wild expose their
// entry point under different field names; a registration carries whichever
// one the tool provides, and resolution picks the first present in a fixed
// preference order (Implementation, Handler, Execute).
type Registration struct {
	Name        string
	Description string

	// Schema is the JSON Schema for the tool's parameters. When set,
	// bridged arguments are validated against it before invocation.
	Schema json.RawMessage

	// Exactly one of the following should be set.
	Implementation ToolFunc
	Handler        ToolFunc
	Execute        ToolFunc
}

// entryPoint picks the call convention in fixed preference order.
func (r *Registration) entryPoint() (ToolFunc, error) {
	switch {
	case r.Implementation != nil:
		return r.Implementation, nil
	case r.Handler != nil:
		return r.Handler, nil
	case r.Execute != nil:
		return r.Execute, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoConvention, r.Name)
	}
}

// binding is a resolved tool: convention selection and schema compilation
// happen once at registration, not per dispatch.
type binding struct {
	name        string
	description string
	schema      json.RawMessage
	compiled    *jsonschema.Schema
	call        ToolFunc
}

// Registry holds tool bindings with thread-safe registration and lookup.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]*binding
}

// Limits guarding registry execution against resource exhaustion.
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 10 << 20
)

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]*binding)}
}

// Register adds a tool. The call convention is resolved and the schema
// compiled here, once. Registering an existing name replaces the binding.
func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if len(reg.Name) > MaxToolNameLength {
		return fmt.Errorf("tool name exceeds maximum length of %d characters", MaxToolNameLength)
	}
	call, err := reg.entryPoint()
	if err != nil {
		return err
	}

	b := &binding{
		name:        reg.Name,
		description: reg.Description,
		schema:      reg.Schema,
		call:        call,
	}
	if len(reg.Schema) > 0 {
		compiled, err := compileSchema(reg.Name, reg.Schema)
		if err != nil {
			return fmt.Errorf("tool %s: %w", reg.Name, err)
		}
		b.compiled = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[reg.Name] = b
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bindings, name)
}

// Resolve returns the binding for a name.
func (r *Registry) Resolve(name string) (*binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[name]
	return b, ok
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.bindings))
	for name := range r.bindings {
		names = append(names, name)
	}
	return names
}

// Definition describes a tool for the model backend.
type Definition struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Definitions returns all registered tools as backend-facing definitions.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.bindings))
	for _, b := range r.bindings {
		defs = append(defs, Definition{
			Name:        b.name,
			Description: b.description,
			Schema:      b.schema,
		})
	}
	return defs
}

// validate checks bridged arguments against the compiled schema, if any.
func (b *binding) validate(args map[string]any) error {
	if b.compiled == nil {
		return nil
	}
	// The reserved context namespace is injected after validation and is
	// not part of any tool schema.
	if err := b.compiled.Validate(args); err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", b.name, err)
	}
	return nil
}

func compileSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	url := "inmem://tools/" + name + ".json"
	if err := compiler.AddResource(url, jsonReader(schema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

func jsonReader(raw json.RawMessage) io.Reader {
	return bytes.NewReader(raw)
}
