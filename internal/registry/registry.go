// Package registry holds the process-wide mapping from function name to
// handler and config. Registration is idempotent by name (last wins); lookup
// is exact and case-sensitive. Execution applies the function's parameter
// schema, when present, before invoking the handler.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/browserbase/functions/internal/domain"
)

// ErrFunctionNotFound is returned when executing or resolving a name that
// has no registration.
var ErrFunctionNotFound = errors.New("function not found in registry")

// ErrInvalidParams is returned when invoke params fail the function's
// parameter schema. Schema failures are user errors, not system errors.
var ErrInvalidParams = errors.New("invalid parameters")

// entry pairs a registered function with its compiled parameter schema.
// The schema is compiled once at registration time.
type entry struct {
	fn     *domain.Function
	schema *jsonschema.Schema
}

// Registry is a mutex-guarded name → function map. Any string — unicode,
// special characters, the empty string — is a valid key.
type Registry struct {
	mu  sync.RWMutex
	fns map[string]entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{fns: make(map[string]entry)}
}

// Register inserts or replaces a function by name. A registration with an
// invalid parameter schema is rejected and leaves any prior entry intact.
func (r *Registry) Register(fn *domain.Function) error {
	var schema *jsonschema.Schema
	if fn.Config.ParametersSchema != nil {
		compiled, err := compileSchema(fn.Config.ParametersSchema)
		if err != nil {
			return fmt.Errorf("register %q: compile parameters schema: %w", fn.Name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[fn.Name] = entry{fn: fn, schema: schema}
	return nil
}

// Get returns the function registered under name, if any.
func (r *Registry) Get(name string) (*domain.Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.fns[name]
	if !ok {
		return nil, false
	}
	return e.fn, true
}

// Len counts distinct registered names.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.fns)
}

// Names returns all registered names (unordered).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.fns))
	for n := range r.fns {
		names = append(names, n)
	}
	return names
}

// Execute looks up name, validates params against the function's schema when
// one is present, and invokes the handler. Handler errors propagate
// unchanged; schema failures are wrapped in ErrInvalidParams.
func (r *Registry) Execute(ctx context.Context, name string, ictx *domain.InvocationContext, params map[string]any) (any, error) {
	r.mu.RLock()
	e, ok := r.fns[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFunctionNotFound, name)
	}

	if e.schema != nil {
		// The validator wants a decoded JSON value; params already are one.
		doc := any(params)
		if params == nil {
			doc = map[string]any{}
		}
		if err := e.schema.Validate(doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
	}

	return e.fn.Handler(ctx, ictx, params)
}

// compileSchema compiles a JSON Schema document for parameter validation.
func compileSchema(doc map[string]any) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	// One compiler per schema; the resource name is never referenced externally.
	if err := c.AddResource("parameters.json", map[string]any(doc)); err != nil {
		return nil, err
	}
	return c.Compile("parameters.json")
}
