package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// ProcessSchema is the name of the built-in parameter dump schema.
const ProcessSchema = "process"

// Issue is one schema violation found in a document.
type Issue struct {
	// Path is the dotted path of the offending value.
	Path string `json:"path"`

	// Message describes the violation.
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// ValidationError carries every issue found by a validation.
type ValidationError struct {
	Schema string
	Issues []Issue
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.String()
	}
	return fmt.Sprintf("%s schema validation failed: %s", e.Schema, strings.Join(msgs, "; "))
}

type entry struct {
	source     cue.Value
	definition cue.Value
}

// Registry manages CUE schemas for validating parameter dumps.
type Registry struct {
	ctx     *cue.Context
	schemas map[string]entry
	mu      sync.RWMutex
}

// NewRegistry creates a registry holding the built-in schemas.
func NewRegistry() *Registry {
	r := &Registry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]entry),
	}
	if err := r.RegisterSchema(ProcessSchema, "#Process", builtinProcessSchema); err != nil {
		panic(fmt.Sprintf("built-in process schema: %v", err))
	}
	return r
}

// RegisterSchema compiles src and registers the definition it names (for
// example "#Process") under name. Registering an existing name replaces it.
func (r *Registry) RegisterSchema(name, definition, src string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	val := r.ctx.CompileString(src, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath(definition))
	if err := def.Err(); err != nil {
		return fmt.Errorf("schema %s has no definition %s: %w", name, definition, err)
	}

	r.schemas[name] = entry{source: val, definition: def}
	return nil
}

// GetSchema retrieves the definition registered under name.
func (r *Registry) GetSchema(name string) (cue.Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.schemas[name]
	return e.definition, ok
}

// ListSchemas returns the registered schema names in order.
func (r *Registry) ListSchemas() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks data against the named schema. A failed validation
// returns a *ValidationError listing every issue.
func (r *Registry) Validate(ctx context.Context, schemaName string, data interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	def, ok := r.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	r.mu.Lock()
	dataVal := r.ctx.Encode(data)
	r.mu.Unlock()
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := def.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Schema: schemaName, Issues: issues(err)}
	}
	return nil
}

// ValidateDump checks a parameter dump against the process schema.
func (r *Registry) ValidateDump(ctx context.Context, dump map[string]any) error {
	return r.Validate(ctx, ProcessSchema, dump)
}

func issues(err error) []Issue {
	errs := cueerrors.Errors(err)
	out := make([]Issue, 0, len(errs))
	seen := make(map[string]bool, len(errs))
	for _, e := range errs {
		format, args := e.Msg()
		issue := Issue{
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		}
		if seen[issue.String()] {
			continue
		}
		seen[issue.String()] = true
		out = append(out, issue)
	}
	if len(out) == 0 {
		out = append(out, Issue{Message: err.Error()})
	}
	return out
}
