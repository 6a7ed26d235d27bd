package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	return newSchemaRegistry(cuecontext.New())
}

func newSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	if err := sr.RegisterSchema("course", "#Course", builtinCatalogSchema); err != nil {
		panic(err)
	}
	if err := sr.RegisterSchema("catalog", "#Catalog", builtinCatalogSchema); err != nil {
		panic(err)
	}
}

// RegisterSchema compiles source and registers the definition it declares
// under name.
func (sr *SchemaRegistry) RegisterSchema(name, definition, source string) error {
	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, definition)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Unify checks val against a named schema and returns the unified value.
func (sr *SchemaRegistry) Unify(schemaName string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return unified, err
	}
	return unified, nil
}

// ValidateAgainstSchema validates Go data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	if _, err := sr.Unify(schemaName, dataVal); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateCourse validates a single entry against the course schema.
func (sr *SchemaRegistry) ValidateCourse(ctx context.Context, course CourseEntry) error {
	return sr.ValidateAgainstSchema(ctx, "course", course)
}

const builtinCatalogSchema = `
#Course: {
	// name must contain at least one non-space character
	name: string & =~"\\S"

	description?: string | null

	// dependencies name other courses
	dependencies?: [...(string & =~"\\S")] | null

	completed?: bool
}

#Catalog: {
	catalog?: {
		name:         string
		version?:     string
		description?: string
	}

	// courses is a list, or a map keyed by course name
	courses: [...#Course] | {[string]: #CourseByKey}
}

#CourseByKey: {
	name?:         string & =~"\\S"
	description?:  string | null
	dependencies?: [...(string & =~"\\S")] | null
	completed?:    bool
}
`
