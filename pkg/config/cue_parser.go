package config

import (
	"context"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed catalogs/*.cue
var builtinCatalogs embed.FS

// BuiltinCatalogFile is the embedded catalog seeded by "boo seed --builtin".
const BuiltinCatalogFile = "catalogs/computer_science.cue"

// CatalogParser parses and validates catalog files written in CUE, YAML or JSON.
type CatalogParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
	validator      *validator.Validate
}

// NewCatalogParser creates a new catalog parser.
func NewCatalogParser() *CatalogParser {
	ctx := cuecontext.New()
	return &CatalogParser{
		ctx:            ctx,
		schemaRegistry: newSchemaRegistry(ctx),
		validator:      validator.New(),
	}
}

// LoadCatalog parses path and returns the catalog, folding any validation
// errors into the returned error.
func (cp *CatalogParser) LoadCatalog(ctx context.Context, path string) (*Catalog, error) {
	parsed, err := cp.ParseFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := parsed.Err(); err != nil {
		return nil, err
	}
	return parsed.Catalog, nil
}

// BuiltinCatalog returns the embedded computer science catalog.
func (cp *CatalogParser) BuiltinCatalog(ctx context.Context) (*Catalog, error) {
	data, err := builtinCatalogs.ReadFile(BuiltinCatalogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read builtin catalog: %w", err)
	}

	parsed, err := cp.Parse(ctx, BuiltinCatalogFile, data)
	if err != nil {
		return nil, err
	}
	if err := parsed.Err(); err != nil {
		return nil, err
	}
	return parsed.Catalog, nil
}

// ParseFile reads and parses a catalog file. The format is picked by extension.
func (cp *CatalogParser) ParseFile(ctx context.Context, path string) (*ParsedCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}

	return cp.Parse(ctx, path, data)
}

// Parse parses catalog content. filename selects the format and labels errors.
// Syntax and schema problems are reported in ParsedCatalog.Errors; the error
// return is reserved for unsupported input.
func (cp *CatalogParser) Parse(_ context.Context, filename string, data []byte) (*ParsedCatalog, error) {
	var (
		val  cue.Value
		errs []ValidationError
	)

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".cue":
		val, errs = cp.compileCUE(filename, data)
	case ".yaml", ".yml", ".json":
		val, errs = cp.encodeYAML(filename, data)
	default:
		return nil, fmt.Errorf("unsupported catalog format: %s", filename)
	}

	parsed := &ParsedCatalog{
		SourceFile: filename,
		ParsedAt:   time.Now(),
		Errors:     errs,
	}
	if len(errs) > 0 {
		return parsed, nil
	}

	unified, err := cp.schemaRegistry.Unify("catalog", val)
	if err != nil {
		parsed.Errors = cp.convertCUEErrors(err)
		return parsed, nil
	}

	catalog, errs := cp.extractCatalog(unified)
	if len(errs) > 0 {
		parsed.Errors = errs
		return parsed, nil
	}

	parsed.Catalog = catalog
	return parsed, nil
}

// ParseInline parses inline CUE content.
func (cp *CatalogParser) ParseInline(ctx context.Context, content string) (*ParsedCatalog, error) {
	parsed, err := cp.Parse(ctx, "inline.cue", []byte(content))
	if err != nil {
		return nil, err
	}
	parsed.SourceFile = "inline"
	return parsed, nil
}

// SchemaRegistry returns the schema registry.
func (cp *CatalogParser) SchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}

func (cp *CatalogParser) compileCUE(filename string, data []byte) (cue.Value, []ValidationError) {
	val := cp.ctx.CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err)
	}
	return val, nil
}

// encodeYAML decodes YAML (or JSON) and lifts it into CUE so both formats go
// through the same schema.
func (cp *CatalogParser) encodeYAML(filename string, data []byte) (cue.Value, []ValidationError) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cue.Value{}, []ValidationError{{
			File:     filename,
			Message:  fmt.Sprintf("failed to parse: %v", err),
			Severity: "error",
		}}
	}
	if raw == nil {
		return cue.Value{}, []ValidationError{{
			File:     filename,
			Message:  "catalog is empty",
			Severity: "error",
		}}
	}

	val := cp.ctx.Encode(raw)
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err)
	}
	return val, nil
}

// extractCatalog decodes a schema-checked value and applies the checks CUE
// cannot express, such as duplicate names.
func (cp *CatalogParser) extractCatalog(val cue.Value) (*Catalog, []ValidationError) {
	catalog := &Catalog{}
	var errs []ValidationError

	if infoVal := val.LookupPath(cue.ParsePath("catalog")); infoVal.Exists() {
		if err := infoVal.Decode(&catalog.Info); err != nil {
			errs = append(errs, ValidationError{
				Path:     "catalog",
				Message:  fmt.Sprintf("failed to decode catalog info: %v", err),
				Severity: "error",
			})
		}
	}

	coursesVal := val.LookupPath(cue.ParsePath("courses"))
	switch coursesVal.IncompleteKind() {
	case cue.ListKind:
		list, err := coursesVal.List()
		if err != nil {
			return nil, append(errs, ValidationError{
				Path:     "courses",
				Message:  fmt.Sprintf("failed to list courses: %v", err),
				Severity: "error",
			})
		}
		for idx := 0; list.Next(); idx++ {
			entry, err := cp.extractCourse("", list.Value())
			if err != nil {
				errs = append(errs, ValidationError{
					Path:     fmt.Sprintf("courses[%d]", idx),
					Message:  err.Error(),
					Severity: "error",
				})
				continue
			}
			catalog.Courses = append(catalog.Courses, entry)
		}

	case cue.StructKind:
		iter, err := coursesVal.Fields()
		if err != nil {
			return nil, append(errs, ValidationError{
				Path:     "courses",
				Message:  fmt.Sprintf("failed to iterate courses: %v", err),
				Severity: "error",
			})
		}
		for iter.Next() {
			key := iter.Selector().Unquoted()
			entry, err := cp.extractCourse(key, iter.Value())
			if err != nil {
				errs = append(errs, ValidationError{
					Path:     fmt.Sprintf("courses.%s", iter.Selector()),
					Message:  err.Error(),
					Severity: "error",
				})
				continue
			}
			catalog.Courses = append(catalog.Courses, entry)
		}
	}

	seen := make(map[string]int, len(catalog.Courses))
	for i, entry := range catalog.Courses {
		if first, dup := seen[entry.Name]; dup {
			errs = append(errs, ValidationError{
				Path:     fmt.Sprintf("courses[%d]", i),
				Message:  fmt.Sprintf("duplicate course name %q (first declared at courses[%d])", entry.Name, first),
				Severity: "error",
			})
			continue
		}
		seen[entry.Name] = i
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return catalog, nil
}

// extractCourse decodes one course. key is the map key when courses are given
// as a map, and names the course when the entry has no name of its own.
func (cp *CatalogParser) extractCourse(key string, val cue.Value) (CourseEntry, error) {
	var entry CourseEntry

	if err := val.Decode(&entry); err != nil {
		return entry, fmt.Errorf("failed to decode course: %w", err)
	}

	if entry.Name == "" && key != "" {
		entry.Name = key
	}

	if err := cp.validator.Struct(entry); err != nil {
		return entry, fmt.Errorf("validation failed: %w", err)
	}

	return entry, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (cp *CatalogParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		var file string
		var line, column int

		if pos := errors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     strings.Join(e.Path(), "."),
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}
