package config

import (
	"fmt"
	"strings"
	"time"
)

// CourseEntry is one course in a catalog. Dependencies name other courses,
// either in the same catalog or already stored.
type CourseEntry struct {
	// Name is the course name and the key other entries reference it by.
	Name string `json:"name" validate:"required"`

	// Description is an optional free-form description.
	Description *string `json:"description,omitempty"`

	// Dependencies lists prerequisite course names in declaration order.
	Dependencies []string `json:"dependencies,omitempty" validate:"omitempty,dive,required"`

	// Completed seeds the learner's completion flag.
	Completed bool `json:"completed,omitempty"`
}

// CatalogInfo describes a catalog file.
type CatalogInfo struct {
	// Name is the catalog name.
	Name string `json:"name"`

	// Version is the catalog version.
	Version string `json:"version,omitempty"`

	// Description provides a human-readable description.
	Description string `json:"description,omitempty"`
}

// Catalog is a set of courses to seed.
type Catalog struct {
	Info    CatalogInfo
	Courses []CourseEntry
}

// ParsedCatalog represents the result of parsing one catalog source.
type ParsedCatalog struct {
	// Catalog is the decoded catalog. Nil when Errors is non-empty.
	Catalog *Catalog `json:"catalog,omitempty"`

	// SourceFile is the file that was parsed, or "inline".
	SourceFile string `json:"source_file"`

	// ParsedAt is when the catalog was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// Err folds Errors into a single error, or returns nil.
func (p *ParsedCatalog) Err() error {
	if len(p.Errors) == 0 {
		return nil
	}

	messages := make([]string, len(p.Errors))
	for i, e := range p.Errors {
		messages[i] = e.String()
	}
	return fmt.Errorf("invalid catalog %s: %s", p.SourceFile, strings.Join(messages, "; "))
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the path to the offending value (e.g., "courses[3].name").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}
