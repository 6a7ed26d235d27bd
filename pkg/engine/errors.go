package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass tells callers whether retrying can help.
type ErrorClass string

const (
	// ErrorClassTransient covers store failures such as a locked or
	// unreachable database.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent covers rejected input: bad references, cycles,
	// policy violations, missing resources.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError is the error returned by every Coordinator operation. Code is
// one of the ErrCode constants and is what the API and CLI report.
type EngineError struct {
	Class     ErrorClass             `json:"class"`
	Message   string                 `json:"message"`
	Code      string                 `json:"code,omitempty"`
	Resource  string                 `json:"resource,omitempty"`
	Operation string                 `json:"operation,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Err       error                  `json:"-"`
}

func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Class, e.Message)

	var scope []string
	if e.Resource != "" {
		scope = append(scope, "resource="+e.Resource)
	}
	if e.Operation != "" {
		scope = append(scope, "operation="+e.Operation)
	}
	if len(scope) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(scope, ", "))
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches another EngineError with the same class and code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && e.Class == t.Class && e.Code == t.Code
}

func NewTransientError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTransient, Message: message, Err: err}
}

func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPermanent, Message: message, Err: err}
}

func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func errorClass(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

func IsTransient(err error) bool { return errorClass(err) == ErrorClassTransient }
func IsPermanent(err error) bool { return errorClass(err) == ErrorClassPermanent }

// IsRetryable reports whether repeating the operation unchanged may succeed.
func IsRetryable(err error) bool { return IsTransient(err) }

// ErrorCode returns the code of the outermost EngineError in the chain, or "".
func ErrorCode(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Common error codes.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeInvalidDependency  = "INVALID_DEPENDENCY"
	ErrCodeUnknownDependency  = "UNKNOWN_DEPENDENCY"
	ErrCodeSelfDependency     = "SELF_DEPENDENCY"
	ErrCodeCircularDependency = "CIRCULAR_DEPENDENCY"
	ErrCodeAmbiguousName      = "AMBIGUOUS_NAME"
	ErrCodePolicyViolation    = "POLICY_VIOLATION"
	ErrCodeDatabase           = "DATABASE_ERROR"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// ErrNotFound matches any not-found EngineError via errors.Is.
var ErrNotFound = &EngineError{Class: ErrorClassPermanent, Code: ErrCodeNotFound}

// InvalidDependencyError reports a reference that matches neither an ID nor a name.
type InvalidDependencyError struct {
	Ref string
}

func (e *InvalidDependencyError) Error() string {
	return fmt.Sprintf("no resource found with ID or name %q", e.Ref)
}

// UnknownDependencyError reports a resolved ID that does not exist in the collection.
type UnknownDependencyError struct {
	ID string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("resource with ID %q does not exist", e.ID)
}

// SelfDependencyError reports a resource that lists itself as a dependency.
type SelfDependencyError struct {
	ID string
}

func (e *SelfDependencyError) Error() string {
	return fmt.Sprintf("resource %s cannot depend on itself", e.ID)
}

// Path returns the length-1 cycle formed by the self edge.
func (e *SelfDependencyError) Path() []string {
	return []string{e.ID, e.ID}
}

// CircularDependencyError reports a cycle. Path starts and ends with the same ID.
type CircularDependencyError struct {
	Path []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", formatCycle(e.Path))
}

// AmbiguousNameError reports a name reference shared by several resources.
type AmbiguousNameError struct {
	Name string
	IDs  []string
}

func (e *AmbiguousNameError) Error() string {
	return fmt.Sprintf("name %q matches %d resources (%s); reference it by ID",
		e.Name, len(e.IDs), strings.Join(e.IDs, ", "))
}

// NotFoundError reports a missing resource. Stores return it from point reads
// and updates.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("resource not found: %s", e.ID)
}

// Is lets errors.Is(err, ErrNotFound) match unclassified store errors too.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// CyclePath extracts the offending cycle from err, if it carries one.
func CyclePath(err error) ([]string, bool) {
	var ce *CircularDependencyError
	if errors.As(err, &ce) {
		return ce.Path, true
	}
	var se *SelfDependencyError
	if errors.As(err, &se) {
		return se.Path(), true
	}
	return nil, false
}

// classify wraps a graph validation error in a permanent EngineError carrying
// the matching code and detail.
func classify(message string, err error) *EngineError {
	ee := NewPermanentError(message, err)

	var (
		invalid   *InvalidDependencyError
		unknown   *UnknownDependencyError
		self      *SelfDependencyError
		cycle     *CircularDependencyError
		ambiguous *AmbiguousNameError
		notFound  *NotFoundError
	)

	switch {
	case errors.As(err, &invalid):
		ee.WithCode(ErrCodeInvalidDependency).WithDetail("dependency", invalid.Ref)
	case errors.As(err, &unknown):
		ee.WithCode(ErrCodeUnknownDependency).WithDetail("dependency_id", unknown.ID)
	case errors.As(err, &self):
		ee.WithCode(ErrCodeSelfDependency).WithDetail("cycle", self.Path())
	case errors.As(err, &cycle):
		ee.WithCode(ErrCodeCircularDependency).WithDetail("cycle", cycle.Path)
	case errors.As(err, &ambiguous):
		ee.WithCode(ErrCodeAmbiguousName).
			WithDetail("name", ambiguous.Name).
			WithDetail("ids", ambiguous.IDs)
	case errors.As(err, &notFound):
		ee.WithCode(ErrCodeNotFound).WithResource(notFound.ID)
	default:
		ee.WithCode(ErrCodeValidation)
	}

	return ee
}

func formatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}
