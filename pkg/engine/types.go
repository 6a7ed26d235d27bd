package engine

import (
	"time"
)

// NewResourceID is the candidate ID used when validating a resource that does not
// exist yet. Stores never assign an empty ID, so it cannot collide with a stored node.
const NewResourceID = ""

// Resource is a named unit (e.g. a course) with optional prerequisites.
type Resource struct {
	// ID is the stable identifier assigned by the store on creation.
	ID string `json:"id"`

	// Name is the human-readable name. Expected unique, not enforced on write.
	Name string `json:"name"`

	// Description is an optional free-form description.
	Description *string `json:"description,omitempty"`

	// Dependencies lists the IDs of the resources this resource depends on,
	// in declaration order.
	Dependencies []string `json:"dependencies"`

	// Completed marks the resource as finished by the learner.
	Completed bool `json:"completed"`

	// CreatedAt is when the resource was first stored.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the resource was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the resource.
func (r *Resource) Clone() *Resource {
	c := *r
	if r.Description != nil {
		d := *r.Description
		c.Description = &d
	}
	c.Dependencies = append([]string{}, r.Dependencies...)
	return &c
}

// CreateRequest carries the user-supplied fields for a new resource.
// Dependencies may reference resources by ID or by name.
type CreateRequest struct {
	Name         string   `json:"name" validate:"required,max=200"`
	Description  *string  `json:"description,omitempty" validate:"omitempty,max=2000"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// UpdateRequest carries a partial update. Nil fields are left unchanged.
// A non-nil empty Dependencies slice clears all dependencies.
type UpdateRequest struct {
	Name         *string   `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Description  *string   `json:"description,omitempty" validate:"omitempty,max=2000"`
	Dependencies *[]string `json:"dependencies,omitempty"`
}

// ResourceChanges is the resolved, validated form of an update handed to the store.
// Dependencies hold resource IDs only.
type ResourceChanges struct {
	Name         *string
	Description  *string
	Dependencies *[]string
	Completed    *bool
}

// Apply copies the non-nil fields of changes onto r. Timestamps are left to
// the caller.
func (r *Resource) Apply(changes ResourceChanges) {
	if changes.Name != nil {
		r.Name = *changes.Name
	}
	if changes.Description != nil {
		d := *changes.Description
		r.Description = &d
	}
	if changes.Dependencies != nil {
		r.Dependencies = append([]string{}, (*changes.Dependencies)...)
	}
	if changes.Completed != nil {
		r.Completed = *changes.Completed
	}
}

// Fields lists the names of the fields changes would modify.
func (c ResourceChanges) Fields() []string {
	fields := make([]string, 0, 4)
	if c.Name != nil {
		fields = append(fields, "name")
	}
	if c.Description != nil {
		fields = append(fields, "description")
	}
	if c.Dependencies != nil {
		fields = append(fields, "dependencies")
	}
	if c.Completed != nil {
		fields = append(fields, "completed")
	}
	return fields
}

// Operation names used for logging, metrics, events and policy input.
const (
	OperationCreate   = "create"
	OperationRead     = "read"
	OperationList     = "list"
	OperationUpdate   = "update"
	OperationDelete   = "delete"
	OperationSearch   = "search"
	OperationLevels   = "levels"
	OperationComplete = "complete"
)
