package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		resourceNamingPolicy(),
		descriptionLengthPolicy(),
		dependencyLimitPolicy(),
		descriptionRecommendedPolicy(),
	}
}

func builtin(p Policy) Policy {
	now := time.Now()
	p.Enabled = true
	p.Source = SourceBuiltin
	p.CreatedAt = now
	p.UpdatedAt = now
	return p
}

// resourceNamingPolicy rejects blank, padded and over-long names.
func resourceNamingPolicy() Policy {
	return builtin(Policy{
		Name:        "resource-naming",
		Description: "Resource names must be non-blank, trimmed and within the configured length",
		Severity:    SeverityError,
		Tags:        []string{"naming"},
		Rego: `package boo.policies.naming

import rego.v1

deny contains violation if {
	trim_space(input.resource.name) == ""
	violation := {"message": "Resource name must not be blank"}
}

deny contains violation if {
	name := input.resource.name
	trim_space(name) != ""
	trim_space(name) != name
	violation := {"message": sprintf("Resource name '%s' must not start or end with whitespace", [name])}
}

deny contains violation if {
	name := input.resource.name
	limit := data.boo.config.max_name_length
	count(name) > limit
	violation := {"message": sprintf("Resource name must not exceed %d characters", [limit])}
}`,
	})
}

// descriptionLengthPolicy caps description size.
func descriptionLengthPolicy() Policy {
	return builtin(Policy{
		Name:        "description-length",
		Description: "Descriptions must stay within the configured length",
		Severity:    SeverityError,
		Tags:        []string{"content"},
		Rego: `package boo.policies.description

import rego.v1

deny contains violation if {
	description := input.resource.description
	limit := data.boo.config.max_description_length
	count(description) > limit
	violation := {"message": sprintf("Description must not exceed %d characters", [limit])}
}`,
	})
}

// dependencyLimitPolicy caps the number of direct prerequisites.
func dependencyLimitPolicy() Policy {
	return builtin(Policy{
		Name:        "dependency-limit",
		Description: "A resource may declare at most the configured number of direct dependencies",
		Severity:    SeverityError,
		Tags:        []string{"graph"},
		Rego: `package boo.policies.dependencies

import rego.v1

deny contains violation if {
	n := count(input.resource.dependencies)
	limit := data.boo.config.max_dependencies
	n > limit
	violation := {"message": sprintf("Resource declares %d dependencies, at most %d are allowed", [n, limit])}
}`,
	})
}

// descriptionRecommendedPolicy warns about new resources without a description.
func descriptionRecommendedPolicy() Policy {
	return builtin(Policy{
		Name:        "description-recommended",
		Description: "New resources should carry a description",
		Severity:    SeverityWarning,
		Tags:        []string{"content"},
		Rego: `package boo.policies.recommendations

import rego.v1

deny contains violation if {
	input.context.operation == "create"
	not has_description
	violation := {"message": sprintf("Resource '%s' has no description", [input.resource.name])}
}

has_description if {
	trim_space(input.resource.description) != ""
}`,
	})
}
