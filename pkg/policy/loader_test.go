package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLoader() *Loader {
	return NewLoader(zerolog.Nop())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestLoadRegoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topics.rego")
	writeFile(t, path, forbiddenTopicRego)

	policies, err := newTestLoader().loadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}

	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}
	p := policies[0]
	if p.Name != "topics" {
		t.Errorf("Expected name topics, got %s", p.Name)
	}
	if p.Severity != SeverityError {
		t.Errorf("Expected severity error, got %s", p.Severity)
	}
	if p.Source != path || !p.Enabled {
		t.Errorf("Expected enabled policy from %s, got %+v", path, p)
	}
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		description string
		severity    Severity
	}{
		{
			name:        "no header",
			content:     "package x\n\ndeny contains \"no\" if { false }",
			description: "",
			severity:    SeverityWarning,
		},
		{
			name:        "multi-line description",
			content:     "# Prerequisites must be\n# kept short\npackage x",
			description: "Prerequisites must be kept short",
			severity:    SeverityWarning,
		},
		{
			name:        "severity only",
			content:     "# severity: critical\n\npackage x",
			description: "",
			severity:    SeverityCritical,
		},
		{
			name:        "comments after package are ignored",
			content:     "# Header\npackage x\n# body comment\n",
			description: "Header",
			severity:    SeverityWarning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			description, severity := parseHeader(tt.content)
			if description != tt.description {
				t.Errorf("Expected description %q, got %q", tt.description, description)
			}
			if severity != tt.severity {
				t.Errorf("Expected severity %s, got %s", tt.severity, severity)
			}
		})
	}
}

func TestLoadJSONPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "single.json")
	writeFile(t, path, `{
		"name": "json-policy",
		"description": "Loaded from JSON",
		"rego": "package boo.json\n\nimport rego.v1\n\ndeny contains \"no\" if { false }",
		"enabled": true
	}`)

	policies, err := newTestLoader().loadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}

	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}
	if policies[0].Name != "json-policy" || policies[0].Severity != SeverityWarning {
		t.Errorf("Expected json-policy with default severity, got %+v", policies[0])
	}
	if policies[0].Source != path {
		t.Errorf("Expected source %s, got %s", path, policies[0].Source)
	}
}

func TestLoadJSONBundle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.json")
	writeFile(t, path, `{
		"name": "curriculum",
		"version": "1.0.0",
		"policies": [
			{"name": "first", "rego": "package a\n\nimport rego.v1\n\ndeny contains \"a\" if { false }", "severity": "error", "enabled": true},
			{"name": "second", "rego": "package b\n\nimport rego.v1\n\ndeny contains \"b\" if { false }", "enabled": false}
		]
	}`)

	policies, err := newTestLoader().loadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to load bundle: %v", err)
	}

	if len(policies) != 2 {
		t.Fatalf("Expected 2 policies, got %d", len(policies))
	}
	if policies[0].Severity != SeverityError || policies[1].Severity != SeverityWarning {
		t.Errorf("Unexpected severities: %s, %s", policies[0].Severity, policies[1].Severity)
	}
	if policies[1].Enabled {
		t.Error("Expected second policy to stay disabled")
	}
}

func TestLoadJSONErrors(t *testing.T) {
	dir := t.TempDir()
	loader := newTestLoader()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "invalid JSON", file: "bad.json", content: "{not json"},
		{name: "missing name", file: "anon.json", content: `{"rego": "package x"}`},
		{name: "unnamed bundle entry", file: "bundle.json", content: `{"policies": [{"rego": "package x"}]}`},
		{name: "unsupported type", file: "policy.txt", content: "package x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			writeFile(t, path, tt.content)

			if _, err := loader.loadFromFile(context.Background(), path); err == nil {
				t.Error("Expected error")
			}
		})
	}

	if _, err := loader.loadFromFile(context.Background(), filepath.Join(dir, "missing.rego")); err == nil {
		t.Error("Expected error for nonexistent file")
	}
}

func TestLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "topics.rego"), forbiddenTopicRego)
	writeFile(t, filepath.Join(dir, "nested", "deeper", "limits.rego"), "package boo.limits\n\nimport rego.v1\n\ndeny contains \"x\" if { false }")
	writeFile(t, filepath.Join(dir, "broken.json"), "{oops")
	writeFile(t, filepath.Join(dir, "README.md"), "# not a policy")

	policies, err := newTestLoader().LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}

	names := map[string]bool{}
	for _, p := range policies {
		names[p.Name] = true
	}
	if len(policies) != 2 || !names["topics"] || !names["limits"] {
		t.Errorf("Expected topics and limits, got %v", names)
	}

	if _, err := newTestLoader().LoadFromPaths(context.Background(), []string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("Expected error for nonexistent path")
	}
}

func TestLoaderCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topics.rego")
	writeFile(t, path, forbiddenTopicRego)

	loader := newTestLoader()
	first, err := loader.loadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}

	// Mutating a returned policy must not leak into the cache
	first[0].Description = "changed"

	second, err := loader.loadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if second[0].Description == "changed" {
		t.Error("Expected cached policies to be copied")
	}

	writeFile(t, path, "# Rewritten\n# severity: info\npackage boo.custom.topics")
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("Failed to touch file: %v", err)
	}

	third, err := loader.loadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if third[0].Description != "Rewritten" || third[0].Severity != SeverityInfo {
		t.Errorf("Expected modified file to be re-read, got %+v", third[0])
	}

	loader.ClearCache()
	if len(loader.cache) != 0 {
		t.Error("Expected cache to be empty")
	}
}

func TestIsPolicyFile(t *testing.T) {
	tests := map[string]bool{
		"a.rego":      true,
		"b.json":      true,
		"c.yaml":      false,
		"dir/d.rego":  true,
		"rego":        false,
		"policy.json": true,
	}

	for path, want := range tests {
		if got := isPolicyFile(path); got != want {
			t.Errorf("isPolicyFile(%q) = %v, want %v", path, got, want)
		}
	}
}
