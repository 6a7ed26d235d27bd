// Package policy provides Open Policy Agent (OPA) admission policies for
// resource writes.
//
// The Engine compiles Rego policies and evaluates them against a resource
// just before the coordinator stores it. Every policy defines a deny set; each
// entry is either a message string or an object with "message" and optional
// "severity". Entries of severity error or critical reject the write with a
// POLICY_VIOLATION error; lower severities are logged as warnings.
//
// # Usage
//
//	pe, err := policy.NewEngine(logger, policy.WithEvents(tel.Events))
//	if err != nil {
//	    return err
//	}
//	coord := engine.NewCoordinator(store, engine.WithAdmitter(pe))
//
// # Input
//
// Policies see the resource as it would be stored, with dependencies resolved
// to IDs, plus the operation being admitted:
//
//	{
//	  "resource": {"id": "...", "name": "...", "description": "...", "dependencies": [...], "completed": false},
//	  "context":  {"operation": "create", "environment": "production", "timestamp": "..."}
//	}
//
// Configured limits are available as data.boo.config (max_name_length,
// max_description_length, max_dependencies).
//
// # Built-in Policies
//
//   - resource-naming: names are non-blank, trimmed and within max_name_length
//   - description-length: descriptions stay within max_description_length
//   - dependency-limit: at most max_dependencies direct dependencies
//   - description-recommended: warns when a new resource has no description
//
// # Custom Policies
//
// LoadPolicies and Watch read .rego files (named after the file, severity set
// by a "# severity: error" header comment, warning otherwise) and .json files
// holding either one policy or a bundle with a "policies" array. Watch reloads
// the set through fsnotify whenever a file changes.
package policy
