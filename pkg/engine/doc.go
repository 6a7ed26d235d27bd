// Package engine maintains a directed acyclic dependency graph over named
// resources, such as courses and their prerequisites.
//
// # Overview
//
// Every write goes through the Coordinator, which runs the same pipeline:
//
//  1. Snapshot - load the full collection into a request-scoped index
//  2. Resolve - map dependency references (ID or exact name) to IDs
//  3. Verify - confirm each resolved ID still exists in the store
//  4. Check - reject self dependencies and any edge set that would close a cycle
//  5. Admit - consult the optional admission hook (policies)
//  6. Commit - hand the validated resource to the ResourceStore
//
// Nothing is written when any step fails, so the stored graph stays acyclic.
//
// # Graph Algorithms
//
// The algorithms are pure functions over a slice of resources:
//
//   - CheckCycle: depth-first search over the snapshot with the candidate's
//     edges overlaid; reports the offending path, e.g. [A C B A]
//   - Order: Kahn's algorithm restricted to the input subset; ties are broken
//     by input position, so the result is deterministic
//   - Levels: the same traversal grouped into tiers
//   - ToDOT: Graphviz rendering of the tiers and edges
//
// References to deleted resources (left behind by a non-cascading delete) are
// ignored by every algorithm.
//
// # Errors
//
// Graph violations are reported with typed errors (InvalidDependencyError,
// UnknownDependencyError, SelfDependencyError, CircularDependencyError,
// AmbiguousNameError, NotFoundError). The Coordinator wraps them in a
// classified *EngineError with a stable Code; errors.As reaches both layers:
//
//	_, err := coord.Update(ctx, id, engine.UpdateRequest{Dependencies: &deps})
//	if path, ok := engine.CyclePath(err); ok {
//	    fmt.Println("cycle:", path)
//	}
//
// # Concurrency
//
// Snapshots are immutable. Coordinator writes are serialized by a mutex unless
// disabled with WithSerializedWrites(false); reads never lock.
package engine
