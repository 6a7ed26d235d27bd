package engine

import (
	"strings"
)

// Resolve maps dependency references to resource IDs against this snapshot.
//
// Each reference is trimmed, then matched first as an ID and then as an exact
// name. Resolution is all-or-nothing: the first unresolvable reference fails the
// call with InvalidDependencyError, and a name shared by several resources fails
// with AmbiguousNameError. References that resolve to an ID already produced are
// collapsed.
func (s *Snapshot) Resolve(refs []string) ([]string, error) {
	resolved := make([]string, 0, len(refs))
	seen := make(map[string]bool, len(refs))

	for _, ref := range refs {
		id, err := s.resolveOne(ref)
		if err != nil {
			return nil, err
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		resolved = append(resolved, id)
	}

	return resolved, nil
}

// resolveOne matches the trimmed ref. Errors carry ref as given.
func (s *Snapshot) resolveOne(ref string) (string, error) {
	key := strings.TrimSpace(ref)
	if key == "" {
		return "", &InvalidDependencyError{Ref: ref}
	}

	if s.Has(key) {
		return key, nil
	}

	switch ids := s.byName[key]; len(ids) {
	case 0:
		return "", &InvalidDependencyError{Ref: ref}
	case 1:
		return ids[0], nil
	default:
		return "", &AmbiguousNameError{Name: key, IDs: append([]string(nil), ids...)}
	}
}
