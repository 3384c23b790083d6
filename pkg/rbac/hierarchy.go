package rbac

import (
	"slices"

	"github.com/google/uuid"
)

// RoleNode is a role with the roles that inherit from it.
type RoleNode struct {
	Role     Role       `json:"role"`
	Children []RoleNode `json:"children,omitempty"`
}

// Hierarchy arranges roles into inheritance trees. Roots are roles without
// parents in the set. A role with several parents appears under each of
// them. Order follows the input at every level. Parents missing from roles
// are ignored, so a role whose parents are all missing becomes a root.
func Hierarchy(roles []Role) []RoleNode {
	byID := make(map[uuid.UUID]bool, len(roles))
	for _, r := range roles {
		byID[r.ID] = true
	}

	children := make(map[uuid.UUID][]Role)
	var roots []Role
	for _, r := range roles {
		hasParent := false
		for _, p := range r.Inherits {
			if byID[p] {
				children[p] = append(children[p], r)
				hasParent = true
			}
		}
		if !hasParent {
			roots = append(roots, r)
		}
	}

	var build func(r Role, path []uuid.UUID) RoleNode
	build = func(r Role, path []uuid.UUID) RoleNode {
		node := RoleNode{Role: r}
		path = append(path, r.ID)
		for _, c := range children[r.ID] {
			// Stored data is acyclic; the path check keeps a corrupt row
			// from recursing forever.
			if slices.Contains(path, c.ID) {
				continue
			}
			node.Children = append(node.Children, build(c, path))
		}
		return node
	}

	out := make([]RoleNode, 0, len(roots))
	for _, r := range roots {
		out = append(out, build(r, nil))
	}
	return out
}
