package nestedtree

import "errors"

// Sentinel errors returned by the tree engine. Callers should use errors.Is
// to check for them since they may be wrapped with additional context.
var (
	// ErrItemIsNotTreeNode is returned when the passed item does not embed Node.
	ErrItemIsNotTreeNode = errors.New("the item does not embed Node")

	// ErrParentNotFound is returned when a referenced parent id does not exist in scope.
	ErrParentNotFound = errors.New("wrong parent id")

	// ErrNodeNotFound is returned when a requested reload or resolve returned no row.
	ErrNodeNotFound = errors.New("node not found")

	// ErrMoveNotPossible covers every precondition failure of the Move Engine:
	// invalid position literal, move of an unsaved node, unresolvable target,
	// self-target, target inside the mover's own subtree, cross-scope target.
	ErrMoveNotPossible = errors.New("move not possible")

	// ErrInvariantViolated is returned by EnsureValid when Validate finds a
	// broken invariant. The Move Engine runs no post-move check of its own.
	ErrInvariantViolated = errors.New("nested set invariant violated")
)
