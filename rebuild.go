package nestedtree

import (
	"context"
	"fmt"
	"sort"

	"gorm.io/gorm"
)

type rebuildRow struct {
	ID       uint64
	ParentID *uint64
}

// Rebuild reassigns bounds for every row in scope by a depth-first walk over
// the parent pointer (spec.md 4.F "Builder"), the recovery path used after
// bounds corruption. It runs in a single transaction and produces bounds
// satisfying every invariant in spec.md 3, grounded on the teacher's
// DeleteRecurse/raw-SQL shape for loading an entire scope partition before
// rewriting it in Go.
func (t *Tree) Rebuild(ctx context.Context, scope Scope) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return t.rebuildTx(tx, scope)
	})
}

// Validate checks the four bounds-vs-parent invariants from spec.md 4.F
// "Validator" against the current state of scope, returning a single
// boolean. It never mutates data.
func (t *Tree) Validate(ctx context.Context, scope Scope) (bool, error) {
	var rows []Node
	if err := t.applyVisibleScope(t.db.WithContext(ctx).Table(t.nodesTbl), scope).
		Order(t.wrap(t.columns.Left)).
		Find(&rows).Error; err != nil {
		return false, fmt.Errorf("unable to load rows for validation: %w", err)
	}
	n := len(rows)

	// Check 1: left < right for every row.
	for _, r := range rows {
		if r.Lft >= r.Rgt {
			return false, nil
		}
	}

	// Check 2: left/right values together form a permutation of {1..2N}.
	seen := make(map[int64]bool, 2*n)
	for _, r := range rows {
		if seen[r.Lft] || seen[r.Rgt] {
			return false, nil
		}
		seen[r.Lft] = true
		seen[r.Rgt] = true
	}
	for v := int64(1); v <= int64(2*n); v++ {
		if !seen[v] {
			return false, nil
		}
	}

	// Check 3: each non-root's declared parent is the tightest strict
	// bounds superset.
	sorted := make([]*Node, n)
	for i := range rows {
		sorted[i] = &rows[i]
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Lft < sorted[j].Lft })

	for _, r := range rows {
		if r.ParentID == nil {
			continue
		}
		var tightest *Node
		for _, candidate := range sorted {
			if candidate.ID == r.ID {
				continue
			}
			if candidate.Lft < r.Lft && candidate.Rgt > r.Rgt {
				if tightest == nil || candidate.Lft > tightest.Lft {
					tightest = candidate
				}
			}
		}
		if tightest == nil || tightest.ID != *r.ParentID {
			return false, nil
		}
	}

	// Check 4: depth equals the true ancestor count.
	for _, r := range rows {
		var ancestorCount int
		for _, candidate := range sorted {
			if candidate.ID == r.ID {
				continue
			}
			if candidate.Lft < r.Lft && candidate.Rgt > r.Rgt {
				ancestorCount++
			}
		}
		if r.Depth != ancestorCount {
			return false, nil
		}
	}

	return true, nil
}

// EnsureValid is the error-raising form of Validate, for callers that want a
// single err check rather than a bool (spec.md §7: "InvariantViolated —
// raised by the Validator ... surfaced to caller").
func (t *Tree) EnsureValid(ctx context.Context, scope Scope) error {
	ok, err := t.Validate(ctx, scope)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvariantViolated
	}
	return nil
}
