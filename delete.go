package nestedtree

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeleteSubtree removes nodeID and its entire subtree, then closes the gap
// left in the bounds sequence (spec.md 3 "Delete", 4.E "Subtree prune").
// Grounded on the teacher's DeleteRecurse (same lock-then-delete-then-shift
// transaction shape, same recursive-CTE-free style kept here too since the
// nested set encoding needs no recursive walk to find the subtree — the
// bound range already names it).
func (t *Tree) DeleteSubtree(ctx context.Context, nodeID uint64, scope Scope) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var source Node
		if err := t.applyScope(tx.Table(t.nodesTbl), scope).
			Where(fmt.Sprintf("%s = ?", t.wrap(t.columns.ID)), nodeID).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&source).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNodeNotFound
			}
			return fmt.Errorf("unable to load node to delete: %w", err)
		}

		width := source.Rgt - source.Lft + 1
		leftCol := t.wrap(t.columns.Left)
		rightCol := t.wrap(t.columns.Right)

		// Lock everything to the right of the deleted node's own left bound;
		// this covers both the subtree being removed and every row whose
		// bounds must later shift.
		var lockedIDs []uint64
		if err := t.applyScope(tx.Table(t.nodesTbl), scope).
			Where(fmt.Sprintf("%s >= ?", leftCol), source.Lft).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Pluck(t.columns.ID, &lockedIDs).Error; err != nil {
			return fmt.Errorf("unable to lock rows for delete: %w", err)
		}

		if err := t.applyScope(tx.Table(t.nodesTbl), scope).
			Where(fmt.Sprintf("%s > ? AND %s < ?", leftCol, rightCol), source.Lft, source.Rgt).
			Delete(&Node{}).Error; err != nil {
			return fmt.Errorf("unable to delete subtree rows: %w", err)
		}
		if err := t.applyScope(tx.Table(t.nodesTbl), scope).
			Where(fmt.Sprintf("%s = ?", t.wrap(t.columns.ID)), nodeID).
			Delete(&Node{}).Error; err != nil {
			return fmt.Errorf("unable to delete node: %w", err)
		}

		if err := t.applyScope(tx.Table(t.nodesTbl), scope).
			Where(fmt.Sprintf("%s > ?", leftCol), source.Rgt).
			Update(t.columns.Left, gorm.Expr(fmt.Sprintf("%s - ?", leftCol), width)).Error; err != nil {
			return fmt.Errorf("unable to close left gap: %w", err)
		}
		if err := t.applyScope(tx.Table(t.nodesTbl), scope).
			Where(fmt.Sprintf("%s > ?", rightCol), source.Rgt).
			Update(t.columns.Right, gorm.Expr(fmt.Sprintf("%s - ?", rightCol), width)).Error; err != nil {
			return fmt.Errorf("unable to close right gap: %w", err)
		}
		if source.ParentID != nil {
			if err := t.bumpChildrenCount(tx, scope, *source.ParentID, -1); err != nil {
				return err
			}
		}
		return nil
	})
}

// SoftDeleteColumn names the optional nullable timestamp column used by
// SoftDelete/Restore (spec.md 3 "Soft-delete & restore"). When empty (the
// default), soft-delete support is disabled and SoftDelete/Restore return
// an error.
func (t *Tree) SoftDeleteColumn() string { return t.softDeleteCol }

// WithSoftDelete enables soft-delete/restore support on column (a nullable
// timestamp), following GORM's own soft-delete convention.
func WithSoftDelete(column string) Option {
	return func(t *Tree) { t.softDeleteCol = column }
}

// SoftDelete masks nodeID and its descendants without removing their rows
// (spec.md 3: "rows remain but are masked"). The masked rows keep their
// bounds; later rows are shifted left to close the gap.
func (t *Tree) SoftDelete(ctx context.Context, nodeID uint64, scope Scope) error {
	if t.softDeleteCol == "" {
		return fmt.Errorf("soft delete is not configured: use WithSoftDelete")
	}
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var source Node
		if err := t.applyVisibleScope(tx.Table(t.nodesTbl), scope).
			Where(fmt.Sprintf("%s = ?", t.wrap(t.columns.ID)), nodeID).
			First(&source).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNodeNotFound
			}
			return fmt.Errorf("unable to load node to soft-delete: %w", err)
		}
		leftCol := t.wrap(t.columns.Left)
		rightCol := t.wrap(t.columns.Right)
		width := source.Rgt - source.Lft + 1

		now := time.Now()
		// Mask the subtree: bounds are frozen at their current values so
		// Restore can later re-derive the gap width from them.
		if err := t.applyScope(tx.Table(t.nodesTbl), scope).
			Where(fmt.Sprintf("%s >= ? AND %s <= ?", leftCol, rightCol), source.Lft, source.Rgt).
			Update(t.softDeleteCol, now).Error; err != nil {
			return fmt.Errorf("unable to mask subtree: %w", err)
		}

		// Close the gap for the rows that remain live, exactly as a hard
		// delete would (spec.md 4.E "Subtree prune").
		if err := t.applyScope(tx.Table(t.nodesTbl), scope).
			Where(fmt.Sprintf("%s > ?", leftCol), source.Rgt).
			Update(t.columns.Left, gorm.Expr(fmt.Sprintf("%s - ?", leftCol), width)).Error; err != nil {
			return fmt.Errorf("unable to close left gap: %w", err)
		}
		return t.applyScope(tx.Table(t.nodesTbl), scope).
			Where(fmt.Sprintf("%s > ?", rightCol), source.Rgt).
			Update(t.columns.Right, gorm.Expr(fmt.Sprintf("%s - ?", rightCol), width)).Error
	})
}

// Restore reopens the bound range closed by a prior soft-delete (spec.md
// 4.E "Restore-reopen", the dual of the prune operation: shift later rows
// out of the way, then unmask) and unmasks the restored subtree.
func (t *Tree) Restore(ctx context.Context, nodeID uint64, scope Scope) error {
	if t.softDeleteCol == "" {
		return fmt.Errorf("soft delete is not configured: use WithSoftDelete")
	}
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var source Node
		q := t.applyScope(tx.Table(t.nodesTbl), scope).
			Unscoped().
			Where(fmt.Sprintf("%s = ?", t.wrap(t.columns.ID)), nodeID)
		if err := q.First(&source).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNodeNotFound
			}
			return fmt.Errorf("unable to load node to restore: %w", err)
		}

		leftCol := t.wrap(t.columns.Left)
		rightCol := t.wrap(t.columns.Right)
		width := source.Rgt - source.Lft + 1

		// Identify the masked subtree by the parent-pointer closure under the
		// soft-delete marker, not by bounds-range overlap: SoftDelete's own
		// gap-close shift can land a live row's bounds exactly inside the
		// masked subtree's frozen range (e.g. a root-level sibling shifted
		// left by the closed gap), so a bounds-range query would wrongly
		// sweep that live row into subtreeIDs and then into the reopen shift.
		subtreeIDs, err := t.maskedSubtreeIDs(tx, scope, nodeID)
		if err != nil {
			return err
		}

		// The restored subtree kept its frozen bounds, so it is excluded
		// from the reopen shift.
		if err := t.applyScope(tx.Table(t.nodesTbl), scope).Unscoped().
			Where(fmt.Sprintf("%s >= ?", leftCol), source.Lft).
			Where(fmt.Sprintf("%s NOT IN ?", t.wrap(t.columns.ID)), subtreeIDs).
			Update(t.columns.Left, gorm.Expr(fmt.Sprintf("%s + ?", leftCol), width)).Error; err != nil {
			return fmt.Errorf("unable to reopen left range: %w", err)
		}
		if err := t.applyScope(tx.Table(t.nodesTbl), scope).Unscoped().
			Where(fmt.Sprintf("%s >= ?", rightCol), source.Lft).
			Where(fmt.Sprintf("%s NOT IN ?", t.wrap(t.columns.ID)), subtreeIDs).
			Update(t.columns.Right, gorm.Expr(fmt.Sprintf("%s + ?", rightCol), width)).Error; err != nil {
			return fmt.Errorf("unable to reopen right range: %w", err)
		}

		return t.applyScope(tx.Table(t.nodesTbl), scope).Unscoped().
			Where(fmt.Sprintf("%s IN ?", t.wrap(t.columns.ID)), subtreeIDs).
			Update(t.softDeleteCol, nil).Error
	})
}

// maskedSubtreeIDs walks the parent pointer outward from nodeID, gathering
// nodeID and every masked descendant reached through masked parents. Unlike
// a bounds-range query, this stays correct even when a live row's shifted
// bounds happen to coincide numerically with the masked subtree's frozen
// range.
func (t *Tree) maskedSubtreeIDs(tx *gorm.DB, scope Scope, nodeID uint64) ([]uint64, error) {
	parentCol := t.wrap(t.columns.Parent)
	level := []uint64{nodeID}
	collected := []uint64{nodeID}
	for len(level) > 0 {
		var next []uint64
		if err := t.applyScope(tx.Table(t.nodesTbl), scope).Unscoped().
			Where(fmt.Sprintf("%s IS NOT NULL", t.wrap(t.softDeleteCol))).
			Where(fmt.Sprintf("%s IN ?", parentCol), level).
			Pluck(t.columns.ID, &next).Error; err != nil {
			return nil, fmt.Errorf("unable to walk masked subtree: %w", err)
		}
		collected = append(collected, next...)
		level = next
	}
	return collected, nil
}
