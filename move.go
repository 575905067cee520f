package nestedtree

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Position is one of the four move positions from spec.md's Glossary:
// child (append under target), left (immediately before target), right
// (immediately after target), root (detach to top level).
type Position string

const (
	PositionChild Position = "child"
	PositionLeft  Position = "left"
	PositionRight Position = "right"
	PositionRoot  Position = "root"
)

func (p Position) valid() bool {
	switch p {
	case PositionChild, PositionLeft, PositionRight, PositionRoot:
		return true
	}
	return false
}

// MoveTo relocates sourceID (and its entire subtree) to a new position
// relative to targetID, using the single bounds-rewriting transaction
// described in spec.md 4.E. It is grounded on the teacher's Move (same
// transaction-wrapped precondition checks, same sentinel-error-on-invalid-
// move shape) and on forkkit-go-nested-set's MoveTo/moveToRightOfPosition
// (same CASE-based single UPDATE rewrite idiom for the bounds shift).
func (t *Tree) MoveTo(ctx context.Context, sourceID, targetID uint64, position Position, scope Scope) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return t.moveTo(ctx, tx, sourceID, targetID, position, scope, false)
	})
}

// skipVeto, when true, is used internally by Add to relocate a just-created
// node without firing a "moving" event for what is really still part of
// node creation.
func (t *Tree) moveTo(ctx context.Context, tx *gorm.DB, sourceID, targetID uint64, position Position, scope Scope, skipVeto bool) error {
	if !position.valid() {
		return fmt.Errorf("%w: invalid position %q", ErrMoveNotPossible, position)
	}

	var source Node
	if err := t.applyVisibleScope(tx.Table(t.nodesTbl), scope).
		Where(fmt.Sprintf("%s = ?", t.wrap(t.columns.ID)), sourceID).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&source).Error; err != nil {
		return fmt.Errorf("%w: source not found: %v", ErrMoveNotPossible, err)
	}
	source.persisted = true
	sourceScope, err := t.nodeScopeValues(tx, sourceID)
	if err != nil {
		return err
	}
	source.setScopeVals(sourceScope)

	var target Node
	var newParentID *uint64

	if position != PositionRoot {
		if targetID == 0 || targetID == sourceID {
			return fmt.Errorf("%w: invalid target", ErrMoveNotPossible)
		}
		if err := t.applyVisibleScope(tx.Table(t.nodesTbl), scope).
			Where(fmt.Sprintf("%s = ?", t.wrap(t.columns.ID)), targetID).
			First(&target).Error; err != nil {
			return fmt.Errorf("%w: target not found: %v", ErrMoveNotPossible, err)
		}
		target.persisted = true
		targetScope, err := t.nodeScopeValues(tx, targetID)
		if err != nil {
			return err
		}
		target.setScopeVals(targetScope)

		if !target.InSameScope(&source) {
			return fmt.Errorf("%w: target is not in source's scope", ErrMoveNotPossible)
		}

		if target.InsideSubtree(&source) {
			return fmt.Errorf("%w: target is inside source's subtree", ErrMoveNotPossible)
		}
	}

	if !skipVeto {
		payload := MovePayload{NodeID: sourceID, TargetID: targetID, Position: position}
		if !t.events.Until(fmt.Sprintf("%s: %s", EventMoving, t.className), payload) {
			return nil
		}
	}

	switch position {
	case PositionChild:
		newParentID = &target.ID
	case PositionLeft, PositionRight:
		newParentID = target.ParentID
	case PositionRoot:
		newParentID = nil
	}

	// Boundary quadruple (spec.md 4.E / Glossary).
	var b1 int64
	switch position {
	case PositionChild:
		b1 = target.Rgt
	case PositionLeft:
		b1 = target.Lft
	case PositionRight:
		b1 = target.Rgt + 1
	case PositionRoot:
		max, err := t.maxRight(tx, scope)
		if err != nil {
			return err
		}
		b1 = max + 1
	}
	if b1 > source.Rgt {
		b1--
	}

	oldParentID := source.ParentID

	// No-op detection: the move has no structural effect.
	if b1 == source.Lft || b1 == source.Rgt {
		if err := t.bumpParentCounts(tx, scope, oldParentID, newParentID); err != nil {
			return err
		}
		t.dispatchMoved(sourceID, targetID, position)
		return t.setParent(tx, scope, sourceID, newParentID)
	}

	var b2 int64
	if b1 > source.Rgt {
		b2 = source.Rgt + 1
	} else {
		b2 = source.Lft - 1
	}

	bounds := []int64{source.Lft, source.Rgt, b1, b2}
	a, b, c, d := sortQuadruple(bounds)

	// Lock the affected row range before rewriting it (spec.md 5).
	var lockedIDs []uint64
	if err := t.applyScope(tx.Table(t.nodesTbl), scope).
		Where(fmt.Sprintf("%s BETWEEN ? AND ? OR %s BETWEEN ? AND ?", t.wrap(t.columns.Left), t.wrap(t.columns.Right)), a, d, a, d).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Pluck(t.columns.ID, &lockedIDs).Error; err != nil {
		return fmt.Errorf("unable to lock affected rows: %w", err)
	}

	leftCol := t.wrap(t.columns.Left)
	rightCol := t.wrap(t.columns.Right)
	leftExpr := fmt.Sprintf(
		"CASE WHEN %s BETWEEN %d AND %d THEN %s + %d WHEN %s BETWEEN %d AND %d THEN %s + %d ELSE %s END",
		leftCol, a, b, leftCol, d-b, leftCol, c, d, leftCol, a-c, leftCol,
	)
	rightExpr := fmt.Sprintf(
		"CASE WHEN %s BETWEEN %d AND %d THEN %s + %d WHEN %s BETWEEN %d AND %d THEN %s + %d ELSE %s END",
		rightCol, a, b, rightCol, d-b, rightCol, c, d, rightCol, a-c, rightCol,
	)

	updates := map[string]any{
		t.columns.Left:  gorm.Expr(leftExpr),
		t.columns.Right: gorm.Expr(rightExpr),
	}

	err = t.applyScope(tx.Table(t.nodesTbl), scope).
		Where(fmt.Sprintf("%s BETWEEN ? AND ? OR %s BETWEEN ? AND ?", leftCol, rightCol), a, d, a, d).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("unable to rewrite bounds: %w", err)
	}

	if err := t.setParent(tx, scope, sourceID, newParentID); err != nil {
		return err
	}

	if err := t.recomputeDepth(tx, scope, sourceID); err != nil {
		return err
	}

	if err := t.bumpParentCounts(tx, scope, oldParentID, newParentID); err != nil {
		return err
	}

	t.dispatchMoved(sourceID, targetID, position)
	return nil
}

// bumpParentCounts decrements the old parent's ChildrenCount and increments
// the new parent's, a no-op when both are equal (no reparenting occurred)
// or when ChildrenCount isn't configured.
func (t *Tree) bumpParentCounts(tx *gorm.DB, scope Scope, oldParentID, newParentID *uint64) error {
	oldID, newID := uint64(0), uint64(0)
	if oldParentID != nil {
		oldID = *oldParentID
	}
	if newParentID != nil {
		newID = *newParentID
	}
	if oldID == newID {
		return nil
	}
	if err := t.bumpChildrenCount(tx, scope, oldID, -1); err != nil {
		return err
	}
	return t.bumpChildrenCount(tx, scope, newID, 1)
}

func (t *Tree) setParent(tx *gorm.DB, scope Scope, sourceID uint64, newParentID *uint64) error {
	return t.applyScope(tx.Table(t.nodesTbl), scope).
		Where(fmt.Sprintf("%s = ?", t.wrap(t.columns.ID)), sourceID).
		Update(t.columns.Parent, newParentID).Error
}

func (t *Tree) dispatchMoved(sourceID, targetID uint64, position Position) {
	t.events.Dispatch(fmt.Sprintf("%s: %s", EventMoved, t.className), MovePayload{
		NodeID: sourceID, TargetID: targetID, Position: position,
	})
}

// recomputeDepth reloads source and rewrites the depth of source and all its
// descendants, per spec.md 4.E's setDepth/setDepthWithSubtree. The source's own
// open-question-flagged O(depth) ancestor walk is replaced, per spec.md 9's
// first Open Question, by a single bound-inequality COUNT: depth equals the
// number of rows whose bounds strictly enclose self's.
func (t *Tree) recomputeDepth(tx *gorm.DB, scope Scope, sourceID uint64) error {
	var source Node
	if err := t.applyScope(tx.Table(t.nodesTbl), scope).
		Where(fmt.Sprintf("%s = ?", t.wrap(t.columns.ID)), sourceID).
		First(&source).Error; err != nil {
		return fmt.Errorf("unable to reload moved node: %w", err)
	}

	var newDepth int64
	err := t.applyScope(tx.Table(t.nodesTbl), scope).
		Where(fmt.Sprintf("%s < ? AND %s > ?", t.wrap(t.columns.Left), t.wrap(t.columns.Right)), source.Lft, source.Rgt).
		Count(&newDepth).Error
	if err != nil {
		return fmt.Errorf("unable to compute depth: %w", err)
	}

	delta := newDepth - int64(source.Depth)

	if err := t.applyScope(tx.Table(t.nodesTbl), scope).
		Where(fmt.Sprintf("%s = ?", t.wrap(t.columns.ID)), sourceID).
		Update(t.columns.Depth, newDepth).Error; err != nil {
		return fmt.Errorf("unable to persist depth: %w", err)
	}

	if delta == 0 || source.IsLeaf() {
		return nil
	}

	depthCol := t.wrap(t.columns.Depth)
	return t.applyScope(tx.Table(t.nodesTbl), scope).
		Where(fmt.Sprintf("%s > ? AND %s < ?", t.wrap(t.columns.Left), t.wrap(t.columns.Right)), source.Lft, source.Rgt).
		Update(t.columns.Depth, gorm.Expr(fmt.Sprintf("%s + ?", depthCol), delta)).Error
}

// sortQuadruple sorts the four boundary values ascending (spec.md 4.E /
// Glossary: "the sorted tuple (a, b, c, d) delimiting the two intervals
// rewritten by a move").
func sortQuadruple(vals []int64) (a, b, c, d int64) {
	for i := 1; i < len(vals); i++ {
		v := vals[i]
		j := i - 1
		for j >= 0 && vals[j] > v {
			vals[j+1] = vals[j]
			j--
		}
		vals[j+1] = v
	}
	return vals[0], vals[1], vals[2], vals[3]
}
