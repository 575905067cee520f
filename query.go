package nestedtree

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// QueryOption narrows a query built by the methods below, following spec.md
// 4.C's composable restriction list (WithoutNode, WithoutSelf, WithoutRoot,
// LimitDepth).
type QueryOption func(q *gorm.DB, t *Tree, selfID uint64) *gorm.DB

// WithoutNode excludes the row with the given id from the result.
func WithoutNode(id uint64) QueryOption {
	return func(q *gorm.DB, t *Tree, selfID uint64) *gorm.DB {
		return q.Where(fmt.Sprintf("%s <> ?", t.wrap(t.columns.ID)), id)
	}
}

// WithoutSelf excludes the node the query is relative to.
func WithoutSelf() QueryOption {
	return func(q *gorm.DB, t *Tree, selfID uint64) *gorm.DB {
		return q.Where(fmt.Sprintf("%s <> ?", t.wrap(t.columns.ID)), selfID)
	}
}

// WithoutRoot excludes root nodes (ParentID IS NULL) from the result.
func WithoutRoot() QueryOption {
	return func(q *gorm.DB, t *Tree, selfID uint64) *gorm.DB {
		return q.Where(fmt.Sprintf("%s IS NOT NULL", t.wrap(t.columns.Parent)))
	}
}

// LimitDepth restricts the result to rows whose depth does not exceed
// self's depth plus levels (spec.md 4.C). self's own depth is resolved via a
// scalar subquery rather than a second round trip.
func LimitDepth(levels int) QueryOption {
	return func(q *gorm.DB, t *Tree, selfID uint64) *gorm.DB {
		depthCol := t.wrap(t.columns.Depth)
		idCol := t.wrap(t.columns.ID)
		selfDepth := fmt.Sprintf("(SELECT %s FROM %s WHERE %s = %d)", depthCol, t.wrap(t.nodesTbl), idCol, selfID)
		return q.Where(fmt.Sprintf("%s <= %s + ?", depthCol, selfDepth), levels)
	}
}

func (t *Tree) apply(q *gorm.DB, selfID uint64, opts []QueryOption) *gorm.DB {
	for _, opt := range opts {
		q = opt(q, t, selfID)
	}
	return q
}

// Roots loads every root node (ParentID IS NULL) in scope, ordered by the
// Column/Scope Descriptor's order column (spec.md 4.C).
func (t *Tree) Roots(ctx context.Context, scope Scope, items any, opts ...QueryOption) error {
	q := t.applyVisibleScope(t.db.WithContext(ctx).Table(t.nodesTbl), scope).
		Where(fmt.Sprintf("%s IS NULL", t.wrap(t.columns.Parent))).
		Order(t.wrap(t.columns.OrderColumn()))
	q = t.apply(q, 0, opts)
	return q.Find(items).Error
}

// AllLeaves loads every leaf (rgt - lft = 1) in scope.
func (t *Tree) AllLeaves(ctx context.Context, scope Scope, items any, opts ...QueryOption) error {
	leftCol := t.wrap(t.columns.Left)
	rightCol := t.wrap(t.columns.Right)
	q := t.applyVisibleScope(t.db.WithContext(ctx).Table(t.nodesTbl), scope).
		Where(fmt.Sprintf("%s - %s = 1", rightCol, leftCol)).
		Order(t.wrap(t.columns.OrderColumn()))
	q = t.apply(q, 0, opts)
	return q.Find(items).Error
}

// Leaves loads the leaves within selfID's own subtree.
func (t *Tree) Leaves(ctx context.Context, selfID uint64, scope Scope, items any, opts ...QueryOption) error {
	self, err := t.loadBounds(ctx, selfID, scope)
	if err != nil {
		return err
	}
	leftCol := t.wrap(t.columns.Left)
	rightCol := t.wrap(t.columns.Right)
	q := t.applyVisibleScope(t.db.WithContext(ctx).Table(t.nodesTbl), scope).
		Where(fmt.Sprintf("%s >= ? AND %s <= ? AND %s - %s = 1", leftCol, rightCol, rightCol, leftCol),
			self.Lft, self.Rgt).
		Order(t.wrap(t.columns.OrderColumn()))
	q = t.apply(q, selfID, opts)
	return q.Find(items).Error
}

// AllTrunks loads every non-root, non-leaf node in scope.
func (t *Tree) AllTrunks(ctx context.Context, scope Scope, items any, opts ...QueryOption) error {
	leftCol := t.wrap(t.columns.Left)
	rightCol := t.wrap(t.columns.Right)
	q := t.applyVisibleScope(t.db.WithContext(ctx).Table(t.nodesTbl), scope).
		Where(fmt.Sprintf("%s IS NOT NULL AND %s - %s <> 1", t.wrap(t.columns.Parent), rightCol, leftCol)).
		Order(t.wrap(t.columns.OrderColumn()))
	q = t.apply(q, 0, opts)
	return q.Find(items).Error
}

// Trunks loads the trunk nodes among selfID's descendants (spec.md 4.C:
// trunks(self) := allTrunks ∧ descendants(self), excluding self itself).
func (t *Tree) Trunks(ctx context.Context, selfID uint64, scope Scope, items any, opts ...QueryOption) error {
	self, err := t.loadBounds(ctx, selfID, scope)
	if err != nil {
		return err
	}
	leftCol := t.wrap(t.columns.Left)
	rightCol := t.wrap(t.columns.Right)
	q := t.applyVisibleScope(t.db.WithContext(ctx).Table(t.nodesTbl), scope).
		Where(fmt.Sprintf("%s >= ? AND %s <= ? AND %s IS NOT NULL AND %s - %s <> 1",
			leftCol, rightCol, t.wrap(t.columns.Parent), rightCol, leftCol), self.Lft, self.Rgt).
		Order(t.wrap(t.columns.OrderColumn()))
	q = t.apply(q, selfID, append(opts, WithoutSelf()))
	return q.Find(items).Error
}

// AncestorsAndSelf loads every node on the path from the forest root down to
// and including selfID (spec.md 4.C).
func (t *Tree) AncestorsAndSelf(ctx context.Context, selfID uint64, scope Scope, items any, opts ...QueryOption) error {
	self, err := t.loadBounds(ctx, selfID, scope)
	if err != nil {
		return err
	}
	leftCol := t.wrap(t.columns.Left)
	rightCol := t.wrap(t.columns.Right)
	q := t.applyVisibleScope(t.db.WithContext(ctx).Table(t.nodesTbl), scope).
		Where(fmt.Sprintf("%s <= ? AND %s >= ?", leftCol, rightCol), self.Lft, self.Rgt).
		Order(t.wrap(t.columns.Left))
	q = t.apply(q, selfID, opts)
	return q.Find(items).Error
}

// Ancestors behaves as AncestorsAndSelf but excludes selfID.
func (t *Tree) Ancestors(ctx context.Context, selfID uint64, scope Scope, items any, opts ...QueryOption) error {
	return t.AncestorsAndSelf(ctx, selfID, scope, items, append(opts, WithoutSelf())...)
}

// DescendantsAndSelf loads selfID's entire subtree, including selfID itself.
func (t *Tree) DescendantsAndSelf(ctx context.Context, selfID uint64, scope Scope, items any, opts ...QueryOption) error {
	self, err := t.loadBounds(ctx, selfID, scope)
	if err != nil {
		return err
	}
	leftCol := t.wrap(t.columns.Left)
	rightCol := t.wrap(t.columns.Right)
	q := t.applyVisibleScope(t.db.WithContext(ctx).Table(t.nodesTbl), scope).
		Where(fmt.Sprintf("%s >= ? AND %s <= ?", leftCol, rightCol), self.Lft, self.Rgt).
		Order(t.wrap(t.columns.Left))
	q = t.apply(q, selfID, opts)
	return q.Find(items).Error
}

// Descendants behaves as DescendantsAndSelf but excludes selfID.
func (t *Tree) Descendants(ctx context.Context, selfID uint64, scope Scope, items any, opts ...QueryOption) error {
	return t.DescendantsAndSelf(ctx, selfID, scope, items, append(opts, WithoutSelf())...)
}

// SiblingsAndSelf loads every node sharing selfID's parent, including self.
func (t *Tree) SiblingsAndSelf(ctx context.Context, selfID uint64, scope Scope, items any, opts ...QueryOption) error {
	self, err := t.loadBounds(ctx, selfID, scope)
	if err != nil {
		return err
	}
	q := t.applyVisibleScope(t.db.WithContext(ctx).Table(t.nodesTbl), scope).
		Order(t.wrap(t.columns.OrderColumn()))
	if self.ParentID == nil {
		q = q.Where(fmt.Sprintf("%s IS NULL", t.wrap(t.columns.Parent)))
	} else {
		q = q.Where(fmt.Sprintf("%s = ?", t.wrap(t.columns.Parent)), *self.ParentID)
	}
	q = t.apply(q, selfID, opts)
	return q.Find(items).Error
}

// Siblings behaves as SiblingsAndSelf but excludes selfID.
func (t *Tree) Siblings(ctx context.Context, selfID uint64, scope Scope, items any, opts ...QueryOption) error {
	return t.SiblingsAndSelf(ctx, selfID, scope, items, append(opts, WithoutSelf())...)
}

// loadBounds fetches the minimal (id, parent, lft, rgt) projection needed to
// build the queries above, without requiring the caller's item type.
func (t *Tree) loadBounds(ctx context.Context, id uint64, scope Scope) (*Node, error) {
	var n Node
	err := t.applyVisibleScope(t.db.WithContext(ctx).Table(t.nodesTbl), scope).
		Where(fmt.Sprintf("%s = ?", t.wrap(t.columns.ID)), id).
		First(&n).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNodeNotFound
		}
		return nil, fmt.Errorf("unable to load node: %w", err)
	}
	return &n, nil
}
