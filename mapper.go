package nestedtree

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// MapNode is one entry of the recursive input array consumed by
// SyncChildren (spec.md 4.G): an optional existing ID, a set of attributes
// to create/update with, and a recursive list of children.
type MapNode struct {
	ID         uint64
	Attributes map[string]any
	Children   []MapNode
}

// SyncChildren reconciles a caller-supplied nested array against the
// persisted subtree rooted at selfID: existing descendants named in input
// are updated and possibly reparented, new entries are created, and
// persisted descendants absent from input are removed. Bounds for the
// affected subtree are rebuilt at the end (spec.md 4.G).
func (t *Tree) SyncChildren(ctx context.Context, selfID uint64, input []MapNode, scope Scope) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		keep := make(map[uint64]bool)
		collectKeys(input, keep)

		if err := t.syncLevel(tx, selfID, input, scope); err != nil {
			return err
		}

		var descendantIDs []uint64
		self, err := t.loadBoundsTx(tx, selfID, scope)
		if err != nil {
			return err
		}
		leftCol := t.wrap(t.columns.Left)
		rightCol := t.wrap(t.columns.Right)
		if err := t.applyScope(tx.Table(t.nodesTbl), scope).
			Where(fmt.Sprintf("%s > ? AND %s < ?", leftCol, rightCol), self.Lft, self.Rgt).
			Pluck(t.columns.ID, &descendantIDs).Error; err != nil {
			return fmt.Errorf("unable to list persisted descendants: %w", err)
		}

		for _, id := range descendantIDs {
			if keep[id] {
				continue
			}
			if err := t.applyScope(tx.Table(t.nodesTbl), scope).
				Where(fmt.Sprintf("%s = ?", t.wrap(t.columns.ID)), id).
				Delete(&Node{}).Error; err != nil {
				return fmt.Errorf("unable to remove orphaned node %d: %w", id, err)
			}
		}

		return t.rebuildTx(tx, scope)
	})
}

func collectKeys(nodes []MapNode, out map[uint64]bool) {
	for _, n := range nodes {
		if n.ID != 0 {
			out[n.ID] = true
		}
		collectKeys(n.Children, out)
	}
}

// syncLevel creates or updates each entry in nodes under parentID, in the
// order given, then recurses into its children.
func (t *Tree) syncLevel(tx *gorm.DB, parentID uint64, nodes []MapNode, scope Scope) error {
	for i := range nodes {
		n := &nodes[i]
		if n.ID == 0 {
			attrs := make(map[string]any, len(n.Attributes)+1)
			for k, v := range n.Attributes {
				attrs[k] = v
			}
			attrs[t.columns.Parent] = parentID
			attrs[t.columns.Left] = 0
			attrs[t.columns.Right] = 0
			attrs[t.columns.Depth] = 0
			for col, v := range scope {
				attrs[col] = v
			}
			res := tx.Table(t.nodesTbl).Create(attrs)
			if res.Error != nil {
				return fmt.Errorf("unable to create mapped node: %w", res.Error)
			}
			var id uint64
			if v, ok := attrs[t.columns.ID]; ok {
				if parsed, ok := v.(uint64); ok {
					id = parsed
				}
			}
			if id == 0 {
				if err := tx.Table(t.nodesTbl).
					Order(fmt.Sprintf("%s DESC", t.wrap(t.columns.ID))).
					Limit(1).Pluck(t.columns.ID, &id).Error; err != nil {
					return fmt.Errorf("unable to resolve id of created node: %w", err)
				}
			}
			n.ID = id
		} else {
			if len(n.Attributes) > 0 {
				if err := t.applyScope(tx.Table(t.nodesTbl), scope).
					Where(fmt.Sprintf("%s = ?", t.wrap(t.columns.ID)), n.ID).
					Updates(n.Attributes).Error; err != nil {
					return fmt.Errorf("unable to update mapped node %d: %w", n.ID, err)
				}
			}
			if err := t.applyScope(tx.Table(t.nodesTbl), scope).
				Where(fmt.Sprintf("%s = ?", t.wrap(t.columns.ID)), n.ID).
				Update(t.columns.Parent, parentID).Error; err != nil {
				return fmt.Errorf("unable to reparent mapped node %d: %w", n.ID, err)
			}
		}

		if err := t.syncLevel(tx, n.ID, n.Children, scope); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) loadBoundsTx(tx *gorm.DB, id uint64, scope Scope) (*Node, error) {
	var n Node
	err := t.applyScope(tx.Table(t.nodesTbl), scope).
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

// rebuildTx is Rebuild's body, reused here so SyncChildren can finish its
// own transaction instead of opening a nested one (spec.md 4.I: "nested
// transactions are flattened").
func (t *Tree) rebuildTx(tx *gorm.DB, scope Scope) error {
	var rows []rebuildRow
	if err := t.applyScope(tx.Table(t.nodesTbl), scope).
		Select(fmt.Sprintf("%s AS id, %s AS parent_id", t.wrap(t.columns.ID), t.wrap(t.columns.Parent))).
		Order(t.wrap(t.columns.OrderColumn())).
		Find(&rows).Error; err != nil {
		return fmt.Errorf("unable to load rows for rebuild: %w", err)
	}

	children := make(map[uint64][]uint64)
	var roots []uint64
	for _, r := range rows {
		if r.ParentID == nil {
			roots = append(roots, r.ID)
			continue
		}
		children[*r.ParentID] = append(children[*r.ParentID], r.ID)
	}

	type bounds struct {
		lft, rgt int64
		depth    int
	}
	result := make(map[uint64]bounds, len(rows))
	counter := int64(0)

	var walk func(id uint64, depth int)
	walk = func(id uint64, depth int) {
		counter++
		left := counter
		for _, child := range children[id] {
			walk(child, depth+1)
		}
		counter++
		result[id] = bounds{lft: left, rgt: counter, depth: depth}
	}
	for _, root := range roots {
		walk(root, 0)
	}

	for id, b := range result {
		if err := t.applyScope(tx.Table(t.nodesTbl), scope).
			Where(fmt.Sprintf("%s = ?", t.wrap(t.columns.ID)), id).
			Updates(map[string]any{
				t.columns.Left:  b.lft,
				t.columns.Right: b.rgt,
				t.columns.Depth: b.depth,
			}).Error; err != nil {
			return fmt.Errorf("unable to persist rebuilt bounds for node %d: %w", id, err)
		}
	}
	return nil
}
