package nestedtree

import (
	"reflect"
)

// Node is the embeddable struct carrying the five structural columns of a
// nested set row (spec.md 3, 4.B). Any item managed by a Tree must embed it,
// the same way items managed by the teacher package embed ct.Node.
type Node struct {
	ID          uint64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ExternalKey string  `gorm:"column:external_key;index" json:"externalKey,omitempty"`
	ParentID    *uint64 `gorm:"column:parent_id;index" json:"parentId"`
	Lft         int64   `gorm:"column:lft;not null;index" json:"lft"`
	Rgt         int64   `gorm:"column:rgt;not null;index" json:"rgt"`
	Depth       int     `gorm:"column:depth;not null;index" json:"depth"`

	persisted bool            `gorm:"-"`
	dirty     map[string]bool `gorm:"-"`
	scopeVals map[string]any  `gorm:"-"`
}

const nodeParentField = "ParentID"

// markDirty records that column was written to since the node was loaded.
// Per spec.md 9, this replaces the source's blanket dynamic-attribute dirty
// tracking with a concrete per-field bit set on a typed struct.
func (n *Node) markDirty(column string) {
	if n.dirty == nil {
		n.dirty = make(map[string]bool, 4)
	}
	n.dirty[column] = true
}

// IsDirty reports whether column was written to since the node was loaded
// or created.
func (n *Node) IsDirty(column string) bool {
	return n.dirty[column]
}

// clearDirty resets the dirty bitset, e.g. after a successful save.
func (n *Node) clearDirty() {
	n.dirty = nil
}

// Persisted reports whether this handle refers to a row already stored in
// the database (set after Create or after a successful reload).
func (n *Node) Persisted() bool {
	return n.persisted
}

// SetParentID sets the parent pointer and marks it dirty; Tree.Update
// inspects this to detect a pending move.
func (n *Node) SetParentID(id *uint64) {
	n.ParentID = id
	n.markDirty(nodeParentField)
}

// IsRoot reports ParentID == nil.
func (n *Node) IsRoot() bool {
	return n.ParentID == nil
}

// IsLeaf reports that the node is persisted and Rgt-Lft == 1 (spec.md 4.C).
func (n *Node) IsLeaf() bool {
	return n.persisted && n.Rgt-n.Lft == 1
}

// IsTrunk reports that the node is neither a root nor a leaf.
func (n *Node) IsTrunk() bool {
	return !n.IsRoot() && !n.IsLeaf()
}

// Equals compares the primary key and the structural fields (Lft, Rgt,
// Depth, ParentID). ExternalKey and the attributes of the struct embedding
// Node are not compared.
func (n *Node) Equals(other *Node) bool {
	if other == nil {
		return false
	}
	if n.ID != other.ID || n.Lft != other.Lft || n.Rgt != other.Rgt || n.Depth != other.Depth {
		return false
	}
	if (n.ParentID == nil) != (other.ParentID == nil) {
		return false
	}
	if n.ParentID != nil && *n.ParentID != *other.ParentID {
		return false
	}
	return true
}

// InsideSubtree reports self.left ∈ [other.left, other.right] ∧ self.right ∈
// [other.left, other.right] (spec.md 4.B).
func (n *Node) InsideSubtree(other *Node) bool {
	return n.Lft >= other.Lft && n.Lft <= other.Rgt && n.Rgt >= other.Lft && n.Rgt <= other.Rgt
}

// InSameScope reports whether n and other are equal on every scope column
// (spec.md 4.B), used by the Move Engine to reject cross-scope targets
// (spec.md 4.E: "T.inSameScope(S)"). Nodes that were never given scope
// values (via setScopeVals) compare equal, matching an unscoped tree where
// every node shares the single implicit forest.
func (n *Node) InSameScope(other *Node) bool {
	if len(n.scopeVals) != len(other.scopeVals) {
		return false
	}
	for k, v := range n.scopeVals {
		ov, ok := other.scopeVals[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// setScopeVals attaches the scope-column values read for this row, so a
// Node loaded without its owning item type can still be compared via
// InSameScope.
func (n *Node) setScopeVals(vals map[string]any) { n.scopeVals = vals }

// DescendantCount returns the subtree-count shortcut (rgt-lft-1)/2 (spec.md 4.C).
func (n *Node) DescendantCount() int64 {
	return (n.Rgt - n.Lft - 1) / 2
}

// hasNode uses reflection to verify the passed struct is Node or embeds Node,
// the same capability check the teacher's hasNode performs for ct.Node.
func hasNode(item any) bool {
	if item == nil {
		return false
	}
	t := reflect.TypeOf(item)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == reflect.TypeOf(Node{}) {
		return true
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Anonymous && field.Type == reflect.TypeOf(Node{}) {
			return true
		}
	}
	return false
}

// nodeValue returns the addressable reflect.Value of the embedded Node field
// within item, which must be a pointer to a struct embedding Node, either
// directly or through another embedded struct.
func nodeValue(item any) (reflect.Value, bool) {
	v := reflect.ValueOf(item)
	if v.Kind() != reflect.Ptr {
		return reflect.Value{}, false
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	field, ok := v.Type().FieldByName("Node")
	if !ok || !field.Anonymous || field.Type != reflect.TypeOf(Node{}) {
		return reflect.Value{}, false
	}
	fv, err := v.FieldByIndexErr(field.Index)
	if err != nil {
		return reflect.Value{}, false
	}
	return fv, true
}

// asNode extracts a *Node handle from item, which must be a pointer to a
// struct embedding Node.
func asNode(item any) (*Node, bool) {
	fv, ok := nodeValue(item)
	if !ok {
		return nil, false
	}
	return fv.Addr().Interface().(*Node), true
}

// scopeValues reads the values of the columns named in scope on item,
// resolved through col2field (column -> struct field name). The tag-driven
// discovery of which struct field backs a given scope column is grounded on
// the forkkit-go-nested-set reference's "nestedset" struct tag family,
// generalized here to an arbitrary number of scope columns instead of a
// single hardcoded tenant string.
func scopeValues(item any, scope []string, col2field map[string]string) map[string]any {
	out := make(map[string]any, len(scope))
	if len(scope) == 0 {
		return out
	}
	v := reflect.ValueOf(item)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return out
	}
	for _, col := range scope {
		fieldName, ok := col2field[col]
		if !ok {
			continue
		}
		fv := v.FieldByName(fieldName)
		if fv.IsValid() {
			out[col] = fv.Interface()
		}
	}
	return out
}
