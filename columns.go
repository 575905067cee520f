package nestedtree

import "fmt"

// Columns names the five structural columns used by the nested set engine
// plus the zero-or-more scope columns that partition a table into several
// independent forests. Every field has a default matching the conventions
// used throughout the rest of this package's tests.
type Columns struct {
	ID     string
	Parent string
	Left   string
	Right  string
	Depth  string
	// Order names the column used to order siblings. When empty, Left is
	// used as the order key (spec.md 4.A).
	Order string
	// Scope lists the columns that partition the table into independent
	// forests. A Descriptor is "scoped" iff len(Scope) > 0.
	Scope []string
	// ChildrenCount optionally names a cache column incremented/decremented
	// alongside Create/MoveTo (additive column, see SPEC_FULL.md).
	ChildrenCount string
}

// DefaultColumns mirrors the defaults enumerated in spec.md 4.A.
func DefaultColumns() Columns {
	return Columns{
		ID:     "id",
		Parent: "parent_id",
		Left:   "lft",
		Right:  "rgt",
		Depth:  "depth",
	}
}

// OrderColumn returns the effective order column: Order if set, else Left.
func (c Columns) OrderColumn() string {
	if c.Order != "" {
		return c.Order
	}
	return c.Left
}

// Scoped reports whether this descriptor partitions the table by scope columns.
func (c Columns) Scoped() bool {
	return len(c.Scope) > 0
}

// Qualified returns "table"."column" quoted through the given grammar.
func (c Columns) Qualified(g Grammar, table, column string) string {
	return fmt.Sprintf("%s.%s", g.Wrap(table), g.Wrap(column))
}
