package nestedtree

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Scope is a tuple of scope-column values that partitions a table into
// independent forests (spec.md, Glossary). An empty Scope means the table
// holds a single forest.
type Scope map[string]any

// Tree represents access to the nested set table for one record class,
// mirroring the teacher's Tree handle for one closure-table record class:
// New() parses the item's gorm schema once, resolves table + column names,
// and every subsequent call is reflection-driven over that cached shape.
type Tree struct {
	db           *gorm.DB
	nodesTbl     string
	grammar      Grammar
	columns      Columns
	col2FieldMap map[string]string
	events       *EventBus
	className    string
	softDeleteCol string
	keys         KeySupport
}

// Option configures a Tree at construction time.
type Option func(*Tree)

// WithColumns overrides the Column/Scope Descriptor (spec.md 4.A). Defaults
// to DefaultColumns() plus the scope columns tagged `nestedset:"scope"` on
// the item passed to New.
func WithColumns(c Columns) Option {
	return func(t *Tree) { t.columns = c }
}

// WithGrammar overrides the identifier-quoting Grammar (spec.md 6). Defaults
// to the grammar matching db's dialector name.
func WithGrammar(g Grammar) Option {
	return func(t *Tree) { t.grammar = g }
}

// WithEventBus attaches an EventBus used to dispatch moving/moved signals
// (spec.md 4.I). Defaults to a private, unshared bus.
func WithEventBus(b *EventBus) Option {
	return func(t *Tree) { t.events = b }
}

// New returns a Tree managing the nested set table for item's schema. Unlike
// the teacher, which auto-migrates a separate closure table alongside the
// node table, a nested set needs no side table: the five structural columns
// live on item's own row, so only item's table is migrated.
func New(db *gorm.DB, item any, opts ...Option) (*Tree, error) {
	if !hasNode(item) {
		return nil, ErrItemIsNotTreeNode
	}

	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(item); err != nil {
		return nil, fmt.Errorf("error parsing schema: %w", err)
	}

	col2Field := make(map[string]string, len(stmt.Schema.Fields))
	for _, field := range stmt.Schema.Fields {
		col2Field[field.DBName] = field.Name
	}

	t := &Tree{
		db:           db,
		nodesTbl:     stmt.Schema.Table,
		col2FieldMap: col2Field,
		className:    stmt.Schema.Table,
		columns:      DefaultColumns(),
		events:       NewEventBus(),
		keys:         AutoIncrementKeys{},
	}
	t.columns.Scope = scopeColumnsFromTags(item, col2Field)

	for _, opt := range opts {
		opt(t)
	}

	if t.grammar == nil {
		t.grammar = grammarForDialect(db.Dialector.Name())
	}

	if err := db.AutoMigrate(item); err != nil {
		return nil, fmt.Errorf("unable to migrate node table: %w", err)
	}
	return t, nil
}

// scopeColumnsFromTags discovers scope columns via the `nestedset:"scope"`
// struct tag convention, grounded on forkkit-go-nested-set's tag family.
func scopeColumnsFromTags(item any, col2field map[string]string) []string {
	t := reflect.TypeOf(item)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	field2col := make(map[string]string, len(col2field))
	for col, field := range col2field {
		field2col[field] = col
	}
	var cols []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Tag.Get("nestedset") == "scope" {
			if col, ok := field2col[f.Name]; ok {
				cols = append(cols, col)
			}
		}
	}
	return cols
}

// GetNodeTableName returns the table name backing the tree, used when the
// caller needs to interact directly with the database.
func (t *Tree) GetNodeTableName() string { return t.nodesTbl }

// Columns returns a copy of the effective Column/Scope Descriptor.
func (t *Tree) Columns() Columns { return t.columns }

func (t *Tree) wrap(name string) string { return t.grammar.Wrap(name) }

// applyScope ANDs the scope-column equality clauses onto tx, as every
// predicate in spec.md 4.C implicitly does.
func (t *Tree) applyScope(tx *gorm.DB, scope Scope) *gorm.DB {
	for _, col := range t.columns.Scope {
		tx = tx.Where(fmt.Sprintf("%s = ?", t.wrap(col)), scope[col])
	}
	return tx
}

// applyVisibleScope is applyScope plus, when soft-delete is configured, an
// exclusion of masked rows (spec.md 3: a masked subtree "remains but is
// excluded from ordinary reads"). Internal gap-closing math in delete.go
// deliberately bypasses this and uses applyScope/Unscoped directly, since a
// masked subtree still occupies real coordinate space that later deletes
// and restores must shift.
func (t *Tree) applyVisibleScope(tx *gorm.DB, scope Scope) *gorm.DB {
	tx = t.applyScope(tx, scope)
	if t.softDeleteCol != "" {
		tx = tx.Where(fmt.Sprintf("%s IS NULL", t.wrap(t.softDeleteCol)))
	}
	return tx
}

// nodeScopeValues reads id's own scope-column values directly off the nodes
// table, so a raw Node (which carries no scope columns of its own) can be
// populated for an InSameScope comparison. Returns nil without a query when
// the Column/Scope Descriptor names no scope columns.
func (t *Tree) nodeScopeValues(tx *gorm.DB, id uint64) (map[string]any, error) {
	if len(t.columns.Scope) == 0 {
		return nil, nil
	}
	selectCols := make([]string, len(t.columns.Scope))
	for i, col := range t.columns.Scope {
		selectCols[i] = t.wrap(col)
	}
	row := map[string]any{}
	err := tx.Table(t.nodesTbl).
		Select(selectCols).
		Where(fmt.Sprintf("%s = ?", t.wrap(t.columns.ID)), id).
		Take(&row).Error
	if err != nil {
		return nil, fmt.Errorf("unable to read scope columns for node %d: %w", id, err)
	}
	return row, nil
}

// scopeOf extracts the Scope tuple stored on item, via the same reflection
// technique node.go uses to read the embedded Node columns.
func (t *Tree) scopeOf(item any) Scope {
	vals := scopeValues(item, t.columns.Scope, t.col2FieldMap)
	out := make(Scope, len(vals))
	for k, v := range vals {
		out[k] = v
	}
	return out
}

// maxRight returns the current max right bound in scope, acquired under a
// shared lock (spec.md 5: "Before assigning initial bounds: SELECT ... LOCK
// IN SHARE MODE to read the current tail").
func (t *Tree) maxRight(tx *gorm.DB, scope Scope) (int64, error) {
	var result struct {
		Max sql.NullInt64
	}
	q := t.applyScope(tx.Table(t.nodesTbl), scope).Clauses(clause.Locking{Strength: "SHARE"})
	err := q.Select(fmt.Sprintf("MAX(%s) AS max", t.wrap(t.columns.Right))).Scan(&result).Error
	if err != nil {
		return 0, fmt.Errorf("unable to read tail bound: %w", err)
	}
	if !result.Max.Valid {
		return 0, nil
	}
	return result.Max.Int64, nil
}

// bumpChildrenCount adjusts the optional ChildrenCount cache column on
// parentID by delta, grounded on forkkit-go-nested-set's children-count
// cache (SPEC_FULL.md "Supplemented features"). A no-op when the Column/
// Scope Descriptor doesn't name a cache column.
func (t *Tree) bumpChildrenCount(tx *gorm.DB, scope Scope, parentID uint64, delta int) error {
	if t.columns.ChildrenCount == "" || parentID == 0 {
		return nil
	}
	col := t.wrap(t.columns.ChildrenCount)
	return t.applyScope(tx.Table(t.nodesTbl), scope).
		Where(fmt.Sprintf("%s = ?", t.wrap(t.columns.ID)), parentID).
		Update(t.columns.ChildrenCount, gorm.Expr(fmt.Sprintf("%s + ?", col), delta)).Error
}

// Add creates item as a new node. When parentID is 0 the node becomes a
// root; otherwise it is created at the tail and then relocated under
// parentID in the same transaction, mirroring spec.md 3's Create lifecycle
// ("assigned left=M+1, right=M+2 ... If a parent was specified, the node is
// later relocated to that parent by the post-save hook").
func (t *Tree) Add(ctx context.Context, item any, parentID uint64, scope Scope) error {
	if !hasNode(item) {
		return ErrItemIsNotTreeNode
	}
	n, ok := asNode(item)
	if !ok {
		return ErrItemIsNotTreeNode
	}
	if scope == nil {
		scope = t.scopeOf(item)
	}

	if parentID != 0 {
		var count int64
		if err := t.applyVisibleScope(t.db.WithContext(ctx).Table(t.nodesTbl), scope).
			Where(fmt.Sprintf("%s = ?", t.wrap(t.columns.ID)), parentID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("unable to check parent node: %w", err)
		}
		if count == 0 {
			return ErrParentNotFound
		}
	}

	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		max, err := t.maxRight(tx, scope)
		if err != nil {
			return err
		}
		n.Lft = max + 1
		n.Rgt = max + 2
		n.Depth = 0
		n.ParentID = nil
		n.persisted = false
		n.clearDirty()
		if n.ExternalKey == "" {
			n.ExternalKey = t.keys.NewKey()
		}

		if err := tx.Table(t.nodesTbl).Create(item).Error; err != nil {
			return fmt.Errorf("unable to add node: %w", err)
		}
		n.persisted = true

		if parentID != 0 {
			if err := t.moveTo(ctx, tx, n.ID, parentID, PositionChild, scope, true); err != nil {
				return err
			}
			var reloaded Node
			if err := t.applyScope(tx.Table(t.nodesTbl), scope).
				Where(fmt.Sprintf("%s = ?", t.wrap(t.columns.ID)), n.ID).
				First(&reloaded).Error; err != nil {
				return err
			}
			n.ParentID = reloaded.ParentID
			n.Lft = reloaded.Lft
			n.Rgt = reloaded.Rgt
			n.Depth = reloaded.Depth
		}
		return nil
	})
}

// Update persists the non-structural attributes of item (whose primary key
// must already be set) and, if the caller changed ParentID via SetParentID,
// relocates the node in the same transaction (spec.md 4.D's "saving"/
// "saved" hook pair, made explicit instead of relying on an ORM's generic
// dirty-attribute machinery).
func (t *Tree) Update(ctx context.Context, item any, scope Scope) error {
	if !hasNode(item) {
		return ErrItemIsNotTreeNode
	}
	n, ok := asNode(item)
	if !ok {
		return ErrItemIsNotTreeNode
	}
	if n.ID == 0 {
		return ErrNodeNotFound
	}
	if scope == nil {
		scope = t.scopeOf(item)
	}

	pendingParent := n.ParentID
	hasPendingMove := n.IsDirty(nodeParentField)

	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := t.applyScope(tx.Table(t.nodesTbl), scope).
			Where(fmt.Sprintf("%s = ?", t.wrap(t.columns.ID)), n.ID).
			Omit(t.columns.Left, t.columns.Right, t.columns.Depth, t.columns.Parent).
			Updates(item)
		if res.Error != nil {
			return fmt.Errorf("unable to update node: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNodeNotFound
		}

		if hasPendingMove {
			position := PositionRoot
			var targetID uint64
			if pendingParent != nil {
				position = PositionChild
				targetID = *pendingParent
			}
			if err := t.moveTo(ctx, tx, n.ID, targetID, position, scope, false); err != nil {
				return err
			}
		}
		n.clearDirty()
		return nil
	})
}

// GetNode loads a single row into item, which must be a pointer to a struct
// embedding Node.
func (t *Tree) GetNode(ctx context.Context, id uint64, scope Scope, item any) error {
	if !hasNode(item) {
		return ErrItemIsNotTreeNode
	}
	if reflect.TypeOf(item).Kind() != reflect.Ptr {
		return fmt.Errorf("item needs to be a pointer to a struct")
	}

	err := t.applyVisibleScope(t.db.WithContext(ctx).Table(t.nodesTbl), scope).
		Where(fmt.Sprintf("%s = ?", t.wrap(t.columns.ID)), id).
		First(item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNodeNotFound
		}
		return fmt.Errorf("unable to load node: %w", err)
	}
	if n, ok := asNode(item); ok {
		n.persisted = true
		n.clearDirty()
	}
	return nil
}
