package nestedtree

import (
	"fmt"
	"reflect"
	"sort"
)

// BuildForest folds a flat result set into a nested in-memory forest,
// attaching each node to its parent by id; nodes whose parent id is absent
// from the set become roots of the returned forest (spec.md 4.H). items
// must be a slice of pointers to a struct embedding Node and carrying a
// `Children []*T` field of the same element type, following the teacher's
// TreeDescendants convention.
//
// When ordered is true, flat is first sorted by the order column (via
// Node.Lft, the fallback order key) before folding; otherwise nodes keep
// their insertion order within each parent's Children slice.
func BuildForest(flat any, ordered bool) (any, error) {
	v := reflect.ValueOf(flat)
	if v.Kind() != reflect.Slice {
		return nil, fmt.Errorf("flat must be a slice of pointers to a Node-embedding struct")
	}
	elemType := v.Type().Elem()
	if elemType.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("flat must be a slice of pointers")
	}

	n := v.Len()
	items := make([]reflect.Value, n)
	for i := 0; i < n; i++ {
		items[i] = v.Index(i)
	}
	if ordered {
		sort.SliceStable(items, func(i, j int) bool {
			ni, oki := asNode(items[i].Interface())
			nj, okj := asNode(items[j].Interface())
			if !oki || !okj {
				return false
			}
			return ni.Lft < nj.Lft
		})
	}

	byID := make(map[uint64]reflect.Value, n)
	for _, item := range items {
		node, ok := asNode(item.Interface())
		if !ok {
			return nil, fmt.Errorf("flat element does not embed Node")
		}
		byID[node.ID] = item
	}

	forestType := reflect.SliceOf(elemType)
	roots := reflect.MakeSlice(forestType, 0, n)

	for _, item := range items {
		node, _ := asNode(item.Interface())
		if node.ParentID == nil {
			roots = reflect.Append(roots, item)
			continue
		}
		parent, found := byID[*node.ParentID]
		if !found {
			roots = reflect.Append(roots, item)
			continue
		}
		childrenField := parent.Elem().FieldByName("Children")
		if !childrenField.IsValid() {
			return nil, fmt.Errorf("parent type is missing a Children field")
		}
		childrenField.Set(reflect.Append(childrenField, item))
	}

	return roots.Interface(), nil
}
