package diff

import (
	"sort"
	"strconv"

	"github.com/dshills/respdiff/internal/jsonvalue"
)

// frame is a pending unit of the structural walk: either a pair of values
// to compare or a record ready to be emitted.
type frame struct {
	path        string
	left, right jsonvalue.Value
	record      *Record
}

// Diff walks left and right together and reports every type change,
// missing member or element, and changed scalar, in depth-first order.
// The walk keeps its own stack, so nesting depth is bounded only by memory.
func (d *Differ) Diff(left, right jsonvalue.Value) []Record {
	var out []Record
	stack := []frame{{left: left, right: right}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.record != nil {
			out = d.appendRecord(out, *f.record)
			continue
		}

		if f.left.Kind() != f.right.Kind() {
			out = d.appendRecord(out, Record{
				Path:  f.path,
				Kind:  KindTypeChange,
				Left:  truncate(jsonvalue.Render(f.left)),
				Right: truncate(jsonvalue.Render(f.right)),
			})
			continue
		}

		var children []frame
		switch f.left.Kind() {
		case jsonvalue.Object:
			children = objectChildren(f)
		case jsonvalue.Array:
			children = arrayChildren(f)
		default:
			if !jsonvalue.ScalarEqual(f.left, f.right) {
				out = d.appendRecord(out, Record{
					Path:  f.path,
					Kind:  KindValueChange,
					Left:  truncate(jsonvalue.Render(f.left)),
					Right: truncate(jsonvalue.Render(f.right)),
				})
			}
			continue
		}

		// push in reverse so the first child is handled next
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}

	return out
}

func (d *Differ) appendRecord(out []Record, r Record) []Record {
	if d.Excluded(r.Path) {
		return out
	}
	return append(out, r)
}

func objectChildren(f frame) []frame {
	keys := make(map[string]struct{}, f.left.Len()+f.right.Len())
	for _, m := range f.left.Members() {
		keys[m.Key] = struct{}{}
	}
	for _, m := range f.right.Members() {
		keys[m.Key] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	children := make([]frame, 0, len(sorted))
	for _, k := range sorted {
		path := joinKey(f.path, k)
		l, inLeft := f.left.Get(k)
		r, inRight := f.right.Get(k)
		children = append(children, child(path, l, inLeft, r, inRight))
	}
	return children
}

func arrayChildren(f frame) []frame {
	n := max(f.left.Len(), f.right.Len())
	children := make([]frame, 0, n)
	for i := 0; i < n; i++ {
		path := f.path + "[" + strconv.Itoa(i) + "]"
		l, inLeft := f.left.Index(i)
		r, inRight := f.right.Index(i)
		children = append(children, child(path, l, inLeft, r, inRight))
	}
	return children
}

func child(path string, l jsonvalue.Value, inLeft bool, r jsonvalue.Value, inRight bool) frame {
	switch {
	case !inLeft:
		return frame{record: &Record{
			Path:  path,
			Kind:  KindMissingLeft,
			Left:  Missing,
			Right: truncate(jsonvalue.Render(r)),
		}}
	case !inRight:
		return frame{record: &Record{
			Path:  path,
			Kind:  KindMissingRight,
			Left:  truncate(jsonvalue.Render(l)),
			Right: Missing,
		}}
	}
	return frame{path: path, left: l, right: r}
}

func joinKey(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
