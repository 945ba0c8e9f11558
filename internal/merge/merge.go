// Package merge combines normalized stores. Merging is pure: neither input
// is modified and records only one side has are shared with the result.
package merge

import (
	"sort"

	"github.com/hanpama/graphcache/internal/failure"
	"github.com/hanpama/graphcache/internal/pagination"
	"github.com/hanpama/graphcache/internal/store"
)

// Stores returns the union of a and b, entity by entity. b wins scalar
// conflicts.
func Stores(a, b *store.Store) (*store.Store, error) {
	switch {
	case a == nil && b == nil:
		return store.New(), nil
	case a == nil:
		return b, nil
	case b == nil || a == b:
		return a, nil
	}
	out := &store.Store{Entities: make(map[store.Key]store.Record, len(a.Entities)+len(b.Entities))}
	for k, r := range a.Entities {
		out.Entities[k] = r
	}
	// Key order keeps the reported conflict stable.
	for _, k := range b.Keys() {
		br := b.Entities[k]
		ar, ok := out.Entities[k]
		if !ok {
			out.Entities[k] = br
			continue
		}
		merged, err := Records(ar, br)
		if err != nil {
			return nil, failure.Prefix(err, failure.Path{string(k)})
		}
		out.Entities[k] = merged
	}
	return out, nil
}

// Records merges two records field by field.
func Records(a, b store.Record) (store.Record, error) {
	if a == nil {
		return b, nil
	}
	if b == nil {
		return a, nil
	}
	out := make(store.Record, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for _, k := range sortedKeys(b) {
		bv := b[k]
		av, ok := out[k]
		if !ok {
			out[k] = bv
			continue
		}
		merged, err := Values(av, bv)
		if err != nil {
			return nil, failure.Prefix(err, failure.Path{k})
		}
		out[k] = merged
	}
	return out, nil
}

// Values merges two values stored under the same field.
func Values(a, b store.Value) (store.Value, error) {
	switch {
	case b.IsAbsent():
		return a, nil
	case a.IsAbsent():
		return b, nil
	case a.Kind == store.KindNull || b.Kind == store.KindNull:
		return b, nil
	case a.Kind != b.Kind:
		return store.Value{}, failure.New(failure.ErrMergeConflict, nil, "cannot merge %s with %s", a.Kind, b.Kind)
	}
	switch a.Kind {
	case store.KindRecord:
		r, err := Records(a.Record, b.Record)
		if err != nil {
			return store.Value{}, err
		}
		return store.RecordOf(r), nil
	case store.KindSequence:
		s, err := Sequences(a.Sequence, b.Sequence)
		if err != nil {
			return store.Value{}, err
		}
		return store.SequenceOf(s), nil
	}
	return b, nil
}

// side tags an item with the sequence it came from.
type side int

const (
	left side = iota
	right

	unpinned side = -1
)

type placed struct {
	item  store.Item
	owner side
}

// Sequences merges two lists held under the same field. When either is
// paginated the pages are ordered by their cursors and flags; otherwise
// a's items come first. Items sharing an entity key appear once, at the
// first position, with later occurrences merged into them.
func Sequences(a, b *store.Sequence) (*store.Sequence, error) {
	switch {
	case a == nil:
		return b, nil
	case b == nil:
		return a, nil
	}
	if !a.Paginated && !b.Paginated {
		items, err := dedupe(concat(a, b, left))
		if err != nil {
			return nil, err
		}
		return &store.Sequence{Items: itemsOf(items)}, nil
	}

	l := order(a, b)
	items, err := dedupe(l.items)
	if err != nil {
		return nil, err
	}
	sides := [2]*store.Sequence{a, b}
	out := &store.Sequence{Items: itemsOf(items), Paginated: true}

	if len(items) > 0 {
		head, tail := items[0].owner, items[len(items)-1].owner
		if l.head != unpinned {
			head = l.head
		}
		if l.tail != unpinned {
			tail = l.tail
		}
		first, last := sides[head], sides[tail]
		out.PageInfo.HasPreviousPage = first.PageInfo.HasPreviousPage
		out.PageInfo.HasNextPage = last.PageInfo.HasNextPage
		out.PageInfo.StartCursor = items[0].item.Cursor
		if out.PageInfo.StartCursor == "" {
			out.PageInfo.StartCursor = first.PageInfo.StartCursor
		}
		out.PageInfo.EndCursor = items[len(items)-1].item.Cursor
		if out.PageInfo.EndCursor == "" {
			out.PageInfo.EndCursor = last.PageInfo.EndCursor
		}
	} else {
		out.PageInfo = store.PageInfo{
			HasPreviousPage: knownFlag(b.PageInfo.HasPreviousPage, a.PageInfo.HasPreviousPage),
			HasNextPage:     knownFlag(b.PageInfo.HasNextPage, a.PageInfo.HasNextPage),
		}
	}

	anchor := anchorOf(a, b, items)
	out.Direction, out.Cursor = anchor.Direction, anchor.Cursor
	return out, nil
}

// layout is the placement of two sequences' items. head and tail pin the
// side whose page forms that end of the result, which may be a page that
// contributed no items. Unpinned ends belong to the owner of the end item.
type layout struct {
	items      []placed
	head, tail side
}

func unspliced(items []placed) layout {
	return layout{items: items, head: unpinned, tail: unpinned}
}

// order places a's and b's items relative to each other. The first signal
// found decides: a cursor one side was fetched with appearing in the
// other, a shared item, opposite pages around one cursor, then the
// end-of-list flags. Without any of them a's items come first.
func order(a, b *store.Sequence) layout {
	if l, ok := splice(a, b, left); ok {
		return l
	}
	if l, ok := splice(b, a, right); ok {
		return l
	}
	if aBefore, bBefore, ok := firstShared(a, b); ok {
		if aBefore >= bBefore {
			return unspliced(concat(a, b, left))
		}
		return unspliced(concat(b, a, right))
	}
	if a.Cursor != "" && a.Cursor == b.Cursor && a.Direction != b.Direction {
		if a.Direction == pagination.Backward {
			return unspliced(concat(a, b, left))
		}
		return unspliced(concat(b, a, right))
	}
	switch {
	case a.PageInfo.HasPreviousPage == store.No:
		return unspliced(concat(a, b, left))
	case b.PageInfo.HasPreviousPage == store.No:
		return unspliced(concat(b, a, right))
	case b.PageInfo.HasNextPage == store.No:
		return unspliced(concat(a, b, left))
	case a.PageInfo.HasNextPage == store.No:
		return unspliced(concat(b, a, right))
	}
	return unspliced(concat(a, b, left))
}

// splice inserts inner's items into outer at the cursor inner was fetched
// with. outerSide tells which input outer is. Inner owns an end of the
// result when it lands past outer's last item or before its first.
func splice(outer, inner *store.Sequence, outerSide side) (layout, bool) {
	if !inner.Paginated || inner.Cursor == "" {
		return layout{}, false
	}
	at := -1
	for i, item := range outer.Items {
		if item.Cursor == inner.Cursor {
			at = i
			break
		}
	}
	switch {
	case at >= 0 && inner.Direction == pagination.Forward:
		at++
	case at >= 0:
	case inner.Direction == pagination.Forward && inner.Cursor == outer.PageInfo.EndCursor:
		at = len(outer.Items)
	case inner.Direction == pagination.Backward && inner.Cursor == outer.PageInfo.StartCursor:
		at = 0
	default:
		return layout{}, false
	}
	innerSide := otherSide(outerSide)
	l := layout{head: unpinned, tail: unpinned}
	if at == 0 {
		l.head = innerSide
	}
	if at == len(outer.Items) {
		l.tail = innerSide
	}
	l.items = make([]placed, 0, len(outer.Items)+len(inner.Items))
	l.items = appendItems(l.items, outer.Items[:at], outerSide)
	l.items = appendItems(l.items, inner.Items, innerSide)
	l.items = appendItems(l.items, outer.Items[at:], outerSide)
	return l, true
}

// firstShared finds the first item of a that b also has, and returns how
// many items precede it on each side.
func firstShared(a, b *store.Sequence) (aBefore, bBefore int, ok bool) {
	pos := make(map[string]int, len(b.Items))
	for i, item := range b.Items {
		if _, seen := pos[item.Identity]; !seen && item.Identity != "" {
			pos[item.Identity] = i
		}
	}
	for i, item := range a.Items {
		if j, found := pos[item.Identity]; found {
			return i, j, true
		}
	}
	return 0, 0, false
}

// anchorOf picks the window the merged sequence is remembered by, so that
// later pages can still be spliced against it.
func anchorOf(a, b *store.Sequence, items []placed) *store.Sequence {
	for _, dir := range []pagination.Direction{pagination.Forward, pagination.Backward} {
		for _, s := range []*store.Sequence{a, b} {
			if s.Paginated && s.Direction == dir && s.Cursor == "" {
				return s
			}
		}
	}
	sides := [2]*store.Sequence{a, b}
	if len(items) == 0 {
		return a
	}
	first := sides[items[0].owner]
	if first.Direction == pagination.Forward {
		return first
	}
	return sides[items[len(items)-1].owner]
}

func concat(first, second *store.Sequence, firstSide side) []placed {
	out := make([]placed, 0, len(first.Items)+len(second.Items))
	out = appendItems(out, first.Items, firstSide)
	return appendItems(out, second.Items, otherSide(firstSide))
}

func appendItems(out []placed, items []store.Item, owner side) []placed {
	for _, item := range items {
		out = append(out, placed{item: item, owner: owner})
	}
	return out
}

// dedupe folds items sharing an entity key into the first one. Items
// identified by content only pair up across sides, one for one, so a
// list holding the same value twice keeps both.
func dedupe(items []placed) ([]placed, error) {
	out := make([]placed, 0, len(items))
	at := make(map[string]int, len(items))
	unpaired := make(map[string][2][]int)
	for _, p := range items {
		id := p.item.Identity
		if id == "" {
			out = append(out, p)
			continue
		}
		var i int
		if store.IsContentIdentity(id) {
			open := unpaired[id]
			other := otherSide(p.owner)
			if len(open[other]) == 0 {
				open[p.owner] = append(open[p.owner], len(out))
				unpaired[id] = open
				out = append(out, p)
				continue
			}
			i, open[other] = open[other][0], open[other][1:]
			unpaired[id] = open
		} else {
			var seen bool
			if i, seen = at[id]; !seen {
				at[id] = len(out)
				out = append(out, p)
				continue
			}
		}
		v, err := Values(out[i].item.Value, p.item.Value)
		if err != nil {
			return nil, failure.Prefix(err, failure.Path{i})
		}
		out[i].item.Value = v
		if p.item.Cursor != "" {
			out[i].item.Cursor = p.item.Cursor
		}
	}
	return out, nil
}

func itemsOf(items []placed) []store.Item {
	out := make([]store.Item, len(items))
	for i, p := range items {
		out[i] = p.item
	}
	return out
}

func otherSide(s side) side {
	if s == left {
		return right
	}
	return left
}

func knownFlag(flags ...store.Flag) store.Flag {
	for _, f := range flags {
		if f.Known() {
			return f
		}
	}
	return store.Unknown
}

func sortedKeys(r store.Record) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
