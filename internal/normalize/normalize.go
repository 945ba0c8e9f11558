// Package normalize flattens responses into stores and rebuilds responses
// from them.
package normalize

import (
	"github.com/hanpama/graphcache/internal/execution"
	"github.com/hanpama/graphcache/internal/failure"
	"github.com/hanpama/graphcache/internal/merge"
	"github.com/hanpama/graphcache/internal/pagination"
	"github.com/hanpama/graphcache/internal/response"
	"github.com/hanpama/graphcache/internal/store"
)

// entities collects the records produced below one position.
type entities map[store.Key]store.Record

// Normalize walks data in lockstep with ectx and returns the store it
// describes. The root fields land in the record at ectx.RootKey.
func Normalize(data response.Value, ectx *execution.Context) (*store.Store, error) {
	if data.Kind() != response.Object {
		return nil, failure.New(failure.ErrShapeMismatch, nil, "response data is %s, not an object", data.Kind())
	}
	w := &walker{ectx: ectx, words: ectx.Words}
	root, ents, err := w.record(ectx.Root(), data, nil)
	if err != nil {
		return nil, err
	}
	if ents == nil {
		ents = entities{}
	}
	if err := ents.add(ectx.RootKey, root, nil); err != nil {
		return nil, err
	}
	return &store.Store{Entities: ents}, nil
}

type walker struct {
	ectx  *execution.Context
	words pagination.Words
}

// value normalizes v selected by s. inList is true for list elements.
func (w *walker) value(s *execution.Selection, v response.Value, path failure.Path, inList bool) (store.Value, entities, error) {
	custom := w.ectx.Schema().IsCustomScalar(s.TypeName)
	switch v.Kind() {
	case response.Null:
		return store.Null(), nil, nil
	case response.Array:
		if custom && !s.List {
			return store.ScalarOf(v.Interface()), nil, nil
		}
		if !inList && !s.List && s.TypeName != "" {
			return store.Value{}, nil, failure.New(failure.ErrShapeMismatch, path, "expected %s, got a list", s.TypeName)
		}
		return w.list(s, v.Items(), path)
	case response.Object:
		if s.Leaf() {
			if custom {
				return store.ScalarOf(v.Interface()), nil, nil
			}
			return store.Value{}, nil, failure.New(failure.ErrShapeMismatch, path, "expected a scalar, got an object")
		}
		if s.List && !inList {
			return store.Value{}, nil, failure.New(failure.ErrShapeMismatch, path, "expected a list, got an object")
		}
		return w.object(s, v, path)
	}
	if !s.Leaf() {
		return store.Value{}, nil, failure.New(failure.ErrShapeMismatch, path, "expected an object, got %s", v.Kind())
	}
	if s.List && !inList {
		return store.Value{}, nil, failure.New(failure.ErrShapeMismatch, path, "expected a list, got %s", v.Kind())
	}
	return store.ScalarOf(v.Scalar()), nil, nil
}

// object stores v as an entity when it carries an identity value and
// returns a reference to it; otherwise the record stays inline.
func (w *walker) object(s *execution.Selection, v response.Value, path failure.Path) (store.Value, entities, error) {
	rec, ents, err := w.record(s, v, path)
	if err != nil {
		return store.Value{}, nil, err
	}
	id, ok := v.Field(w.ectx.IdentityField)
	if !ok || id.IsNull() {
		return store.RecordOf(rec), ents, nil
	}
	switch id.Kind() {
	case response.String, response.Number, response.Boolean:
	default:
		return store.Value{}, nil, failure.New(failure.ErrShapeMismatch, path.Append(w.ectx.IdentityField),
			"identity must be a scalar, got %s", id.Kind())
	}
	key := store.EntityKey(typeOf(s, v), id.Scalar())
	if ents == nil {
		ents = entities{}
	}
	if err := ents.add(key, rec, path); err != nil {
		return store.Value{}, nil, err
	}
	return store.RefTo(key), ents, nil
}

// typeOf names the type part of an entity key.
func typeOf(s *execution.Selection, v response.Value) string {
	if t, ok := v.Field("__typename"); ok && t.Kind() == response.String {
		return t.Scalar().(string)
	}
	if s.TypeName != "" {
		return s.TypeName
	}
	return s.Name
}

// record normalizes the selected fields of one object.
func (w *walker) record(s *execution.Selection, v response.Value, path failure.Path) (store.Record, entities, error) {
	typename := ""
	if t, ok := v.Field("__typename"); ok && t.Kind() == response.String {
		typename = t.Scalar().(string)
	}
	sels, err := w.ectx.Resolve(s, typename, func(key string) bool {
		_, ok := v.Field(key)
		return ok
	})
	if err != nil {
		return nil, nil, failure.Prefix(err, path)
	}

	rec := make(store.Record, len(sels))
	var ents entities
	for _, sub := range sels {
		if s.Connection() && sub == s.PageInfo {
			continue
		}
		key := sub.ResponseKey()
		fv, ok := v.Field(key)
		if !ok {
			if _, seen := rec[sub.StoreKey]; !seen {
				rec[sub.StoreKey] = store.Value{}
			}
			continue
		}
		fpath := path.Append(key)
		val, subEnts, err := w.field(sub, fv, fpath)
		if err != nil {
			return nil, nil, err
		}
		if s.Connection() && sub == s.Items && val.Kind == store.KindSequence {
			w.paginate(val.Sequence, s, v)
		}
		if prev, seen := rec[sub.StoreKey]; seen {
			val, err = merge.Values(prev, val)
			if err != nil {
				return nil, nil, failure.Prefix(err, fpath)
			}
		}
		rec[sub.StoreKey] = val
		if ents, err = ents.merge(subEnts, fpath); err != nil {
			return nil, nil, err
		}
	}
	return rec, ents, nil
}

// field normalizes one field value. Windowed lists that are not
// connections carry their own pagination.
func (w *walker) field(s *execution.Selection, v response.Value, path failure.Path) (store.Value, entities, error) {
	val, ents, err := w.value(s, v, path, false)
	if err != nil {
		return store.Value{}, nil, err
	}
	if s.Paginated() && !s.Connection() && val.Kind == store.KindSequence {
		w.paginate(val.Sequence, s, response.Nil())
	}
	return val, ents, nil
}

func (w *walker) list(s *execution.Selection, items []response.Value, path failure.Path) (store.Value, entities, error) {
	seq := &store.Sequence{Items: make([]store.Item, 0, len(items))}
	cursorKey := responseKeyOf(s, w.words.Cursor)
	nodeKey := storeKeyOf(s, w.words.Node)
	var ents entities
	for i, iv := range items {
		ipath := path.Append(i)
		val, itemEnts, err := w.value(s, iv, ipath, true)
		if err != nil {
			return store.Value{}, nil, err
		}
		if ents, err = ents.merge(itemEnts, ipath); err != nil {
			return store.Value{}, nil, err
		}
		item := store.Item{Value: val}
		if cursorKey != "" {
			if c, ok := iv.Field(cursorKey); ok && !c.IsNull() {
				item.Cursor = store.FormatScalar(c.Scalar())
			}
		}
		switch {
		case val.Kind == store.KindRef:
			item.Identity = string(val.Ref)
		case val.Kind == store.KindRecord && nodeKey != "" && val.Record[nodeKey].Kind == store.KindRef:
			item.Identity = string(val.Record[nodeKey].Ref)
		default:
			item.Identity = store.ContentIdentity(val)
		}
		seq.Items = append(seq.Items, item)
	}
	return store.SequenceOf(seq), ents, nil
}

// paginate marks seq as one page fetched through owner. Page info is read
// from obj, the connection object, when the vocabulary places it there.
func (w *walker) paginate(seq *store.Sequence, owner *execution.Selection, obj response.Value) {
	intent := owner.Intent
	seq.Paginated = true
	seq.Direction = intent.Direction
	seq.Cursor = intent.Cursor

	words := w.words.PageInfo
	info, infoSel := obj, owner
	if words.Field != "" {
		info, infoSel = response.Nil(), owner.PageInfo
		if owner.PageInfo != nil {
			info, _ = obj.Field(owner.PageInfo.ResponseKey())
		}
	}
	if infoSel != nil && info.Kind() == response.Object {
		seq.PageInfo.HasNextPage = flagField(info, responseKeyOf(infoSel, words.HasNext))
		seq.PageInfo.HasPreviousPage = flagField(info, responseKeyOf(infoSel, words.HasPrevious))
		seq.PageInfo.StartCursor = cursorField(info, responseKeyOf(infoSel, words.StartCursor))
		seq.PageInfo.EndCursor = cursorField(info, responseKeyOf(infoSel, words.EndCursor))
	}

	pi := &seq.PageInfo
	if intent.Cursor == "" {
		if intent.Direction == pagination.Forward && !pi.HasPreviousPage.Known() {
			pi.HasPreviousPage = store.No
		}
		if intent.Direction == pagination.Backward && !pi.HasNextPage.Known() {
			pi.HasNextPage = store.No
		}
	}
	if intent.Count != nil && len(seq.Items) < *intent.Count {
		if intent.Direction == pagination.Forward && !pi.HasNextPage.Known() {
			pi.HasNextPage = store.No
		}
		if intent.Direction == pagination.Backward && !pi.HasPreviousPage.Known() {
			pi.HasPreviousPage = store.No
		}
	}
	if n := len(seq.Items); n > 0 {
		if pi.StartCursor == "" {
			pi.StartCursor = seq.Items[0].Cursor
		}
		if pi.EndCursor == "" {
			pi.EndCursor = seq.Items[n-1].Cursor
		}
	}
}

func flagField(obj response.Value, key string) store.Flag {
	if key == "" {
		return store.Unknown
	}
	v, ok := obj.Field(key)
	if !ok || v.Kind() != response.Boolean {
		return store.Unknown
	}
	return store.FlagOf(v.Scalar().(bool))
}

func cursorField(obj response.Value, key string) string {
	if key == "" {
		return ""
	}
	v, ok := obj.Field(key)
	if !ok || v.IsNull() {
		return ""
	}
	return store.FormatScalar(v.Scalar())
}

// responseKeyOf returns the response key of the subfield of s named name,
// or name itself when s does not select it.
func responseKeyOf(s *execution.Selection, name string) string {
	if name == "" {
		return ""
	}
	if sub := subfield(s, name); sub != nil {
		return sub.ResponseKey()
	}
	return name
}

func storeKeyOf(s *execution.Selection, name string) string {
	if name == "" {
		return ""
	}
	if sub := subfield(s, name); sub != nil {
		return sub.StoreKey
	}
	return name
}

func subfield(s *execution.Selection, name string) *execution.Selection {
	if s == nil {
		return nil
	}
	for _, sub := range s.Selections {
		if sub.Name == name {
			return sub
		}
	}
	return nil
}

// add writes rec under key, merging with a record already written there.
func (e entities) add(key store.Key, rec store.Record, path failure.Path) error {
	prev, ok := e[key]
	if !ok {
		e[key] = rec
		return nil
	}
	merged, err := merge.Records(prev, rec)
	if err != nil {
		return failure.Prefix(err, path)
	}
	e[key] = merged
	return nil
}

// merge folds other into e, allocating e when needed.
func (e entities) merge(other entities, path failure.Path) (entities, error) {
	if len(other) == 0 {
		return e, nil
	}
	if e == nil {
		return other, nil
	}
	for k, rec := range other {
		if err := e.add(k, rec, path); err != nil {
			return nil, err
		}
	}
	return e, nil
}
