package normalize

import (
	"strings"

	"github.com/hanpama/graphcache/internal/execution"
	"github.com/hanpama/graphcache/internal/failure"
	"github.com/hanpama/graphcache/internal/response"
	"github.com/hanpama/graphcache/internal/store"
)

// Denormalize rebuilds the response ectx selects from st. Connections get
// their page info object back from the sequence they were folded into.
// Anything the query selects that st lacks is ErrCacheMiss.
func Denormalize(st *store.Store, ectx *execution.Context) (response.Value, error) {
	rec, ok := st.Get(ectx.RootKey)
	if !ok {
		return response.Value{}, failure.New(failure.ErrCacheMiss, nil, "no %s record", ectx.RootKey)
	}
	r := &reader{store: st, ectx: ectx}
	return r.record(ectx.Root(), rec, "", nil)
}

type reader struct {
	store *store.Store
	ectx  *execution.Context
}

func (r *reader) record(s *execution.Selection, rec store.Record, typename string, path failure.Path) (response.Value, error) {
	if t, ok := rec["__typename"]; ok && t.Kind == store.KindScalar {
		if name, ok := t.Scalar.(string); ok {
			typename = name
		}
	}
	stored := storedKeys(s, rec)
	sels, err := r.ectx.Resolve(s, typename, func(key string) bool { return stored[key] })
	if err != nil {
		return response.Value{}, failure.Prefix(err, path)
	}

	var keys []string
	fields := make(map[string]response.Value, len(sels))
	for _, sub := range sels {
		key := sub.ResponseKey()
		fpath := path.Append(key)
		var v response.Value
		if s.Connection() && sub == s.PageInfo {
			v = r.pageInfo(sub, rec[s.Items.StoreKey])
		} else {
			sv, ok := rec[sub.StoreKey]
			if !ok || sv.IsAbsent() {
				return response.Value{}, failure.New(failure.ErrCacheMiss, fpath, "field %s is not stored", sub.StoreKey)
			}
			v, err = r.value(sub, sv, fpath)
			if err != nil {
				return response.Value{}, err
			}
		}
		if prev, seen := fields[key]; seen {
			v = overlay(prev, v)
		} else {
			keys = append(keys, key)
		}
		fields[key] = v
	}
	return response.Obj(keys, fields), nil
}

func (r *reader) value(s *execution.Selection, v store.Value, path failure.Path) (response.Value, error) {
	switch v.Kind {
	case store.KindNull:
		return response.Nil(), nil
	case store.KindScalar:
		out, err := response.FromGo(v.Scalar)
		if err != nil {
			return response.Value{}, failure.New(failure.ErrShapeMismatch, path, "%v", err)
		}
		return out, nil
	case store.KindRef:
		rec, ok := r.store.Get(v.Ref)
		if !ok {
			return response.Value{}, failure.New(failure.ErrCacheMiss, path, "entity %s is not stored", v.Ref)
		}
		typename, _, _ := strings.Cut(string(v.Ref), ":")
		return r.record(s, rec, typename, path)
	case store.KindRecord:
		return r.record(s, v.Record, "", path)
	case store.KindSequence:
		items := make([]response.Value, len(v.Sequence.Items))
		for i, item := range v.Sequence.Items {
			iv, err := r.value(s, item.Value, path.Append(i))
			if err != nil {
				return response.Value{}, err
			}
			items[i] = iv
		}
		return response.Arr(items...), nil
	}
	return response.Value{}, failure.New(failure.ErrCacheMiss, path, "value is absent")
}

// pageInfo renders a sequence's page info as the object sel selects.
func (r *reader) pageInfo(sel *execution.Selection, items store.Value) response.Value {
	var pi store.PageInfo
	if items.Kind == store.KindSequence {
		pi = items.Sequence.PageInfo
	}
	words := r.ectx.Words.PageInfo
	var keys []string
	fields := map[string]response.Value{}
	for _, sub := range sel.Selections {
		var v response.Value
		switch sub.Name {
		case words.HasNext:
			v = flagValue(pi.HasNextPage)
		case words.HasPrevious:
			v = flagValue(pi.HasPreviousPage)
		case words.StartCursor:
			v = cursorValue(pi.StartCursor)
		case words.EndCursor:
			v = cursorValue(pi.EndCursor)
		case "__typename":
			v = response.Str(sel.TypeName)
		}
		if _, seen := fields[sub.ResponseKey()]; !seen {
			keys = append(keys, sub.ResponseKey())
		}
		fields[sub.ResponseKey()] = v
	}
	return response.Obj(keys, fields)
}

func flagValue(f store.Flag) response.Value {
	if !f.Known() {
		return response.Nil()
	}
	return response.Bool(f == store.Yes)
}

func cursorValue(c string) response.Value {
	if c == "" {
		return response.Nil()
	}
	return response.Str(c)
}

// storedKeys maps the response keys of every selection s may apply to
// whether rec holds a value for them.
func storedKeys(s *execution.Selection, rec store.Record) map[string]bool {
	out := map[string]bool{}
	mark := func(sels []*execution.Selection) {
		for _, sub := range sels {
			if v, ok := rec[sub.StoreKey]; ok && !v.IsAbsent() {
				out[sub.ResponseKey()] = true
			}
		}
	}
	mark(s.Selections)
	for _, cond := range s.BranchOrder {
		mark(s.Branches[cond])
	}
	return out
}

// overlay combines two renderings of the same response key, as produced
// when several branches select one field.
func overlay(a, b response.Value) response.Value {
	switch {
	case a.Kind() == response.Object && b.Kind() == response.Object:
		keys := append([]string(nil), a.Keys()...)
		fields := make(map[string]response.Value, len(keys))
		for _, k := range a.Keys() {
			fields[k], _ = a.Field(k)
		}
		for _, k := range b.Keys() {
			bv, _ := b.Field(k)
			if av, ok := fields[k]; ok {
				fields[k] = overlay(av, bv)
				continue
			}
			keys = append(keys, k)
			fields[k] = bv
		}
		return response.Obj(keys, fields)
	case a.Kind() == response.Array && b.Kind() == response.Array && len(a.Items()) == len(b.Items()):
		items := make([]response.Value, len(a.Items()))
		for i := range items {
			items[i] = overlay(a.Items()[i], b.Items()[i])
		}
		return response.Arr(items...)
	}
	return b
}
