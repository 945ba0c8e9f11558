package store

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/hanpama/graphcache/internal/pagination"
	"github.com/hanpama/graphcache/internal/response"
)

// Wire tags. GraphQL names cannot start with '$', so they never collide
// with stored fields.
const (
	tagRef      = "$ref"
	tagAbsent   = "$absent"
	tagScalar   = "$scalar"
	tagSequence = "$sequence"
)

// Encode renders the store as JSON, entity keys in sorted order.
func (s *Store) Encode(pretty bool) ([]byte, error) {
	doc := make(map[string]any, len(s.Entities))
	for k, r := range s.Entities {
		doc[string(k)] = recordWire(r)
	}
	if pretty {
		return json.MarshalIndent(doc, "", "  ")
	}
	return json.Marshal(doc)
}

func recordWire(r Record) map[string]any {
	out := make(map[string]any, len(r))
	for f, v := range r {
		out[f] = valueWire(v)
	}
	return out
}

func valueWire(v Value) any {
	switch v.Kind {
	case KindAbsent:
		return map[string]any{tagAbsent: true}
	case KindNull:
		return nil
	case KindScalar:
		switch v.Scalar.(type) {
		case map[string]any, []any:
			return map[string]any{tagScalar: v.Scalar}
		}
		return v.Scalar
	case KindRef:
		return map[string]any{tagRef: string(v.Ref)}
	case KindRecord:
		return recordWire(v.Record)
	case KindSequence:
		return map[string]any{tagSequence: sequenceWire(v.Sequence)}
	}
	return nil
}

func sequenceWire(s *Sequence) map[string]any {
	items := make([]any, len(s.Items))
	for i, item := range s.Items {
		w := map[string]any{"value": valueWire(item.Value), "identity": item.Identity}
		if item.Cursor != "" {
			w["cursor"] = item.Cursor
		}
		items[i] = w
	}
	out := map[string]any{"items": items}
	if !s.Paginated {
		return out
	}
	out["paginated"] = true
	out["direction"] = s.Direction.String()
	if s.Cursor != "" {
		out["cursor"] = s.Cursor
	}
	pi := map[string]any{}
	if s.PageInfo.HasPreviousPage.Known() {
		pi["hasPreviousPage"] = s.PageInfo.HasPreviousPage == Yes
	}
	if s.PageInfo.HasNextPage.Known() {
		pi["hasNextPage"] = s.PageInfo.HasNextPage == Yes
	}
	if s.PageInfo.StartCursor != "" {
		pi["startCursor"] = s.PageInfo.StartCursor
	}
	if s.PageInfo.EndCursor != "" {
		pi["endCursor"] = s.PageInfo.EndCursor
	}
	out["pageInfo"] = pi
	return out
}

// Decode reads the form written by Encode.
func Decode(data []byte) (*Store, error) {
	doc, err := response.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("decode store: %w", err)
	}
	if doc.Kind() != response.Object {
		return nil, fmt.Errorf("decode store: expected object, got %s", doc.Kind())
	}
	s := New()
	for _, k := range doc.Keys() {
		raw, _ := doc.Field(k)
		if raw.Kind() != response.Object {
			return nil, fmt.Errorf("decode store: entity %s: expected object, got %s", k, raw.Kind())
		}
		r, err := recordFromWire(raw)
		if err != nil {
			return nil, fmt.Errorf("decode store: entity %s: %w", k, err)
		}
		s.Entities[Key(k)] = r
	}
	return s, nil
}

func recordFromWire(raw response.Value) (Record, error) {
	r := make(Record, len(raw.Keys()))
	for _, f := range raw.Keys() {
		fv, _ := raw.Field(f)
		v, err := valueFromWire(fv)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		r[f] = v
	}
	return r, nil
}

func valueFromWire(raw response.Value) (Value, error) {
	switch raw.Kind() {
	case response.Null:
		return Null(), nil
	case response.String, response.Number, response.Boolean:
		return ScalarOf(raw.Scalar()), nil
	case response.Array:
		return Value{}, fmt.Errorf("bare array; lists are stored as %s", tagSequence)
	}
	if keys := raw.Keys(); len(keys) == 1 {
		inner, _ := raw.Field(keys[0])
		switch keys[0] {
		case tagRef:
			if inner.Kind() != response.String {
				return Value{}, fmt.Errorf("%s must be a string", tagRef)
			}
			return RefTo(Key(inner.Scalar().(string))), nil
		case tagAbsent:
			return Value{}, nil
		case tagScalar:
			return ScalarOf(inner.Interface()), nil
		case tagSequence:
			seq, err := sequenceFromWire(inner)
			if err != nil {
				return Value{}, err
			}
			return SequenceOf(seq), nil
		}
	}
	r, err := recordFromWire(raw)
	if err != nil {
		return Value{}, err
	}
	return RecordOf(r), nil
}

func sequenceFromWire(raw response.Value) (*Sequence, error) {
	str := func(v response.Value, name string) string {
		f, ok := v.Field(name)
		if !ok || f.Kind() != response.String {
			return ""
		}
		return f.Scalar().(string)
	}
	flag := func(v response.Value, name string) Flag {
		f, ok := v.Field(name)
		if !ok || f.Kind() != response.Boolean {
			return Unknown
		}
		return FlagOf(f.Scalar().(bool))
	}

	seq := &Sequence{}
	items, _ := raw.Field("items")
	if items.Kind() != response.Array {
		return nil, fmt.Errorf("%s.items must be an array", tagSequence)
	}
	seq.Items = make([]Item, 0, len(items.Items()))
	for i, w := range items.Items() {
		fv, ok := w.Field("value")
		if !ok {
			return nil, fmt.Errorf("[%d]: missing value", i)
		}
		v, err := valueFromWire(fv)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		seq.Items = append(seq.Items, Item{Value: v, Cursor: str(w, "cursor"), Identity: str(w, "identity")})
	}
	if p, ok := raw.Field("paginated"); ok && p.Kind() == response.Boolean && p.Scalar().(bool) {
		seq.Paginated = true
		seq.Direction = pagination.ParseDirection(str(raw, "direction"))
		seq.Cursor = str(raw, "cursor")
		pi, _ := raw.Field("pageInfo")
		seq.PageInfo = PageInfo{
			HasPreviousPage: flag(pi, "hasPreviousPage"),
			HasNextPage:     flag(pi, "hasNextPage"),
			StartCursor:     str(pi, "startCursor"),
			EndCursor:       str(pi, "endCursor"),
		}
	}
	return seq, nil
}
