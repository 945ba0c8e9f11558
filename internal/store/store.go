// Package store defines the normalized entity table produced from
// responses and combined by the merge engine.
//
// Entities live in one table keyed by entity key; nested entities are held
// as references (keys), never as owned objects. Values are treated as
// immutable once a Store has been handed out: builders create fresh
// records and the merge engine shares untouched ones between stores.
package store

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/hanpama/graphcache/internal/pagination"
)

type Key string

const (
	RootQuery        Key = "ROOT_QUERY"
	RootMutation     Key = "ROOT_MUTATION"
	RootSubscription Key = "ROOT_SUBSCRIPTION"
)

// EntityKey joins a type discriminator and an identity value.
func EntityKey(typename string, id any) Key {
	return Key(typename + ":" + FormatScalar(id))
}

// FormatScalar renders an identity or cursor value as text.
func FormatScalar(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

type Kind int

const (
	KindAbsent Kind = iota
	KindNull
	KindScalar
	KindRef
	KindRecord
	KindSequence
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindNull:
		return "null"
	case KindScalar:
		return "scalar"
	case KindRef:
		return "reference"
	case KindRecord:
		return "record"
	case KindSequence:
		return "sequence"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Value is one stored field value. The zero Value is the absent marker: a
// field that was selected but not returned.
type Value struct {
	Kind     Kind
	Scalar   any
	Ref      Key
	Record   Record
	Sequence *Sequence
}

func Null() Value                  { return Value{Kind: KindNull} }
func ScalarOf(v any) Value         { return Value{Kind: KindScalar, Scalar: v} }
func RefTo(k Key) Value            { return Value{Kind: KindRef, Ref: k} }
func RecordOf(r Record) Value      { return Value{Kind: KindRecord, Record: r} }
func SequenceOf(s *Sequence) Value { return Value{Kind: KindSequence, Sequence: s} }

func (v Value) IsAbsent() bool { return v.Kind == KindAbsent }

// Record maps a field's store key to its value.
type Record map[string]Value

// Flag is a page flag that may not have been fetched.
type Flag int

const (
	Unknown Flag = iota
	Yes
	No
)

func FlagOf(b bool) Flag {
	if b {
		return Yes
	}
	return No
}

func (f Flag) Known() bool { return f != Unknown }

func (f Flag) String() string {
	switch f {
	case Yes:
		return "yes"
	case No:
		return "no"
	}
	return "unknown"
}

type PageInfo struct {
	HasPreviousPage Flag
	HasNextPage     Flag
	StartCursor     string
	EndCursor       string
}

// Item is one element of a sequence. Identity is the deduplication key:
// the entity key of a referenced entity, or a content digest.
type Item struct {
	Value    Value
	Cursor   string
	Identity string
}

// Sequence is an ordered list value. Paginated sequences remember the
// window they were fetched with so later pages can be placed around them.
type Sequence struct {
	Items     []Item
	Paginated bool
	Direction pagination.Direction
	Cursor    string
	PageInfo  PageInfo
}

// Complete reports whether the whole list has been fetched.
func (s *Sequence) Complete() bool {
	return s.Paginated && s.PageInfo.HasPreviousPage == No && s.PageInfo.HasNextPage == No
}

func (s *Sequence) Identities() []string {
	ids := make([]string, len(s.Items))
	for i, item := range s.Items {
		ids[i] = item.Identity
	}
	return ids
}

type Store struct {
	Entities map[Key]Record
}

func New() *Store {
	return &Store{Entities: map[Key]Record{}}
}

func (s *Store) Get(k Key) (Record, bool) {
	r, ok := s.Entities[k]
	return r, ok
}

func (s *Store) Len() int { return len(s.Entities) }

// Keys returns the entity keys in sorted order.
func (s *Store) Keys() []Key {
	keys := make([]Key, 0, len(s.Entities))
	for k := range s.Entities {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

var ErrDanglingReference = errors.New("dangling reference")

// Validate reports the first reference (in key order) whose target entity
// is missing.
func (s *Store) Validate() error {
	for _, k := range s.Keys() {
		for _, field := range sortedFields(s.Entities[k]) {
			if err := s.validateValue(s.Entities[k][field]); err != nil {
				return fmt.Errorf("%s.%s: %w", k, field, err)
			}
		}
	}
	return nil
}

func (s *Store) validateValue(v Value) error {
	switch v.Kind {
	case KindRef:
		if _, ok := s.Entities[v.Ref]; !ok {
			return fmt.Errorf("%w to %s", ErrDanglingReference, v.Ref)
		}
	case KindRecord:
		for _, field := range sortedFields(v.Record) {
			if err := s.validateValue(v.Record[field]); err != nil {
				return fmt.Errorf("%s: %w", field, err)
			}
		}
	case KindSequence:
		for i, item := range v.Sequence.Items {
			if err := s.validateValue(item.Value); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
	}
	return nil
}

// Clone returns a deep copy that shares nothing with s.
func (s *Store) Clone() *Store {
	out := &Store{Entities: make(map[Key]Record, len(s.Entities))}
	for k, r := range s.Entities {
		out.Entities[k] = r.Clone()
	}
	return out
}

func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v.Clone()
	}
	return out
}

func (v Value) Clone() Value {
	switch v.Kind {
	case KindRecord:
		v.Record = v.Record.Clone()
	case KindSequence:
		seq := *v.Sequence
		if v.Sequence.Items != nil {
			seq.Items = make([]Item, len(v.Sequence.Items))
			for i, item := range v.Sequence.Items {
				item.Value = item.Value.Clone()
				seq.Items[i] = item
			}
		}
		v.Sequence = &seq
	}
	return v
}

func sortedFields(r Record) []string {
	fields := make([]string, 0, len(r))
	for f := range r {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
