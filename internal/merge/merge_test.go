package merge

import (
	"errors"
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphcache/internal/failure"
	"github.com/hanpama/graphcache/internal/pagination"
	"github.com/hanpama/graphcache/internal/store"
)

// page builds a sequence of post references with cursors "c<id>".
func page(dir pagination.Direction, cursor string, prev, next store.Flag, ids ...string) *store.Sequence {
	s := &store.Sequence{
		Items:     make([]store.Item, 0, len(ids)),
		Paginated: true,
		Direction: dir,
		Cursor:    cursor,
		PageInfo:  store.PageInfo{HasPreviousPage: prev, HasNextPage: next},
	}
	for _, id := range ids {
		key := store.Key("Post:" + id)
		s.Items = append(s.Items, store.Item{Value: store.RefTo(key), Cursor: "c" + id, Identity: string(key)})
	}
	if len(ids) > 0 {
		s.PageInfo.StartCursor = "c" + ids[0]
		s.PageInfo.EndCursor = "c" + ids[len(ids)-1]
	}
	return s
}

func ids(s *store.Sequence) []string {
	out := make([]string, len(s.Items))
	for i, item := range s.Items {
		out[i] = string(item.Value.Ref)[len("Post:"):]
	}
	return out
}

func mustSequences(t *testing.T, a, b *store.Sequence) *store.Sequence {
	t.Helper()
	out, err := Sequences(a, b)
	require.NoError(t, err)
	return out
}

func TestValues(t *testing.T) {
	tests := []struct {
		name string
		a, b store.Value
		want store.Value
	}{
		{"absent right keeps left", store.ScalarOf("x"), store.Value{}, store.ScalarOf("x")},
		{"absent left takes right", store.Value{}, store.ScalarOf("y"), store.ScalarOf("y")},
		{"right scalar wins", store.ScalarOf("x"), store.ScalarOf("y"), store.ScalarOf("y")},
		{"null replaces", store.RefTo("User:1"), store.Null(), store.Null()},
		{"replaces null", store.Null(), store.RecordOf(store.Record{"a": store.ScalarOf(1)}), store.RecordOf(store.Record{"a": store.ScalarOf(1)})},
		{"right ref wins", store.RefTo("User:1"), store.RefTo("User:2"), store.RefTo("User:2")},
		{
			"records recurse",
			store.RecordOf(store.Record{"a": store.ScalarOf(1), "b": store.ScalarOf(2)}),
			store.RecordOf(store.Record{"b": store.ScalarOf(3), "c": store.Value{}}),
			store.RecordOf(store.Record{"a": store.ScalarOf(1), "b": store.ScalarOf(3), "c": store.Value{}}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Values(tt.a, tt.b)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Values mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMergeConflict(t *testing.T) {
	a := &store.Store{Entities: map[store.Key]store.Record{
		"User:1": {"profile": store.RecordOf(store.Record{"bio": store.ScalarOf("x")})},
	}}
	b := &store.Store{Entities: map[store.Key]store.Record{
		"User:1": {"profile": store.RecordOf(store.Record{"bio": store.RecordOf(store.Record{})})},
	}}
	_, err := Stores(a, b)
	require.ErrorIs(t, err, failure.ErrMergeConflict)

	var fe *failure.Error
	require.True(t, errors.As(err, &fe))
	require.Equal(t, "User:1.profile.bio", fe.Path.String())

	_, err = Values(store.ScalarOf(1), store.SequenceOf(&store.Sequence{}))
	require.ErrorIs(t, err, failure.ErrMergeConflict)
}

func TestStoresArePure(t *testing.T) {
	a := &store.Store{Entities: map[store.Key]store.Record{
		"ROOT_QUERY": {"viewer": store.RefTo("User:1")},
		"User:1":     {"id": store.ScalarOf("1"), "name": store.Value{}},
		"Post:1":     {"id": store.ScalarOf("1")},
	}}
	b := &store.Store{Entities: map[store.Key]store.Record{
		"User:1": {"id": store.ScalarOf("1"), "name": store.ScalarOf("Ann")},
		"Post:2": {"id": store.ScalarOf("2")},
	}}
	aBefore, bBefore := a.Clone(), b.Clone()

	out, err := Stores(a, b)
	require.NoError(t, err)
	require.Equal(t, 4, out.Len())
	require.Equal(t, store.ScalarOf("Ann"), out.Entities["User:1"]["name"])

	if diff := cmp.Diff(aBefore, a); diff != "" {
		t.Errorf("left input changed (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(bBefore, b); diff != "" {
		t.Errorf("right input changed (-want +got):\n%s", diff)
	}

	// Records only one side holds are shared, not copied.
	same := func(x, y store.Record) bool { return reflect.ValueOf(x).Pointer() == reflect.ValueOf(y).Pointer() }
	require.True(t, same(a.Entities["Post:1"], out.Entities["Post:1"]))
	require.True(t, same(b.Entities["Post:2"], out.Entities["Post:2"]))
	require.False(t, same(a.Entities["User:1"], out.Entities["User:1"]))

	got, err := Stores(nil, b)
	require.NoError(t, err)
	require.Same(t, b, got)
	got, err = Stores(nil, nil)
	require.NoError(t, err)
	require.Equal(t, 0, got.Len())
}

func TestMergeWithSelf(t *testing.T) {
	s := &store.Store{Entities: map[store.Key]store.Record{
		"ROOT_QUERY": {
			"posts": store.RecordOf(store.Record{
				"edges": store.SequenceOf(page(pagination.Forward, "c2", store.Yes, store.Yes, "3", "4")),
			}),
			"tags": store.SequenceOf(&store.Sequence{Items: []store.Item{
				{Value: store.ScalarOf("a"), Identity: store.ContentIdentity(store.ScalarOf("a"))},
			}}),
		},
	}}
	out, err := Stores(s, s.Clone())
	require.NoError(t, err)
	if diff := cmp.Diff(s, out); diff != "" {
		t.Errorf("merge with self changed the store (-want +got):\n%s", diff)
	}
}

func TestPaginatedOrder(t *testing.T) {
	fwd, bwd := pagination.Forward, pagination.Backward
	yes, no, unknown := store.Yes, store.No, store.Unknown

	t.Run("forward cursor splices after", func(t *testing.T) {
		a := page(fwd, "", no, yes, "1", "2", "3")
		b := page(fwd, "c3", yes, yes, "4", "5")
		require.Equal(t, []string{"1", "2", "3", "4", "5"}, ids(mustSequences(t, a, b)))
		require.Equal(t, []string{"1", "2", "3", "4", "5"}, ids(mustSequences(t, b, a)))
	})

	t.Run("forward cursor in the middle", func(t *testing.T) {
		a := page(fwd, "", no, yes, "1", "2", "5", "6")
		b := page(fwd, "c2", yes, yes, "3", "4")
		require.Equal(t, []string{"1", "2", "3", "4", "5", "6"}, ids(mustSequences(t, a, b)))
	})

	t.Run("backward cursor splices before", func(t *testing.T) {
		a := page(bwd, "", yes, no, "8", "9", "10")
		b := page(bwd, "c8", yes, yes, "6", "7")
		got := mustSequences(t, a, b)
		require.Equal(t, []string{"6", "7", "8", "9", "10"}, ids(got))
		require.Equal(t, bwd, got.Direction)
		require.Equal(t, "", got.Cursor)
		require.Equal(t, store.PageInfo{HasPreviousPage: yes, HasNextPage: no, StartCursor: "c6", EndCursor: "c10"}, got.PageInfo)
	})

	t.Run("page info boundary", func(t *testing.T) {
		a := page(fwd, "", no, yes, "1", "2")
		a.Items[1].Cursor = ""
		b := page(fwd, "c2", yes, no, "3")
		got := mustSequences(t, b, a)
		require.Equal(t, []string{"1", "2", "3"}, ids(got))
		require.Equal(t, no, got.PageInfo.HasNextPage)
		require.Equal(t, no, got.PageInfo.HasPreviousPage)
	})

	t.Run("overlap", func(t *testing.T) {
		a := page(fwd, "", no, yes, "1", "2", "3", "4", "5")
		b := page(bwd, "c10", yes, yes, "5", "6", "7", "8", "9")
		for _, got := range []*store.Sequence{mustSequences(t, a, b), mustSequences(t, b, a)} {
			require.Equal(t, []string{"1", "2", "3", "4", "5", "6", "7", "8", "9"}, ids(got))
			require.Equal(t, no, got.PageInfo.HasPreviousPage)
			require.Equal(t, yes, got.PageInfo.HasNextPage)
			require.Equal(t, fwd, got.Direction)
			require.Equal(t, "", got.Cursor)
		}
	})

	t.Run("anchors", func(t *testing.T) {
		tail := page(bwd, "c20", yes, no, "8", "9")
		head := page(fwd, "c1", unknown, yes, "2", "3")
		require.Equal(t, []string{"2", "3", "8", "9"}, ids(mustSequences(t, tail, head)))

		first := page(fwd, "", no, yes, "1")
		other := page(fwd, "c7", yes, yes, "8")
		require.Equal(t, []string{"1", "8"}, ids(mustSequences(t, other, first)))
	})

	t.Run("opposite pages around one cursor", func(t *testing.T) {
		before := page(bwd, "c5", yes, yes, "3", "4")
		after := page(fwd, "c5", yes, yes, "6", "7")
		require.Equal(t, []string{"3", "4", "6", "7"}, ids(mustSequences(t, before, after)))
		require.Equal(t, []string{"3", "4", "6", "7"}, ids(mustSequences(t, after, before)))
	})

	t.Run("no signal keeps encounter order", func(t *testing.T) {
		a := page(fwd, "c9", unknown, unknown, "10", "11")
		b := page(fwd, "c1", unknown, unknown, "2", "3")
		require.Equal(t, []string{"10", "11", "2", "3"}, ids(mustSequences(t, a, b)))
		require.Equal(t, []string{"2", "3", "10", "11"}, ids(mustSequences(t, b, a)))
	})

	t.Run("empty page", func(t *testing.T) {
		a := page(fwd, "", no, yes, "1", "2")
		b := page(fwd, "c2", yes, no)
		got := mustSequences(t, a, b)
		require.Equal(t, []string{"1", "2"}, ids(got))
		require.Equal(t, no, got.PageInfo.HasNextPage)
		require.Equal(t, "c2", got.PageInfo.EndCursor)
		require.True(t, got.Complete())

		before := page(bwd, "c1", unknown, no)
		got = mustSequences(t, before, page(fwd, "", yes, yes, "1", "2"))
		require.Equal(t, []string{"1", "2"}, ids(got))
		require.Equal(t, no, got.PageInfo.HasPreviousPage)
		require.Equal(t, yes, got.PageInfo.HasNextPage)

		middle := mustSequences(t, page(fwd, "", no, yes, "1", "2", "3"), page(fwd, "c2", yes, no))
		require.Equal(t, yes, middle.PageInfo.HasNextPage)

		empty := mustSequences(t, page(fwd, "", no, unknown), page(fwd, "", unknown, no))
		require.Empty(t, empty.Items)
		require.Equal(t, store.PageInfo{HasPreviousPage: no, HasNextPage: no}, empty.PageInfo)
		require.True(t, empty.Complete())
	})

	t.Run("complete", func(t *testing.T) {
		got := mustSequences(t, page(fwd, "", no, yes, "1", "2"), page(fwd, "c2", yes, no, "3"))
		require.True(t, got.Complete())
	})
}

func TestDuplicatesMergeIntoFirstPosition(t *testing.T) {
	edge := func(cursor string, node store.Key, extra store.Value) store.Item {
		return store.Item{
			Value:    store.RecordOf(store.Record{"cursor": store.ScalarOf(cursor), "node": store.RefTo(node), "extra": extra}),
			Cursor:   cursor,
			Identity: string(node),
		}
	}
	a := &store.Sequence{Paginated: true, Direction: pagination.Forward, Items: []store.Item{
		edge("c1", "Post:1", store.Value{}),
		edge("", "Post:2", store.Value{}),
	}}
	b := &store.Sequence{Paginated: true, Direction: pagination.Forward, Cursor: "c1", Items: []store.Item{
		edge("c2", "Post:2", store.ScalarOf("more")),
		edge("c3", "Post:3", store.Value{}),
	}}
	got := mustSequences(t, a, b)
	require.Equal(t, []string{"Post:1", "Post:2", "Post:3"}, got.Identities())
	require.Equal(t, "c2", got.Items[1].Cursor)
	require.Equal(t, store.ScalarOf("more"), got.Items[1].Value.Record["extra"])
	require.Equal(t, "c3", got.PageInfo.EndCursor)
}

func TestPlainSequences(t *testing.T) {
	item := func(s string) store.Item {
		v := store.ScalarOf(s)
		return store.Item{Value: v, Identity: store.ContentIdentity(v)}
	}
	a := &store.Sequence{Items: []store.Item{item("a"), item("b")}}
	b := &store.Sequence{Items: []store.Item{item("b"), item("c")}}
	got := mustSequences(t, a, b)
	want := &store.Sequence{Items: []store.Item{item("a"), item("b"), item("c")}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("plain merge mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, a.Items, 2)
}

func TestPlainSequencesKeepRepeatedValues(t *testing.T) {
	item := func(s string) store.Item {
		v := store.ScalarOf(s)
		return store.Item{Value: v, Identity: store.ContentIdentity(v)}
	}
	tests := []struct {
		name string
		a, b []string
		want []string
	}{
		{"self", []string{"x", "x", "y"}, []string{"x", "x", "y"}, []string{"x", "x", "y"}},
		{"extra on the right", []string{"x", "y"}, []string{"x", "x"}, []string{"x", "y", "x"}},
		{"fewer on the right", []string{"x", "x"}, []string{"x"}, []string{"x", "x"}},
	}
	seq := func(values []string) *store.Sequence {
		s := &store.Sequence{}
		for _, v := range values {
			s.Items = append(s.Items, item(v))
		}
		return s
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mustSequences(t, seq(tt.a), seq(tt.b))
			if diff := cmp.Diff(seq(tt.want), got); diff != "" {
				t.Errorf("plain merge mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSequenceItemConflict(t *testing.T) {
	a := &store.Sequence{Items: []store.Item{{Value: store.ScalarOf("x"), Identity: "k"}}}
	b := &store.Sequence{Items: []store.Item{{Value: store.RecordOf(store.Record{}), Identity: "k"}}}
	_, err := Sequences(a, b)
	require.ErrorIs(t, err, failure.ErrMergeConflict)
	var fe *failure.Error
	require.True(t, errors.As(err, &fe))
	require.Equal(t, "[0]", fe.Path.String())
}
