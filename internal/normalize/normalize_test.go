package normalize

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphcache/internal/execution"
	"github.com/hanpama/graphcache/internal/failure"
	"github.com/hanpama/graphcache/internal/fixture"
	"github.com/hanpama/graphcache/internal/language"
	"github.com/hanpama/graphcache/internal/merge"
	"github.com/hanpama/graphcache/internal/pagination"
	"github.com/hanpama/graphcache/internal/response"
	"github.com/hanpama/graphcache/internal/schema"
	"github.com/hanpama/graphcache/internal/store"
)

func mustParseQuery(t *testing.T, q string) *language.QueryDocument {
	t.Helper()
	d, err := language.ParseQuery(q)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return d
}

func mustContext(t *testing.T, s *schema.Schema, q string, vars map[string]any) *execution.Context {
	t.Helper()
	ctx, err := execution.Build(s, mustParseQuery(t, q), execution.Options{Variables: vars})
	require.NoError(t, err, "failed to build context")
	return ctx
}

func mustData(t *testing.T, data string) response.Value {
	t.Helper()
	v, err := response.Parse([]byte(data))
	require.NoError(t, err)
	return v
}

func normalizeRequest(t *testing.T, req fixture.Request) *store.Store {
	t.Helper()
	ctx := mustContext(t, fixture.MustSchema(), req.Query, req.Variables)
	st, err := Normalize(mustData(t, string(req.Data)), ctx)
	require.NoError(t, err)
	return st
}

func mustMerge(t *testing.T, stores ...*store.Store) *store.Store {
	t.Helper()
	out := stores[0]
	for _, s := range stores[1:] {
		var err error
		out, err = merge.Stores(out, s)
		require.NoError(t, err)
	}
	return out
}

// edges returns the sequence of the root posts connection.
func edges(t *testing.T, st *store.Store) *store.Sequence {
	t.Helper()
	conn := st.Entities[store.RootQuery]["posts"]
	require.Equal(t, store.KindRecord, conn.Kind)
	seq := conn.Record["edges"]
	require.Equal(t, store.KindSequence, seq.Kind)
	return seq.Sequence
}

func TestNormalizeConnection(t *testing.T) {
	st := normalizeRequest(t, fixture.Forward(3, 0))
	require.NoError(t, st.Validate())

	seq := edges(t, st)
	require.Equal(t, fixture.PostKeys(1, 3), seq.Identities())
	require.True(t, seq.Paginated)
	require.Equal(t, pagination.Forward, seq.Direction)
	require.Equal(t, "", seq.Cursor)
	require.Equal(t, store.PageInfo{
		HasPreviousPage: store.No,
		HasNextPage:     store.Yes,
		StartCursor:     "c1",
		EndCursor:       "c3",
	}, seq.PageInfo)
	require.Equal(t, "c2", seq.Items[1].Cursor)

	// The page info object is folded into the sequence.
	_, stored := st.Entities[store.RootQuery]["posts"].Record["pageInfo"]
	require.False(t, stored)

	want := store.Record{
		"id":     store.ScalarOf("2"),
		"title":  store.ScalarOf("Post 2"),
		"author": store.RefTo("User:1"),
	}
	if diff := cmp.Diff(want, st.Entities["Post:2"]); diff != "" {
		t.Errorf("entity mismatch (-want +got):\n%s", diff)
	}
	edge := seq.Items[0].Value
	require.Equal(t, store.KindRecord, edge.Kind)
	require.Equal(t, store.RefTo("Post:1"), edge.Record["node"])
	require.Equal(t, store.ScalarOf("c1"), edge.Record["cursor"])
}

func TestEntitiesAreDeduplicated(t *testing.T) {
	st := normalizeRequest(t, fixture.Forward(4, 0))
	// Four posts by two alternating authors.
	users := 0
	for _, k := range st.Keys() {
		if len(k) > 5 && k[:5] == "User:" {
			users++
		}
	}
	require.Equal(t, 2, users)
	require.Equal(t, 4+2+1, st.Len())
}

func TestPageFolds(t *testing.T) {
	t.Run("forward pages", func(t *testing.T) {
		got := mustMerge(t, normalizeRequest(t, fixture.Forward(3, 0)), normalizeRequest(t, fixture.Forward(2, 3)))
		want := normalizeRequest(t, fixture.Forward(5, 0))
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("front3 + after c3 mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("backward pages", func(t *testing.T) {
		got := mustMerge(t, normalizeRequest(t, fixture.Backward(3, 0)), normalizeRequest(t, fixture.Backward(2, 8)))
		want := normalizeRequest(t, fixture.Backward(5, 0))
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("back3 + before c8 mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("to the end", func(t *testing.T) {
		got := mustMerge(t, normalizeRequest(t, fixture.Forward(5, 0)), normalizeRequest(t, fixture.Forward(5, 5)))
		seq := edges(t, got)
		require.Equal(t, fixture.PostKeys(1, 10), seq.Identities())
		require.Equal(t, store.No, seq.PageInfo.HasNextPage)
		require.True(t, seq.Complete())
	})

	t.Run("empty page after the end", func(t *testing.T) {
		last := fixture.Request{
			Query:     fixture.PostsQuery,
			Variables: map[string]any{"first": 5, "after": fixture.Cursor(5)},
			Data:      []byte(`{"posts":{"edges":[],"pageInfo":{"hasNextPage":false,"hasPreviousPage":true,"startCursor":null,"endCursor":null}}}`),
		}
		seq := edges(t, mustMerge(t, normalizeRequest(t, fixture.Forward(5, 0)), normalizeRequest(t, last)))
		require.Equal(t, fixture.PostKeys(1, 5), seq.Identities())
		require.Equal(t, store.No, seq.PageInfo.HasNextPage)
		require.Equal(t, fixture.Cursor(5), seq.PageInfo.EndCursor)
		require.True(t, seq.Complete())
	})

	t.Run("pages on both sides of one cursor", func(t *testing.T) {
		before := normalizeRequest(t, fixture.Backward(2, 5))
		after := normalizeRequest(t, fixture.Forward(2, 5))
		want := append(fixture.PostKeys(3, 4), fixture.PostKeys(6, 7)...)
		require.Equal(t, want, edges(t, mustMerge(t, before, after)).Identities())
		require.Equal(t, want, edges(t, mustMerge(t, after, before)).Identities())
	})

	t.Run("overlapping pages in either order", func(t *testing.T) {
		front := normalizeRequest(t, fixture.Forward(5, 0))
		back := normalizeRequest(t, fixture.Backward(5, 10))
		ab := mustMerge(t, front, back)
		ba := mustMerge(t, back, front)
		require.Equal(t, fixture.PostKeys(1, 9), edges(t, ab).Identities())
		if diff := cmp.Diff(ab, ba); diff != "" {
			t.Errorf("merge order changed the result (-want +got):\n%s", diff)
		}
		require.Equal(t, store.No, edges(t, ab).PageInfo.HasPreviousPage)
		require.Equal(t, store.Yes, edges(t, ab).PageInfo.HasNextPage)
	})

	t.Run("fold order does not matter", func(t *testing.T) {
		a := normalizeRequest(t, fixture.Forward(3, 0))
		b := normalizeRequest(t, fixture.Forward(3, 3))
		c := normalizeRequest(t, fixture.Forward(4, 6))
		want := normalizeRequest(t, fixture.Forward(10, 0))
		for name, got := range map[string]*store.Store{
			"abc": mustMerge(t, a, b, c),
			"acb": mustMerge(t, a, c, b),
			"cba": mustMerge(t, c, b, a),
		} {
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("%s mismatch (-want +got):\n%s", name, diff)
			}
		}
	})

	t.Run("overlap is not duplicated", func(t *testing.T) {
		got := mustMerge(t, normalizeRequest(t, fixture.Forward(5, 0)), normalizeRequest(t, fixture.Forward(5, 3)))
		require.Equal(t, fixture.PostKeys(1, 8), edges(t, got).Identities())
	})

	t.Run("merge with self", func(t *testing.T) {
		s := normalizeRequest(t, fixture.Backward(4, 9))
		got := mustMerge(t, s, s.Clone())
		if diff := cmp.Diff(s, got); diff != "" {
			t.Errorf("merge with self mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestInferredPageInfo(t *testing.T) {
	s := fixture.MustSchema()

	t.Run("short forward page without page info", func(t *testing.T) {
		ctx := mustContext(t, s, `{ posts(first: 5) { edges { cursor node { id } } } }`, nil)
		st, err := Normalize(mustData(t, `{"posts":{"edges":[
			{"cursor":"c1","node":{"id":"1"}},
			{"cursor":"c2","node":{"id":"2"}}
		]}}`), ctx)
		require.NoError(t, err)
		require.Equal(t, store.PageInfo{
			HasPreviousPage: store.No,
			HasNextPage:     store.No,
			StartCursor:     "c1",
			EndCursor:       "c2",
		}, edges(t, st).PageInfo)
	})

	t.Run("full backward page", func(t *testing.T) {
		ctx := mustContext(t, s, `{ posts(last: 1, before: "c5") { edges { cursor node { id } } } }`, nil)
		st, err := Normalize(mustData(t, `{"posts":{"edges":[{"cursor":"c4","node":{"id":"4"}}]}}`), ctx)
		require.NoError(t, err)
		seq := edges(t, st)
		require.Equal(t, pagination.Backward, seq.Direction)
		require.Equal(t, "c5", seq.Cursor)
		require.Equal(t, store.Unknown, seq.PageInfo.HasNextPage)
		require.Equal(t, store.Unknown, seq.PageInfo.HasPreviousPage)
	})

	t.Run("aliased page info fields", func(t *testing.T) {
		ctx := mustContext(t, s, `{ posts(first: 1) { edges { cursor } info: pageInfo { more: hasNextPage } } }`, nil)
		st, err := Normalize(mustData(t, `{"posts":{"edges":[{"cursor":"c1"}],"info":{"more":true}}}`), ctx)
		require.NoError(t, err)
		require.Equal(t, store.Yes, edges(t, st).PageInfo.HasNextPage)
	})

	t.Run("windowed list", func(t *testing.T) {
		ctx := mustContext(t, s, `{ feed(first: 2) { id } }`, nil)
		st, err := Normalize(mustData(t, `{"feed":[{"id":"1"},{"id":"2"}]}`), ctx)
		require.NoError(t, err)
		seq := st.Entities[store.RootQuery]["feed"].Sequence
		require.True(t, seq.Paginated)
		require.Equal(t, []string{"Post:1", "Post:2"}, seq.Identities())
		require.Equal(t, store.No, seq.PageInfo.HasPreviousPage)
		require.Equal(t, store.Unknown, seq.PageInfo.HasNextPage)
	})
}

func TestPlainLists(t *testing.T) {
	ctx := mustContext(t, fixture.MustSchema(), `{ tags }`, nil)
	a, err := Normalize(mustData(t, `{"tags":["a","b"]}`), ctx)
	require.NoError(t, err)
	b, err := Normalize(mustData(t, `{"tags":["b","c"]}`), ctx)
	require.NoError(t, err)

	got := mustMerge(t, a, b).Entities[store.RootQuery]["tags"].Sequence
	require.False(t, got.Paginated)
	values := make([]any, len(got.Items))
	for i, item := range got.Items {
		values[i] = item.Value.Scalar
	}
	require.Equal(t, []any{"a", "b", "c"}, values)
}

func TestPlainListMergeWithSelf(t *testing.T) {
	ctx := mustContext(t, fixture.MustSchema(), `{ tags }`, nil)
	s, err := Normalize(mustData(t, `{"tags":["x","x","y"]}`), ctx)
	require.NoError(t, err)
	got := mustMerge(t, s, s.Clone())
	if diff := cmp.Diff(s, got); diff != "" {
		t.Errorf("merge with self mismatch (-want +got):\n%s", diff)
	}
}

func TestUnions(t *testing.T) {
	s := fixture.MustSchema()

	t.Run("routed by typename", func(t *testing.T) {
		ctx := mustContext(t, s, `{ search(term: "x") { __typename ... on Post { id title } ... on User { id name } } }`, nil)
		st, err := Normalize(mustData(t, `{"search":[
			{"__typename":"Post","id":"1","title":"T"},
			{"__typename":"User","id":"2","name":"N"}
		]}`), ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"Post:1", "User:2"}, st.Entities[store.RootQuery][`search({"term":"x"})`].Sequence.Identities())
		if diff := cmp.Diff(store.Record{
			"__typename": store.ScalarOf("User"),
			"id":         store.ScalarOf("2"),
			"name":       store.ScalarOf("N"),
		}, st.Entities["User:2"]); diff != "" {
			t.Errorf("entity mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("routed by fields", func(t *testing.T) {
		ctx := mustContext(t, s, `{ search(term: "x") { ... on Post { id title } ... on Photo { id url } } }`, nil)
		st, err := Normalize(mustData(t, `{"search":[{"id":"3","url":"u"}]}`), ctx)
		require.NoError(t, err)
		rec := st.Entities["SearchResult:3"]
		require.Equal(t, store.ScalarOf("u"), rec["url"])
		_, hasTitle := rec["title"]
		require.False(t, hasTitle)
	})

	t.Run("ambiguous", func(t *testing.T) {
		ctx := mustContext(t, s, `{ search(term: "x") { ... on Post { id title } ... on Photo { id url } } }`, nil)
		_, err := Normalize(mustData(t, `{"search":[{"id":"4","title":"t","url":"u"}]}`), ctx)
		require.ErrorIs(t, err, failure.ErrUnresolvedUnionMember)
		var fe *failure.Error
		require.True(t, errors.As(err, &fe))
		require.Equal(t, "search[0]", fe.Path.String())
	})
}

func TestAbsentAndNull(t *testing.T) {
	ctx := mustContext(t, fixture.MustSchema(), `{ viewer { id name } post(id: 1) { id } }`, nil)
	st, err := Normalize(mustData(t, `{"viewer":{"id":"1"},"post":null}`), ctx)
	require.NoError(t, err)
	require.True(t, st.Entities["User:1"]["name"].IsAbsent())
	require.Equal(t, store.Null(), st.Entities[store.RootQuery][`post({"id":"1"})`])

	later, err := Normalize(mustData(t, `{"viewer":{"id":"1","name":"Ann"},"post":null}`), ctx)
	require.NoError(t, err)
	require.Equal(t, store.ScalarOf("Ann"), mustMerge(t, st, later).Entities["User:1"]["name"])
	require.Equal(t, store.ScalarOf("Ann"), mustMerge(t, later, st).Entities["User:1"]["name"])
}

func TestShapeMismatch(t *testing.T) {
	s := fixture.MustSchema()
	tests := []struct {
		name, query, data, path string
	}{
		{"scalar for object", `{ viewer { id } }`, `{"viewer":"x"}`, "viewer"},
		{"list for object", `{ viewer { id } }`, `{"viewer":[{"id":"1"}]}`, "viewer"},
		{"object for scalar", `{ viewer { name } }`, `{"viewer":{"name":{"first":"A"}}}`, "viewer.name"},
		{"object for list", `{ tags }`, `{"tags":{"a":"b"}}`, "tags"},
		{"scalar in object list", `{ feed { id } }`, `{"feed":[{"id":"1"},2]}`, "feed[1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := mustContext(t, s, tt.query, nil)
			_, err := Normalize(mustData(t, tt.data), ctx)
			require.ErrorIs(t, err, failure.ErrShapeMismatch)
			var fe *failure.Error
			require.True(t, errors.As(err, &fe))
			require.Equal(t, tt.path, fe.Path.String())
		})
	}

	ctx := mustContext(t, s, `{ tags }`, nil)
	_, err := Normalize(mustData(t, `[1]`), ctx)
	require.ErrorIs(t, err, failure.ErrShapeMismatch)
}

func TestIdentityMustBeScalar(t *testing.T) {
	ctx := mustContext(t, nil, `{ thing { id { raw } } }`, nil)
	_, err := Normalize(mustData(t, `{"thing":{"id":{"raw":"1"}}}`), ctx)
	require.ErrorIs(t, err, failure.ErrShapeMismatch)
}

func TestConflictInsideOneResponse(t *testing.T) {
	ctx := mustContext(t, nil, `{ a { __typename id x } b { __typename id x { y } } }`, nil)
	_, err := Normalize(mustData(t, `{
		"a":{"__typename":"T","id":"1","x":"s"},
		"b":{"__typename":"T","id":"1","x":{"y":1}}
	}`), ctx)
	require.ErrorIs(t, err, failure.ErrMergeConflict)
	var fe *failure.Error
	require.True(t, errors.As(err, &fe))
	require.Equal(t, "b.x", fe.Path.String())
}

func TestWithoutSchema(t *testing.T) {
	ctx := mustContext(t, nil, `{ me { id friends { id } } }`, nil)
	st, err := Normalize(mustData(t, `{"me":{"id":1,"friends":[{"id":2},{"id":3}]}}`), ctx)
	require.NoError(t, err)
	// Without a schema the field name stands in for the type.
	require.Equal(t, store.RefTo("me:1"), st.Entities[store.RootQuery]["me"])
	require.Equal(t, []string{"friends:2", "friends:3"}, st.Entities["me:1"]["friends"].Sequence.Identities())
	require.Equal(t, store.ScalarOf(int64(1)), st.Entities["me:1"]["id"])
}

func TestCustomScalar(t *testing.T) {
	s, err := schema.BuildFromSDL(`scalar JSON type Query { meta: JSON }`)
	require.NoError(t, err)
	ctx := mustContext(t, s, `{ meta }`, nil)
	st, err := Normalize(mustData(t, `{"meta":{"a":1,"b":[true]}}`), ctx)
	require.NoError(t, err)
	require.Equal(t, store.ScalarOf(map[string]any{"a": int64(1), "b": []any{true}}), st.Entities[store.RootQuery]["meta"])
}

func TestMutationRoot(t *testing.T) {
	ctx := mustContext(t, fixture.MustSchema(), `mutation { likePost(id: "9") { id title } }`, nil)
	st, err := Normalize(mustData(t, `{"likePost":{"id":"9","title":"liked"}}`), ctx)
	require.NoError(t, err)
	require.Equal(t, store.RefTo("Post:9"), st.Entities[store.RootMutation][`likePost({"id":"9"})`])
	require.Equal(t, store.ScalarOf("liked"), st.Entities["Post:9"]["title"])
}
