package pagination

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphcache/internal/failure"
)

func intPtr(n int) *int { return &n }

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
	require.False(t, Default().IsZero())
	require.True(t, Words{}.IsZero())
}

func TestValidate(t *testing.T) {
	t.Run("missing items", func(t *testing.T) {
		w := Default()
		w.Items = ""
		require.ErrorIs(t, w.Validate(), failure.ErrInvalidVocabulary)
	})
	t.Run("shared cursor", func(t *testing.T) {
		w := Default()
		w.Backward.Cursor = "after"
		require.ErrorIs(t, w.Validate(), failure.ErrInvalidVocabulary)
	})
	t.Run("shared count", func(t *testing.T) {
		w := Default()
		w.Backward.Count = "first"
		require.NoError(t, w.Validate())
	})
}

func TestMatch(t *testing.T) {
	w := Default()

	t.Run("forward", func(t *testing.T) {
		got, err := w.Match(map[string]any{"first": 5, "after": "c5", "filter": "x"})
		require.NoError(t, err)
		want := &Intent{Direction: Forward, Count: intPtr(5), Cursor: "c5"}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("intent mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("backward without count", func(t *testing.T) {
		got, err := w.Match(map[string]any{"before": 42})
		require.NoError(t, err)
		want := &Intent{Direction: Backward, Cursor: "42"}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("intent mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("no window", func(t *testing.T) {
		got, err := w.Match(map[string]any{"first": nil, "filter": "x"})
		require.NoError(t, err)
		require.Nil(t, got)
	})

	t.Run("both directions", func(t *testing.T) {
		_, err := w.Match(map[string]any{"first": 1, "last": 1})
		require.ErrorIs(t, err, failure.ErrMalformedQuery)
	})

	t.Run("non integer count", func(t *testing.T) {
		_, err := w.Match(map[string]any{"first": "ten"})
		require.ErrorIs(t, err, failure.ErrMalformedQuery)
		_, err = w.Match(map[string]any{"first": 2.5})
		require.ErrorIs(t, err, failure.ErrMalformedQuery)
	})

	t.Run("shared count", func(t *testing.T) {
		shared := Default()
		shared.Forward = Window{Count: "limit", Cursor: "after"}
		shared.Backward = Window{Count: "limit", Cursor: "before"}

		got, err := shared.Match(map[string]any{"limit": 3, "before": "c9"})
		require.NoError(t, err)
		require.Equal(t, Backward, got.Direction)
		require.Equal(t, 3, *got.Count)

		got, err = shared.Match(map[string]any{"limit": 3})
		require.NoError(t, err)
		require.Equal(t, Forward, got.Direction)

		_, err = shared.Match(map[string]any{"limit": 3, "before": "a", "after": "b"})
		require.ErrorIs(t, err, failure.ErrMalformedQuery)
	})
}

func TestIsWindowArgument(t *testing.T) {
	w := Default()
	for _, name := range []string{"first", "after", "last", "before"} {
		require.True(t, w.IsWindowArgument(name), name)
	}
	require.False(t, w.IsWindowArgument("orderBy"))
}

func TestParseDirection(t *testing.T) {
	require.Equal(t, Forward, ParseDirection(Forward.String()))
	require.Equal(t, Backward, ParseDirection(Backward.String()))
	require.Equal(t, Direction(0), ParseDirection("sideways"))
}
