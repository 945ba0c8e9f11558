// Package pagination maps a schema's connection conventions onto the
// generic roles the normalizer and merge engine work with.
package pagination

import (
	"fmt"
	"math"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/hanpama/graphcache/internal/failure"
)

type Direction int

const (
	Forward Direction = iota + 1
	Backward
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	}
	return ""
}

// ParseDirection is the inverse of Direction.String. Unknown text yields 0.
func ParseDirection(s string) Direction {
	switch s {
	case "forward":
		return Forward
	case "backward":
		return Backward
	}
	return 0
}

// Window names the count and cursor arguments of one direction.
type Window struct {
	Count  string `mapstructure:"count" json:"count"`
	Cursor string `mapstructure:"cursor" json:"cursor"`
}

// PageInfoWords names the page flags. An empty Field means the flags are
// selected directly on the connection object.
type PageInfoWords struct {
	Field       string `mapstructure:"field" json:"field"`
	HasNext     string `mapstructure:"hasNext" json:"hasNext"`
	HasPrevious string `mapstructure:"hasPrevious" json:"hasPrevious"`
	StartCursor string `mapstructure:"startCursor" json:"startCursor"`
	EndCursor   string `mapstructure:"endCursor" json:"endCursor"`
}

type Words struct {
	Forward  Window        `mapstructure:"forward" json:"forward"`
	Backward Window        `mapstructure:"backward" json:"backward"`
	Items    string        `mapstructure:"items" json:"items"`
	Node     string        `mapstructure:"node" json:"node"`
	Cursor   string        `mapstructure:"cursor" json:"cursor"`
	PageInfo PageInfoWords `mapstructure:"pageInfo" json:"pageInfo"`
}

// Default returns the Relay connection vocabulary.
func Default() Words {
	return Words{
		Forward:  Window{Count: "first", Cursor: "after"},
		Backward: Window{Count: "last", Cursor: "before"},
		Items:    "edges",
		Node:     "node",
		Cursor:   "cursor",
		PageInfo: PageInfoWords{
			Field:       "pageInfo",
			HasNext:     "hasNextPage",
			HasPrevious: "hasPreviousPage",
			StartCursor: "startCursor",
			EndCursor:   "endCursor",
		},
	}
}

func (w Words) IsZero() bool { return w == Words{} }

func (w Words) Validate() error {
	bad := func(format string, args ...any) error {
		return failure.New(failure.ErrInvalidVocabulary, nil, format, args...)
	}
	switch {
	case w.Forward.Count == "" || w.Forward.Cursor == "":
		return bad("forward window needs count and cursor argument names")
	case w.Backward.Count == "" || w.Backward.Cursor == "":
		return bad("backward window needs count and cursor argument names")
	case w.Items == "":
		return bad("items field name is required")
	case w.Forward.Cursor == w.Backward.Cursor:
		return bad("forward and backward cursor arguments must differ, both are %q", w.Forward.Cursor)
	case w.Forward.Count == w.Backward.Cursor || w.Backward.Count == w.Forward.Cursor:
		return bad("an argument cannot be both a count and a cursor")
	}
	return nil
}

func (w Words) IsWindowArgument(name string) bool {
	return name == w.Forward.Count || name == w.Forward.Cursor ||
		name == w.Backward.Count || name == w.Backward.Cursor
}

// SharedCount reports whether both directions use the same count argument.
func (w Words) SharedCount() bool { return w.Forward.Count == w.Backward.Count }

// Intent is the window a paginated field was fetched with.
type Intent struct {
	Direction Direction
	Count     *int
	Cursor    string
}

// Match derives the fetch window from resolved arguments. A nil intent
// means the arguments carry no pagination.
func (w Words) Match(args map[string]any) (*Intent, error) {
	present := func(name string) bool {
		v, ok := args[name]
		return ok && v != nil
	}
	fwd := present(w.Forward.Count) || present(w.Forward.Cursor)
	bwd := present(w.Backward.Count) || present(w.Backward.Cursor)
	if w.SharedCount() && fwd && bwd {
		if present(w.Backward.Cursor) && present(w.Forward.Cursor) {
			return nil, failure.New(failure.ErrMalformedQuery, nil,
				"arguments %q and %q select opposite directions", w.Forward.Cursor, w.Backward.Cursor)
		}
		fwd = !present(w.Backward.Cursor)
		bwd = !fwd
	}
	var win Window
	intent := &Intent{}
	switch {
	case fwd && bwd:
		return nil, failure.New(failure.ErrMalformedQuery, nil,
			"arguments select both forward (%s/%s) and backward (%s/%s) windows",
			w.Forward.Count, w.Forward.Cursor, w.Backward.Count, w.Backward.Cursor)
	case fwd:
		win, intent.Direction = w.Forward, Forward
	case bwd:
		win, intent.Direction = w.Backward, Backward
	default:
		return nil, nil
	}
	if present(win.Count) {
		n, err := toCount(args[win.Count])
		if err != nil {
			return nil, failure.New(failure.ErrMalformedQuery, nil, "argument %q: %v", win.Count, err)
		}
		intent.Count = &n
	}
	if present(win.Cursor) {
		c, err := toCursor(args[win.Cursor])
		if err != nil {
			return nil, failure.New(failure.ErrMalformedQuery, nil, "argument %q: %v", win.Cursor, err)
		}
		intent.Cursor = c
	}
	return intent, nil
}

func toCount(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n == math.Trunc(n) {
			return int(n), nil
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), nil
		}
	}
	return 0, fmt.Errorf("count must be an integer, got %v", v)
}

func toCursor(v any) (string, error) {
	switch c := v.(type) {
	case string:
		return c, nil
	case int:
		return strconv.Itoa(c), nil
	case int64:
		return strconv.FormatInt(c, 10), nil
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64), nil
	case json.Number:
		return c.String(), nil
	}
	return "", fmt.Errorf("cursor must be a string or number, got %T", v)
}
