package reqid

import (
	"context"
	"math/rand"
	"strconv"
)

// Header carries a request ID in and out of the HTTP server.
const Header = "X-Request-Id"

// key is the context key for the request ID.
type key struct{}

// NewContext returns a copy of parent with a new random request ID stored.
// It also returns the generated ID.
func NewContext(parent context.Context) (context.Context, int64) {
	return WithID(parent, rand.Int63())
}

// WithID stores a caller-chosen ID, such as one received in Header.
func WithID(parent context.Context, id int64) (context.Context, int64) {
	return context.WithValue(parent, key{}, id), id
}

// FromContext extracts the request ID from ctx.
// It returns the ID and whether it was present.
func FromContext(ctx context.Context) (int64, bool) {
	v := ctx.Value(key{})
	id, ok := v.(int64)
	return id, ok
}

// Parse reads an ID in the form Format writes.
func Parse(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil
}

func Format(id int64) string { return strconv.FormatInt(id, 10) }
