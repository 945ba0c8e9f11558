package failure

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kinds of failure. Every *Error unwraps to exactly one of these.
var (
	// ErrMalformedQuery means no single operation could be built from the document.
	ErrMalformedQuery = errors.New("malformed query")
	// ErrMissingVariable means a required variable has neither a value nor a default.
	ErrMissingVariable = errors.New("missing variable")
	// ErrUnresolvedUnionMember means a union/interface object could not be routed to a branch.
	ErrUnresolvedUnionMember = errors.New("unresolved union member")
	// ErrShapeMismatch means a response value disagrees with its selection's kind.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrMergeConflict means two stores hold incompatible kinds at the same position.
	ErrMergeConflict = errors.New("merge conflict")
	// ErrInvalidVocabulary means the pagination words do not fit the query.
	ErrInvalidVocabulary = errors.New("invalid pagination vocabulary")
	// ErrCacheMiss means a store does not hold the data a query selects.
	ErrCacheMiss = errors.New("cache miss")
)

type Path []PathElement

// PathElement is a string (field or store key) or an int (list index).
type PathElement any

func (p Path) String() string {
	var b strings.Builder
	for i, elem := range p {
		switch v := elem.(type) {
		case string:
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(v)
		case int:
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(v))
			b.WriteByte(']')
		}
	}
	return b.String()
}

// Append returns a new path; p is never modified.
func (p Path) Append(elem PathElement) Path {
	next := make(Path, len(p)+1)
	copy(next, p)
	next[len(p)] = elem
	return next
}

// Error is a located failure.
type Error struct {
	Kind    error
	Path    Path
	Message string
}

func New(kind error, path Path, format string, args ...any) *Error {
	return &Error{Kind: kind, Path: path, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.Path, e.Message)
}

func (e *Error) Unwrap() error { return e.Kind }

// Prefix returns err with prefix prepended to its path when err is an
// *Error; other errors are returned unchanged.
func Prefix(err error, prefix Path) error {
	var fe *Error
	if len(prefix) == 0 || !errors.As(err, &fe) {
		return err
	}
	path := make(Path, 0, len(prefix)+len(fe.Path))
	path = append(path, prefix...)
	path = append(path, fe.Path...)
	return &Error{Kind: fe.Kind, Path: path, Message: fe.Message}
}
