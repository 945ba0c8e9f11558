package events

import (
	"time"
)

// WriteStart is emitted before a response is folded into a cache.
type WriteStart struct {
	OperationName string
	OperationType string
}

// WriteFinish is emitted after a write, successful or not. Entities is
// the number of entities the response normalized to.
type WriteFinish struct {
	OperationName string
	OperationType string
	Entities      int
	Err           error
	Duration      time.Duration
}

// MergeFinish is emitted after a normalized page was merged into the
// cached store. Changed is false when the merge left the store as it was.
type MergeFinish struct {
	Entities int
	Changed  bool
	Duration time.Duration
}

// ReadStart is emitted before a query is answered from a cache.
type ReadStart struct {
	OperationName string
	OperationType string
}

// ReadFinish is emitted after a read. Err wraps failure.ErrCacheMiss when
// the store could not answer the query.
type ReadFinish struct {
	OperationName string
	OperationType string
	Err           error
	Duration      time.Duration
}
