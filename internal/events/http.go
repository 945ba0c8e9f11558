package events

import (
	"net/http"
	"time"
)

// HTTPStart is emitted when the cache server receives a request. The
// context carries the request ID.
type HTTPStart struct {
	Request *http.Request
}

// HTTPFinish is emitted after the response was written. Err is the
// failure behind an error status, if any.
type HTTPFinish struct {
	Request  *http.Request
	Status   int
	Err      error
	Duration time.Duration
}
