package lib

import (
	"errors"
)

var (
	// ErrMalformedSegment is returned by Segment.Unmarshal when the raw
	// bytes cannot possibly hold a valid segment.
	ErrMalformedSegment = errors.New("malformed segment")

	// ErrConnectionClosed is returned by blocking calls on a connection
	// that has been closed locally.
	ErrConnectionClosed = errors.New("connection closed")
)

// TimeoutError is surfaced when retransmission retries are exhausted during
// handshake, data transfer or teardown. It satisfies net.Error.
type TimeoutError struct {
	msg string
}

func (e *TimeoutError) Error() string {
	return e.msg
}

func (e *TimeoutError) Timeout() bool {
	return true
}

func (e *TimeoutError) Temporary() bool {
	return false
}

func newTimeoutError(msg string) *TimeoutError {
	return &TimeoutError{msg: msg}
}
