package rq

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrEmpty is returned by Driver.Transfer when the source list has nothing to hand over.
	ErrEmpty = errors.New("rq: no message available")
	// ErrNotFound is returned by Driver.HashGet when the field does not exist.
	ErrNotFound = errors.New("rq: hash field not found")
	// ErrMalformed marks a stored entry that is not a valid message.
	ErrMalformed = errors.New("rq: malformed message")
	// ErrInvalidTimeout is returned by Send when the timeout is negative.
	ErrInvalidTimeout = errors.New("rq: timeout must not be negative")
	// ErrDetached is returned by Message.Ack when the message was not obtained from a Queue.
	ErrDetached = errors.New("rq: message is not attached to a queue")
)

// MalformedError is a data integrity error. Callers should alert on it rather than treat it as an empty queue.
type MalformedError struct {
	// Raw is the offending entry exactly as it was read from the store.
	Raw []byte
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("rq: malformed message %q: %v", truncate(e.Raw, 64), e.Err)
}

// Unwrap returns the underlying cause.
func (e *MalformedError) Unwrap() error {
	return e.Err
}

// Is reports ErrMalformed as a match so callers can use errors.Is.
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
