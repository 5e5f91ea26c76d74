package ackchan

import (
	"errors"
	"fmt"
)

// ErrDisposed is the cause attached to sends that were still pending when
// the channel was torn down, and to sends attempted after teardown.
var ErrDisposed = errors.New("channel disposed")

// AckTimeoutError reports that an acknowledgment for a data frame never
// arrived. Cause carries the triggering condition: deadline expiry, caller
// cancellation, or ErrDisposed.
type AckTimeoutError struct {
	ID    string
	Cause error
}

func (e *AckTimeoutError) Error() string {
	return fmt.Sprintf("ack not received for message %s: %v", e.ID, e.Cause)
}

func (e *AckTimeoutError) Unwrap() error { return e.Cause }

// Timeout marks the error as a timeout for callers using net-style checks.
func (e *AckTimeoutError) Timeout() bool { return true }

// RemoteError reports that the receiver acknowledged the data frame but
// failed to process it. The message was delivered; the failure is
// application-level, distinct from a timeout.
type RemoteError struct {
	ID     string
	Reason string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("receiver failed to process message %s: %s", e.ID, e.Reason)
}
