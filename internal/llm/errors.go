package llm

import (
	"errors"
	"fmt"
	"net"
)

var (
	ErrUnauthorized = errors.New("llm unauthorized")
	ErrUnavailable  = errors.New("llm unavailable")
	ErrRateLimited  = errors.New("llm rate limited")
	ErrEmpty        = errors.New("llm returned no text")
)

// BusyMessage is shown to students when the model could not be reached.
const BusyMessage = "The teacher is busy right now. Please wait a minute and try again."

// TransientError is a failed attempt that may succeed if repeated:
// rate limiting, a 5xx response or a connection failure.
type TransientError struct {
	Attempt int
	Err     error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("attempt %d: %v", e.Attempt, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError is returned once the retry budget is spent or a request fails in
// a way retrying cannot fix.
type FatalError struct {
	Attempts int
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("model request failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// UserMessage is the text to show instead of feedback.
func (e *FatalError) UserMessage() string { return BusyMessage }

// IsFatal reports whether err carries a *FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// retryable reports whether a single-attempt error is worth repeating.
// Cancellation of the caller's context is checked separately.
func retryable(err error) bool {
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
