package fsm

import (
	"errors"
	"fmt"
)

var (
	ErrNoTransition = errors.New("no transition matches outcome")
	ErrWrongTrigger = errors.New("trigger not valid in current state")
	ErrTerminal     = errors.New("workflow already finished")
)

// AbortError reports a provider response that makes the purchase
// impossible. The run must stop; retrying cannot succeed.
type AbortError struct {
	State   State
	Raw     int
	Reason  string
	Message string
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("purchase aborted in %s: %s (code %d, %q)", e.State, e.Reason, e.Raw, e.Message)
}

// IsAbort reports whether err carries an AbortError.
func IsAbort(err error) (*AbortError, bool) {
	var abort *AbortError
	if errors.As(err, &abort) {
		return abort, true
	}
	return nil, false
}
