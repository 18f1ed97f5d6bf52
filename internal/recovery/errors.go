package recovery

import (
	"errors"
	"fmt"
)

// ErrPollTimeout is returned by Poll when the condition never held in time
var ErrPollTimeout = errors.New("poll timed out")

// RetryExhaustedError ends an incident that failed every attempt
type RetryExhaustedError struct {
	Account  string
	Attempts int
	Err      error // Last attempt's failure
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("recovery of %s failed after %d attempts: %v", e.Account, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }
