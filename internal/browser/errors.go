package browser

import (
	"errors"
	"fmt"
)

var (
	// ErrPasswordReused is returned when the reset form rejects a password
	// the account used before
	ErrPasswordReused = errors.New("provider rejected a previously used password")

	// ErrRiskControl is returned when login is refused with an error banner,
	// which the provider shows while the account is under risk control
	ErrRiskControl = errors.New("account is under risk control")
)

// AutomationTimeoutError reports an element or page that never showed up
type AutomationTimeoutError struct {
	Step   string
	Target string
	Err    error
}

func (e *AutomationTimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out waiting for %s", e.Step, e.Target)
}

func (e *AutomationTimeoutError) Unwrap() error { return e.Err }

// AutomationUnknownError reports an error banner that kept coming back
type AutomationUnknownError struct {
	Step     string
	Attempts int
	Message  string
}

func (e *AutomationUnknownError) Error() string {
	return fmt.Sprintf("%s: error banner persisted after %d retries: %q", e.Step, e.Attempts, e.Message)
}
