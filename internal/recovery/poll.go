package recovery

import (
	"context"
	"time"
)

// Poll calls fn every interval until it reports done or returns an error.
// It gives up with ErrPollTimeout once timeout has elapsed, or with the
// context's error when ctx ends first.
func Poll(ctx context.Context, interval, timeout time.Duration, fn func(ctx context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.Now().Add(timeout)

	for {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrPollTimeout
		}
		wait := interval
		if remaining < wait {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
