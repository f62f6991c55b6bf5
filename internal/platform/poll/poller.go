package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimedOut is returned when the deadline elapses with the job still pending.
// Callers distinguish it from job failure: a timed-out job may still complete
// upstream, a failed one never will.
var ErrTimedOut = errors.New("poll: timed out waiting for completion")

// State classifies a single poll observation.
type State int

const (
	// StatePending means the job has not reached a terminal state yet.
	StatePending State = iota
	// StateSucceeded means the job finished and the result is valid.
	StateSucceeded
	// StateFailed means the job terminally failed and retrying is pointless.
	StateFailed
)

// Observation carries one poll result. Reason is only meaningful for StateFailed.
type Observation[T any] struct {
	State  State
	Result T
	Reason string
}

// Pending reports the job as still running.
func Pending[T any]() Observation[T] {
	return Observation[T]{State: StatePending}
}

// Succeeded reports completion with the given result.
func Succeeded[T any](result T) Observation[T] {
	return Observation[T]{State: StateSucceeded, Result: result}
}

// Failed reports a terminal failure.
func Failed[T any](reason string) Observation[T] {
	return Observation[T]{State: StateFailed, Reason: reason}
}

// FailureError is returned by Until when the polled job terminally fails.
type FailureError struct {
	Reason string
}

// Error implements the error interface.
func (e *FailureError) Error() string {
	if e.Reason == "" {
		return "poll: job failed"
	}
	return fmt.Sprintf("poll: job failed: %s", e.Reason)
}

// CheckFunc performs one status check of the asynchronous job.
type CheckFunc[T any] func(ctx context.Context) (Observation[T], error)

// Until polls check every interval until success, terminal failure, deadline
// exhaustion, or context cancellation. The attempt budget is floor(deadline /
// interval); the first check runs after one full interval, mirroring a job
// that is never instantly done.
func Until[T any](ctx context.Context, interval, deadline time.Duration, check CheckFunc[T]) (T, error) {
	var zero T
	if check == nil {
		return zero, errors.New("poll: check function is required")
	}
	if interval <= 0 {
		return zero, errors.New("poll: interval must be positive")
	}

	maxAttempts := int(deadline / interval)
	if maxAttempts < 1 {
		return zero, fmt.Errorf("poll: deadline %s shorter than interval %s", deadline, interval)
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-timer.C:
		}

		obs, err := check(ctx)
		if err != nil {
			return zero, err
		}

		switch obs.State {
		case StateSucceeded:
			return obs.Result, nil
		case StateFailed:
			return zero, &FailureError{Reason: obs.Reason}
		}

		if attempt < maxAttempts {
			timer.Reset(interval)
		}
	}

	return zero, ErrTimedOut
}
