package worker

import (
	"fmt"
	"time"
)

// TimeoutError indicates a task exceeded its descriptor timeout.
// The dispatcher treats it like a provider failure: standard retry path.
type TimeoutError struct {
	TaskID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s timed out after %v", e.TaskID, e.Timeout)
}

// ProviderError indicates the gateway call failed. It wraps the gateway
// error so the dispatcher can distinguish quota exhaustion from plain
// unavailability via errors.Is.
type ProviderError struct {
	TaskID string
	Err    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("task %s provider call failed: %v", e.TaskID, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ValidationError indicates the provider returned output that does not
// match the task's declared schema. Non-retryable at the worker level;
// the dispatcher fails the task immediately unless the descriptor
// explicitly allows one retry.
type ValidationError struct {
	TaskID string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("task %s returned invalid output: %s", e.TaskID, e.Reason)
}
