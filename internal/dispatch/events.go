package dispatch

import (
	"time"

	"github.com/voyagerhq/voyager/pkg/models"
)

// EventType represents the type of dispatcher event.
type EventType string

const (
	// EventTaskQueued indicates a task's dependencies completed and it is ready.
	EventTaskQueued EventType = "task_queued"
	// EventTaskStarted indicates a task was dispatched to a worker.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskRetrying indicates a failed task re-entered the ready set with backoff.
	EventTaskRetrying EventType = "task_retrying"
	// EventTaskRequeued indicates a task lost a resource-lock race and was requeued.
	EventTaskRequeued EventType = "task_requeued"
	// EventTaskFailed indicates a task failed terminally.
	EventTaskFailed EventType = "task_failed"
	// EventTaskCancelled indicates a task was cancelled.
	EventTaskCancelled EventType = "task_cancelled"
	// EventRequestDone indicates every task of the request reached a terminal state.
	EventRequestDone EventType = "request_done"
)

// Event is emitted by the dispatcher as tasks move through their lifecycle.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// RequestID is the owning planning request.
	RequestID string
	// TaskID is the related task, if applicable.
	TaskID string
	// AgentType is the related task's agent type, if applicable.
	AgentType models.AgentType
	// Priority is the related task's tier, if applicable.
	Priority models.Priority
	// Attempt is the attempt number for retry events.
	Attempt int
	// Message provides additional context.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
