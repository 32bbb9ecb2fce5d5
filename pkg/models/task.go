package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has unmet dependencies.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusReady indicates all dependencies completed and the task awaits a pool slot.
	TaskStatusReady TaskStatus = "ready"
	// TaskStatusRunning indicates a worker is executing the task.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed terminally (retry budget exhausted or non-retryable).
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled, either by request
	// cancellation or because a dependency failed terminally.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusReady, TaskStatusRunning,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is terminal (the task will never run again).
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// AgentType identifies which specialist agent handles a task.
type AgentType string

const (
	// AgentPlanning produces the high-level itinerary skeleton.
	AgentPlanning AgentType = "planning"
	// AgentLocation analyzes destinations and candidate neighborhoods.
	AgentLocation AgentType = "location"
	// AgentTransport searches flights, trains, and local transit.
	AgentTransport AgentType = "transport"
	// AgentAccommodation searches lodging within candidate neighborhoods.
	AgentAccommodation AgentType = "accommodation"
	// AgentActivity proposes activities and excursions.
	AgentActivity AgentType = "activity"
	// AgentBudget allocates and reconciles the trip budget.
	AgentBudget AgentType = "budget"
	// AgentWeather fetches forecasts for the travel window.
	AgentWeather AgentType = "weather"
)

// Valid returns true if the agent type is a known value.
func (a AgentType) Valid() bool {
	switch a {
	case AgentPlanning, AgentLocation, AgentTransport,
		AgentAccommodation, AgentActivity, AgentBudget, AgentWeather:
		return true
	default:
		return false
	}
}

// AllAgentTypes lists every known agent type.
func AllAgentTypes() []AgentType {
	return []AgentType{
		AgentPlanning, AgentLocation, AgentTransport,
		AgentAccommodation, AgentActivity, AgentBudget, AgentWeather,
	}
}

// Priority is the scheduling tier of a task. P0 is the critical path,
// P3 is optional work whose terminal failure degrades the result rather
// than voiding it.
type Priority int

const (
	// PriorityP0 is critical-path work; terminal failure fails the whole request.
	PriorityP0 Priority = iota
	// PriorityP1 is important but recoverable work.
	PriorityP1
	// PriorityP2 is auxiliary work.
	PriorityP2
	// PriorityP3 is optional work.
	PriorityP3
)

// String returns the tier name (P0..P3).
func (p Priority) String() string {
	switch p {
	case PriorityP0:
		return "P0"
	case PriorityP1:
		return "P1"
	case PriorityP2:
		return "P2"
	case PriorityP3:
		return "P3"
	default:
		return "P?"
	}
}

// Valid returns true if the priority is within the P0..P3 range.
func (p Priority) Valid() bool {
	return p >= PriorityP0 && p <= PriorityP3
}

// Task represents one agent invocation within a request's task graph.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// RequestID is the ID of the planning request that owns this task.
	RequestID string `json:"request_id"`
	// Type is the agent type that executes this task.
	Type AgentType `json:"type"`
	// Priority is the scheduling tier (P0..P3).
	Priority Priority `json:"priority"`
	// Input is the task-type-specific input payload.
	Input map[string]any `json:"input,omitempty"`
	// DependsOn lists task IDs that must complete before this task may start.
	DependsOn []string `json:"depends_on,omitempty"`
	// Locks lists named resources this task must hold exclusively while
	// running (e.g. "budget_total"). Failing to acquire one requeues the
	// task; it is never a task failure.
	Locks []string `json:"locks,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// RetryCount is the number of attempts made so far.
	RetryCount int `json:"retry_count,omitempty"`
	// NextEligibleAt is the earliest time a retried task may be dispatched again.
	NextEligibleAt time.Time `json:"next_eligible_at,omitempty"`
	// AssignedWorker is the ID of the worker executing this task, if any.
	AssignedWorker string `json:"assigned_worker,omitempty"`
	// Result is the output payload, nil until completed.
	Result map[string]any `json:"result,omitempty"`
	// Error contains the error detail if the task failed.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the planner created the task.
	CreatedAt time.Time `json:"created_at"`
	// Seq is the creation order within the request. Within a priority tier,
	// ready tasks are dispatched in Seq order.
	Seq int `json:"seq"`
}
