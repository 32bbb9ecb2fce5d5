// Package coord holds the per-request coordination state: the task graph,
// a version counter, resource locks, and the pending-conflict list.
// All mutations are funneled through the dispatcher (single writer); this
// package enforces the transition and lock invariants.
package coord

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/voyagerhq/voyager/internal/graph"
	"github.com/voyagerhq/voyager/pkg/models"
)

// ErrInvalidTransition indicates an attempted status change that the task
// state machine does not allow.
var ErrInvalidTransition = errors.New("invalid task transition")

// ErrLockHeld indicates a resource lock is already held by another task.
var ErrLockHeld = errors.New("resource lock held")

// ErrUnknownTask indicates a task ID not present in the request's graph.
var ErrUnknownTask = errors.New("unknown task")

// Conflict records a failed lock acquisition. Conflicts are recoverable:
// the losing task is requeued, never failed.
type Conflict struct {
	// Resource is the contested resource name.
	Resource string `json:"resource"`
	// HolderID is the task holding the lock at the time of the conflict.
	HolderID string `json:"holder_id"`
	// LoserID is the task whose acquisition was refused.
	LoserID string `json:"loser_id"`
	// At is when the conflict occurred.
	At time.Time `json:"at"`
}

// RequestState is the coordination state for one active planning request.
// The graph topology is immutable after construction; task status fields,
// the lock map, and the conflict list mutate under a single mutex, and the
// version counter strictly increases on every committed mutation.
type RequestState struct {
	mu sync.RWMutex

	requestID string
	graph     *graph.DependencyGraph
	version   uint64
	// locks maps resource name to the owning task ID. Exclusive, non-reentrant.
	locks     map[string]string
	conflicts []Conflict
}

// NewRequestState creates coordination state for a request over a built graph.
func NewRequestState(requestID string, g *graph.DependencyGraph) *RequestState {
	return &RequestState{
		requestID: requestID,
		graph:     g,
		locks:     make(map[string]string),
	}
}

// RequestID returns the owning request's ID.
func (s *RequestState) RequestID() string {
	return s.requestID
}

// Graph returns the underlying dependency graph.
func (s *RequestState) Graph() *graph.DependencyGraph {
	return s.graph
}

// Version returns the current version counter.
func (s *RequestState) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// allowedTransition encodes the task state machine:
//
//	pending -> ready | cancelled
//	ready   -> running | cancelled | ready (lock-conflict requeue)
//	running -> completed | failed | cancelled | ready (retryable failure)
//
// Terminal states have no outgoing transitions.
func allowedTransition(from, to models.TaskStatus) bool {
	switch from {
	case models.TaskStatusPending:
		return to == models.TaskStatusReady || to == models.TaskStatusCancelled
	case models.TaskStatusReady:
		return to == models.TaskStatusRunning || to == models.TaskStatusCancelled ||
			to == models.TaskStatusReady
	case models.TaskStatusRunning:
		return to == models.TaskStatusCompleted || to == models.TaskStatusFailed ||
			to == models.TaskStatusCancelled || to == models.TaskStatusReady
	default:
		return false
	}
}

// Transition atomically moves a task from an expected status to a new one.
// Supplying the expected prior status makes races observable instead of
// silently lost. Every committed transition bumps the version counter.
func (s *RequestState) Transition(taskID string, from, to models.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := s.graph.GetTask(taskID)
	if task == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	if task.Status != from {
		return fmt.Errorf("%w: task %s expected %s, found %s", ErrInvalidTransition, taskID, from, task.Status)
	}
	if !allowedTransition(from, to) {
		return fmt.Errorf("%w: task %s %s -> %s", ErrInvalidTransition, taskID, from, to)
	}

	task.Status = to
	if to == models.TaskStatusCompleted {
		s.graph.MarkComplete(taskID)
	}
	s.version++
	return nil
}

// Mutate applies an arbitrary task mutation under the state lock and bumps
// the version counter. Used by the dispatcher for result, error, and retry
// bookkeeping that accompanies a notification.
func (s *RequestState) Mutate(taskID string, fn func(*models.Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := s.graph.GetTask(taskID)
	if task == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	fn(task)
	s.version++
	return nil
}

// AcquireLock grants the named resource to the task exclusively.
// Re-acquisition by the current holder is refused (non-reentrant).
// On refusal the conflict is recorded and ErrLockHeld returned.
func (s *RequestState) AcquireLock(resource, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if holder, held := s.locks[resource]; held {
		s.conflicts = append(s.conflicts, Conflict{
			Resource: resource,
			HolderID: holder,
			LoserID:  taskID,
			At:       time.Now(),
		})
		s.version++
		return fmt.Errorf("%w: %s held by task %s", ErrLockHeld, resource, holder)
	}

	s.locks[resource] = taskID
	s.version++
	return nil
}

// ReleaseLock releases the named resource if the task holds it.
func (s *RequestState) ReleaseLock(resource, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	holder, held := s.locks[resource]
	if !held {
		return nil
	}
	if holder != taskID {
		return fmt.Errorf("task %s does not hold lock %s (held by %s)", taskID, resource, holder)
	}
	delete(s.locks, resource)
	s.version++
	return nil
}

// ReleaseLocksHeldBy releases every lock held by the task. Called when a
// task reaches a terminal state so no lock outlives its holder.
func (s *RequestState) ReleaseLocksHeldBy(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	released := false
	for resource, holder := range s.locks {
		if holder == taskID {
			delete(s.locks, resource)
			released = true
		}
	}
	if released {
		s.version++
	}
}

// LockHolder returns the task holding the named resource, if any.
func (s *RequestState) LockHolder(resource string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	holder, held := s.locks[resource]
	return holder, held
}

// Conflicts returns a copy of the recorded lock conflicts.
func (s *RequestState) Conflicts() []Conflict {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Conflict{}, s.conflicts...)
}

// Snapshot is a serializable point-in-time view of the coordination state,
// consumed asynchronously by the persistence collaborator.
type Snapshot struct {
	RequestID string            `json:"request_id"`
	Version   uint64            `json:"version"`
	TakenAt   time.Time         `json:"taken_at"`
	Tasks     []models.Task     `json:"tasks"`
	Locks     map[string]string `json:"locks,omitempty"`
}

// Snapshot captures the current state for the write-behind persistence sink.
func (s *RequestState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := s.graph.Tasks()
	snap := Snapshot{
		RequestID: s.requestID,
		Version:   s.version,
		TakenAt:   time.Now(),
		Tasks:     make([]models.Task, 0, len(tasks)),
		Locks:     make(map[string]string, len(s.locks)),
	}
	for _, t := range tasks {
		snap.Tasks = append(snap.Tasks, *t)
	}
	for resource, holder := range s.locks {
		snap.Locks[resource] = holder
	}
	return snap
}
