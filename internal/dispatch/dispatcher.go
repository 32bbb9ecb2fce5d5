// Package dispatch schedules a request's ready tasks onto workers and owns
// every task status mutation after planning. The loop is single-threaded:
// worker goroutines report outcomes on a channel and the dispatcher applies
// retries, backoff, lock requeues, and cascade cancellation in receipt order,
// so identical inputs yield identical schedules.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/voyagerhq/voyager/internal/coord"
	"github.com/voyagerhq/voyager/internal/gateway"
	"github.com/voyagerhq/voyager/internal/worker"
	"github.com/voyagerhq/voyager/pkg/models"
)

// DefaultPollInterval is how often the dispatcher rescans for tasks whose
// backoff window elapsed with no other activity.
const DefaultPollInterval = 25 * time.Millisecond

// Executor runs a single task attempt. *worker.Worker satisfies this.
type Executor interface {
	Execute(ctx context.Context, task *models.Task, desc models.AgentDescriptor, tier models.ModelTier) (map[string]any, error)
}

// SnapshotSink receives point-in-time coordination snapshots after each
// applied outcome. Persistence is write-behind: a slow or failing sink
// never stalls scheduling.
type SnapshotSink interface {
	Persist(snap coord.Snapshot)
}

// outcome is a worker goroutine's report back to the dispatch loop.
type outcome struct {
	taskID  string
	payload map[string]any
	err     error
}

// pool tracks concurrency accounting for one agent type.
type pool struct {
	capacity int
	running  int
}

// Dispatcher drives one request's task graph to completion.
type Dispatcher struct {
	state       *coord.RequestState
	exec        Executor
	descriptors map[models.AgentType]models.AgentDescriptor

	pools  map[models.AgentType]*pool
	notify chan outcome
	events chan Event

	// tierOverride holds per-task quota fallbacks; fallbackUsed ensures the
	// free (non-attempt-consuming) downgrade happens at most once per task.
	tierOverride map[string]models.ModelTier
	fallbackUsed map[string]bool

	dispatched   int
	pollInterval time.Duration
	sink         SnapshotSink
	logger       *log.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPollInterval overrides the backoff rescan interval.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

// WithSnapshotSink attaches a write-behind persistence sink.
func WithSnapshotSink(sink SnapshotSink) Option {
	return func(d *Dispatcher) {
		d.sink = sink
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// New creates a dispatcher for one request's coordination state. Agent types
// missing from descriptors run under DefaultDescriptor.
func New(state *coord.RequestState, exec Executor, descriptors map[models.AgentType]models.AgentDescriptor, opts ...Option) *Dispatcher {
	size := state.Graph().Size()
	d := &Dispatcher{
		state:        state,
		exec:         exec,
		descriptors:  descriptors,
		pools:        make(map[models.AgentType]*pool),
		notify:       make(chan outcome, size+1),
		events:       make(chan Event, size*8+16),
		tierOverride: make(map[string]models.ModelTier),
		fallbackUsed: make(map[string]bool),
		pollInterval: DefaultPollInterval,
		logger:       log.New(os.Stderr, "[dispatch] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Events returns the dispatcher's event stream. Closed when Run returns.
func (d *Dispatcher) Events() <-chan Event {
	return d.events
}

// DefaultDescriptor is the configuration applied to agent types without an
// explicit descriptor.
func DefaultDescriptor(agentType models.AgentType) models.AgentDescriptor {
	return models.AgentDescriptor{
		Type:     agentType,
		Capacity: 2,
		Timeout:  60 * time.Second,
		Retry: models.RetryPolicy{
			MaxAttempts: 3,
			BackoffBase: 500 * time.Millisecond,
			MaxBackoff:  30 * time.Second,
		},
		Tier: models.TierStandard,
	}
}

func (d *Dispatcher) descriptor(agentType models.AgentType) models.AgentDescriptor {
	if desc, ok := d.descriptors[agentType]; ok {
		return desc
	}
	return DefaultDescriptor(agentType)
}

func (d *Dispatcher) pool(agentType models.AgentType) *pool {
	p, ok := d.pools[agentType]
	if !ok {
		capacity := d.descriptor(agentType).Capacity
		if capacity <= 0 {
			capacity = 1
		}
		p = &pool{capacity: capacity}
		d.pools[agentType] = p
	}
	return p
}

// Run drives the request until every task is terminal or ctx is cancelled.
// It owns all status transitions; callers observe progress via Events and
// read results off the graph after Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.events)

	d.promote()
	d.schedule(ctx)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		if d.allTerminal() {
			d.emit(Event{Type: EventRequestDone, RequestID: d.state.RequestID(), Timestamp: time.Now()})
			d.persist()
			return nil
		}

		select {
		case <-ctx.Done():
			d.cancelRemaining()
			d.emit(Event{Type: EventRequestDone, RequestID: d.state.RequestID(), Timestamp: time.Now()})
			d.persist()
			return ctx.Err()
		case out := <-d.notify:
			d.apply(out)
			d.promote()
			d.schedule(ctx)
			d.persist()
		case <-ticker.C:
			// A backoff window may have elapsed with nothing else happening.
			d.schedule(ctx)
		}
	}
}

// promote moves pending tasks whose dependencies all completed into ready.
func (d *Dispatcher) promote() {
	for _, id := range d.state.Graph().GetReady() {
		task := d.state.Graph().GetTask(id)
		if task.Status != models.TaskStatusPending {
			continue
		}
		if err := d.state.Transition(id, models.TaskStatusPending, models.TaskStatusReady); err != nil {
			d.logger.Printf("promote %s: %v", id, err)
			continue
		}
		d.emitTask(EventTaskQueued, task, "dependencies satisfied", nil)
	}
}

// schedule dispatches eligible ready tasks in priority order, FIFO within a
// tier. A task blocked on pool capacity or a held lock stays ready; neither
// is a failure.
func (d *Dispatcher) schedule(ctx context.Context) {
	now := time.Now()

	var eligible []*models.Task
	for _, task := range d.state.Graph().Tasks() {
		if task.Status == models.TaskStatusReady && !task.NextEligibleAt.After(now) {
			eligible = append(eligible, task)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority < eligible[j].Priority
		}
		return eligible[i].Seq < eligible[j].Seq
	})

	for _, task := range eligible {
		p := d.pool(task.Type)
		if p.running >= p.capacity {
			continue
		}
		if !d.acquireLocks(task) {
			continue
		}
		d.start(ctx, task)
	}
}

// acquireLocks takes every resource the task declares, all or nothing.
// Losing any lock requeues the task as a committed ready -> ready transition
// so the contention is observable in the version history.
func (d *Dispatcher) acquireLocks(task *models.Task) bool {
	for i, resource := range task.Locks {
		if err := d.state.AcquireLock(resource, task.ID); err != nil {
			for _, held := range task.Locks[:i] {
				if rerr := d.state.ReleaseLock(held, task.ID); rerr != nil {
					d.logger.Printf("release %s after partial acquisition: %v", held, rerr)
				}
			}
			// Back off one poll interval so the loser does not re-contend
			// on every tick while the holder is still running.
			if merr := d.state.Mutate(task.ID, func(t *models.Task) {
				t.NextEligibleAt = time.Now().Add(d.pollInterval)
			}); merr != nil {
				d.logger.Printf("requeue bookkeeping %s: %v", task.ID, merr)
			}
			if terr := d.state.Transition(task.ID, models.TaskStatusReady, models.TaskStatusReady); terr != nil {
				d.logger.Printf("requeue %s: %v", task.ID, terr)
			}
			d.emitTask(EventTaskRequeued, task, fmt.Sprintf("resource %s held", resource), nil)
			return false
		}
	}
	return true
}

// start transitions the task to running and launches the worker goroutine.
func (d *Dispatcher) start(ctx context.Context, task *models.Task) {
	if err := d.state.Transition(task.ID, models.TaskStatusReady, models.TaskStatusRunning); err != nil {
		d.logger.Printf("start %s: %v", task.ID, err)
		d.state.ReleaseLocksHeldBy(task.ID)
		return
	}

	d.dispatched++
	workerID := fmt.Sprintf("worker-%d", d.dispatched)
	if err := d.state.Mutate(task.ID, func(t *models.Task) {
		t.AssignedWorker = workerID
	}); err != nil {
		d.logger.Printf("assign %s: %v", task.ID, err)
	}

	d.pool(task.Type).running++
	desc := d.descriptor(task.Type)
	tier := d.tierFor(task.ID, desc)

	d.emitTask(EventTaskStarted, task, fmt.Sprintf("tier %s, attempt %d", tier, task.RetryCount+1), nil)

	go func(taskID string) {
		payload, err := d.exec.Execute(ctx, task, desc, tier)
		d.notify <- outcome{taskID: taskID, payload: payload, err: err}
	}(task.ID)
}

// tierFor resolves the model tier for the task's next attempt, honoring a
// recorded quota fallback.
func (d *Dispatcher) tierFor(taskID string, desc models.AgentDescriptor) models.ModelTier {
	if override, ok := d.tierOverride[taskID]; ok {
		return override
	}
	if desc.Tier.Valid() {
		return desc.Tier
	}
	return models.TierStandard
}

// apply folds one worker outcome into the coordination state.
func (d *Dispatcher) apply(out outcome) {
	task := d.state.Graph().GetTask(out.taskID)
	if task == nil {
		d.logger.Printf("outcome for unknown task %s", out.taskID)
		return
	}

	d.pool(task.Type).running--
	d.state.ReleaseLocksHeldBy(task.ID)

	if task.Status != models.TaskStatusRunning {
		// The request was torn down while this attempt was in flight.
		return
	}

	if out.err == nil {
		d.complete(task, out.payload)
		return
	}
	d.fail(task, out.err)
}

func (d *Dispatcher) complete(task *models.Task, payload map[string]any) {
	if err := d.state.Mutate(task.ID, func(t *models.Task) {
		t.Result = payload
		t.Error = ""
	}); err != nil {
		d.logger.Printf("store result %s: %v", task.ID, err)
	}
	if err := d.state.Transition(task.ID, models.TaskStatusRunning, models.TaskStatusCompleted); err != nil {
		d.logger.Printf("complete %s: %v", task.ID, err)
		return
	}
	d.emitTask(EventTaskCompleted, task, "", nil)
}

// fail classifies a failed attempt and routes it to retry, fallback, or
// terminal failure.
func (d *Dispatcher) fail(task *models.Task, execErr error) {
	desc := d.descriptor(task.Type)

	// Caller cancellation is request teardown, not a task failure.
	if errors.Is(execErr, context.Canceled) {
		if err := d.state.Transition(task.ID, models.TaskStatusRunning, models.TaskStatusCancelled); err != nil {
			d.logger.Printf("cancel %s: %v", task.ID, err)
			return
		}
		d.emitTask(EventTaskCancelled, task, "request cancelled", execErr)
		return
	}

	var verr *worker.ValidationError
	if errors.As(execErr, &verr) {
		// Invalid output is assumed deterministic: no retry unless the
		// descriptor opts in, and then only once.
		if !desc.Retry.RetryValidation || task.RetryCount > 0 {
			d.failTerminal(task, execErr)
			return
		}
		d.retry(task, desc, execErr, false)
		return
	}

	if errors.Is(execErr, gateway.ErrQuotaExceeded) {
		// One free downgrade to the fallback tier, if configured. The
		// fallback attempt does not consume retry budget.
		if desc.FallbackTier.Valid() && !d.fallbackUsed[task.ID] {
			d.fallbackUsed[task.ID] = true
			d.tierOverride[task.ID] = desc.FallbackTier
			if err := d.state.Mutate(task.ID, func(t *models.Task) {
				t.NextEligibleAt = time.Now().Add(desc.Retry.Backoff(1))
			}); err != nil {
				d.logger.Printf("fallback %s: %v", task.ID, err)
			}
			if err := d.state.Transition(task.ID, models.TaskStatusRunning, models.TaskStatusReady); err != nil {
				d.logger.Printf("fallback requeue %s: %v", task.ID, err)
				return
			}
			d.emitTask(EventTaskRetrying, task, fmt.Sprintf("quota exceeded, falling back to tier %s", desc.FallbackTier), execErr)
			return
		}
		// No fallback available: retry on a stretched backoff since quota
		// windows outlast transient provider hiccups.
		d.retry(task, desc, execErr, true)
		return
	}

	// Timeouts and provider unavailability take the standard retry path.
	d.retry(task, desc, execErr, false)
}

// retry consumes one attempt, then either requeues the task with backoff or
// fails it terminally when the budget is exhausted.
func (d *Dispatcher) retry(task *models.Task, desc models.AgentDescriptor, execErr error, quota bool) {
	attempts := task.RetryCount + 1
	if err := d.state.Mutate(task.ID, func(t *models.Task) {
		t.RetryCount = attempts
	}); err != nil {
		d.logger.Printf("retry bookkeeping %s: %v", task.ID, err)
	}

	if attempts >= desc.Retry.MaxAttempts {
		d.failTerminal(task, execErr)
		return
	}

	delay := desc.Retry.Backoff(attempts)
	if quota {
		delay *= 2
		if desc.Retry.MaxBackoff > 0 && delay > desc.Retry.MaxBackoff {
			delay = desc.Retry.MaxBackoff
		}
	}
	if err := d.state.Mutate(task.ID, func(t *models.Task) {
		t.NextEligibleAt = time.Now().Add(delay)
	}); err != nil {
		d.logger.Printf("backoff %s: %v", task.ID, err)
	}
	if err := d.state.Transition(task.ID, models.TaskStatusRunning, models.TaskStatusReady); err != nil {
		d.logger.Printf("requeue %s after failure: %v", task.ID, err)
		return
	}

	ev := Event{
		Type:      EventTaskRetrying,
		RequestID: task.RequestID,
		TaskID:    task.ID,
		AgentType: task.Type,
		Priority:  task.Priority,
		Attempt:   attempts,
		Message:   fmt.Sprintf("retrying in %v", delay),
		Error:     execErr,
		Timestamp: time.Now(),
	}
	d.emit(ev)
	d.logger.Printf("task %s (%s) attempt %d/%d failed, retrying in %v: %v",
		task.ID, task.Type, attempts, desc.Retry.MaxAttempts, delay, execErr)
}

// failTerminal marks the task failed and cascades cancellation to every
// transitive dependent, since none of them can ever become ready.
func (d *Dispatcher) failTerminal(task *models.Task, execErr error) {
	if err := d.state.Mutate(task.ID, func(t *models.Task) {
		t.Error = execErr.Error()
	}); err != nil {
		d.logger.Printf("store error %s: %v", task.ID, err)
	}
	if err := d.state.Transition(task.ID, models.TaskStatusRunning, models.TaskStatusFailed); err != nil {
		d.logger.Printf("fail %s: %v", task.ID, err)
		return
	}
	d.emitTask(EventTaskFailed, task, "", execErr)
	d.logger.Printf("task %s (%s, %s) failed terminally: %v", task.ID, task.Type, task.Priority, execErr)

	for _, depID := range d.state.Graph().GetTransitiveDependents(task.ID) {
		dep := d.state.Graph().GetTask(depID)
		// Dependents of a failed task can only be pending or ready; they
		// never started because their dependency never completed.
		if dep == nil || dep.Status.Terminal() || dep.Status == models.TaskStatusRunning {
			continue
		}
		if err := d.state.Mutate(depID, func(t *models.Task) {
			t.Error = fmt.Sprintf("dependency %s failed", task.ID)
		}); err != nil {
			d.logger.Printf("cascade bookkeeping %s: %v", depID, err)
		}
		if err := d.state.Transition(depID, dep.Status, models.TaskStatusCancelled); err != nil {
			d.logger.Printf("cascade cancel %s: %v", depID, err)
			continue
		}
		d.emitTask(EventTaskCancelled, dep, fmt.Sprintf("dependency %s failed", task.ID), nil)
	}
}

// cancelRemaining tears down every non-terminal task on request cancellation.
// In-flight workers observe ctx and report back into the buffered notify
// channel, so their goroutines never block after Run returns.
func (d *Dispatcher) cancelRemaining() {
	for _, task := range d.state.Graph().Tasks() {
		if task.Status.Terminal() {
			continue
		}
		from := task.Status
		if from == models.TaskStatusRunning {
			d.state.ReleaseLocksHeldBy(task.ID)
		}
		if err := d.state.Transition(task.ID, from, models.TaskStatusCancelled); err != nil {
			d.logger.Printf("teardown cancel %s: %v", task.ID, err)
			continue
		}
		d.emitTask(EventTaskCancelled, task, "request cancelled", nil)
	}
}

func (d *Dispatcher) allTerminal() bool {
	for _, task := range d.state.Graph().Tasks() {
		if !task.Status.Terminal() {
			return false
		}
	}
	return true
}

// persist hands the current snapshot to the write-behind sink, if any.
func (d *Dispatcher) persist() {
	if d.sink == nil {
		return
	}
	d.sink.Persist(d.state.Snapshot())
}

func (d *Dispatcher) emitTask(eventType EventType, task *models.Task, message string, err error) {
	d.emit(Event{
		Type:      eventType,
		RequestID: task.RequestID,
		TaskID:    task.ID,
		AgentType: task.Type,
		Priority:  task.Priority,
		Attempt:   task.RetryCount,
		Message:   message,
		Error:     err,
		Timestamp: time.Now(),
	})
}

// emit never blocks; a full event buffer drops the event rather than
// stalling the scheduler.
func (d *Dispatcher) emit(ev Event) {
	select {
	case d.events <- ev:
	default:
	}
}
