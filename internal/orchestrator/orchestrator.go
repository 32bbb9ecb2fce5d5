// Package orchestrator ties planning, dispatch, and result merging together
// for one request, and pools concurrent requests behind a single submit API.
package orchestrator

import (
	"context"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/voyagerhq/voyager/internal/coord"
	"github.com/voyagerhq/voyager/internal/dispatch"
	"github.com/voyagerhq/voyager/internal/planner"
	"github.com/voyagerhq/voyager/pkg/models"
)

// Orchestrator drives a single planning request from decomposition to a
// merged result.
type Orchestrator struct {
	requestID   string
	req         *models.TripRequest
	exec        dispatch.Executor
	descriptors map[models.AgentType]models.AgentDescriptor

	store        *coord.Store
	sink         dispatch.SnapshotSink
	pollInterval time.Duration
	logger       *log.Logger

	mu     sync.RWMutex
	status models.RequestStatus
	result *models.RequestResult

	events chan dispatch.Event
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStore registers the request's coordination state in a shared store so
// other components can inspect it while the request runs.
func WithStore(store *coord.Store) Option {
	return func(o *Orchestrator) {
		o.store = store
	}
}

// WithSnapshotSink attaches a write-behind persistence sink to the dispatcher.
func WithSnapshotSink(sink dispatch.SnapshotSink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

// WithPollInterval overrides the dispatcher's backoff rescan interval.
func WithPollInterval(interval time.Duration) Option {
	return func(o *Orchestrator) {
		if interval > 0 {
			o.pollInterval = interval
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an orchestrator for one request.
func New(requestID string, req *models.TripRequest, exec dispatch.Executor, descriptors map[models.AgentType]models.AgentDescriptor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		requestID:    requestID,
		req:          req,
		exec:         exec,
		descriptors:  descriptors,
		pollInterval: dispatch.DefaultPollInterval,
		status:       models.RequestStatusPlanning,
		events:       make(chan dispatch.Event, 128),
		logger:       log.New(os.Stderr, "[orchestrator] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RequestID returns the request this orchestrator serves.
func (o *Orchestrator) RequestID() string {
	return o.requestID
}

// Status returns the request's current overall status.
func (o *Orchestrator) Status() models.RequestStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

// Result returns the final merged result, or nil while the request runs.
func (o *Orchestrator) Result() *models.RequestResult {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.result
}

// Events returns the request's event stream. Closed when Run returns.
func (o *Orchestrator) Events() <-chan dispatch.Event {
	return o.events
}

func (o *Orchestrator) setStatus(status models.RequestStatus) {
	o.mu.Lock()
	o.status = status
	o.mu.Unlock()
}

// Run plans the request, dispatches its task graph, and merges the results.
// A planning failure is fatal and returns immediately with an error result.
// Run always returns a non-nil result describing the final disposition.
func (o *Orchestrator) Run(ctx context.Context) (*models.RequestResult, error) {
	defer close(o.events)

	g, err := planner.Plan(o.requestID, o.req)
	if err != nil {
		o.logger.Printf("request %s planning failed: %v", o.requestID, err)
		result := &models.RequestResult{
			RequestID:   o.requestID,
			Status:      models.RequestStatusError,
			Error:       err.Error(),
			CompletedAt: time.Now(),
		}
		o.finish(result)
		return result, err
	}

	state := coord.NewRequestState(o.requestID, g)
	if o.store != nil {
		o.store.Add(state)
		defer o.store.Remove(o.requestID)
	}

	var dispatchOpts []dispatch.Option
	dispatchOpts = append(dispatchOpts, dispatch.WithPollInterval(o.pollInterval))
	if o.sink != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithSnapshotSink(o.sink))
	}
	d := dispatch.New(state, o.exec, o.descriptors, dispatchOpts...)

	o.setStatus(models.RequestStatusRunning)

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	for ev := range d.Events() {
		select {
		case o.events <- ev:
		default:
			// A slow consumer never stalls dispatch.
		}
	}
	runErr := <-done

	result := o.merge(state, runErr)
	o.finish(result)
	o.logger.Printf("request %s finished: %s", o.requestID, result.Status)
	return result, nil
}

func (o *Orchestrator) finish(result *models.RequestResult) {
	o.mu.Lock()
	o.status = result.Status
	o.result = result
	o.mu.Unlock()
}

// merge folds terminal task states into the final result. The disposition
// depends only on priority tiers: a critical-path (P0) task that did not
// complete voids the whole request, anything less yields a partial result
// listing what is missing.
func (o *Orchestrator) merge(state *coord.RequestState, runErr error) *models.RequestResult {
	result := &models.RequestResult{
		RequestID:   o.requestID,
		CompletedAt: time.Now(),
	}

	tasks := state.Graph().Tasks()
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Seq < tasks[j].Seq })

	var firstCritical *models.Task
	unresolved := make(map[models.AgentType]bool)
	for _, task := range tasks {
		if task.Status == models.TaskStatusCompleted {
			continue
		}
		unresolved[task.Type] = true
		// Any critical-path task that did not complete voids the request,
		// whether it failed outright or was cancelled by a cascade.
		if task.Priority == models.PriorityP0 && firstCritical == nil {
			firstCritical = task
		}
	}

	if runErr != nil {
		result.Status = models.RequestStatusCancelled
		result.Error = runErr.Error()
		return result
	}
	if firstCritical != nil {
		// Critical-path failure: no partial itinerary is returned.
		result.Status = models.RequestStatusError
		result.Error = firstCritical.Error
		return result
	}

	result.Components = mergeComponents(tasks)
	if len(unresolved) == 0 {
		result.Status = models.RequestStatusCompleted
		return result
	}

	result.Status = models.RequestStatusPartial
	for _, at := range models.AllAgentTypes() {
		if unresolved[at] {
			result.Unresolved = append(result.Unresolved, at)
		}
	}
	return result
}

// mergeComponents combines completed task payloads per agent type. Tasks
// scoped to a destination land under a by_destination map; request-wide
// tasks merge their payload keys directly. Input order is Seq, so the merge
// is deterministic.
func mergeComponents(tasks []*models.Task) map[models.AgentType]models.Component {
	components := make(map[models.AgentType]models.Component)
	for _, task := range tasks {
		if task.Status != models.TaskStatusCompleted {
			continue
		}

		component, ok := components[task.Type]
		if !ok {
			component = models.Component{Type: task.Type, Payload: make(map[string]any)}
		}

		if dest, ok := task.Input["destination"].(string); ok && dest != "" {
			byDest, _ := component.Payload["by_destination"].(map[string]any)
			if byDest == nil {
				byDest = make(map[string]any)
				component.Payload["by_destination"] = byDest
			}
			byDest[dest] = task.Result
		} else {
			for k, v := range task.Result {
				component.Payload[k] = v
			}
		}
		components[task.Type] = component
	}
	return components
}
