package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/voyagerhq/voyager/internal/coord"
	"github.com/voyagerhq/voyager/internal/gateway"
	"github.com/voyagerhq/voyager/internal/graph"
	"github.com/voyagerhq/voyager/internal/worker"
	"github.com/voyagerhq/voyager/pkg/models"
)

// fakeExec scripts per-attempt outcomes and records call order and tiers.
type fakeExec struct {
	mu    sync.Mutex
	order []string
	calls map[string]int
	tiers map[string][]models.ModelTier
	// fn decides the outcome for a given task and 1-indexed attempt.
	// A nil fn always succeeds.
	fn    func(task *models.Task, attempt int) (map[string]any, error)
	delay time.Duration
	block bool
}

func newFakeExec(fn func(task *models.Task, attempt int) (map[string]any, error)) *fakeExec {
	return &fakeExec{
		fn:    fn,
		calls: make(map[string]int),
		tiers: make(map[string][]models.ModelTier),
	}
}

func (f *fakeExec) Execute(ctx context.Context, task *models.Task, desc models.AgentDescriptor, tier models.ModelTier) (map[string]any, error) {
	f.mu.Lock()
	f.calls[task.ID]++
	attempt := f.calls[task.ID]
	f.order = append(f.order, task.ID)
	f.tiers[task.ID] = append(f.tiers[task.ID], tier)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fn != nil {
		return f.fn(task, attempt)
	}
	return map[string]any{"ok": true}, nil
}

func (f *fakeExec) callCount(taskID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[taskID]
}

func (f *fakeExec) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.order...)
}

func (f *fakeExec) tierHistory(taskID string) []models.ModelTier {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ModelTier{}, f.tiers[taskID]...)
}

func newTask(id string, at models.AgentType, pri models.Priority, seq int, deps ...string) *models.Task {
	return &models.Task{
		ID:        id,
		RequestID: "req-1",
		Type:      at,
		Priority:  pri,
		Status:    models.TaskStatusPending,
		DependsOn: deps,
		Seq:       seq,
		CreatedAt: time.Now(),
	}
}

func newState(t *testing.T, tasks ...*models.Task) *coord.RequestState {
	t.Helper()
	g := graph.New()
	if err := g.Build(tasks); err != nil {
		t.Fatalf("graph build: %v", err)
	}
	return coord.NewRequestState("req-1", g)
}

// fastDescriptor keeps retry and poll timings tight for tests.
func fastDescriptor(at models.AgentType, capacity int) models.AgentDescriptor {
	return models.AgentDescriptor{
		Type:     at,
		Capacity: capacity,
		Timeout:  time.Second,
		Retry: models.RetryPolicy{
			MaxAttempts: 3,
			BackoffBase: time.Millisecond,
			MaxBackoff:  10 * time.Millisecond,
		},
		Tier: models.TierStandard,
	}
}

func runDispatcher(t *testing.T, d *Dispatcher) ([]Event, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	var events []Event
	for ev := range d.Events() {
		events = append(events, ev)
	}
	return events, <-runErr
}

func eventsOfType(events []Event, eventType EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func TestDispatchOrderIsPriorityThenSeq(t *testing.T) {
	state := newState(t,
		newTask("aux", models.AgentWeather, models.PriorityP2, 0),
		newTask("crit-1", models.AgentWeather, models.PriorityP0, 1),
		newTask("crit-2", models.AgentWeather, models.PriorityP0, 2),
		newTask("mid", models.AgentWeather, models.PriorityP1, 3),
	)
	exec := newFakeExec(nil)
	descriptors := map[models.AgentType]models.AgentDescriptor{
		models.AgentWeather: fastDescriptor(models.AgentWeather, 1),
	}

	d := New(state, exec, descriptors, WithPollInterval(2*time.Millisecond))
	if _, err := runDispatcher(t, d); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	want := []string{"crit-1", "crit-2", "mid", "aux"}
	got := exec.callOrder()
	if len(got) != len(want) {
		t.Fatalf("executed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("execution order %v, want %v", got, want)
		}
	}
}

func TestRetryExhaustsExactlyMaxAttempts(t *testing.T) {
	state := newState(t, newTask("flaky", models.AgentWeather, models.PriorityP3, 0))
	exec := newFakeExec(func(task *models.Task, attempt int) (map[string]any, error) {
		return nil, &worker.ProviderError{TaskID: task.ID, Err: fmt.Errorf("%w: 503", gateway.ErrProviderUnavailable)}
	})
	descriptors := map[models.AgentType]models.AgentDescriptor{
		models.AgentWeather: fastDescriptor(models.AgentWeather, 1),
	}

	d := New(state, exec, descriptors, WithPollInterval(2*time.Millisecond))
	events, err := runDispatcher(t, d)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if got := exec.callCount("flaky"); got != 3 {
		t.Errorf("task attempted %d times, want exactly 3", got)
	}
	task := state.Graph().GetTask("flaky")
	if task.Status != models.TaskStatusFailed {
		t.Errorf("task status %s, want failed", task.Status)
	}
	if task.RetryCount != 3 {
		t.Errorf("retry count %d, want 3", task.RetryCount)
	}
	if task.Error == "" {
		t.Error("terminal failure must record the error")
	}
	if n := len(eventsOfType(events, EventTaskRetrying)); n != 2 {
		t.Errorf("got %d retry events, want 2", n)
	}
	if n := len(eventsOfType(events, EventTaskFailed)); n != 1 {
		t.Errorf("got %d failure events, want 1", n)
	}
}

func TestTerminalFailureCascadesCancellation(t *testing.T) {
	state := newState(t,
		newTask("root", models.AgentPlanning, models.PriorityP0, 0),
		newTask("mid", models.AgentLocation, models.PriorityP1, 1, "root"),
		newTask("leaf", models.AgentActivity, models.PriorityP2, 2, "mid"),
		newTask("side", models.AgentWeather, models.PriorityP3, 3),
	)
	exec := newFakeExec(func(task *models.Task, attempt int) (map[string]any, error) {
		if task.ID == "root" {
			return nil, &worker.ProviderError{TaskID: task.ID, Err: fmt.Errorf("%w: 503", gateway.ErrProviderUnavailable)}
		}
		return map[string]any{"ok": true}, nil
	})
	descriptors := make(map[models.AgentType]models.AgentDescriptor)
	for _, at := range models.AllAgentTypes() {
		desc := fastDescriptor(at, 1)
		desc.Retry.MaxAttempts = 1
		descriptors[at] = desc
	}

	d := New(state, exec, descriptors, WithPollInterval(2*time.Millisecond))
	events, err := runDispatcher(t, d)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	wantStatus := map[string]models.TaskStatus{
		"root": models.TaskStatusFailed,
		"mid":  models.TaskStatusCancelled,
		"leaf": models.TaskStatusCancelled,
		"side": models.TaskStatusCompleted,
	}
	for id, want := range wantStatus {
		if got := state.Graph().GetTask(id).Status; got != want {
			t.Errorf("task %s status %s, want %s", id, got, want)
		}
	}

	// Cancelled dependents were never dispatched.
	if exec.callCount("mid") != 0 || exec.callCount("leaf") != 0 {
		t.Error("cascade-cancelled tasks must not execute")
	}
	if n := len(eventsOfType(events, EventTaskCancelled)); n != 2 {
		t.Errorf("got %d cancellation events, want 2", n)
	}
}

func TestLockContentionRequeuesLoser(t *testing.T) {
	a := newTask("alloc-a", models.AgentBudget, models.PriorityP2, 0)
	a.Locks = []string{"budget_total"}
	b := newTask("alloc-b", models.AgentBudget, models.PriorityP2, 1)
	b.Locks = []string{"budget_total"}

	state := newState(t, a, b)
	exec := newFakeExec(nil)
	exec.delay = 20 * time.Millisecond
	descriptors := map[models.AgentType]models.AgentDescriptor{
		models.AgentBudget: fastDescriptor(models.AgentBudget, 2),
	}

	d := New(state, exec, descriptors, WithPollInterval(2*time.Millisecond))
	events, err := runDispatcher(t, d)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	for _, id := range []string{"alloc-a", "alloc-b"} {
		if got := state.Graph().GetTask(id).Status; got != models.TaskStatusCompleted {
			t.Errorf("task %s status %s, want completed", id, got)
		}
	}
	// The pool had room for both, so the loser's delay must come from the
	// lock, observable as a requeue and a recorded conflict.
	if len(eventsOfType(events, EventTaskRequeued)) == 0 {
		t.Error("expected at least one requeue event for the lock loser")
	}
	if len(state.Conflicts()) == 0 {
		t.Error("expected a recorded lock conflict")
	}
	if _, held := state.LockHolder("budget_total"); held {
		t.Error("lock must be released after both holders finished")
	}
}

func TestQuotaFallbackDowngradesTierWithoutConsumingAttempt(t *testing.T) {
	state := newState(t, newTask("throttled", models.AgentActivity, models.PriorityP2, 0))
	exec := newFakeExec(func(task *models.Task, attempt int) (map[string]any, error) {
		if attempt == 1 {
			return nil, &worker.ProviderError{TaskID: task.ID, Err: fmt.Errorf("%w: 429", gateway.ErrQuotaExceeded)}
		}
		return map[string]any{"ok": true}, nil
	})
	desc := fastDescriptor(models.AgentActivity, 1)
	desc.FallbackTier = models.TierEconomy
	descriptors := map[models.AgentType]models.AgentDescriptor{models.AgentActivity: desc}

	d := New(state, exec, descriptors, WithPollInterval(2*time.Millisecond))
	if _, err := runDispatcher(t, d); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	task := state.Graph().GetTask("throttled")
	if task.Status != models.TaskStatusCompleted {
		t.Fatalf("task status %s, want completed", task.Status)
	}
	if task.RetryCount != 0 {
		t.Errorf("fallback consumed %d attempts, want 0", task.RetryCount)
	}
	tiers := exec.tierHistory("throttled")
	if len(tiers) != 2 || tiers[0] != models.TierStandard || tiers[1] != models.TierEconomy {
		t.Errorf("tier history %v, want [standard economy]", tiers)
	}
}

func TestQuotaWithoutFallbackConsumesRetryBudget(t *testing.T) {
	state := newState(t, newTask("throttled", models.AgentActivity, models.PriorityP2, 0))
	exec := newFakeExec(func(task *models.Task, attempt int) (map[string]any, error) {
		return nil, &worker.ProviderError{TaskID: task.ID, Err: fmt.Errorf("%w: 429", gateway.ErrQuotaExceeded)}
	})
	desc := fastDescriptor(models.AgentActivity, 1)
	desc.Retry.MaxAttempts = 2
	descriptors := map[models.AgentType]models.AgentDescriptor{models.AgentActivity: desc}

	d := New(state, exec, descriptors, WithPollInterval(2*time.Millisecond))
	if _, err := runDispatcher(t, d); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if got := exec.callCount("throttled"); got != 2 {
		t.Errorf("task attempted %d times, want 2", got)
	}
	if got := state.Graph().GetTask("throttled").Status; got != models.TaskStatusFailed {
		t.Errorf("task status %s, want failed", got)
	}
}

func TestValidationErrorIsTerminalByDefault(t *testing.T) {
	state := newState(t, newTask("garbled", models.AgentWeather, models.PriorityP3, 0))
	exec := newFakeExec(func(task *models.Task, attempt int) (map[string]any, error) {
		return nil, &worker.ValidationError{TaskID: task.ID, Reason: "missing forecast key"}
	})
	descriptors := map[models.AgentType]models.AgentDescriptor{
		models.AgentWeather: fastDescriptor(models.AgentWeather, 1),
	}

	d := New(state, exec, descriptors, WithPollInterval(2*time.Millisecond))
	if _, err := runDispatcher(t, d); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if got := exec.callCount("garbled"); got != 1 {
		t.Errorf("task attempted %d times, want 1 (no validation retries by default)", got)
	}
	if got := state.Graph().GetTask("garbled").Status; got != models.TaskStatusFailed {
		t.Errorf("task status %s, want failed", got)
	}
}

func TestValidationRetryOptInAllowsExactlyOneRetry(t *testing.T) {
	state := newState(t, newTask("garbled", models.AgentWeather, models.PriorityP3, 0))
	exec := newFakeExec(func(task *models.Task, attempt int) (map[string]any, error) {
		return nil, &worker.ValidationError{TaskID: task.ID, Reason: "missing forecast key"}
	})
	desc := fastDescriptor(models.AgentWeather, 1)
	desc.Retry.RetryValidation = true
	descriptors := map[models.AgentType]models.AgentDescriptor{models.AgentWeather: desc}

	d := New(state, exec, descriptors, WithPollInterval(2*time.Millisecond))
	if _, err := runDispatcher(t, d); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if got := exec.callCount("garbled"); got != 2 {
		t.Errorf("task attempted %d times, want 2 (one retry, then terminal)", got)
	}
	if got := state.Graph().GetTask("garbled").Status; got != models.TaskStatusFailed {
		t.Errorf("task status %s, want failed", got)
	}
}

func TestRequestCancellationTearsDownAllTasks(t *testing.T) {
	state := newState(t,
		newTask("running", models.AgentPlanning, models.PriorityP0, 0),
		newTask("blocked", models.AgentLocation, models.PriorityP1, 1, "running"),
	)
	exec := newFakeExec(nil)
	exec.block = true
	descriptors := map[models.AgentType]models.AgentDescriptor{
		models.AgentPlanning: fastDescriptor(models.AgentPlanning, 1),
		models.AgentLocation: fastDescriptor(models.AgentLocation, 1),
	}

	d := New(state, exec, descriptors, WithPollInterval(2*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	var events []Event
	for ev := range d.Events() {
		events = append(events, ev)
	}
	if err := <-runErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}

	for _, id := range []string{"running", "blocked"} {
		if got := state.Graph().GetTask(id).Status; got != models.TaskStatusCancelled {
			t.Errorf("task %s status %s, want cancelled", id, got)
		}
	}
	if len(eventsOfType(events, EventRequestDone)) != 1 {
		t.Error("expected a terminal request event after teardown")
	}
}

func TestCapacityBoundsConcurrency(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0

	tasks := make([]*models.Task, 0, 6)
	for i := 0; i < 6; i++ {
		tasks = append(tasks, newTask(fmt.Sprintf("w-%d", i), models.AgentWeather, models.PriorityP3, i))
	}
	state := newState(t, tasks...)

	exec := newFakeExec(func(task *models.Task, attempt int) (map[string]any, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return map[string]any{"ok": true}, nil
	})
	descriptors := map[models.AgentType]models.AgentDescriptor{
		models.AgentWeather: fastDescriptor(models.AgentWeather, 2),
	}

	d := New(state, exec, descriptors, WithPollInterval(2*time.Millisecond))
	if _, err := runDispatcher(t, d); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("peak concurrency %d exceeded pool capacity 2", peak)
	}
}

func TestPoolsScheduleIndependentlyAcrossAgentTypes(t *testing.T) {
	// A saturated transport pool must not delay weather dispatch: the two
	// agent-type pools share no ordering guarantee. Transport holds its only
	// slot until weather completes, so if pools were serialized (the higher
	// priority transport tasks dispatch first) the run could never finish.
	release := make(chan struct{})
	state := newState(t,
		newTask("haul-1", models.AgentTransport, models.PriorityP0, 0),
		newTask("haul-2", models.AgentTransport, models.PriorityP0, 1),
		newTask("breeze", models.AgentWeather, models.PriorityP3, 2),
	)
	exec := newFakeExec(func(task *models.Task, attempt int) (map[string]any, error) {
		if task.Type == models.AgentTransport {
			<-release
		}
		return map[string]any{"ok": true}, nil
	})
	descriptors := map[models.AgentType]models.AgentDescriptor{
		models.AgentTransport: fastDescriptor(models.AgentTransport, 1),
		models.AgentWeather:   fastDescriptor(models.AgentWeather, 1),
	}

	d := New(state, exec, descriptors, WithPollInterval(2*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	sawWeather := false
	for ev := range d.Events() {
		if ev.Type == EventTaskCompleted && ev.AgentType == models.AgentWeather && !sawWeather {
			sawWeather = true
			close(release)
		}
	}
	if err := <-runErr; err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !sawWeather {
		t.Fatal("weather never completed while the transport pool was saturated")
	}
	for _, id := range []string{"haul-1", "haul-2", "breeze"} {
		if got := state.Graph().GetTask(id).Status; got != models.TaskStatusCompleted {
			t.Errorf("task %s status %s, want completed", id, got)
		}
	}
}

func TestVersionAdvancesAcrossRun(t *testing.T) {
	state := newState(t, newTask("only", models.AgentWeather, models.PriorityP3, 0))
	descriptors := map[models.AgentType]models.AgentDescriptor{
		models.AgentWeather: fastDescriptor(models.AgentWeather, 1),
	}

	d := New(state, newFakeExec(nil), descriptors, WithPollInterval(2*time.Millisecond))
	before := state.Version()
	if _, err := runDispatcher(t, d); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if state.Version() <= before {
		t.Error("version counter must advance with committed mutations")
	}
}

// recordingSink captures write-behind snapshots.
type recordingSink struct {
	mu    sync.Mutex
	snaps []coord.Snapshot
}

func (r *recordingSink) Persist(snap coord.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
}

func TestSnapshotSinkSeesMonotonicVersions(t *testing.T) {
	state := newState(t,
		newTask("first", models.AgentWeather, models.PriorityP3, 0),
		newTask("second", models.AgentWeather, models.PriorityP3, 1),
	)
	descriptors := map[models.AgentType]models.AgentDescriptor{
		models.AgentWeather: fastDescriptor(models.AgentWeather, 1),
	}
	sink := &recordingSink{}

	d := New(state, newFakeExec(nil), descriptors,
		WithPollInterval(2*time.Millisecond), WithSnapshotSink(sink))
	if _, err := runDispatcher(t, d); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.snaps) == 0 {
		t.Fatal("sink received no snapshots")
	}
	var last uint64
	for _, snap := range sink.snaps {
		if snap.Version < last {
			t.Fatalf("snapshot versions regressed: %d after %d", snap.Version, last)
		}
		last = snap.Version
	}
	final := sink.snaps[len(sink.snaps)-1]
	for _, task := range final.Tasks {
		if task.Status != models.TaskStatusCompleted {
			t.Errorf("final snapshot has task %s in %s", task.ID, task.Status)
		}
	}
}
