package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/voyagerhq/voyager/internal/coord"
	"github.com/voyagerhq/voyager/internal/dispatch"
	"github.com/voyagerhq/voyager/pkg/models"
)

// PoolConfig contains the shared collaborators for the request pool.
type PoolConfig struct {
	// Executor runs task attempts. Required.
	Executor dispatch.Executor
	// Descriptors is the per-agent-type configuration.
	Descriptors map[models.AgentType]models.AgentDescriptor
	// Store holds the coordination state of in-flight requests.
	Store *coord.Store
	// Sink receives write-behind snapshots, if set.
	Sink dispatch.SnapshotSink
	// Logger overrides the default pool logger.
	Logger *log.Logger
}

// entry tracks one submitted request for its whole lifetime.
type entry struct {
	orch   *Orchestrator
	cancel context.CancelFunc
	result *models.RequestResult
}

// Pool runs multiple planning requests concurrently with full isolation:
// requests share workers and configuration but never coordination state.
type Pool struct {
	cfg PoolConfig

	mu      sync.RWMutex
	entries map[string]*entry

	events chan dispatch.Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *log.Logger
}

// NewPool creates a request pool.
func NewPool(cfg PoolConfig) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[pool] ", log.LstdFlags)
	}
	return &Pool{
		cfg:     cfg,
		entries: make(map[string]*entry),
		events:  make(chan dispatch.Event, 256),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// Submit starts a new request under a generated ID and returns the ID.
func (p *Pool) Submit(req *models.TripRequest) (string, error) {
	return p.SubmitWithID(uuid.New().String()[:8], req)
}

// SubmitWithID starts a request under a caller-chosen ID. Re-submitting an
// ID already known to the pool is a no-op returning the same ID, so retried
// submissions never spawn duplicate work.
func (p *Pool) SubmitWithID(requestID string, req *models.TripRequest) (string, error) {
	if p.cfg.Executor == nil {
		return "", fmt.Errorf("pool has no executor")
	}
	if requestID == "" {
		return "", fmt.Errorf("empty request id")
	}

	p.mu.Lock()
	if _, exists := p.entries[requestID]; exists {
		p.mu.Unlock()
		return requestID, nil
	}

	orch := New(requestID, req, p.cfg.Executor, p.cfg.Descriptors,
		WithStore(p.cfg.Store),
		WithSnapshotSink(p.cfg.Sink),
	)
	ctx, cancel := context.WithCancel(p.ctx)
	e := &entry{orch: orch, cancel: cancel}
	p.entries[requestID] = e
	p.mu.Unlock()

	go p.forwardEvents(orch)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()

		result, err := orch.Run(ctx)
		if err != nil {
			p.logger.Printf("request %s failed: %v", requestID, err)
		}

		p.mu.Lock()
		e.result = result
		p.mu.Unlock()
	}()

	return requestID, nil
}

// forwardEvents forwards one request's events into the pool's aggregate stream.
func (p *Pool) forwardEvents(orch *Orchestrator) {
	for ev := range orch.Events() {
		select {
		case p.events <- ev:
		case <-p.ctx.Done():
			return
		}
	}
}

// Events returns the aggregate event stream across all requests.
func (p *Pool) Events() <-chan dispatch.Event {
	return p.events
}

// Status reports a request's overall status. The second return is false for
// IDs the pool has never seen.
func (p *Pool) Status(requestID string) (models.RequestStatus, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[requestID]
	if !ok {
		return "", false
	}
	if e.result != nil {
		return e.result.Status, true
	}
	return e.orch.Status(), true
}

// Result returns a request's final result, or false while it still runs or
// for unknown IDs.
func (p *Pool) Result(requestID string) (*models.RequestResult, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[requestID]
	if !ok || e.result == nil {
		return nil, false
	}
	return e.result, true
}

// Cancel aborts a running request. Cancelling a finished or unknown request
// is a no-op.
func (p *Pool) Cancel(requestID string) {
	p.mu.RLock()
	e, ok := p.entries[requestID]
	p.mu.RUnlock()
	if ok {
		e.cancel()
	}
}

// Active returns the number of requests still running.
func (p *Pool) Active() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, e := range p.entries {
		if e.result == nil {
			n++
		}
	}
	return n
}

// Stop cancels every running request, waits for them to finish, and closes
// the aggregate event stream.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
	close(p.events)
}
