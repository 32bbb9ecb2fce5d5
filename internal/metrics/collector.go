// Package metrics collects per-execution usage records (tokens, latency,
// cost). Recording is fire-and-forget: it never blocks task completion, and
// cost tracking is observational only; it does not gate scheduling.
package metrics

import (
	"sync"
	"time"

	"github.com/voyagerhq/voyager/pkg/models"
)

// UsageEvent is one usage record emitted per worker execution.
type UsageEvent struct {
	// RequestID is the planning request the execution belonged to.
	RequestID string
	// TaskID is the executed task.
	TaskID string
	// AgentType is the agent type that ran.
	AgentType models.AgentType
	// Tier is the model tier the call was served on.
	Tier models.ModelTier
	// InputTokens and OutputTokens are provider-reported usage.
	InputTokens  int64
	OutputTokens int64
	// Latency is the gateway call duration.
	Latency time.Duration
	// Cost is the USD cost of the call.
	Cost float64
	// At is when the execution finished.
	At time.Time
}

// Recorder is the sink interface workers emit usage records to.
type Recorder interface {
	// Record submits a usage event. Implementations must not block.
	Record(event UsageEvent)
}

// Usage is an aggregate rollup of usage events.
type Usage struct {
	// Calls is the number of recorded executions.
	Calls int64
	// InputTokens and OutputTokens are summed token counts.
	InputTokens  int64
	OutputTokens int64
	// Cost is the summed USD cost.
	Cost float64
}

// Collector aggregates usage events per request and per agent type.
// A full intake channel drops the event rather than blocking the caller.
type Collector struct {
	mu sync.RWMutex

	byRequest map[string]*Usage
	byAgent   map[models.AgentType]*Usage
	total     Usage
	dropped   uint64

	events  chan UsageEvent
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewCollector creates a collector and starts its intake goroutine.
func NewCollector() *Collector {
	c := &Collector{
		byRequest: make(map[string]*Usage),
		byAgent:   make(map[models.AgentType]*Usage),
		events:    make(chan UsageEvent, 256),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go c.drain()
	return c
}

// Record submits an event without blocking. Events arriving after Close,
// or while the intake buffer is full, are dropped and counted.
func (c *Collector) Record(event UsageEvent) {
	select {
	case c.events <- event:
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
	}
}

// drain applies intake events to the aggregates.
func (c *Collector) drain() {
	defer close(c.stopped)
	for {
		select {
		case event := <-c.events:
			c.apply(event)
		case <-c.done:
			// Flush whatever is already buffered.
			for {
				select {
				case event := <-c.events:
					c.apply(event)
				default:
					return
				}
			}
		}
	}
}

func (c *Collector) apply(event UsageEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := c.byRequest[event.RequestID]
	if req == nil {
		req = &Usage{}
		c.byRequest[event.RequestID] = req
	}
	agent := c.byAgent[event.AgentType]
	if agent == nil {
		agent = &Usage{}
		c.byAgent[event.AgentType] = agent
	}

	for _, u := range []*Usage{req, agent, &c.total} {
		u.Calls++
		u.InputTokens += event.InputTokens
		u.OutputTokens += event.OutputTokens
		u.Cost += event.Cost
	}
}

// RequestUsage returns the rollup for one request.
func (c *Collector) RequestUsage(requestID string) Usage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if u := c.byRequest[requestID]; u != nil {
		return *u
	}
	return Usage{}
}

// AgentUsage returns the rollup for one agent type.
func (c *Collector) AgentUsage(agentType models.AgentType) Usage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if u := c.byAgent[agentType]; u != nil {
		return *u
	}
	return Usage{}
}

// TotalUsage returns the rollup across all requests.
func (c *Collector) TotalUsage() Usage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.total
}

// Dropped returns the number of events dropped due to a full buffer.
func (c *Collector) Dropped() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dropped
}

// Close stops the intake goroutine after flushing buffered events and
// waits for the flush to finish.
func (c *Collector) Close() {
	c.once.Do(func() { close(c.done) })
	<-c.stopped
}

// Discard is a Recorder that drops every event. Useful in tests and when
// metrics are disabled.
type Discard struct{}

// Record implements Recorder.
func (Discard) Record(UsageEvent) {}

var _ Recorder = (*Collector)(nil)
var _ Recorder = Discard{}
