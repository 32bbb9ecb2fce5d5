package metrics

import (
	"testing"
	"time"

	"github.com/voyagerhq/voyager/pkg/models"
)

func TestCollectorAggregates(t *testing.T) {
	c := NewCollector()

	c.Record(UsageEvent{
		RequestID: "req-1", TaskID: "t1", AgentType: models.AgentTransport,
		Tier: models.TierStandard, InputTokens: 100, OutputTokens: 50, Cost: 0.01,
	})
	c.Record(UsageEvent{
		RequestID: "req-1", TaskID: "t2", AgentType: models.AgentWeather,
		Tier: models.TierEconomy, InputTokens: 30, OutputTokens: 10, Cost: 0.001,
	})
	c.Record(UsageEvent{
		RequestID: "req-2", TaskID: "t3", AgentType: models.AgentTransport,
		Tier: models.TierStandard, InputTokens: 200, OutputTokens: 80, Cost: 0.02,
	})
	c.Close()

	req1 := c.RequestUsage("req-1")
	if req1.Calls != 2 || req1.InputTokens != 130 || req1.OutputTokens != 60 {
		t.Errorf("req-1 usage = %+v", req1)
	}

	transport := c.AgentUsage(models.AgentTransport)
	if transport.Calls != 2 || transport.InputTokens != 300 {
		t.Errorf("transport usage = %+v", transport)
	}

	total := c.TotalUsage()
	if total.Calls != 3 || total.InputTokens != 330 || total.OutputTokens != 140 {
		t.Errorf("total usage = %+v", total)
	}
}

func TestCollectorUnknownKeysReturnZero(t *testing.T) {
	c := NewCollector()
	defer c.Close()

	if u := c.RequestUsage("missing"); u.Calls != 0 {
		t.Errorf("expected zero usage for unknown request, got %+v", u)
	}
	if u := c.AgentUsage(models.AgentBudget); u.Calls != 0 {
		t.Errorf("expected zero usage for unknown agent, got %+v", u)
	}
}

func TestCollectorRecordNeverBlocks(t *testing.T) {
	c := NewCollector()
	defer c.Close()

	// Flood well past the buffer size; Record must return promptly
	// whether events are applied or dropped.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10_000; i++ {
			c.Record(UsageEvent{RequestID: "req-1", AgentType: models.AgentActivity})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Record blocked")
	}
}

func TestDiscardImplementsRecorder(t *testing.T) {
	var r Recorder = Discard{}
	r.Record(UsageEvent{RequestID: "req-1"}) // must be a no-op
}
