// Package worker executes single tasks against the model gateway.
// A worker performs no retries and holds no scheduling state: it prepares
// the provider payload, calls, validates, and returns or raises. Retry
// policy belongs to the dispatcher.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/voyagerhq/voyager/internal/gateway"
	"github.com/voyagerhq/voyager/internal/metrics"
	"github.com/voyagerhq/voyager/pkg/models"
)

// Worker executes tasks of any agent type against a Gateway.
type Worker struct {
	id      string
	gateway gateway.Gateway
	metrics metrics.Recorder
}

// New creates a worker. A nil recorder disables usage reporting.
func New(id string, gw gateway.Gateway, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.Discard{}
	}
	return &Worker{id: id, gateway: gw, metrics: recorder}
}

// ID returns the worker's identifier.
func (w *Worker) ID() string {
	return w.id
}

// Execute runs one task: build the provider payload from the task input,
// call the gateway on the given tier, parse the structured response, and
// return the result payload. The descriptor timeout bounds the whole call.
// Every gateway call emits one usage record, success or failure.
//
// Error taxonomy:
//   - *TimeoutError: descriptor timeout expired
//   - *ProviderError: gateway failure (wraps gateway.ErrProviderUnavailable
//     or gateway.ErrQuotaExceeded)
//   - *ValidationError: provider output does not match the task schema
func (w *Worker) Execute(ctx context.Context, task *models.Task, desc models.AgentDescriptor, tier models.ModelTier) (map[string]any, error) {
	prompt, err := buildPrompt(task.Type, task.Input)
	if err != nil {
		return nil, &ValidationError{TaskID: task.ID, Reason: err.Error()}
	}

	profile := agentProfiles[task.Type]

	callCtx := ctx
	var cancel context.CancelFunc
	if desc.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, desc.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := w.gateway.Call(callCtx, tier, gateway.Request{
		System: profile.system,
		Prompt: prompt,
	})

	// Every gateway call reports usage exactly once, failed attempts
	// included. Failures have no provider-reported tokens, so only the
	// observed latency is recorded.
	event := metrics.UsageEvent{
		RequestID: task.RequestID,
		TaskID:    task.ID,
		AgentType: task.Type,
		Tier:      tier,
		Latency:   time.Since(start),
		At:        time.Now(),
	}
	if resp != nil {
		event.InputTokens = resp.InputTokens
		event.OutputTokens = resp.OutputTokens
		event.Latency = resp.Latency
		event.Cost = resp.Cost
	}
	w.metrics.Record(event)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &TimeoutError{TaskID: task.ID, Timeout: desc.Timeout}
		}
		if errors.Is(err, context.Canceled) {
			// Caller cancellation is not a task failure.
			return nil, err
		}
		return nil, &ProviderError{TaskID: task.ID, Err: err}
	}

	payload, err := parseResult(task.Type, resp.Text)
	if err != nil {
		return nil, &ValidationError{TaskID: task.ID, Reason: err.Error()}
	}
	return payload, nil
}
