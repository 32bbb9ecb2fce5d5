// Package gateway provides a uniform call interface to reasoning-model
// providers, with per-call token and latency accounting. Workers never talk
// to a provider SDK directly; they go through a Gateway.
package gateway

import (
	"context"
	"time"

	"github.com/voyagerhq/voyager/pkg/models"
)

// Request is the provider-agnostic prompt payload built by a worker.
type Request struct {
	// System is the system prompt establishing the agent's role.
	System string
	// Prompt is the user-turn prompt carrying the task input.
	Prompt string
	// MaxTokens bounds the response length. Zero uses the gateway default.
	MaxTokens int64
}

// Response is the provider-agnostic result of a call.
type Response struct {
	// Text is the concatenated text content of the reply.
	Text string
	// Model is the concrete model that served the call.
	Model string
	// InputTokens and OutputTokens are the provider-reported usage.
	InputTokens  int64
	OutputTokens int64
	// Latency is the wall-clock duration of the call.
	Latency time.Duration
	// Cost is the computed USD cost of the call.
	Cost float64
}

// Gateway abstracts over backend providers. The model tier comes from the
// agent descriptor; the gateway resolves it to a concrete provider model.
type Gateway interface {
	Call(ctx context.Context, tier models.ModelTier, req Request) (*Response, error)
}
