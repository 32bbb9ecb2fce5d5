package models

import "time"

// ModelTier maps an agent type to a cost/capability class of reasoning model.
type ModelTier string

const (
	// TierEconomy is the cheapest, fastest model class.
	TierEconomy ModelTier = "economy"
	// TierStandard is the default balanced model class.
	TierStandard ModelTier = "standard"
	// TierPremium is the most capable, most expensive model class.
	TierPremium ModelTier = "premium"
)

// Valid returns true if the tier is a known value.
func (t ModelTier) Valid() bool {
	switch t {
	case TierEconomy, TierStandard, TierPremium:
		return true
	default:
		return false
	}
}

// Downgrade returns the next cheaper tier, or the receiver if already at
// the bottom. Used for quota-exceeded fallback.
func (t ModelTier) Downgrade() ModelTier {
	switch t {
	case TierPremium:
		return TierStandard
	case TierStandard:
		return TierEconomy
	default:
		return t
	}
}

// RetryPolicy controls how the dispatcher retries a failing task.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts before the task fails terminally.
	MaxAttempts int `json:"max_attempts" mapstructure:"max_attempts"`
	// BackoffBase is the base delay of the exponential backoff. The delay
	// doubles with each attempt: delay = base * 2^(attempt-1).
	BackoffBase time.Duration `json:"backoff_base" mapstructure:"backoff_base"`
	// MaxBackoff caps the computed delay.
	MaxBackoff time.Duration `json:"max_backoff" mapstructure:"max_backoff"`
	// RetryValidation allows one retry after a ValidationError. Off by default
	// since retrying an identical malformed call is assumed unproductive.
	RetryValidation bool `json:"retry_validation,omitempty" mapstructure:"retry_validation"`
}

// AgentDescriptor is the static per-agent-type configuration read by the
// dispatcher and workers. It is not mutated at runtime.
type AgentDescriptor struct {
	// Type is the agent type this descriptor configures.
	Type AgentType `json:"type" mapstructure:"type"`
	// Capacity is the maximum number of concurrently running tasks of this type.
	Capacity int `json:"capacity" mapstructure:"capacity"`
	// Timeout bounds a single task execution. The clock starts when the task
	// transitions to running; expiry is handled like a provider failure.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	// Retry is the retry policy applied by the dispatcher.
	Retry RetryPolicy `json:"retry" mapstructure:"retry"`
	// Tier selects the model cost/capability class for this agent type.
	Tier ModelTier `json:"tier" mapstructure:"tier"`
	// FallbackTier, when set, is used for one retry after a quota-exceeded
	// error before the attempt counts against the retry budget.
	FallbackTier ModelTier `json:"fallback_tier,omitempty" mapstructure:"fallback_tier"`
}

// Backoff computes the retry delay for the given attempt (1-indexed),
// capped at MaxBackoff. Attempt 0 or a zero base yields no delay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 0 || p.BackoffBase <= 0 {
		return 0
	}
	delay := p.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxBackoff > 0 && delay >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}
