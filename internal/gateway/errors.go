package gateway

import "errors"

// ErrProviderUnavailable indicates a transient provider failure (network
// error, 5xx, overload). The dispatcher retries with standard backoff.
var ErrProviderUnavailable = errors.New("provider unavailable")

// ErrQuotaExceeded indicates the provider refused the call for quota or
// rate-limit reasons. Distinct from ErrProviderUnavailable: the dispatcher
// applies a longer backoff or a tier downgrade instead of a plain retry.
var ErrQuotaExceeded = errors.New("provider quota exceeded")

// ErrUnknownTier indicates a model tier with no configured model mapping.
var ErrUnknownTier = errors.New("unknown model tier")
