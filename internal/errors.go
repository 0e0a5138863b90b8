package gateway

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Sentinel errors for the gateway domain.
var (
	ErrNotFound            = errors.New("not found")
	ErrBadRequest          = errors.New("bad request")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotConfigured       = errors.New("AI not configured, add an API key in settings")
	ErrFeatureDisabled     = errors.New("feature disabled")
	ErrBudgetExceeded      = errors.New("monthly budget exceeded")
	ErrRateLimited         = errors.New("rate limit reached")
	ErrUpstreamUnavailable = errors.New("provider temporarily unavailable")
	ErrProviderError       = errors.New("provider error")
)

// BudgetError reports a rejected call together with the figures that caused it.
type BudgetError struct {
	SpentUSD   float64
	CeilingUSD float64
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("monthly budget of $%.2f exceeded ($%.2f spent)", e.CeilingUSD, e.SpentUSD)
}

// Is makes errors.Is(err, ErrBudgetExceeded) match.
func (e *BudgetError) Is(target error) bool { return target == ErrBudgetExceeded }

// RateLimitError reports an empty token bucket.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return "rate limit reached, wait a moment and try again"
}

// Is makes errors.Is(err, ErrRateLimited) match.
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// RetryAfterSeconds rounds the wait up to whole seconds, minimum 1.
func (e *RateLimitError) RetryAfterSeconds() int {
	return max(1, int(math.Ceil(e.RetryAfter.Seconds())))
}

// ProviderCheckError reports an upstream rejection of a credential test.
// Reason is safe to show to the user.
type ProviderCheckError struct {
	Reason string
}

func (e *ProviderCheckError) Error() string { return e.Reason }

// Is makes errors.Is(err, ErrProviderError) match.
func (e *ProviderCheckError) Is(target error) bool { return target == ErrProviderError }
