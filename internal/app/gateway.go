package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	gateway "github.com/Evronai/Project-AI-Assistant/internal"
	"github.com/Evronai/Project-AI-Assistant/internal/budget"
	"github.com/Evronai/Project-AI-Assistant/internal/ledger"
	"github.com/Evronai/Project-AI-Assistant/internal/pricing"
	"github.com/Evronai/Project-AI-Assistant/internal/provider"
	"github.com/Evronai/Project-AI-Assistant/internal/ratelimit"
	"github.com/Evronai/Project-AI-Assistant/internal/telemetry"
)

// Defaults applied to zero Options fields.
const (
	DefaultMaxTokens       = 1000
	DefaultTemperature     = 0.7
	DefaultTimeout         = 30 * time.Second
	DefaultBackoffUnit     = time.Second
	DefaultMaxAttempts     = 3
	DefaultMaxPromptChars  = 2000
	DefaultMaxContextChars = 1500
)

// ProfileSource supplies the active credential profile.
type ProfileSource interface {
	Active(ctx context.Context) (*gateway.CredentialProfile, error)
	Endpoint(p *gateway.CredentialProfile) (gateway.Endpoint, bool)
	MaskedKey(p *gateway.CredentialProfile) string
	EncryptionAvailable() bool
	EncryptionWarning() string
	Reload()
}

// Deps holds the collaborators of a Gateway. Metrics is optional.
type Deps struct {
	Profiles  ProfileSource
	Limiter   *ratelimit.Limiter
	Governor  *budget.Governor
	Ledger    *ledger.Ledger
	Completer gateway.Completer
	Pricing   *pricing.Table
	Metrics   *telemetry.Metrics
}

// Options tunes the invocation flow.
type Options struct {
	MaxTokens       int
	Temperature     float64
	Timeout         time.Duration // per attempt
	BackoffUnit     time.Duration // sleeps are 2 and 4 units before attempts 2 and 3
	MaxAttempts     int
	MaxPromptChars  int
	MaxContextChars int
	// StrictBudget serializes whole invocations so concurrent callers cannot
	// all pass the budget check before any of them records its cost.
	StrictBudget bool
}

func (o *Options) setDefaults() {
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.Temperature == 0 {
		o.Temperature = DefaultTemperature
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.BackoffUnit <= 0 {
		o.BackoffUnit = DefaultBackoffUnit
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.MaxPromptChars <= 0 {
		o.MaxPromptChars = DefaultMaxPromptChars
	}
	if o.MaxContextChars <= 0 {
		o.MaxContextChars = DefaultMaxContextChars
	}
}

// Gateway turns prompts into governed completion calls. Every call passes a
// configuration check, the monthly budget and the rate limiter before up to
// MaxAttempts upstream attempts; each call that passes the limiter leaves
// exactly one usage record.
type Gateway struct {
	deps   Deps
	opts   Options
	tracer trace.Tracer
	strict sync.Mutex
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewGateway creates a Gateway.
func NewGateway(deps Deps, opts Options) *Gateway {
	opts.setDefaults()
	return &Gateway{
		deps:   deps,
		opts:   opts,
		tracer: telemetry.Tracer("aigw/app"),
		sleep:  sleepCtx,
	}
}

// call is the state of one invocation after the configuration check.
type call struct {
	profile *gateway.CredentialProfile
	ep      gateway.Endpoint
	feature string
	req     *gateway.ChatRequest
}

// Submit runs one governed prompt. Rejections before the attempt stage
// return typed errors (BudgetError, RateLimitError) or sentinels and write
// nothing; every other outcome is recorded in the ledger.
func (g *Gateway) Submit(ctx context.Context, prompt gateway.Prompt) (*gateway.Completion, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.Submit")
	defer span.End()

	c, err := g.prepare(ctx, prompt)
	if err != nil {
		g.reject(ctx, span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("aigw.feature", c.feature),
		attribute.String("aigw.provider", c.profile.Provider),
		attribute.String("aigw.model", c.profile.Model),
	)

	if g.opts.StrictBudget {
		g.strict.Lock()
		defer g.strict.Unlock()
	}

	over, spent, err := g.deps.Governor.IsOverBudget(ctx, c.profile.MonthlyBudget)
	if err != nil {
		err = fmt.Errorf("check budget: %w", err)
		g.reject(ctx, span, err)
		return nil, err
	}
	if over {
		err := &gateway.BudgetError{SpentUSD: spent, CeilingUSD: c.profile.MonthlyBudget}
		g.reject(ctx, span, err)
		return nil, err
	}

	if res := g.deps.Limiter.Allow(); !res.Allowed {
		err := &gateway.RateLimitError{
			RetryAfter: time.Duration(res.RetryAfterSeconds * float64(time.Second)),
		}
		g.reject(ctx, span, err)
		return nil, err
	}

	return g.invoke(ctx, span, c)
}

// prepare validates input and resolves the active profile (CONFIG_CHECK).
func (g *Gateway) prepare(ctx context.Context, prompt gateway.Prompt) (*call, error) {
	text := strings.TrimSpace(prompt.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: prompt is empty", gateway.ErrBadRequest)
	}
	contextText, err := serializeContext(prompt.Context)
	if err != nil {
		return nil, fmt.Errorf("%w: context: %v", gateway.ErrBadRequest, err)
	}

	profile, err := g.deps.Profiles.Active(ctx)
	if errors.Is(err, gateway.ErrNotFound) {
		return nil, gateway.ErrNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	ep, ok := g.deps.Profiles.Endpoint(profile)
	if !ok {
		return nil, gateway.ErrNotConfigured
	}

	feature := NormalizeFeature(prompt.Feature)
	if !profile.FeatureEnabled(feature) {
		return nil, fmt.Errorf("%w: %s", gateway.ErrFeatureDisabled, feature)
	}

	messages := []gateway.Message{{Role: "system", Content: SystemPrompt(feature)}}
	if contextText != "" {
		messages = append(messages, gateway.Message{
			Role:    "user",
			Content: "Context: " + truncateRunes(contextText, g.opts.MaxContextChars),
		})
	}
	messages = append(messages, gateway.Message{
		Role:    "user",
		Content: truncateRunes(text, g.opts.MaxPromptChars),
	})

	return &call{
		profile: profile,
		ep:      ep,
		feature: feature,
		req: &gateway.ChatRequest{
			Model:       profile.Model,
			Messages:    messages,
			Temperature: g.opts.Temperature,
			MaxTokens:   g.opts.MaxTokens,
		},
	}, nil
}

// invoke runs the attempt loop and writes the ledger record.
func (g *Gateway) invoke(ctx context.Context, span trace.Span, c *call) (*gateway.Completion, error) {
	bo := newBackOff(g.opts.BackoffUnit)
	providerName := c.profile.Provider

	var (
		lastErr   error
		transient bool
		attempts  int
		elapsed   time.Duration
	)
	for attempts < g.opts.MaxAttempts {
		if attempts > 0 {
			if err := g.sleep(ctx, bo.NextBackOff()); err != nil {
				lastErr, transient = err, false
				break
			}
			if g.deps.Metrics != nil {
				g.deps.Metrics.UpstreamRetries.WithLabelValues(providerName).Inc()
			}
		}
		attempts++

		attemptCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
		start := time.Now()
		res, err := g.deps.Completer.Complete(attemptCtx, c.ep, c.req)
		elapsed = time.Since(start)
		cancel()

		if g.deps.Metrics != nil {
			g.deps.Metrics.UpstreamDuration.WithLabelValues(providerName, c.req.Model).Observe(elapsed.Seconds())
		}
		if err == nil {
			return g.succeed(ctx, span, c, res, attempts, elapsed), nil
		}

		lastErr = err
		transient = provider.IsTransient(err) && ctx.Err() == nil
		g.recordUpstreamError(providerName, err)
		slog.LogAttrs(ctx, slog.LevelDebug, "attempt failed",
			slog.Int("attempt", attempts),
			slog.Bool("transient", transient),
			slog.String("error", provider.Describe(err)),
		)
		if !transient {
			break
		}
	}

	return nil, g.fail(ctx, span, c, lastErr, transient, attempts, elapsed)
}

func (g *Gateway) succeed(ctx context.Context, span trace.Span, c *call, res *gateway.ChatResult, attempts int, elapsed time.Duration) *gateway.Completion {
	model := c.req.Model
	cost := g.deps.Pricing.Cost(model, res.Usage.PromptTokens, res.Usage.CompletionTokens)

	rec := &gateway.UsageRecord{
		Provider:         c.profile.Provider,
		Model:            model,
		Feature:          c.feature,
		PromptTokens:     res.Usage.PromptTokens,
		CompletionTokens: res.Usage.CompletionTokens,
		CostUSD:          cost,
		Success:          true,
		DurationMs:       elapsed.Milliseconds(),
		Attempts:         attempts,
		RequestID:        gateway.RequestIDFromContext(ctx),
	}
	g.appendRecord(ctx, rec)

	if m := g.deps.Metrics; m != nil {
		m.PromptsTotal.WithLabelValues(c.feature, "success").Inc()
		m.TokensProcessed.WithLabelValues(model, "prompt").Add(float64(res.Usage.PromptTokens))
		m.TokensProcessed.WithLabelValues(model, "completion").Add(float64(res.Usage.CompletionTokens))
		m.CostUSD.WithLabelValues(model).Add(cost)
	}
	span.SetAttributes(
		attribute.Int("aigw.attempts", attempts),
		attribute.Float64("aigw.cost_usd", cost),
	)
	slog.LogAttrs(ctx, slog.LevelInfo, "prompt completed",
		slog.String("request_id", rec.RequestID),
		slog.String("feature", c.feature),
		slog.String("model", model),
		slog.Int("attempts", attempts),
		slog.Int64("duration_ms", rec.DurationMs),
		slog.Float64("cost_usd", cost),
	)

	return &gateway.Completion{
		Content:          res.Content,
		Model:            model,
		CostUSD:          cost,
		PromptTokens:     res.Usage.PromptTokens,
		CompletionTokens: res.Usage.CompletionTokens,
		DurationMs:       rec.DurationMs,
		Attempts:         attempts,
	}
}

func (g *Gateway) fail(ctx context.Context, span trace.Span, c *call, lastErr error, transient bool, attempts int, elapsed time.Duration) error {
	desc := describeFailure(lastErr)
	rec := &gateway.UsageRecord{
		Provider:   c.profile.Provider,
		Model:      c.req.Model,
		Feature:    c.feature,
		Success:    false,
		Error:      desc,
		DurationMs: elapsed.Milliseconds(),
		Attempts:   attempts,
		RequestID:  gateway.RequestIDFromContext(ctx),
	}
	g.appendRecord(ctx, rec)

	if g.deps.Metrics != nil {
		g.deps.Metrics.PromptsTotal.WithLabelValues(c.feature, "failure").Inc()
	}
	span.SetAttributes(attribute.Int("aigw.attempts", attempts))
	span.SetStatus(codes.Error, desc)
	slog.LogAttrs(ctx, slog.LevelWarn, "prompt failed",
		slog.String("request_id", rec.RequestID),
		slog.String("feature", c.feature),
		slog.String("model", c.req.Model),
		slog.Int("attempts", attempts),
		slog.String("error", desc),
	)

	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("%s: %w", desc, ctx.Err())
	case transient:
		return fmt.Errorf("%w: %s", gateway.ErrUpstreamUnavailable, desc)
	default:
		return fmt.Errorf("%w: %s", gateway.ErrProviderError, desc)
	}
}

// appendRecord writes rec even if ctx was cancelled. A write failure is
// logged and counted; it does not change the caller's result.
func (g *Gateway) appendRecord(ctx context.Context, rec *gateway.UsageRecord) {
	if err := g.deps.Ledger.Append(context.WithoutCancel(ctx), rec); err != nil {
		if g.deps.Metrics != nil {
			g.deps.Metrics.LedgerWriteErrors.Inc()
		}
		slog.LogAttrs(ctx, slog.LevelError, "usage record write failed",
			slog.String("request_id", rec.RequestID),
			slog.Bool("success", rec.Success),
			slog.String("error", err.Error()),
		)
	}
}

func (g *Gateway) reject(ctx context.Context, span trace.Span, err error) {
	reason := rejectReason(err)
	if g.deps.Metrics != nil {
		g.deps.Metrics.GatewayRejects.WithLabelValues(reason).Inc()
	}
	span.SetStatus(codes.Error, reason)
	slog.LogAttrs(ctx, slog.LevelInfo, "prompt rejected",
		slog.String("request_id", gateway.RequestIDFromContext(ctx)),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, gateway.ErrBadRequest):
		return "bad_request"
	case errors.Is(err, gateway.ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, gateway.ErrFeatureDisabled):
		return "feature_disabled"
	case errors.Is(err, gateway.ErrBudgetExceeded):
		return "budget"
	case errors.Is(err, gateway.ErrRateLimited):
		return "rate_limit"
	default:
		return "internal"
	}
}

func (g *Gateway) recordUpstreamError(providerName string, err error) {
	if g.deps.Metrics == nil {
		return
	}
	status := "error"
	var apiErr *provider.APIError
	switch {
	case errors.As(err, &apiErr):
		status = strconv.Itoa(apiErr.StatusCode)
	case provider.IsTransient(err):
		status = "timeout"
	case errors.Is(err, provider.ErrMalformedResponse):
		status = "malformed"
	case errors.Is(err, context.Canceled):
		status = "canceled"
	}
	g.deps.Metrics.UpstreamErrors.WithLabelValues(providerName, status).Inc()
}

// Status reports month-to-date spend and the credential state.
func (g *Gateway) Status(ctx context.Context) (*gateway.Status, error) {
	st := &gateway.Status{
		EncryptionAvailable: g.deps.Profiles.EncryptionAvailable(),
		Warning:             g.deps.Profiles.EncryptionWarning(),
	}

	profile, err := g.deps.Profiles.Active(ctx)
	switch {
	case err == nil:
		_, st.Configured = g.deps.Profiles.Endpoint(profile)
		st.Provider = profile.Provider
		st.Model = profile.Model
		st.BaseURL = profile.BaseURL
		st.MaskedKey = g.deps.Profiles.MaskedKey(profile)
		st.Features = profile.Features
		st.MonthlyBudgetUSD = profile.MonthlyBudget
	case !errors.Is(err, gateway.ErrNotFound):
		return nil, fmt.Errorf("load profile: %w", err)
	}

	spent, err := g.deps.Governor.CurrentSpend(ctx)
	if err != nil {
		return nil, fmt.Errorf("current spend: %w", err)
	}
	st.MonthSpendUSD = spent
	st.BudgetUsedPct = usedPct(spent, st.MonthlyBudgetUSD)
	st.RateLimitRemaining = g.deps.Limiter.Snapshot().Remaining
	return st, nil
}

// usedPct is spent as a percentage of ceiling, capped at 100.
func usedPct(spent, ceiling float64) float64 {
	if ceiling <= 0 {
		if spent > 0 {
			return 100
		}
		return 0
	}
	return min(100, spent/ceiling*100)
}

// newBackOff yields 2, 4, 8... units between attempts.
func newBackOff(unit time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * unit
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = 64 * unit
	bo.Reset()
	return bo
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// describeFailure renders the ledger error text for the last failure.
func describeFailure(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	case err == nil:
		return "unknown error"
	default:
		return provider.Describe(err)
	}
}

// serializeContext renders optional caller context as compact JSON.
// Empty values (null, "", {}, []) produce no context message.
func serializeContext(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	switch s := strings.TrimSuffix(buf.String(), "\n"); s {
	case "null", `""`, "{}", "[]":
		return "", nil
	default:
		return s, nil
	}
}

// truncateRunes cuts s to at most n characters.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
