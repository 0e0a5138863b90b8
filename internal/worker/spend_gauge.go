package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gateway "github.com/Evronai/Project-AI-Assistant/internal"
	"github.com/Evronai/Project-AI-Assistant/internal/telemetry"
)

const defaultSpendRefresh = time.Minute

// SpendSource reports month-to-date spend.
type SpendSource interface {
	CurrentSpend(ctx context.Context) (float64, error)
}

// ActiveProfiler returns the active credential profile.
type ActiveProfiler interface {
	Active(ctx context.Context) (*gateway.CredentialProfile, error)
}

// SpendGaugeWorker keeps the spend and budget gauges current, so dashboards
// see spend move even when no prompts are flowing through this process.
type SpendGaugeWorker struct {
	spend    SpendSource
	profiles ActiveProfiler
	metrics  *telemetry.Metrics
	interval time.Duration
}

// NewSpendGaugeWorker creates a SpendGaugeWorker. interval <= 0 means one minute.
func NewSpendGaugeWorker(spend SpendSource, profiles ActiveProfiler, metrics *telemetry.Metrics, interval time.Duration) *SpendGaugeWorker {
	if interval <= 0 {
		interval = defaultSpendRefresh
	}
	return &SpendGaugeWorker{spend: spend, profiles: profiles, metrics: metrics, interval: interval}
}

// Name returns the worker identifier.
func (w *SpendGaugeWorker) Name() string { return "spend_gauge" }

// Run refreshes once, then on every tick until ctx is cancelled.
func (w *SpendGaugeWorker) Run(ctx context.Context) error {
	w.refresh(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.refresh(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *SpendGaugeWorker) refresh(ctx context.Context) {
	spent, err := w.spend.CurrentSpend(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.LogAttrs(ctx, slog.LevelError, "spend refresh failed",
				slog.String("error", err.Error()),
			)
		}
		return
	}
	w.metrics.MonthSpendUSD.Set(spent)

	p, err := w.profiles.Active(ctx)
	switch {
	case err == nil:
		w.metrics.MonthlyBudgetUSD.Set(p.MonthlyBudget)
	case errors.Is(err, gateway.ErrNotFound):
		w.metrics.MonthlyBudgetUSD.Set(0)
	default:
		slog.LogAttrs(ctx, slog.LevelError, "profile read failed",
			slog.String("error", err.Error()),
		)
	}
}
