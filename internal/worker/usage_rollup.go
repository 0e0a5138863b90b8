package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	gateway "github.com/Evronai/Project-AI-Assistant/internal"
)

const (
	dayLayout      = "2006-01-02"
	rollupPageSize = 1000
)

// RollupStore is the persistence interface consumed by UsageRollupWorker.
type RollupStore interface {
	QueryUsage(ctx context.Context, filter gateway.UsageFilter) ([]gateway.UsageRecord, error)
	UpsertRollup(ctx context.Context, rollups []gateway.UsageRollup) error
}

// UsageRollupWorker aggregates ledger records into daily rollups keyed by
// (day, model, feature). Each pass recomputes yesterday and today in UTC,
// so late records and restarts are absorbed by the next pass.
type UsageRollupWorker struct {
	store    RollupStore
	schedule cron.Schedule
	now      func() time.Time
}

// NewUsageRollupWorker creates a rollup worker running on a standard
// five-field cron spec (or a descriptor such as "@hourly").
func NewUsageRollupWorker(store RollupStore, spec string) (*UsageRollupWorker, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, err
	}
	return &UsageRollupWorker{store: store, schedule: schedule, now: time.Now}, nil
}

// Name returns the worker identifier.
func (w *UsageRollupWorker) Name() string { return "usage_rollup" }

// Run performs one pass at startup, then one per schedule activation.
func (w *UsageRollupWorker) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	w.rollup(ctx)

	c := cron.New(cron.WithLocation(time.UTC))
	c.Schedule(w.schedule, cron.FuncJob(func() { w.rollup(ctx) }))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (w *UsageRollupWorker) rollup(ctx context.Context) {
	now := w.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	since := today.AddDate(0, 0, -1)

	// Until is pinned to the pass start so records appended while paging
	// do not shift offsets.
	filter := gateway.UsageFilter{
		Since: since.Format(time.RFC3339Nano),
		Until: now.Format(time.RFC3339Nano),
		Limit: rollupPageSize,
	}

	type key struct {
		Day     string
		Model   string
		Feature string
	}
	agg := make(map[key]*gateway.UsageRollup)
	records := 0
	for {
		page, err := w.store.QueryUsage(ctx, filter)
		if err != nil {
			slog.LogAttrs(ctx, slog.LevelError, "rollup query failed",
				slog.String("error", err.Error()),
			)
			return
		}
		for _, r := range page {
			k := key{Day: r.CreatedAt.UTC().Format(dayLayout), Model: r.Model, Feature: r.Feature}
			ru, ok := agg[k]
			if !ok {
				ru = &gateway.UsageRollup{Day: k.Day, Model: k.Model, Feature: k.Feature}
				agg[k] = ru
			}
			ru.RequestCount++
			if r.Success {
				ru.SuccessCount++
			} else {
				ru.FailureCount++
			}
			ru.PromptTokens += r.PromptTokens
			ru.CompletionTokens += r.CompletionTokens
			ru.CostUSD += r.CostUSD
		}
		records += len(page)
		if len(page) < rollupPageSize {
			break
		}
		filter.Offset += rollupPageSize
	}
	if len(agg) == 0 {
		return
	}

	rollups := make([]gateway.UsageRollup, 0, len(agg))
	for _, r := range agg {
		rollups = append(rollups, *r)
	}

	if err := w.store.UpsertRollup(ctx, rollups); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "rollup upsert failed",
			slog.String("error", err.Error()),
		)
		return
	}
	slog.LogAttrs(ctx, slog.LevelInfo, "usage rollup completed",
		slog.Int("rollups", len(rollups)),
		slog.Int("records", records),
	)
}
