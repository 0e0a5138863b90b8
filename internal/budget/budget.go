// Package budget enforces the per-calendar-month spend ceiling.
package budget

import (
	"context"
	"time"
)

// SpendStore provides aggregated successful cost since a point in time.
type SpendStore interface {
	SumCostSince(ctx context.Context, since time.Time) (float64, error)
}

// Governor computes month-to-date spend from the usage ledger.
// Month boundaries follow the wall clock at query time in the configured location.
type Governor struct {
	store SpendStore
	now   func() time.Time
	loc   *time.Location
}

// Option configures a Governor.
type Option func(*Governor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// WithLocation sets the time zone that defines month boundaries. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(g *Governor) {
		if loc != nil {
			g.loc = loc
		}
	}
}

// NewGovernor creates a Governor reading from store.
func NewGovernor(store SpendStore, opts ...Option) *Governor {
	g := &Governor{store: store, now: time.Now, loc: time.UTC}
	for _, o := range opts {
		o(g)
	}
	return g
}

// MonthStart returns midnight on the first day of t's month in loc.
func MonthStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
}

// CurrentSpend sums successful cost recorded since the start of the current month.
func (g *Governor) CurrentSpend(ctx context.Context) (float64, error) {
	return g.store.SumCostSince(ctx, MonthStart(g.now(), g.loc))
}

// IsOverBudget reports whether spend has reached ceiling. The boundary is
// inclusive, and a ceiling <= 0 is always over budget.
func (g *Governor) IsOverBudget(ctx context.Context, ceiling float64) (over bool, spent float64, err error) {
	spent, err = g.CurrentSpend(ctx)
	if err != nil {
		return false, 0, err
	}
	if ceiling <= 0 {
		return true, spent, nil
	}
	return spent >= ceiling, spent, nil
}
