// Package ledger is the append-only record of every completed gateway call.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	gateway "github.com/Evronai/Project-AI-Assistant/internal"
)

const (
	defaultRecent = 20
	maxRecent     = 500
)

// Store is the persistence consumed by Ledger.
type Store interface {
	AppendUsage(ctx context.Context, r *gateway.UsageRecord) error
	SumCostSince(ctx context.Context, since time.Time) (float64, error)
	RecentUsage(ctx context.Context, n int) ([]gateway.UsageRecord, error)
}

// Ledger normalizes records before appending them. It exposes no update
// or delete; corrections are new records.
type Ledger struct {
	store Store
	now   func() time.Time
}

// New creates a Ledger backed by store.
func New(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Append writes r once. It assigns ID and CreatedAt when unset and enforces
// that failed records carry zero tokens, zero cost and an error description.
func (l *Ledger) Append(ctx context.Context, r *gateway.UsageRecord) error {
	if r.PromptTokens < 0 || r.CompletionTokens < 0 || r.CostUSD < 0 || r.DurationMs < 0 {
		return fmt.Errorf("%w: negative usage figures", gateway.ErrBadRequest)
	}
	if r.ID == "" {
		r.ID = uuid.Must(uuid.NewV7()).String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = l.now()
	}
	r.CreatedAt = r.CreatedAt.UTC()

	if r.Success {
		r.Error = ""
	} else {
		r.PromptTokens = 0
		r.CompletionTokens = 0
		r.CostUSD = 0
		if r.Error == "" {
			r.Error = "unknown error"
		}
	}
	return l.store.AppendUsage(ctx, r)
}

// SumCostSince sums successful cost since the given time.
func (l *Ledger) SumCostSince(ctx context.Context, since time.Time) (float64, error) {
	return l.store.SumCostSince(ctx, since)
}

// Recent returns the newest n records. n is clamped to [1, 500]; 0 means 20.
func (l *Ledger) Recent(ctx context.Context, n int) ([]gateway.UsageRecord, error) {
	if n <= 0 {
		n = defaultRecent
	}
	n = min(n, maxRecent)
	return l.store.RecentUsage(ctx, n)
}
