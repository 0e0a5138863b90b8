// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"
	"time"

	gateway "github.com/Evronai/Project-AI-Assistant/internal"
)

// CredentialStore manages credential profile persistence.
// Profiles are superseded, never updated or deleted.
type CredentialStore interface {
	// SaveProfile deactivates every existing profile and inserts p as the
	// active one in a single transaction. It sets p.ID, p.Active and p.UpdatedAt.
	SaveProfile(ctx context.Context, p *gateway.CredentialProfile) error
	// ActiveProfile returns the active profile or gateway.ErrNotFound.
	ActiveProfile(ctx context.Context) (*gateway.CredentialProfile, error)
	// ListProfiles returns profiles newest first, active and superseded alike.
	ListProfiles(ctx context.Context, offset, limit int) ([]*gateway.CredentialProfile, error)
}

// UsageStore manages the append-only usage ledger.
type UsageStore interface {
	AppendUsage(ctx context.Context, r *gateway.UsageRecord) error
	// SumCostSince sums cost_usd of successful records created at or after since.
	SumCostSince(ctx context.Context, since time.Time) (float64, error)
	// RecentUsage returns the newest n records, newest first.
	RecentUsage(ctx context.Context, n int) ([]gateway.UsageRecord, error)
	QueryUsage(ctx context.Context, f gateway.UsageFilter) ([]gateway.UsageRecord, error)
	CountUsage(ctx context.Context, f gateway.UsageFilter) (int, error)
}

// RollupStore manages derived daily usage aggregates.
type RollupStore interface {
	// UpsertRollup replaces the stored aggregates for each (day, model, feature).
	UpsertRollup(ctx context.Context, rollups []gateway.UsageRollup) error
	QueryRollups(ctx context.Context, f gateway.RollupFilter) ([]gateway.UsageRollup, error)
}

// Store combines all storage interfaces.
type Store interface {
	CredentialStore
	UsageStore
	RollupStore
	Ping(ctx context.Context) error
	Close() error
}
