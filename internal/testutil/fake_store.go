// Package testutil provides configurable test fakes for gateway interfaces.
package testutil

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	gateway "github.com/Evronai/Project-AI-Assistant/internal"
	"github.com/Evronai/Project-AI-Assistant/internal/storage"
)

var _ storage.Store = (*FakeStore)(nil)

// FakeStore is an in-memory implementation of storage.Store for testing.
// Set the *Err fields to make the matching calls fail.
type FakeStore struct {
	mu       sync.RWMutex
	profiles []*gateway.CredentialProfile
	usage    []gateway.UsageRecord
	rollups  map[rollupKey]gateway.UsageRollup
	nextID   int64

	ActiveErr error
	AppendErr error
	SumErr    error
	RecentErr error
}

type rollupKey struct{ day, model, feature string }

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{rollups: make(map[rollupKey]gateway.UsageRollup)}
}

// --- CredentialStore ---

// SaveProfile deactivates existing profiles and appends p as active.
func (s *FakeStore) SaveProfile(_ context.Context, p *gateway.CredentialProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, old := range s.profiles {
		old.Active = false
	}
	s.nextID++
	p.ID = s.nextID
	p.Active = true
	p.UpdatedAt = time.Now().UTC()
	cp := *p
	cp.Features = slices.Clone(p.Features)
	s.profiles = append(s.profiles, &cp)
	return nil
}

// ActiveProfile returns a copy of the active profile.
func (s *FakeStore) ActiveProfile(_ context.Context) (*gateway.CredentialProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ActiveErr != nil {
		return nil, s.ActiveErr
	}
	for _, p := range s.profiles {
		if p.Active {
			cp := *p
			cp.Features = slices.Clone(p.Features)
			return &cp, nil
		}
	}
	return nil, gateway.ErrNotFound
}

// ListProfiles returns profiles newest first.
func (s *FakeStore) ListProfiles(_ context.Context, offset, limit int) ([]*gateway.CredentialProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*gateway.CredentialProfile
	for i := len(s.profiles) - 1; i >= 0; i-- {
		cp := *s.profiles[i]
		out = append(out, &cp)
	}
	return page(out, offset, limit), nil
}

// --- UsageStore ---

// AppendUsage stores a copy of r.
func (s *FakeStore) AppendUsage(_ context.Context, r *gateway.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return s.AppendErr
	}
	s.usage = append(s.usage, *r)
	return nil
}

// SumCostSince sums successful cost at or after since.
func (s *FakeStore) SumCostSince(_ context.Context, since time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.SumErr != nil {
		return 0, s.SumErr
	}
	var total float64
	for _, r := range s.usage {
		if r.Success && !r.CreatedAt.Before(since) {
			total += r.CostUSD
		}
	}
	return total, nil
}

// RecentUsage returns the newest n records.
func (s *FakeStore) RecentUsage(_ context.Context, n int) ([]gateway.UsageRecord, error) {
	if s.RecentErr != nil {
		return nil, s.RecentErr
	}
	return page(s.sorted(gateway.UsageFilter{}), 0, n), nil
}

// QueryUsage filters by model, feature and time bounds.
func (s *FakeStore) QueryUsage(_ context.Context, f gateway.UsageFilter) ([]gateway.UsageRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	return page(s.sorted(f), f.Offset, limit), nil
}

// CountUsage counts records matching f.
func (s *FakeStore) CountUsage(_ context.Context, f gateway.UsageFilter) (int, error) {
	return len(s.sorted(f)), nil
}

// Usage returns every appended record in insertion order.
func (s *FakeStore) Usage() []gateway.UsageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.usage)
}

// AddUsage seeds records directly, bypassing AppendErr.
func (s *FakeStore) AddUsage(rs ...gateway.UsageRecord) {
	s.mu.Lock()
	s.usage = append(s.usage, rs...)
	s.mu.Unlock()
}

func (s *FakeStore) sorted(f gateway.UsageFilter) []gateway.UsageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var since, until time.Time
	if f.Since != "" {
		since, _ = time.Parse(time.RFC3339Nano, f.Since)
	}
	if f.Until != "" {
		until, _ = time.Parse(time.RFC3339Nano, f.Until)
	}
	var out []gateway.UsageRecord
	for _, r := range s.usage {
		if f.Model != "" && r.Model != f.Model {
			continue
		}
		if f.Feature != "" && r.Feature != f.Feature {
			continue
		}
		if !since.IsZero() && r.CreatedAt.Before(since) {
			continue
		}
		if !until.IsZero() && !r.CreatedAt.Before(until) {
			continue
		}
		out = append(out, r)
	}
	slices.SortStableFunc(out, func(a, b gateway.UsageRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out
}

// --- RollupStore ---

// UpsertRollup replaces rollups by (day, model, feature).
func (s *FakeStore) UpsertRollup(_ context.Context, rollups []gateway.UsageRollup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rollups {
		s.rollups[rollupKey{r.Day, r.Model, r.Feature}] = r
	}
	return nil
}

// QueryRollups returns rollups matching f, newest day first.
func (s *FakeStore) QueryRollups(_ context.Context, f gateway.RollupFilter) ([]gateway.UsageRollup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []gateway.UsageRollup
	for _, r := range s.rollups {
		if f.Model != "" && r.Model != f.Model {
			continue
		}
		if f.Feature != "" && r.Feature != f.Feature {
			continue
		}
		if f.Since != "" && r.Day < f.Since {
			continue
		}
		if f.Until != "" && r.Day >= f.Until {
			continue
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b gateway.UsageRollup) int {
		return cmp.Or(
			cmp.Compare(b.Day, a.Day),
			cmp.Compare(a.Model, b.Model),
			cmp.Compare(a.Feature, b.Feature),
		)
	})
	return out, nil
}

// Ping always succeeds.
func (s *FakeStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *FakeStore) Close() error { return nil }

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
