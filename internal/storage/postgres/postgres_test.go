package postgres

import (
	"context"
	"errors"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	gateway "github.com/Evronai/Project-AI-Assistant/internal"
)

// newTestStore connects to AIGW_TEST_POSTGRES_DSN (a postgres:// URL) and
// isolates the test in a fresh schema.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("AIGW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AIGW_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	schema := "t_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	admin, err := pgx.Connect(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE") //nolint:errcheck
		admin.Close(context.Background())
	})

	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()

	s, err := New(ctx, u.String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgres_ProfileSupersession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.ActiveProfile(ctx); !errors.Is(err, gateway.ErrNotFound) {
		t.Fatalf("empty active err = %v, want ErrNotFound", err)
	}

	for _, model := range []string{"deepseek-chat", "deepseek-coder"} {
		p := &gateway.CredentialProfile{
			Provider: "deepseek", APIKeyEnc: "v1.x", Model: model,
			BaseURL: "https://api.deepseek.com", MonthlyBudget: 50,
			Features: []string{gateway.FeatureTherapy},
		}
		if err := s.SaveProfile(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	active, err := s.ActiveProfile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if active.Model != "deepseek-coder" {
		t.Errorf("active model = %q", active.Model)
	}
	all, err := s.ListProfiles(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[1].Active {
		t.Errorf("history = %+v", all)
	}
	if _, err := s.pool.Exec(ctx, "DELETE FROM credential_profiles"); err == nil {
		t.Error("delete should be rejected")
	}
}

func TestPostgres_UsageLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	recs := []gateway.UsageRecord{
		{ID: "a", Provider: "deepseek", Model: "deepseek-chat", Success: true, CostUSD: 9, CreatedAt: start.Add(-time.Minute)},
		{ID: "b", Provider: "deepseek", Model: "deepseek-chat", Success: true, CostUSD: 1, CreatedAt: start},
		{ID: "c", Provider: "deepseek", Model: "deepseek-chat", Success: false, Error: "request timed out", CreatedAt: start.Add(time.Minute)},
	}
	for i := range recs {
		if err := s.AppendUsage(ctx, &recs[i]); err != nil {
			t.Fatal(err)
		}
	}

	sum, err := s.SumCostSince(ctx, start)
	if err != nil {
		t.Fatal(err)
	}
	if sum != 1 {
		t.Errorf("sum = %v, want 1", sum)
	}
	recent, err := s.RecentUsage(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 3 || recent[0].ID != "c" {
		t.Errorf("recent = %+v", recent)
	}
	if _, err := s.pool.Exec(ctx, "UPDATE usage_records SET cost_usd = 0"); err == nil {
		t.Error("update should be rejected")
	}

	rollup := gateway.UsageRollup{Day: "2026-03-01", Model: "deepseek-chat", Feature: "general", RequestCount: 2}
	if err := s.UpsertRollup(ctx, []gateway.UsageRollup{rollup}); err != nil {
		t.Fatal(err)
	}
	rollup.RequestCount = 3
	if err := s.UpsertRollup(ctx, []gateway.UsageRollup{rollup}); err != nil {
		t.Fatal(err)
	}
	got, err := s.QueryRollups(ctx, gateway.RollupFilter{Since: "2026-03-01"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].RequestCount != 3 || got[0].Day != "2026-03-01" {
		t.Errorf("rollups = %+v", got)
	}
}
