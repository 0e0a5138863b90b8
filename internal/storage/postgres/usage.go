package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	gateway "github.com/Evronai/Project-AI-Assistant/internal"
)

const usageColumns = `id, provider, model, feature, prompt_tokens, completion_tokens, cost_usd,
	success, error_msg, duration_ms, attempts, request_id, created_at`

// AppendUsage inserts one ledger record. A trigger rejects updates and deletes.
func (s *Store) AppendUsage(ctx context.Context, r *gateway.UsageRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_records (`+usageColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID, r.Provider, r.Model, r.Feature,
		r.PromptTokens, r.CompletionTokens, r.CostUSD,
		r.Success, r.Error, r.DurationMs, r.Attempts, r.RequestID, r.CreatedAt.UTC(),
	)
	return err
}

// SumCostSince returns the total cost of successful records since the given time.
func (s *Store) SumCostSince(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM usage_records
		 WHERE success AND created_at >= $1`, since.UTC(),
	).Scan(&total)
	return total, err
}

// RecentUsage returns the newest n records.
func (s *Store) RecentUsage(ctx context.Context, n int) ([]gateway.UsageRecord, error) {
	return s.queryUsage(ctx,
		`SELECT `+usageColumns+` FROM usage_records
		 ORDER BY created_at DESC, id DESC LIMIT $1`, n)
}

// QueryUsage returns usage records matching the filter.
func (s *Store) QueryUsage(ctx context.Context, f gateway.UsageFilter) ([]gateway.UsageRecord, error) {
	where, args, err := usageWhere(f)
	if err != nil {
		return nil, err
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	n := len(args)
	args = append(args, limit, f.Offset)
	return s.queryUsage(ctx,
		`SELECT `+usageColumns+` FROM usage_records`+where+
			fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, n+1, n+2), args...)
}

func (s *Store) queryUsage(ctx context.Context, query string, args ...any) ([]gateway.UsageRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (gateway.UsageRecord, error) {
		var r gateway.UsageRecord
		err := row.Scan(
			&r.ID, &r.Provider, &r.Model, &r.Feature,
			&r.PromptTokens, &r.CompletionTokens, &r.CostUSD,
			&r.Success, &r.Error, &r.DurationMs, &r.Attempts, &r.RequestID,
			&r.CreatedAt,
		)
		r.CreatedAt = r.CreatedAt.UTC()
		return r, err
	})
}

// CountUsage returns the count of usage records matching the filter.
func (s *Store) CountUsage(ctx context.Context, f gateway.UsageFilter) (int, error) {
	where, args, err := usageWhere(f)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM usage_records`+where, args...).Scan(&n)
	return n, err
}

func usageWhere(f gateway.UsageFilter) (string, []any, error) {
	var clauses []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Model != "" {
		add("model = $%d", f.Model)
	}
	if f.Feature != "" {
		add("feature = $%d", f.Feature)
	}
	if f.Since != "" {
		t, err := parseBound(f.Since)
		if err != nil {
			return "", nil, err
		}
		add("created_at >= $%d", t)
	}
	if f.Until != "" {
		t, err := parseBound(f.Until)
		if err != nil {
			return "", nil, err
		}
		add("created_at < $%d", t)
	}
	if len(clauses) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

// UpsertRollup replaces the aggregates for each (day, model, feature) in one batch.
func (s *Store) UpsertRollup(ctx context.Context, rollups []gateway.UsageRollup) error {
	if len(rollups) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, r := range rollups {
			day, err := parseDay(r.Day)
			if err != nil {
				return err
			}
			batch.Queue(
				`INSERT INTO usage_rollups (day, model, feature,
				 request_count, success_count, failure_count, prompt_tokens, completion_tokens, cost_usd)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				 ON CONFLICT (day, model, feature) DO UPDATE SET
				 request_count = EXCLUDED.request_count,
				 success_count = EXCLUDED.success_count,
				 failure_count = EXCLUDED.failure_count,
				 prompt_tokens = EXCLUDED.prompt_tokens,
				 completion_tokens = EXCLUDED.completion_tokens,
				 cost_usd = EXCLUDED.cost_usd`,
				day, r.Model, r.Feature,
				r.RequestCount, r.SuccessCount, r.FailureCount,
				r.PromptTokens, r.CompletionTokens, r.CostUSD,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// QueryRollups returns rollups matching the filter, newest day first.
func (s *Store) QueryRollups(ctx context.Context, f gateway.RollupFilter) ([]gateway.UsageRollup, error) {
	var clauses []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.Model != "" {
		add("model = $%d", f.Model)
	}
	if f.Feature != "" {
		add("feature = $%d", f.Feature)
	}
	if f.Since != "" {
		d, err := parseDay(f.Since)
		if err != nil {
			return nil, err
		}
		add("day >= $%d", d)
	}
	if f.Until != "" {
		d, err := parseDay(f.Until)
		if err != nil {
			return nil, err
		}
		add("day < $%d", d)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT day, model, feature, request_count, success_count, failure_count,
		 prompt_tokens, completion_tokens, cost_usd
		 FROM usage_rollups`+where+` ORDER BY day DESC, model, feature`, args...,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (gateway.UsageRollup, error) {
		var r gateway.UsageRollup
		var day time.Time
		err := row.Scan(&day, &r.Model, &r.Feature,
			&r.RequestCount, &r.SuccessCount, &r.FailureCount,
			&r.PromptTokens, &r.CompletionTokens, &r.CostUSD)
		r.Day = day.Format(dayLayout)
		return r, err
	})
}
