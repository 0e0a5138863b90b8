package sqlite

import (
	"context"
	"strings"
	"time"

	gateway "github.com/Evronai/Project-AI-Assistant/internal"
)

const usageColumns = `id, provider, model, feature, prompt_tokens, completion_tokens, cost_usd,
	success, error_msg, duration_ms, attempts, request_id, created_at`

// AppendUsage inserts one ledger record. The table rejects updates and deletes.
func (s *Store) AppendUsage(ctx context.Context, r *gateway.UsageRecord) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO usage_records (`+usageColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Provider, r.Model, r.Feature,
		r.PromptTokens, r.CompletionTokens, r.CostUSD,
		boolToInt(r.Success), r.Error, r.DurationMs, r.Attempts, r.RequestID,
		formatTime(r.CreatedAt),
	)
	return err
}

// SumCostSince returns the total cost of successful records since the given time.
func (s *Store) SumCostSince(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := s.read.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM usage_records
		 WHERE success = 1 AND created_at >= ?`, formatTime(since),
	).Scan(&total)
	return total, err
}

// RecentUsage returns the newest n records.
func (s *Store) RecentUsage(ctx context.Context, n int) ([]gateway.UsageRecord, error) {
	return s.queryUsage(ctx,
		`SELECT `+usageColumns+` FROM usage_records
		 ORDER BY created_at DESC, id DESC LIMIT ?`, n)
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
	args = append(args, limit, f.Offset)
	return s.queryUsage(ctx,
		`SELECT `+usageColumns+` FROM usage_records`+where+
			` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, args...)
}

func (s *Store) queryUsage(ctx context.Context, query string, args ...any) ([]gateway.UsageRecord, error) {
	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gateway.UsageRecord
	for rows.Next() {
		var r gateway.UsageRecord
		var success int
		var createdAt string
		err := rows.Scan(
			&r.ID, &r.Provider, &r.Model, &r.Feature,
			&r.PromptTokens, &r.CompletionTokens, &r.CostUSD,
			&success, &r.Error, &r.DurationMs, &r.Attempts, &r.RequestID,
			&createdAt,
		)
		if err != nil {
			return nil, err
		}
		r.Success = success != 0
		r.CreatedAt = parseTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountUsage returns the count of usage records matching the filter.
func (s *Store) CountUsage(ctx context.Context, f gateway.UsageFilter) (int, error) {
	where, args, err := usageWhere(f)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM usage_records`+where, args...,
	).Scan(&n)
	return n, err
}

func usageWhere(f gateway.UsageFilter) (string, []any, error) {
	var clauses []string
	var args []any
	if f.Model != "" {
		clauses = append(clauses, "model = ?")
		args = append(args, f.Model)
	}
	if f.Feature != "" {
		clauses = append(clauses, "feature = ?")
		args = append(args, f.Feature)
	}
	if f.Since != "" {
		since, err := normalizeBound(f.Since)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, "created_at >= ?")
		args = append(args, since)
	}
	if f.Until != "" {
		until, err := normalizeBound(f.Until)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, "created_at < ?")
		args = append(args, until)
	}
	if len(clauses) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

// UpsertRollup writes daily aggregates in a single transaction. Each row
// replaces any previous value for its (day, model, feature), so a rollup
// pass can be rerun over the same window.
func (s *Store) UpsertRollup(ctx context.Context, rollups []gateway.UsageRollup) error {
	if len(rollups) == 0 {
		return nil
	}
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO usage_rollups (day, model, feature,
		 request_count, success_count, failure_count, prompt_tokens, completion_tokens, cost_usd)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(day, model, feature) DO UPDATE SET
		 request_count = excluded.request_count,
		 success_count = excluded.success_count,
		 failure_count = excluded.failure_count,
		 prompt_tokens = excluded.prompt_tokens,
		 completion_tokens = excluded.completion_tokens,
		 cost_usd = excluded.cost_usd`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rollups {
		if _, err := stmt.ExecContext(ctx,
			r.Day, r.Model, r.Feature,
			r.RequestCount, r.SuccessCount, r.FailureCount,
			r.PromptTokens, r.CompletionTokens, r.CostUSD,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// QueryRollups returns rollups matching the filter, newest day first.
func (s *Store) QueryRollups(ctx context.Context, f gateway.RollupFilter) ([]gateway.UsageRollup, error) {
	var clauses []string
	var args []any
	if f.Model != "" {
		clauses = append(clauses, "model = ?")
		args = append(args, f.Model)
	}
	if f.Feature != "" {
		clauses = append(clauses, "feature = ?")
		args = append(args, f.Feature)
	}
	if f.Since != "" {
		clauses = append(clauses, "day >= ?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		clauses = append(clauses, "day < ?")
		args = append(args, f.Until)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.read.QueryContext(ctx,
		`SELECT day, model, feature, request_count, success_count, failure_count,
		 prompt_tokens, completion_tokens, cost_usd
		 FROM usage_rollups`+where+` ORDER BY day DESC, model, feature`, args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gateway.UsageRollup
	for rows.Next() {
		var r gateway.UsageRollup
		err := rows.Scan(&r.Day, &r.Model, &r.Feature,
			&r.RequestCount, &r.SuccessCount, &r.FailureCount,
			&r.PromptTokens, &r.CompletionTokens, &r.CostUSD)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
