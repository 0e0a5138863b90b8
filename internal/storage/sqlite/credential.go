package sqlite

import (
	"context"
	"encoding/json"
	"time"

	gateway "github.com/Evronai/Project-AI-Assistant/internal"
)

const profileColumns = `id, provider, api_key_enc, model, base_url, monthly_budget,
	features, is_active, updated_at`

// SaveProfile supersedes the active profile with p in one transaction.
func (s *Store) SaveProfile(ctx context.Context, p *gateway.CredentialProfile) error {
	features, err := json.Marshal(nonNil(p.Features))
	if err != nil {
		return err
	}
	updated := time.Now().UTC()

	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`UPDATE credential_profiles SET is_active = 0 WHERE is_active = 1`,
	); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO credential_profiles
		 (provider, api_key_enc, model, base_url, monthly_budget, features, is_active, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
		p.Provider, p.APIKeyEnc, p.Model, p.BaseURL, p.MonthlyBudget,
		string(features), formatTime(updated),
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	p.ID = id
	p.Active = true
	p.UpdatedAt = updated
	return nil
}

// ActiveProfile returns the single active profile.
func (s *Store) ActiveProfile(ctx context.Context) (*gateway.CredentialProfile, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM credential_profiles WHERE is_active = 1`,
	)
	return scanProfile(row)
}

// ListProfiles returns profiles newest first.
func (s *Store) ListProfiles(ctx context.Context, offset, limit int) ([]*gateway.CredentialProfile, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.read.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM credential_profiles ORDER BY id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*gateway.CredentialProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProfile(sc scanner) (*gateway.CredentialProfile, error) {
	var (
		p        gateway.CredentialProfile
		features string
		active   int
		updated  string
	)
	err := sc.Scan(&p.ID, &p.Provider, &p.APIKeyEnc, &p.Model, &p.BaseURL, &p.MonthlyBudget,
		&features, &active, &updated)
	if err != nil {
		return nil, notFoundErr(err)
	}
	if err := json.Unmarshal([]byte(features), &p.Features); err != nil {
		return nil, err
	}
	p.Active = active != 0
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
