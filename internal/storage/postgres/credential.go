package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	gateway "github.com/Evronai/Project-AI-Assistant/internal"
)

const profileColumns = `id, provider, api_key_enc, model, base_url, monthly_budget,
	features, is_active, updated_at`

// SaveProfile supersedes the active profile with p in one transaction.
func (s *Store) SaveProfile(ctx context.Context, p *gateway.CredentialProfile) error {
	features := p.Features
	if features == nil {
		features = []string{}
	}
	updated := time.Now().UTC()

	var id int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE credential_profiles SET is_active = FALSE WHERE is_active`,
		); err != nil {
			return err
		}
		return tx.QueryRow(ctx,
			`INSERT INTO credential_profiles
			 (provider, api_key_enc, model, base_url, monthly_budget, features, is_active, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7)
			 RETURNING id`,
			p.Provider, p.APIKeyEnc, p.Model, p.BaseURL, p.MonthlyBudget, features, updated,
		).Scan(&id)
	})
	if err != nil {
		return err
	}
	p.ID = id
	p.Active = true
	p.UpdatedAt = updated
	return nil
}

// ActiveProfile returns the single active profile.
func (s *Store) ActiveProfile(ctx context.Context) (*gateway.CredentialProfile, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM credential_profiles WHERE is_active`,
	)
	return scanProfile(row)
}

// ListProfiles returns profiles newest first.
func (s *Store) ListProfiles(ctx context.Context, offset, limit int) ([]*gateway.CredentialProfile, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+profileColumns+` FROM credential_profiles ORDER BY id DESC LIMIT $1 OFFSET $2`,
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

func scanProfile(row pgx.Row) (*gateway.CredentialProfile, error) {
	var p gateway.CredentialProfile
	err := row.Scan(&p.ID, &p.Provider, &p.APIKeyEnc, &p.Model, &p.BaseURL, &p.MonthlyBudget,
		&p.Features, &p.Active, &p.UpdatedAt)
	if err != nil {
		return nil, notFoundErr(err)
	}
	if p.Features == nil {
		p.Features = []string{}
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}
