package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gateway "github.com/Evronai/Project-AI-Assistant/internal"
	"github.com/Evronai/Project-AI-Assistant/internal/app"
)

// Bootstrap seeds the first credential profile from credential.api_key.
// It never overwrites an existing profile; settings saved at runtime win.
func Bootstrap(ctx context.Context, cfg *Config, profiles *app.ProfileService) error {
	if cfg.Credential.APIKey == "" {
		return nil
	}

	active, err := profiles.Active(ctx)
	switch {
	case err == nil:
		slog.LogAttrs(ctx, slog.LevelDebug, "credential profile exists, skipping bootstrap",
			slog.Int64("profile_id", active.ID),
		)
		return nil
	case !errors.Is(err, gateway.ErrNotFound):
		return fmt.Errorf("read active profile: %w", err)
	}

	p, err := profiles.Save(ctx, app.SaveProfileOpts{
		Provider:      cfg.Gateway.Provider,
		APIKey:        cfg.Credential.APIKey,
		Model:         cfg.Credential.Model,
		BaseURL:       cfg.Gateway.BaseURL,
		MonthlyBudget: cfg.Gateway.MonthlyBudget,
		Features:      cfg.CredentialFeatures(),
	})
	if err != nil {
		return fmt.Errorf("bootstrap credential: %w", err)
	}
	slog.LogAttrs(ctx, slog.LevelInfo, "bootstrapped credential profile",
		slog.Int64("profile_id", p.ID),
		slog.String("model", p.Model),
		slog.String("key", profiles.MaskedKey(p)),
	)
	return nil
}
