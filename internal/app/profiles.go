// Package app implements the application services of the AI request gateway.
package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"

	gateway "github.com/Evronai/Project-AI-Assistant/internal"
	"github.com/Evronai/Project-AI-Assistant/internal/provider"
	"github.com/Evronai/Project-AI-Assistant/internal/storage"
	"github.com/Evronai/Project-AI-Assistant/internal/vault"
)

// activeKey is the only cache key; there is at most one active profile.
const activeKey = "active"

// DefaultProfileCacheTTL bounds how stale a cached active profile can be
// when a write bypasses this process.
const DefaultProfileCacheTTL = 30 * time.Second

// ProfileDefaults fills fields left empty when a profile is saved.
type ProfileDefaults struct {
	Provider      string
	Model         string
	BaseURL       string
	MonthlyBudget float64
}

// ProfileService owns the active credential profile: it caches it, saves
// new ones through the vault, and resolves the decrypted endpoint.
type ProfileService struct {
	store     storage.CredentialStore
	vault     *vault.Vault
	completer gateway.Completer
	defaults  ProfileDefaults
	cache     *otter.Cache[string, *gateway.CredentialProfile]

	// gen is bumped on every Save and Reload. A store read that raced with
	// one of them does not populate the cache.
	mu  sync.Mutex
	gen uint64
}

// NewProfileService returns a ProfileService. ttl <= 0 uses DefaultProfileCacheTTL.
func NewProfileService(store storage.CredentialStore, v *vault.Vault, completer gateway.Completer, defaults ProfileDefaults, ttl time.Duration) *ProfileService {
	if ttl <= 0 {
		ttl = DefaultProfileCacheTTL
	}
	cache := otter.Must(&otter.Options[string, *gateway.CredentialProfile]{
		MaximumSize:      1,
		ExpiryCalculator: otter.ExpiryWriting[string, *gateway.CredentialProfile](ttl),
	})
	return &ProfileService{
		store:     store,
		vault:     v,
		completer: completer,
		defaults:  defaults,
		cache:     cache,
	}
}

// Active returns the active profile, or gateway.ErrNotFound if none was saved.
// The returned value is a copy and may be modified by the caller.
func (ps *ProfileService) Active(ctx context.Context) (*gateway.CredentialProfile, error) {
	if p, ok := ps.cache.GetIfPresent(activeKey); ok {
		return cloneProfile(p), nil
	}
	ps.mu.Lock()
	gen := ps.gen
	ps.mu.Unlock()

	p, err := ps.store.ActiveProfile(ctx)
	if err != nil {
		return nil, err
	}

	ps.mu.Lock()
	if ps.gen == gen {
		ps.cache.Set(activeKey, p)
	}
	ps.mu.Unlock()
	return cloneProfile(p), nil
}

// Reload drops the cached profile so the next Active reads the store.
func (ps *ProfileService) Reload() {
	ps.mu.Lock()
	ps.gen++
	ps.cache.Invalidate(activeKey)
	ps.mu.Unlock()
}

// SaveProfileOpts holds the fields of a new credential profile.
// An empty APIKey keeps the key of the current active profile.
type SaveProfileOpts struct {
	Provider      string
	APIKey        string
	Model         string
	BaseURL       string
	MonthlyBudget float64
	Features      []string
}

// Save validates opts, encrypts the key and supersedes the active profile.
func (ps *ProfileService) Save(ctx context.Context, opts SaveProfileOpts) (*gateway.CredentialProfile, error) {
	features, err := validateProfile(opts)
	if err != nil {
		return nil, err
	}

	p := &gateway.CredentialProfile{
		Provider:      cmp.Or(opts.Provider, ps.defaults.Provider),
		Model:         cmp.Or(opts.Model, ps.defaults.Model),
		BaseURL:       strings.TrimRight(cmp.Or(opts.BaseURL, ps.defaults.BaseURL), "/"),
		MonthlyBudget: opts.MonthlyBudget,
		Features:      features,
	}

	if key := strings.TrimSpace(opts.APIKey); key != "" {
		enc, err := ps.vault.Encrypt(key)
		if err != nil {
			return nil, fmt.Errorf("encrypt api key: %w", err)
		}
		p.APIKeyEnc = enc
	} else {
		current, err := ps.store.ActiveProfile(ctx)
		switch {
		case err == nil:
			p.APIKeyEnc = current.APIKeyEnc
		case !errors.Is(err, gateway.ErrNotFound):
			return nil, fmt.Errorf("read active profile: %w", err)
		}
	}

	if err := ps.store.SaveProfile(ctx, p); err != nil {
		ps.Reload()
		return nil, fmt.Errorf("save profile: %w", err)
	}
	ps.mu.Lock()
	ps.gen++
	ps.cache.Set(activeKey, cloneProfile(p))
	ps.mu.Unlock()
	return p, nil
}

func validateProfile(opts SaveProfileOpts) ([]string, error) {
	var errs []error
	if opts.MonthlyBudget <= 0 {
		errs = append(errs, errors.New("monthly_budget must be > 0"))
	}
	var features []string
	for _, f := range opts.Features {
		f = strings.TrimSpace(f)
		if !KnownFeature(f) {
			errs = append(errs, fmt.Errorf("unknown feature %q", f))
			continue
		}
		if !slices.Contains(features, f) {
			features = append(features, f)
		}
	}
	if len(opts.Features) == 0 {
		errs = append(errs, errors.New("at least one feature must be enabled"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", gateway.ErrBadRequest, err)
	}
	return features, nil
}

// History returns saved profiles newest first.
func (ps *ProfileService) History(ctx context.Context, offset, limit int) ([]*gateway.CredentialProfile, error) {
	return ps.store.ListProfiles(ctx, offset, limit)
}

// Endpoint decrypts the profile's key. It reports false when the key is
// unset or cannot be decrypted under the current secret.
func (ps *ProfileService) Endpoint(p *gateway.CredentialProfile) (gateway.Endpoint, bool) {
	key, ok := ps.vault.Decrypt(p.APIKeyEnc)
	if !ok {
		return gateway.Endpoint{}, false
	}
	return gateway.Endpoint{BaseURL: p.BaseURL, APIKey: key}, true
}

// MaskedKey returns the display form of the profile's key, or "" if unset.
func (ps *ProfileService) MaskedKey(p *gateway.CredentialProfile) string {
	key, ok := ps.vault.Decrypt(p.APIKeyEnc)
	if !ok {
		return ""
	}
	return vault.Mask(key)
}

// VerifyOpts selects what to test. Empty fields fall back to the active
// profile, then to the defaults.
type VerifyOpts struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Verify sends a minimal completion to check the key and endpoint. Upstream
// failures are returned as *gateway.ProviderCheckError; any other error
// comes from loading the stored profile.
func (ps *ProfileService) Verify(ctx context.Context, opts VerifyOpts) error {
	ep := gateway.Endpoint{APIKey: strings.TrimSpace(opts.APIKey), BaseURL: opts.BaseURL}
	model := opts.Model

	if ep.APIKey == "" || ep.BaseURL == "" || model == "" {
		active, err := ps.Active(ctx)
		if err != nil && !errors.Is(err, gateway.ErrNotFound) {
			return err
		}
		if active != nil {
			if ep.APIKey == "" {
				stored, _ := ps.Endpoint(active)
				ep.APIKey = stored.APIKey
			}
			ep.BaseURL = cmp.Or(ep.BaseURL, active.BaseURL)
			model = cmp.Or(model, active.Model)
		}
	}
	if ep.APIKey == "" {
		return gateway.ErrNotConfigured
	}
	ep.BaseURL = strings.TrimRight(cmp.Or(ep.BaseURL, ps.defaults.BaseURL), "/")
	model = cmp.Or(model, ps.defaults.Model)

	if err := ps.completer.Verify(ctx, ep, model); err != nil {
		return &gateway.ProviderCheckError{Reason: provider.Describe(err)}
	}
	return nil
}

// EncryptionAvailable reports whether stored keys are encrypted.
func (ps *ProfileService) EncryptionAvailable() bool {
	return ps.vault.EncryptionAvailable()
}

// EncryptionWarning names why stored keys are unprotected, or returns "".
func (ps *ProfileService) EncryptionWarning() string {
	return ps.vault.Warning()
}

func cloneProfile(p *gateway.CredentialProfile) *gateway.CredentialProfile {
	cp := *p
	cp.Features = slices.Clone(p.Features)
	return &cp
}
