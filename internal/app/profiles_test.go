package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	gateway "github.com/Evronai/Project-AI-Assistant/internal"
	"github.com/Evronai/Project-AI-Assistant/internal/provider"
	fakes "github.com/Evronai/Project-AI-Assistant/internal/testutil"
	"github.com/Evronai/Project-AI-Assistant/internal/vault"
)

func newProfileService(t *testing.T) (*ProfileService, *fakes.FakeStore, *fakes.FakeCompleter) {
	t.Helper()
	store := fakes.NewFakeStore()
	comp := &fakes.FakeCompleter{}
	ps := NewProfileService(store, vault.New("test-secret"), comp, ProfileDefaults{
		Provider: "deepseek",
		Model:    "deepseek-chat",
		BaseURL:  "https://api.deepseek.com",
	}, time.Minute)
	return ps, store, comp
}

func TestProfileService_SaveAndActive(t *testing.T) {
	t.Parallel()
	ps, store, _ := newProfileService(t)
	ctx := context.Background()

	if _, err := ps.Active(ctx); !errors.Is(err, gateway.ErrNotFound) {
		t.Fatalf("Active before save = %v, want ErrNotFound", err)
	}

	saved, err := ps.Save(ctx, SaveProfileOpts{
		APIKey:        "  " + testKey + "  ",
		BaseURL:       "https://proxy.example.com/v1/",
		MonthlyBudget: 20,
		Features:      []string{gateway.FeatureTherapy, gateway.FeatureTherapy, gateway.FeatureInsights},
	})
	if err != nil {
		t.Fatal(err)
	}
	if saved.Provider != "deepseek" || saved.Model != "deepseek-chat" || saved.BaseURL != "https://proxy.example.com/v1" {
		t.Errorf("defaults not applied: %+v", saved)
	}
	if len(saved.Features) != 2 {
		t.Errorf("features = %v, want deduplicated", saved.Features)
	}
	if saved.APIKeyEnc == testKey || saved.APIKeyEnc == "" {
		t.Errorf("key stored as %q, want ciphertext", saved.APIKeyEnc)
	}

	active, err := ps.Active(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ep, ok := ps.Endpoint(active)
	if !ok || ep.APIKey != testKey || ep.BaseURL != "https://proxy.example.com/v1" {
		t.Errorf("endpoint = %+v, %v", ep, ok)
	}
	if got := ps.MaskedKey(active); got != "sk-test-********" {
		t.Errorf("masked = %q", got)
	}

	// Mutating the returned copy must not leak into the cache.
	active.Features[0] = "mutated"
	again, _ := ps.Active(ctx)
	if again.Features[0] != gateway.FeatureTherapy {
		t.Errorf("cache mutated: %v", again.Features)
	}

	hist, err := store.ListProfiles(ctx, 0, 10)
	if err != nil || len(hist) != 1 {
		t.Fatalf("history = %v, %v", hist, err)
	}
}

func TestProfileService_SaveKeepsExistingKey(t *testing.T) {
	t.Parallel()
	ps, _, _ := newProfileService(t)
	ctx := context.Background()

	first, err := ps.Save(ctx, SaveProfileOpts{APIKey: testKey, MonthlyBudget: 50, Features: gateway.DefaultFeatures})
	if err != nil {
		t.Fatal(err)
	}
	second, err := ps.Save(ctx, SaveProfileOpts{MonthlyBudget: 80, Model: "deepseek-coder", Features: []string{gateway.FeatureGeneral}})
	if err != nil {
		t.Fatal(err)
	}
	if second.APIKeyEnc != first.APIKeyEnc {
		t.Error("key not carried over to the superseding profile")
	}

	active, err := ps.Active(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if active.ID != second.ID || active.MonthlyBudget != 80 || active.Model != "deepseek-coder" {
		t.Errorf("active = %+v, want second profile", active)
	}

	hist, err := ps.History(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[0].ID != second.ID || hist[1].Active {
		t.Errorf("history = %+v", hist)
	}
}

func TestProfileService_SaveValidation(t *testing.T) {
	t.Parallel()
	ps, store, _ := newProfileService(t)

	tests := []struct {
		name string
		opts SaveProfileOpts
	}{
		{name: "zero budget", opts: SaveProfileOpts{MonthlyBudget: 0, Features: gateway.DefaultFeatures}},
		{name: "negative budget", opts: SaveProfileOpts{MonthlyBudget: -5, Features: gateway.DefaultFeatures}},
		{name: "no features", opts: SaveProfileOpts{MonthlyBudget: 10}},
		{name: "unknown feature", opts: SaveProfileOpts{MonthlyBudget: 10, Features: []string{"poetry"}}},
	}
	for _, tt := range tests {
		_, err := ps.Save(context.Background(), tt.opts)
		if !errors.Is(err, gateway.ErrBadRequest) {
			t.Errorf("%s: err = %v, want ErrBadRequest", tt.name, err)
		}
	}
	if hist, _ := store.ListProfiles(context.Background(), 0, 10); len(hist) != 0 {
		t.Errorf("invalid saves persisted %d profiles", len(hist))
	}
}

func TestProfileService_CacheAndReload(t *testing.T) {
	t.Parallel()
	ps, store, _ := newProfileService(t)
	ctx := context.Background()

	if _, err := ps.Save(ctx, SaveProfileOpts{APIKey: testKey, MonthlyBudget: 50, Features: gateway.DefaultFeatures}); err != nil {
		t.Fatal(err)
	}
	if _, err := ps.Active(ctx); err != nil {
		t.Fatal(err)
	}

	// A write that bypasses the service is invisible until Reload.
	if err := store.SaveProfile(ctx, &gateway.CredentialProfile{Model: "external", MonthlyBudget: 1}); err != nil {
		t.Fatal(err)
	}
	cached, _ := ps.Active(ctx)
	if cached.Model == "external" {
		t.Fatal("expected cached profile")
	}

	ps.Reload()
	fresh, _ := ps.Active(ctx)
	if fresh.Model != "external" {
		t.Errorf("model after reload = %q, want external", fresh.Model)
	}
}

func TestProfileService_Verify(t *testing.T) {
	t.Parallel()
	ps, _, comp := newProfileService(t)
	ctx := context.Background()

	var gotEP gateway.Endpoint
	var gotModel string
	comp.VerifyFn = func(_ context.Context, ep gateway.Endpoint, model string) error {
		gotEP, gotModel = ep, model
		return nil
	}

	if err := ps.Verify(ctx, VerifyOpts{}); !errors.Is(err, gateway.ErrNotConfigured) {
		t.Errorf("verify without key = %v, want ErrNotConfigured", err)
	}

	if err := ps.Verify(ctx, VerifyOpts{APIKey: "sk-candidate"}); err != nil {
		t.Fatal(err)
	}
	if gotEP.APIKey != "sk-candidate" || gotEP.BaseURL != "https://api.deepseek.com" || gotModel != "deepseek-chat" {
		t.Errorf("verify with candidate key: %+v %q", gotEP, gotModel)
	}

	if _, err := ps.Save(ctx, SaveProfileOpts{
		APIKey: testKey, BaseURL: "https://alt.example.com", Model: "deepseek-coder",
		MonthlyBudget: 50, Features: gateway.DefaultFeatures,
	}); err != nil {
		t.Fatal(err)
	}
	if err := ps.Verify(ctx, VerifyOpts{}); err != nil {
		t.Fatal(err)
	}
	if gotEP.APIKey != testKey || gotEP.BaseURL != "https://alt.example.com" || gotModel != "deepseek-coder" {
		t.Errorf("verify with stored profile: %+v %q", gotEP, gotModel)
	}

	comp.VerifyFn = func(context.Context, gateway.Endpoint, string) error {
		return &provider.APIError{Provider: "deepseek", StatusCode: 401, Body: "bad key"}
	}
	err := ps.Verify(ctx, VerifyOpts{})
	var rejected *gateway.ProviderCheckError
	if !errors.As(err, &rejected) || rejected.Reason != "HTTP 401: bad key" || !errors.Is(err, gateway.ErrProviderError) {
		t.Errorf("verify upstream failure = %v, want ProviderCheckError with description", err)
	}
}

func TestProfileService_VerifyStoreError(t *testing.T) {
	t.Parallel()
	ps, store, comp := newProfileService(t)
	store.ActiveErr = errors.New("database is locked")
	comp.VerifyFn = func(context.Context, gateway.Endpoint, string) error {
		t.Error("upstream called despite store failure")
		return nil
	}

	err := ps.Verify(context.Background(), VerifyOpts{APIKey: "sk-candidate"})
	if err == nil || errors.Is(err, gateway.ErrProviderError) {
		t.Errorf("verify = %v, want a non-provider store error", err)
	}
}

// gatedStore holds the first armed ActiveProfile call after it has read the
// store, so a Save can commit while the stale result is in flight.
type gatedStore struct {
	*fakes.FakeStore
	armed   atomic.Bool
	read    chan struct{}
	release chan struct{}
}

func (g *gatedStore) ActiveProfile(ctx context.Context) (*gateway.CredentialProfile, error) {
	p, err := g.FakeStore.ActiveProfile(ctx)
	if g.armed.CompareAndSwap(true, false) {
		close(g.read)
		<-g.release
	}
	return p, err
}

func TestProfileService_SaveWinsOverConcurrentLoad(t *testing.T) {
	t.Parallel()
	store := &gatedStore{
		FakeStore: fakes.NewFakeStore(),
		read:      make(chan struct{}),
		release:   make(chan struct{}),
	}
	ps := NewProfileService(store, vault.New("test-secret"), &fakes.FakeCompleter{}, ProfileDefaults{Model: "deepseek-chat"}, time.Minute)
	ctx := context.Background()

	if _, err := ps.Save(ctx, SaveProfileOpts{APIKey: testKey, Model: "old-model", MonthlyBudget: 10, Features: gateway.DefaultFeatures}); err != nil {
		t.Fatal(err)
	}
	ps.Reload()
	store.armed.Store(true)

	done := make(chan *gateway.CredentialProfile, 1)
	go func() {
		p, _ := ps.Active(ctx)
		done <- p
	}()
	<-store.read

	if _, err := ps.Save(ctx, SaveProfileOpts{APIKey: testKey, Model: "new-model", MonthlyBudget: 20, Features: gateway.DefaultFeatures}); err != nil {
		t.Fatal(err)
	}
	close(store.release)
	if stale := <-done; stale == nil || stale.Model != "old-model" {
		t.Fatalf("in-flight load = %+v, want the pre-save profile", stale)
	}

	got, err := ps.Active(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Model != "new-model" || got.MonthlyBudget != 20 {
		t.Errorf("active after save = %+v, want new-model", got)
	}
}

func TestSystemPrompt(t *testing.T) {
	t.Parallel()
	for _, f := range []string{gateway.FeatureTherapy, gateway.FeatureSimulator, gateway.FeatureInsights, gateway.FeatureGeneral} {
		if !KnownFeature(f) || SystemPrompt(f) == "" {
			t.Errorf("feature %q has no prompt", f)
		}
	}
	if SystemPrompt("nope") != SystemPrompt(gateway.FeatureGeneral) || SystemPrompt("") != SystemPrompt(gateway.FeatureGeneral) {
		t.Error("unknown tags should use the general prompt")
	}
	if NormalizeFeature("nope") != gateway.FeatureGeneral {
		t.Error("NormalizeFeature did not map unknown tag to general")
	}
}
