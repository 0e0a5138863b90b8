package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	gateway "github.com/Evronai/Project-AI-Assistant/internal"
	"github.com/Evronai/Project-AI-Assistant/internal/app"
	"github.com/Evronai/Project-AI-Assistant/internal/budget"
	"github.com/Evronai/Project-AI-Assistant/internal/ledger"
	"github.com/Evronai/Project-AI-Assistant/internal/pricing"
	"github.com/Evronai/Project-AI-Assistant/internal/provider"
	"github.com/Evronai/Project-AI-Assistant/internal/ratelimit"
	"github.com/Evronai/Project-AI-Assistant/internal/testutil"
	"github.com/Evronai/Project-AI-Assistant/internal/vault"
)

const (
	testKey   = "sk-test-1234567890"
	testAdmin = "admin-secret"
)

type testEnv struct {
	handler  http.Handler
	store    *testutil.FakeStore
	comp     *testutil.FakeCompleter
	profiles *app.ProfileService
}

type envOpts struct {
	rpm      int64
	noSave   bool
	vault    *vault.Vault
	adminKey string
	verify   *rate.Limiter
	ready    ReadyChecker
}

func newTestEnv(t *testing.T, o envOpts) *testEnv {
	t.Helper()
	if o.rpm == 0 {
		o.rpm = 100
	}
	if o.vault == nil {
		o.vault = vault.New("test-secret")
	}
	env := &testEnv{
		store: testutil.NewFakeStore(),
		comp:  &testutil.FakeCompleter{},
	}
	env.profiles = app.NewProfileService(env.store, o.vault, env.comp, app.ProfileDefaults{
		Provider: "deepseek",
		Model:    "deepseek-chat",
		BaseURL:  "https://api.deepseek.com",
	}, time.Minute)
	if !o.noSave {
		if _, err := env.profiles.Save(context.Background(), app.SaveProfileOpts{
			APIKey:        testKey,
			MonthlyBudget: 50,
			Features:      gateway.DefaultFeatures,
		}); err != nil {
			t.Fatal(err)
		}
	}
	led := ledger.New(env.store)
	gw := app.NewGateway(app.Deps{
		Profiles:  env.profiles,
		Limiter:   ratelimit.NewLimiter(o.rpm),
		Governor:  budget.NewGovernor(env.store),
		Ledger:    led,
		Completer: env.comp,
		Pricing:   pricing.DefaultTable(),
	}, app.Options{BackoffUnit: time.Millisecond, MaxAttempts: 1})

	env.handler = New(Deps{
		Gateway:       gw,
		Profiles:      env.profiles,
		Ledger:        led,
		Usage:         env.store,
		AdminKey:      o.adminKey,
		ReadyCheck:    o.ready,
		VerifyLimiter: o.verify,
	})
	return env
}

func (e *testEnv) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return v
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOpts{noSave: true})
	rec := env.do(http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	dbDown := func(context.Context) error { return errors.New("db down") }
	tests := []struct {
		name     string
		opts     envOpts
		setup    func(*testEnv)
		want     int
		wantBody readiness
	}{
		{
			name:     "ready with credential",
			opts:     envOpts{ready: func(context.Context) error { return nil }},
			want:     http.StatusOK,
			wantBody: readiness{Status: "ready", Store: checkOK, Ledger: checkOK, CredentialConfigured: true},
		},
		{
			name:     "ready without credential",
			opts:     envOpts{noSave: true},
			want:     http.StatusOK,
			wantBody: readiness{Status: "ready", Ledger: checkOK},
		},
		{
			name:     "store down",
			opts:     envOpts{noSave: true, ready: dbDown},
			want:     http.StatusServiceUnavailable,
			wantBody: readiness{Status: "not ready", Store: checkUnavailable, Ledger: checkOK},
		},
		{
			name:     "ledger unreadable",
			opts:     envOpts{},
			setup:    func(e *testEnv) { e.store.RecentErr = errors.New("no such table: usage_records") },
			want:     http.StatusServiceUnavailable,
			wantBody: readiness{Status: "not ready", Ledger: checkUnavailable, CredentialConfigured: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, tt.opts)
			if tt.setup != nil {
				tt.setup(env)
			}
			rec := env.do(http.MethodGet, "/readyz", "")
			if rec.Code != tt.want {
				t.Fatalf("readyz = %d, want %d; body = %s", rec.Code, tt.want, rec.Body.String())
			}
			if got := decodeBody[readiness](t, rec); got != tt.wantBody {
				t.Errorf("body = %+v, want %+v", got, tt.wantBody)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOpts{noSave: true})

	rec := env.do(http.MethodGet, "/healthz", "")
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("missing generated request id")
	}
	rec = env.do(http.MethodGet, "/healthz", "", "X-Request-Id", "abc-123")
	if got := rec.Header().Get("X-Request-Id"); got != "abc-123" {
		t.Errorf("request id = %q, want propagated abc-123", got)
	}
}

func TestSubmitPrompt(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOpts{})

	rec := env.do(http.MethodPost, "/v1/prompts", `{"prompt":"hi","feature":"insights","context":{"mood":"ok"}}`,
		"X-Request-Id", "req-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
	}
	res := decodeBody[gateway.Completion](t, rec)
	if res.Content != "hello" || res.Model != "deepseek-chat" || res.Attempts != 1 {
		t.Errorf("completion = %+v", res)
	}

	usage := env.store.Usage()
	if len(usage) != 1 || usage[0].RequestID != "req-1" || usage[0].Feature != gateway.FeatureInsights {
		t.Errorf("ledger = %+v", usage)
	}
}

func TestSubmitPrompt_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		opts     envOpts
		setup    func(*testEnv)
		body     string
		want     int
		wantType string
	}{
		{name: "invalid json", body: `{`, want: http.StatusBadRequest, wantType: "invalid_request_error"},
		{name: "empty prompt", body: `{"prompt":"  "}`, want: http.StatusBadRequest, wantType: "invalid_request_error"},
		{name: "not configured", opts: envOpts{noSave: true}, body: `{"prompt":"hi"}`, want: http.StatusPreconditionFailed, wantType: "not_configured"},
		{
			name: "feature disabled",
			setup: func(e *testEnv) {
				if _, err := e.profiles.Save(context.Background(), app.SaveProfileOpts{
					MonthlyBudget: 50, Features: []string{gateway.FeatureTherapy},
				}); err != nil {
					panic(err)
				}
			},
			body: `{"prompt":"hi","feature":"simulator"}`, want: http.StatusForbidden, wantType: "feature_disabled",
		},
		{
			name: "over budget",
			setup: func(e *testEnv) {
				e.store.AddUsage(gateway.UsageRecord{ID: "x", Success: true, CostUSD: 60, CreatedAt: time.Now()})
			},
			body: `{"prompt":"hi"}`, want: http.StatusPaymentRequired, wantType: "budget_exceeded",
		},
		{
			name: "provider error",
			setup: func(e *testEnv) {
				e.comp.Script = []testutil.Step{{Err: &provider.APIError{Provider: "deepseek", StatusCode: 401, Body: "bad key"}}}
			},
			body: `{"prompt":"hi"}`, want: http.StatusBadGateway, wantType: "upstream_error",
		},
		{
			name: "upstream unavailable",
			setup: func(e *testEnv) {
				e.comp.Script = []testutil.Step{{Err: &provider.APIError{Provider: "deepseek", StatusCode: 503, Body: "busy"}}}
			},
			body: `{"prompt":"hi"}`, want: http.StatusServiceUnavailable, wantType: "upstream_error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, tt.opts)
			if tt.setup != nil {
				tt.setup(env)
			}
			rec := env.do(http.MethodPost, "/v1/prompts", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d; body = %s", rec.Code, tt.want, rec.Body.String())
			}
			e := decodeBody[apiError](t, rec)
			if e.Error.Type != tt.wantType || e.Error.Message == "" {
				t.Errorf("error = %+v, want type %q", e.Error, tt.wantType)
			}
		})
	}
}

func TestSubmitPrompt_RateLimited(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOpts{rpm: 1})

	if rec := env.do(http.MethodPost, "/v1/prompts", `{"prompt":"hi"}`); rec.Code != http.StatusOK {
		t.Fatalf("first = %d", rec.Code)
	}
	rec := env.do(http.MethodPost, "/v1/prompts", `{"prompt":"hi"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second = %d, want 429", rec.Code)
	}
	if ra := rec.Header().Get("Retry-After"); ra == "" || ra == "0" {
		t.Errorf("Retry-After = %q", ra)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOpts{vault: vault.NewPlaintext()})
	env.store.AddUsage(gateway.UsageRecord{ID: "a", Success: true, CostUSD: 5, CreatedAt: time.Now()})

	rec := env.do(http.MethodGet, "/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	st := decodeBody[gateway.Status](t, rec)
	if !st.Configured || st.MonthSpendUSD != 5 || st.MonthlyBudgetUSD != 50 || st.BudgetUsedPct != 10 {
		t.Errorf("status = %+v", st)
	}
	if st.MaskedKey != "sk-test-********" || strings.Contains(rec.Body.String(), testKey) {
		t.Errorf("key leaked or not masked: %s", rec.Body.String())
	}
	if st.EncryptionAvailable || st.Warning != vault.WarningDisabled {
		t.Errorf("disabled vault should say so: %+v", st)
	}
}

func TestAdminAuth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOpts{adminKey: testAdmin})

	tests := []struct {
		name   string
		header []string
		want   int
	}{
		{name: "missing", want: http.StatusUnauthorized},
		{name: "wrong", header: []string{"Authorization", "Bearer nope"}, want: http.StatusUnauthorized},
		{name: "not bearer", header: []string{"Authorization", testAdmin}, want: http.StatusUnauthorized},
		{name: "valid", header: []string{"Authorization", "Bearer " + testAdmin}, want: http.StatusOK},
	}
	for _, tt := range tests {
		rec := env.do(http.MethodGet, "/v1/credentials", "", tt.header...)
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.name, rec.Code, tt.want)
		}
	}

	// Prompt and status routes stay open.
	if rec := env.do(http.MethodGet, "/v1/status", ""); rec.Code != http.StatusOK {
		t.Errorf("status without admin key = %d", rec.Code)
	}
}

func TestCredentials_GetAndSave(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOpts{noSave: true})

	rec := env.do(http.MethodGet, "/v1/credentials", "")
	view := decodeBody[credentialView](t, rec)
	if rec.Code != http.StatusOK || view.Configured || view.Profile != nil {
		t.Fatalf("unconfigured view = %d %+v", rec.Code, view)
	}

	rec = env.do(http.MethodPut, "/v1/credentials",
		`{"api_key":"`+testKey+`","monthly_budget":25,"features":["therapy","insights"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("save = %d; body = %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), testKey) {
		t.Fatal("plaintext key in response")
	}
	view = decodeBody[credentialView](t, rec)
	if !view.Configured || !view.HasKey || view.MaskedKey != "sk-test-********" || view.Profile.MonthlyBudget != 25 {
		t.Errorf("saved view = %+v", view)
	}

	// Omitting the key keeps the stored one.
	rec = env.do(http.MethodPut, "/v1/credentials", `{"monthly_budget":30,"features":["general"]}`)
	view = decodeBody[credentialView](t, rec)
	if rec.Code != http.StatusOK || !view.HasKey || view.Profile.MonthlyBudget != 30 {
		t.Errorf("resave = %d %+v", rec.Code, view)
	}

	rec = env.do(http.MethodGet, "/v1/credentials/history", "")
	hist := decodeBody[struct {
		Data []gateway.CredentialProfile `json:"data"`
	}](t, rec)
	if len(hist.Data) != 2 || !hist.Data[0].Active || hist.Data[1].Active {
		t.Errorf("history = %+v", hist.Data)
	}
}

func TestCredentials_SaveValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOpts{noSave: true})

	for _, body := range []string{
		`{"monthly_budget":0,"features":["therapy"]}`,
		`{"monthly_budget":10,"features":[]}`,
		`{"monthly_budget":10,"features":["poetry"]}`,
		`not json`,
	} {
		if rec := env.do(http.MethodPut, "/v1/credentials", body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestCredentials_Test(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOpts{noSave: true})

	rec := env.do(http.MethodPost, "/v1/credentials/test", "")
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("no key: status = %d, want 412", rec.Code)
	}

	var gotKey string
	env.comp.VerifyFn = func(_ context.Context, ep gateway.Endpoint, _ string) error {
		gotKey = ep.APIKey
		return nil
	}
	rec = env.do(http.MethodPost, "/v1/credentials/test", `{"api_key":"sk-candidate"}`)
	res := decodeBody[testResponse](t, rec)
	if rec.Code != http.StatusOK || !res.OK || gotKey != "sk-candidate" {
		t.Errorf("candidate test = %d %+v key=%q", rec.Code, res, gotKey)
	}

	env.comp.VerifyFn = func(context.Context, gateway.Endpoint, string) error {
		return &provider.APIError{Provider: "deepseek", StatusCode: 401, Body: "invalid key"}
	}
	rec = env.do(http.MethodPost, "/v1/credentials/test", `{"api_key":"sk-bad"}`)
	res = decodeBody[testResponse](t, rec)
	if rec.Code != http.StatusOK || res.OK || res.Error != "HTTP 401: invalid key" {
		t.Errorf("failing test = %d %+v", rec.Code, res)
	}
}

func TestCredentials_TestStoreErrorIsNotUpstream(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOpts{noSave: true})
	env.store.ActiveErr = errors.New("sqlite: database is locked")
	env.comp.VerifyFn = func(context.Context, gateway.Endpoint, string) error {
		t.Error("upstream called despite store failure")
		return nil
	}

	rec := env.do(http.MethodPost, "/v1/credentials/test", `{"api_key":"sk-candidate"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500; body = %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "sqlite") || strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("store error reported as a credential result: %s", rec.Body.String())
	}
	if e := decodeBody[apiError](t, rec); e.Error.Type != "internal_error" {
		t.Errorf("type = %q", e.Error.Type)
	}
}

func TestCredentials_TestThrottled(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOpts{verify: rate.NewLimiter(rate.Every(time.Minute), 1)})

	if rec := env.do(http.MethodPost, "/v1/credentials/test", ""); rec.Code != http.StatusOK {
		t.Fatalf("first = %d", rec.Code)
	}
	rec := env.do(http.MethodPost, "/v1/credentials/test", "")
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "60" {
		t.Errorf("second = %d Retry-After=%q", rec.Code, rec.Header().Get("Retry-After"))
	}
}

func TestUsage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOpts{noSave: true})
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for i, m := range []string{"deepseek-chat", "deepseek-coder", "deepseek-chat"} {
		env.store.AddUsage(gateway.UsageRecord{
			ID: string(rune('a' + i)), Model: m, Feature: gateway.FeatureGeneral,
			Success: true, CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}

	rec := env.do(http.MethodGet, "/v1/usage?model=deepseek-chat&limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	list := decodeBody[struct {
		Data       []gateway.UsageRecord `json:"data"`
		Pagination pagination            `json:"pagination"`
	}](t, rec)
	if len(list.Data) != 1 || list.Data[0].ID != "c" || list.Pagination.Total != 2 || list.Pagination.Limit != 1 {
		t.Errorf("usage = %+v", list)
	}

	if rec := env.do(http.MethodGet, "/v1/usage?since=yesterday", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad since = %d, want 400", rec.Code)
	}

	rec = env.do(http.MethodGet, "/v1/usage/recent?limit=2", "")
	recent := decodeBody[struct {
		Data []gateway.UsageRecord `json:"data"`
	}](t, rec)
	if len(recent.Data) != 2 || recent.Data[0].ID != "c" {
		t.Errorf("recent = %+v", recent.Data)
	}
}

func TestDailyUsage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOpts{noSave: true})
	if err := env.store.UpsertRollup(context.Background(), []gateway.UsageRollup{
		{Day: "2026-03-09", Model: "deepseek-chat", Feature: "general", RequestCount: 2, SuccessCount: 2},
		{Day: "2026-03-10", Model: "deepseek-chat", Feature: "general", RequestCount: 1, FailureCount: 1},
	}); err != nil {
		t.Fatal(err)
	}

	rec := env.do(http.MethodGet, "/v1/usage/daily?since=2026-03-10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	out := decodeBody[struct {
		Data []gateway.UsageRollup `json:"data"`
	}](t, rec)
	if len(out.Data) != 1 || out.Data[0].Day != "2026-03-10" {
		t.Errorf("daily = %+v", out.Data)
	}

	if rec := env.do(http.MethodGet, "/v1/usage/daily?until=2026-03-10T00:00:00Z", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad until = %d, want 400", rec.Code)
	}
}

func TestRecovery(t *testing.T) {
	t.Parallel()
	s := &server{}
	h := s.recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestErrorStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want int
	}{
		{gateway.ErrBadRequest, http.StatusBadRequest},
		{gateway.ErrUnauthorized, http.StatusUnauthorized},
		{&gateway.BudgetError{SpentUSD: 1, CeilingUSD: 1}, http.StatusPaymentRequired},
		{gateway.ErrFeatureDisabled, http.StatusForbidden},
		{gateway.ErrNotFound, http.StatusNotFound},
		{gateway.ErrNotConfigured, http.StatusPreconditionFailed},
		{&gateway.RateLimitError{RetryAfter: time.Second}, http.StatusTooManyRequests},
		{gateway.ErrProviderError, http.StatusBadGateway},
		{gateway.ErrUpstreamUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("request timed out: %w", context.Canceled), statusClientClosedRequest},
		{fmt.Errorf("request timed out: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestSubmitPrompt_CallerGone(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		ctx      func() (context.Context, context.CancelFunc)
		want     int
		wantType string
	}{
		{
			name:     "cancelled",
			ctx:      func() (context.Context, context.CancelFunc) { return context.WithCancel(context.Background()) },
			want:     statusClientClosedRequest,
			wantType: "request_cancelled",
		},
		{
			name: "deadline",
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 20*time.Millisecond)
			},
			want:     http.StatusGatewayTimeout,
			wantType: "timeout",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, envOpts{})
			ctx, cancel := tt.ctx()
			defer cancel()
			env.comp.CompleteFn = func(ctx context.Context, _ gateway.Endpoint, _ *gateway.ChatRequest) (*gateway.ChatResult, error) {
				if tt.want == statusClientClosedRequest {
					cancel()
				}
				<-ctx.Done()
				return nil, ctx.Err()
			}

			req := httptest.NewRequest(http.MethodPost, "/v1/prompts", strings.NewReader(`{"prompt":"hi","feature":"insights"}`)).WithContext(ctx)
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d; body = %s", rec.Code, tt.want, rec.Body.String())
			}
			if e := decodeBody[apiError](t, rec); e.Error.Type != tt.wantType || e.Error.Message == "internal error" {
				t.Errorf("error = %+v, want type %q with the failure description", e.Error, tt.wantType)
			}
		})
	}
}

func TestWriteError_HidesInternalDetails(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("sqlite: disk I/O error"))
	if rec.Code != http.StatusInternalServerError || strings.Contains(rec.Body.String(), "sqlite") {
		t.Errorf("writeError leaked details: %d %s", rec.Code, rec.Body.String())
	}
}
