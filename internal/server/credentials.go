package server

import (
	"errors"
	"net/http"
	"time"

	gateway "github.com/Evronai/Project-AI-Assistant/internal"
	"github.com/Evronai/Project-AI-Assistant/internal/app"
)

// credentialView is the settings-page rendering of the active profile.
// The key is only ever shown masked.
type credentialView struct {
	Configured          bool                       `json:"configured"`
	Profile             *gateway.CredentialProfile `json:"profile,omitempty"`
	HasKey              bool                       `json:"has_key"`
	MaskedKey           string                     `json:"masked_key,omitempty"`
	EncryptionAvailable bool                       `json:"encryption_available"`
	Warning             string                     `json:"warning,omitempty"`
}

func (s *server) credentialView(p *gateway.CredentialProfile) credentialView {
	v := credentialView{
		Profile:             p,
		EncryptionAvailable: s.deps.Profiles.EncryptionAvailable(),
		Warning:             s.deps.Profiles.EncryptionWarning(),
	}
	if p != nil {
		_, v.HasKey = s.deps.Profiles.Endpoint(p)
		v.Configured = v.HasKey
		v.MaskedKey = s.deps.Profiles.MaskedKey(p)
	}
	return v
}

func (s *server) handleGetCredentials(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Profiles.Active(r.Context())
	if err != nil && !errors.Is(err, gateway.ErrNotFound) {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.credentialView(p))
}

type credentialRequest struct {
	Provider      string   `json:"provider"`
	APIKey        string   `json:"api_key"` // empty keeps the stored key
	Model         string   `json:"model"`
	BaseURL       string   `json:"base_url"`
	MonthlyBudget float64  `json:"monthly_budget"`
	Features      []string `json:"features"`
}

func (s *server) handleSaveCredentials(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := s.deps.Profiles.Save(r.Context(), app.SaveProfileOpts{
		Provider:      req.Provider,
		APIKey:        req.APIKey,
		Model:         req.Model,
		BaseURL:       req.BaseURL,
		MonthlyBudget: req.MonthlyBudget,
		Features:      req.Features,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.credentialView(p))
}

func (s *server) handleCredentialHistory(w http.ResponseWriter, r *http.Request) {
	offset, limit := parsePagination(r)
	profiles, err := s.deps.Profiles.History(r.Context(), offset, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if profiles == nil {
		profiles = []*gateway.CredentialProfile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": profiles})
}

type testRequest struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
}

type testResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// handleTestCredentials sends a minimal completion with the candidate (or
// stored) key. Upstream failures are reported in the body, not the status;
// local failures such as an unreadable store go through writeError.
func (s *server) handleTestCredentials(w http.ResponseWriter, r *http.Request) {
	if l := s.deps.VerifyLimiter; l != nil && !l.Allow() {
		wait := time.Duration(float64(time.Second) / float64(l.Limit()))
		writeError(w, r, &gateway.RateLimitError{RetryAfter: wait})
		return
	}
	var req testRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	var rejected *gateway.ProviderCheckError
	err := s.deps.Profiles.Verify(r.Context(), app.VerifyOpts{
		APIKey:  req.APIKey,
		BaseURL: req.BaseURL,
		Model:   req.Model,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, testResponse{OK: true})
	case errors.As(err, &rejected):
		writeJSON(w, http.StatusOK, testResponse{Error: rejected.Reason})
	default:
		writeError(w, r, err)
	}
}
