package server

import (
	"errors"
	"log/slog"
	"net/http"

	gateway "github.com/Evronai/Project-AI-Assistant/internal"
)

const (
	checkOK          = "ok"
	checkUnavailable = "unavailable"
)

var plainCT = []string{"text/plain"}

// readiness is the /readyz body. A dependency that is not wired is omitted.
type readiness struct {
	Status               string `json:"status"`
	Store                string `json:"store,omitempty"`
	Ledger               string `json:"ledger,omitempty"`
	CredentialConfigured bool   `json:"credential_configured"`
}

// handleHealthz is liveness only and touches no dependency.
func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header()["Content-Type"] = plainCT
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleReadyz fails when prompts could not be served and recorded: the
// store must answer a ping and the usage ledger must be readable. A missing
// credential is reported but does not fail readiness, since it is fixed
// through the settings routes of this same process.
func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body := readiness{Status: "ready"}

	if s.deps.ReadyCheck != nil {
		body.Store = s.check(r, "store", s.deps.ReadyCheck(ctx))
	}
	if s.deps.Ledger != nil {
		_, err := s.deps.Ledger.Recent(ctx, 1)
		body.Ledger = s.check(r, "ledger", err)
	}
	if s.deps.Profiles != nil {
		p, err := s.deps.Profiles.Active(ctx)
		switch {
		case err == nil:
			_, body.CredentialConfigured = s.deps.Profiles.Endpoint(p)
		case !errors.Is(err, gateway.ErrNotFound):
			slog.LogAttrs(ctx, slog.LevelWarn, "readiness: credential lookup failed",
				slog.String("error", err.Error()),
			)
		}
	}

	status := http.StatusOK
	if body.Store == checkUnavailable || body.Ledger == checkUnavailable {
		body.Status = "not ready"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

func (s *server) check(r *http.Request, name string, err error) string {
	if err == nil {
		return checkOK
	}
	slog.LogAttrs(r.Context(), slog.LevelWarn, "readiness check failed",
		slog.String("check", name),
		slog.String("error", err.Error()),
	)
	return checkUnavailable
}
