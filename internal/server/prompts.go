package server

import (
	"net/http"

	gateway "github.com/Evronai/Project-AI-Assistant/internal"
)

func (s *server) handleSubmitPrompt(w http.ResponseWriter, r *http.Request) {
	var prompt gateway.Prompt
	if !decodeJSON(w, r, &prompt) {
		return
	}
	res, err := s.deps.Gateway.Submit(r.Context(), prompt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Gateway.Status(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
