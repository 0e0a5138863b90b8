package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	gateway "github.com/Evronai/Project-AI-Assistant/internal"
)

// maxBody is the maximum allowed request body size (1 MB).
const maxBody = 1 << 20

// statusClientClosedRequest is the non-standard status logged when the
// caller went away before the gateway finished.
const statusClientClosedRequest = 499

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(msg, typ string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = typ
	return e
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, gateway.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, gateway.ErrBudgetExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, gateway.ErrFeatureDisabled):
		return http.StatusForbidden
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrNotConfigured):
		return http.StatusPreconditionFailed
	case errors.Is(err, gateway.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, gateway.ErrProviderError):
		return http.StatusBadGateway
	case errors.Is(err, gateway.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request_error"
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusPaymentRequired:
		return "budget_exceeded"
	case http.StatusForbidden:
		return "feature_disabled"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusPreconditionFailed:
		return "not_configured"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return "upstream_error"
	case statusClientClosedRequest:
		return "request_cancelled"
	case http.StatusGatewayTimeout:
		return "timeout"
	default:
		return "internal_error"
	}
}

// writeError maps err to a status and writes it as an apiError body.
// Unmapped errors are logged and replaced with a generic message so storage
// details never reach the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.LogAttrs(r.Context(), slog.LevelError, "request failed",
			slog.String("error", msg),
			slog.String("path", r.URL.Path),
		)
		msg = "internal error"
	}
	var rl *gateway.RateLimitError
	if errors.As(err, &rl) {
		w.Header()["Retry-After"] = []string{strconv.Itoa(rl.RetryAfterSeconds())}
	}
	writeJSON(w, status, errorResponse(msg, errorType(status)))
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on error.
// Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body", "invalid_request_error"))
		return false
	}
	return true
}

// --- Pagination helpers ---

type pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

type listResponse struct {
	Data       any        `json:"data"`
	Pagination pagination `json:"pagination"`
}

func parsePagination(r *http.Request) (offset, limit int) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return
}

// parseBounds validates optional since/until query params against layout.
// Writes 400 and returns false on invalid format.
func parseBounds(w http.ResponseWriter, r *http.Request, layout, name string) (since, until string, ok bool) {
	q := r.URL.Query()
	since, until = q.Get("since"), q.Get("until")
	for _, b := range [...]struct{ key, val string }{{"since", since}, {"until", until}} {
		if b.val == "" {
			continue
		}
		if _, err := time.Parse(layout, b.val); err != nil {
			writeJSON(w, http.StatusBadRequest,
				errorResponse("invalid "+b.key+" format, use "+name, "invalid_request_error"))
			return "", "", false
		}
	}
	return since, until, true
}
