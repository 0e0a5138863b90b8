package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	gateway "github.com/Evronai/Project-AI-Assistant/internal"
)

// statusWriterPool recycles statusWriters across requests. Fields are reset on
// Get and the ResponseWriter is cleared on Put.
var statusWriterPool = sync.Pool{
	New: func() any { return &statusWriter{} },
}

// recovery catches panics and returns 500.
func (s *server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.LogAttrs(r.Context(), slog.LevelError, "panic recovered",
					slog.Any("error", rec),
					slog.String("path", r.URL.Path),
				)
				writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error", "internal_error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader is in canonical MIME form so it can index Header directly.
const requestIDHeader = "X-Request-Id"

// maxRequestIDLen bounds caller-supplied IDs, which end up in the usage ledger.
const maxRequestIDLen = 128

// requestID adds a request ID to the context and response header. A caller's
// X-Request-Id is kept when present and short enough; otherwise a UUID v7 is used.
func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if vals := r.Header[requestIDHeader]; len(vals) > 0 && vals[0] != "" && len(vals[0]) <= maxRequestIDLen {
			id = vals[0]
		} else {
			id = uuid.Must(uuid.NewV7()).String()
		}
		w.Header()[requestIDHeader] = []string{id}
		ctx := gateway.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// unmatchedRoute labels requests no route matched, so scanners hitting
// random paths cannot grow the metric series.
const unmatchedRoute = "unmatched"

// observe logs each request and, when metrics are enabled, records its
// route, status and duration. Error statuses are also counted by the
// same type name the error body carries.
func (s *server) observe(next http.Handler) http.Handler {
	m := s.deps.Metrics
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m != nil {
			m.ActiveRequests.Inc()
			defer m.ActiveRequests.Dec()
		}
		start := time.Now()
		sw := statusWriterPool.Get().(*statusWriter)
		sw.ResponseWriter = w
		sw.status = http.StatusOK
		sw.wroteHeader = false

		next.ServeHTTP(sw, r)

		elapsed := time.Since(start)
		status := sw.status
		sw.ResponseWriter = nil
		statusWriterPool.Put(sw)

		route := routeLabel(r)
		slog.LogAttrs(r.Context(), slog.LevelInfo, "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
			slog.String("request_id", gateway.RequestIDFromContext(r.Context())),
		)
		if m == nil {
			return
		}
		m.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		if status >= http.StatusBadRequest {
			m.ErrorResponses.WithLabelValues(route, errorType(status)).Inc()
		}
	})
}

// routeLabel returns the matched chi pattern, e.g. "/v1/usage/daily".
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return unmatchedRoute
}

// adminAuth requires the configured admin key as a bearer token.
// With no admin key configured the routes are open.
func (s *server) adminAuth(next http.Handler) http.Handler {
	if s.deps.AdminKey == "" {
		return next
	}
	want := []byte(s.deps.AdminKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var token string
		var ok bool
		if vals := r.Header["Authorization"]; len(vals) > 0 {
			token, ok = strings.CutPrefix(vals[0], "Bearer ")
		}
		if !ok || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			writeError(w, r, gateway.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusWriter wraps ResponseWriter to capture the HTTP status code.
// WriteHeader records only the first status code; subsequent calls are
// forwarded to the underlying writer but do not update the captured value,
// matching net/http semantics where only the first WriteHeader takes effect.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.wroteHeader = true
	}
	return sw.ResponseWriter.Write(b)
}

// Unwrap returns the underlying ResponseWriter, allowing http.ResponseController
// and similar utilities to find interface implementations.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}
