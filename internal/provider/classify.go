package provider

import (
	"context"
	"errors"
	"net"
	"net/url"
	"os"
)

// httpStatusError is an interface for errors carrying an HTTP status code.
type httpStatusError interface {
	HTTPStatus() int
}

// ErrMalformedResponse marks a 200 response whose body could not be parsed.
var ErrMalformedResponse = errors.New("malformed completion response")

// IsTransient reports whether a failed attempt is worth retrying.
//
//   - HTTP 429 and 503 -> transient
//   - any other HTTP status -> permanent
//   - timeouts (deadline exceeded, net.Error.Timeout) -> transient
//   - connection failures (refused, DNS, unreachable) -> permanent
//   - anything else -> permanent
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var he httpStatusError
	if errors.As(err, &he) {
		return transientStatus(he.HTTPStatus())
	}

	return isTimeout(err)
}

func transientStatus(code int) bool {
	return code == 429 || code == 503
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isConnectionError matches dial, DNS and other transport-level failures.
func isConnectionError(err error) bool {
	var opErr *net.OpError
	var dnsErr *net.DNSError
	var urlErr *url.Error
	return errors.As(err, &opErr) || errors.As(err, &dnsErr) || errors.As(err, &urlErr)
}

// Describe renders err as the short description stored in the usage ledger.
func Describe(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &apiErr):
		return apiErr.Error()
	case isTimeout(err):
		return "request timed out"
	case isConnectionError(err):
		return "cannot reach API: " + truncate(rootCause(err).Error(), maxErrorDetail)
	default:
		return truncate(err.Error(), maxErrorDetail)
	}
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
