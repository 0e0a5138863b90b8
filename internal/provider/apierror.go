// Package provider contains shared utilities for completion API clients.
package provider

import (
	"fmt"
	"io"
	"net/http"
)

// maxErrorDetail bounds the body excerpt carried in error descriptions.
const maxErrorDetail = 150

// APIError represents a non-200 response from an upstream completion API.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

// Error returns "HTTP <status>: <body excerpt>".
func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, truncate(e.Body, maxErrorDetail))
}

// HTTPStatus returns the upstream status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// ParseAPIError reads up to 4KB from the response body and returns an APIError.
func ParseAPIError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body)}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
