package osf

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/osfrelay/internal/common"
)

// APIError is a non-2xx response from OSF.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	// Detail is the first JSON:API error detail, if OSF sent one.
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("osf %s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("osf %s %s: status %d", e.Method, e.URL, e.StatusCode)
}

// Unwrap classifies the response: 401 and 403 are authorization failures,
// everything else is a request failure.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return common.ErrOSFUnauthorized
	}
	return common.ErrOSFRequest
}

// Retryable reports whether the call that produced err is worth repeating.
// Only throttling, server errors and transport failures qualify, and only
// for requests that are safe to repeat; callers decide the latter.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	var tErr *transportError
	return errors.As(err, &tErr)
}

// transportError means no response was received.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }

func (e *transportError) Unwrap() []error { return []error{common.ErrOSFRequest, e.err} }

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrOSFMalformedResponse, fmt.Sprintf(format, args...))
}
