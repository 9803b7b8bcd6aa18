package qris

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidHeaders    = errors.New("header set unusable for replay")
	ErrMalformedResponse = errors.New("failed to parse portal response")
)

// APIError is a non-success reply from the portal's internal API. The status
// is kept structured so callers classify by code instead of grepping the
// message.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("portal api error: status %d: %s", e.StatusCode, e.Body)
}

// IsAuthFailure reports whether the portal rejected the session itself,
// which means the captured headers are stale and a re-login is needed.
func (e *APIError) IsAuthFailure() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}
