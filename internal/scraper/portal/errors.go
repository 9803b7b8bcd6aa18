package portal

import (
	"errors"
	"fmt"
)

var (
	ErrLocatorNotFound = errors.New("element not found")
	ErrLoginFailed     = errors.New("login failed")
	ErrCaptureTimeout  = errors.New("authenticated call never observed")

	ErrBrowserUnavailable = errors.New("browser could not be started")
)

// ScrapeError carries the failing step alongside the cause, so the monitor
// can log which part of an opaque third-party flow broke.
type ScrapeError struct {
	Op      string
	Cause   error
	Details string
}

func (e *ScrapeError) Error() string {
	return fmt.Sprintf("[portal] %s failed: %v - %s", e.Op, e.Cause, e.Details)
}

func (e *ScrapeError) Unwrap() error {
	return e.Cause
}
