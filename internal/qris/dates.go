package qris

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danprat/qris-d1-watcher/internal/timezone"
)

var ErrInvalidDate = errors.New("invalid date")

// compactDateLayout is the portal's date format for query parameters.
const compactDateLayout = "20060102"

// DateRange is an inclusive day range in the portal's compact format.
type DateRange struct {
	Start string
	End   string
}

// NormalizeDate accepts YYYY-MM-DD or YYYYMMDD and returns the compact form.
// Anything that does not reduce to a real 8-digit calendar date fails.
func NormalizeDate(raw string) (string, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), "-", "")
	if len(cleaned) != len(compactDateLayout) {
		return "", fmt.Errorf("%w: %q does not reduce to 8 digits", ErrInvalidDate, raw)
	}
	if _, err := time.Parse(compactDateLayout, cleaned); err != nil {
		return "", fmt.Errorf("%w: %q is not a calendar date", ErrInvalidDate, raw)
	}
	return cleaned, nil
}

// NewDateRange normalizes both bounds of a range.
func NewDateRange(start, end string) (DateRange, error) {
	s, err := NormalizeDate(start)
	if err != nil {
		return DateRange{}, err
	}
	e, err := NormalizeDate(end)
	if err != nil {
		return DateRange{}, err
	}
	return DateRange{Start: s, End: e}, nil
}

// Today returns the single-day range for the current portal-local day.
// Recomputed on every call so a monitor running across midnight rolls over.
func Today() DateRange {
	day := timezone.Now().Format(compactDateLayout)
	return DateRange{Start: day, End: day}
}
