package utils

import (
	"fmt"
	"strings"
	"time"
)

const (
	expiryLayout = "01/06"
	isoDate      = "2006-01-02"

	// DefaultCardValidityYears is how long a generated card stays valid
	DefaultCardValidityYears = 3
)

// ParseExpiryDate accepts either MM/YY, resolved to the last day of that
// month, or an ISO date YYYY-MM-DD
func ParseExpiryDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(isoDate, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(expiryLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expiry date %q, expected MM/YY or YYYY-MM-DD", value)
	}
	// first day of the following month minus one day
	return t.AddDate(0, 1, -1), nil
}

// FormatExpiryDate renders t as MM/YY
func FormatExpiryDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(expiryLayout)
}

// GenerateExpiryDate returns the calendar date years after now
func GenerateExpiryDate(now time.Time, years int) time.Time {
	y, m, d := now.AddDate(years, 0, 0).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
