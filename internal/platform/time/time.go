// Package time contains time helpers for API timestamps and epoch watermarks
package time

import (
	"strings"
	"time"
)

// APILayout is the UTC layout the incident API uses for created_on and friends
const APILayout = "2006-01-02T15:04:05Z"

// Ptr returns a pointer to t or nil if t is zero
func Ptr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// ParseAPI parses an API timestamp. The strict UTC layout is tried first, then RFC3339
// so offsets like "+02:00" written by other producers still load
func ParseAPI(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(APILayout, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// FormatAPI renders t in the API's UTC layout
func FormatAPI(t time.Time) string { return t.UTC().Format(APILayout) }

// FromEpoch converts epoch seconds to a UTC time; 0 stays the zero time
func FromEpoch(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// Epoch converts t to epoch seconds; the zero time is 0
func Epoch(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
