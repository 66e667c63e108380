package record

import (
	"strings"
	"time"
)

const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02T15:04:05"
)

// ParseDate reads the leading YYYY-MM-DD of s.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) < len(DateLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, s[:len(DateLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ParseDateTime accepts RFC 3339 (with "Z" or an offset), a local
// YYYY-MM-DDTHH:MM:SS prefix, or a bare date at midnight UTC.
func ParseDateTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if len(s) >= len(DateTimeLayout) {
		if t, err := time.Parse(DateTimeLayout, s[:len(DateTimeLayout)]); err == nil {
			return t, true
		}
	}
	if len(s) == len(DateLayout) {
		if t, err := time.Parse(DateLayout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
