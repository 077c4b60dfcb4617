package timeutil

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// ParseOffset parses a fixed UTC offset like "+05:30" or "-05:00" into a
// location. Empty, "UTC" and malformed inputs all fall back to UTC; a bad
// offset from a client must never take the whole request down.
func ParseOffset(s string) *time.Location {
	if s == "" || s == "UTC" {
		return time.UTC
	}

	minutes, err := parseOffsetMinutes(s)
	if err != nil {
		slog.Warn("Invalid timezone offset, falling back to UTC",
			"offset", s,
			"error", err,
		)
		return time.UTC
	}

	if minutes == 0 {
		return time.UTC
	}

	return time.FixedZone(s, minutes*60)
}

func parseOffsetMinutes(s string) (int, error) {
	sign := 1

	switch s[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return 0, fmt.Errorf("offset must start with '+' or '-'")
	}

	parts := strings.Split(s[1:], ":")
	if len(parts) > 2 {
		return 0, fmt.Errorf("too many offset components")
	}

	hours, err := atoiDigits(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid hours: %w", err)
	}

	minutes := 0
	if len(parts) > 1 {
		minutes, err = atoiDigits(parts[1])
		if err != nil {
			return 0, fmt.Errorf("invalid minutes: %w", err)
		}
	}

	if hours > 14 || minutes > 59 {
		return 0, fmt.Errorf("offset out of range")
	}

	return sign * (hours*60 + minutes), nil
}

// atoiDigits is a strict Atoi: digits only, no sign, no whitespace.
func atoiDigits(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("not a number: %q", s)
		}
	}

	return strconv.Atoi(s)
}

// ToAPIInstant renders an instant for the calendar API: RFC3339 in UTC with
// the "Z" marker, never a "+00:00" literal.
func ToAPIInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseNaive parses a timestamp without offset information and interprets it
// as wall-clock time in loc. Every tool that accepts a start/end time goes
// through here, otherwise created events land at the wrong local time.
func ParseNaive(s string, loc *time.Location) (time.Time, error) {
	layouts := []string{
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02",
	}

	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unsupported datetime format: %q", s)
}

// ParseAPIInstant parses an instant as returned by the calendar API, either
// an RFC3339 datetime or a bare date.
func ParseAPIInstant(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("unsupported instant format: %q", s)
}

// IsMidnight reports whether t carries no time-of-day component, i.e. the
// caller supplied only a date.
func IsMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}

// FormatClock renders a 12-hour clock time for spoken replies ("2:30 PM").
func FormatClock(t time.Time) string {
	return strings.TrimPrefix(t.Format("03:04 PM"), "0")
}

// FormatDate renders a spoken-friendly date ("January 30, 2026").
func FormatDate(t time.Time) string {
	return t.Format("January 2, 2006")
}

// FormatDayTime renders a spoken-friendly day + time ("January 30 at 2:30 PM").
func FormatDayTime(t time.Time) string {
	return t.Format("January 2") + " at " + FormatClock(t)
}
