package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field names one setting, e.g. "reminders.send_timeout", and parses its
// raw YAML text. Errors are prefixed with the name.
type Field string

// Duration parses a non-negative Go duration. A whole number of days may
// be written as "30d", which is how retention windows are usually given.
// Empty means 0.
func (f Field) Duration(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 || n > 100*365 {
			return 0, fmt.Errorf("%s: invalid day count %q", f, raw)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", f, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", f)
	}
	return d, nil
}

// DurationOr is Duration with def standing in for an empty or zero value.
func (f Field) DurationOr(raw string, def time.Duration) (time.Duration, error) {
	d, err := f.Duration(raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// Location resolves the zone used to read wall-clock reminder times and
// cron specs. It takes an IANA name or a fixed offset such as "+03:00".
// Empty means UTC.
func (f Field) Location(raw string) (*time.Location, error) {
	tz := strings.TrimSpace(raw)
	if tz == "" {
		return time.UTC, nil
	}
	if tz[0] == '+' || tz[0] == '-' {
		t, err := time.Parse("-07:00", tz)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid offset %q, want +HH:MM", f, tz)
		}
		_, off := t.Zone()
		return time.FixedZone("UTC"+tz, off), nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid %q: %w", f, tz, err)
	}
	return loc, nil
}
