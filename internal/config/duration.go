package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a non-negative Go duration; blank is zero.
// key names the config field in errors.
func ParseDurationField(key, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w", key, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", key, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def standing in for zero.
func ParseDurationOrDefault(key, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(key, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// LoadLocation resolves an IANA zone name; blank is UTC.
func LoadLocation(key, tz string) (*time.Location, error) {
	if tz = strings.TrimSpace(tz); tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%s: unknown timezone %q", key, tz)
	}
	return loc, nil
}
