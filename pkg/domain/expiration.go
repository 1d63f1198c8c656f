package domain

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Never is the zero duration; an expiration of Never leaves ExpiresAt unset.
const Never time.Duration = 0

var DefaultPresets = []time.Duration{
	time.Hour,
	6 * time.Hour,
	24 * time.Hour,
	7 * 24 * time.Hour,
	Never,
}

// ParseExpiration accepts an hour count ("24", "0" for never), the word
// "never", or a Go duration string ("6h"). The result must be one of presets.
func ParseExpiration(s string, presets []time.Duration, def time.Duration) (time.Duration, error) {
	d := def
	if strings.TrimSpace(s) != "" {
		var err error
		if d, err = ParseDirective(s); err != nil {
			return 0, err
		}
	}
	for _, p := range presets {
		if p == d {
			return d, nil
		}
	}
	return 0, ErrInvalidExpiration
}

const maxHours = math.MaxInt64 / int64(time.Hour)

// ParseDirective reads a single expiration directive without checking it
// against any preset list.
func ParseDirective(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "never" {
		return Never, nil
	}
	if hours, err := strconv.Atoi(s); err == nil {
		if hours < 0 || int64(hours) > maxHours {
			return 0, ErrInvalidExpiration
		}
		return time.Duration(hours) * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, ErrInvalidExpiration
	}
	return d, nil
}

// FormatExpiration renders d the way ParseExpiration reads it back.
func FormatExpiration(d time.Duration) string {
	if d == Never {
		return "never"
	}
	return d.String()
}

// ExpiryFrom returns now+d, or nil when d is Never.
func ExpiryFrom(now time.Time, d time.Duration) *time.Time {
	if d == Never {
		return nil
	}
	t := now.Add(d)
	return &t
}
