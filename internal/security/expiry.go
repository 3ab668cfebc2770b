package security

import (
	"regexp"
	"strconv"
	"time"
)

var expiryPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

// DefaultExpiry is the fallback when an expiry string is unrecognized.
const DefaultExpiry = 900 * time.Second

// ParseExpiry converts a compact duration string ("15m", "7d", "1h") into a
// time.Duration. An unrecognized format falls back to DefaultExpiry rather
// than erroring; config validation is the place to catch typos loudly.
func ParseExpiry(expiry string) time.Duration {
	m := expiryPattern.FindStringSubmatch(expiry)
	if m == nil {
		return DefaultExpiry
	}
	amount, err := strconv.Atoi(m[1])
	if err != nil {
		return DefaultExpiry
	}
	switch m[2] {
	case "s":
		return time.Duration(amount) * time.Second
	case "m":
		return time.Duration(amount) * time.Minute
	case "h":
		return time.Duration(amount) * time.Hour
	case "d":
		return time.Duration(amount) * 24 * time.Hour
	}
	return DefaultExpiry
}

// ValidExpiry reports whether an expiry string matches the supported format.
func ValidExpiry(expiry string) bool {
	return expiryPattern.MatchString(expiry)
}
