package security

import (
	"testing"
	"time"
)

func TestParseExpiry(t *testing.T) {
	cases := map[string]time.Duration{
		"30s":  30 * time.Second,
		"15m":  15 * time.Minute,
		"2h":   2 * time.Hour,
		"7d":   7 * 24 * time.Hour,
		"900s": 900 * time.Second,
	}
	for input, expected := range cases {
		if got := ParseExpiry(input); got != expected {
			t.Fatalf("ParseExpiry(%q)=%v want %v", input, got, expected)
		}
	}
}

func TestParseExpiryFallback(t *testing.T) {
	for _, input := range []string{"", "15x", "m15", "1.5h", "-5m", "15 m", "15mm", "d", "15M"} {
		if got := ParseExpiry(input); got != DefaultExpiry {
			t.Fatalf("ParseExpiry(%q)=%v want default %v", input, got, DefaultExpiry)
		}
		if ValidExpiry(input) {
			t.Fatalf("ValidExpiry(%q) should be false", input)
		}
	}
	if !ValidExpiry("15m") {
		t.Fatal("ValidExpiry(15m) should be true")
	}
}

func FuzzParseExpiryFallbackConsistency(f *testing.F) {
	f.Add("15m")
	f.Add("7d")
	f.Add("")
	f.Add("99999999999999999999s")
	f.Add("0h")

	f.Fuzz(func(t *testing.T, input string) {
		d := ParseExpiry(input)
		if !ValidExpiry(input) && d != DefaultExpiry {
			t.Fatalf("ParseExpiry(%q)=%v, invalid input must fall back to %v", input, d, DefaultExpiry)
		}
	})
}
