package security

import (
	"net/http/httptest"
	"testing"
)

func TestFingerprintDeterministicAndLength(t *testing.T) {
	a := Fingerprint("Mozilla/5.0", "en-US", "gzip")
	b := Fingerprint("Mozilla/5.0", "en-US", "gzip")
	if a != b {
		t.Fatalf("same inputs must fingerprint identically: %q vs %q", a, b)
	}
	if len(a) != fingerprintLength {
		t.Fatalf("fingerprint length %d, want %d", len(a), fingerprintLength)
	}
}

func TestFingerprintSensitiveToEachInput(t *testing.T) {
	base := Fingerprint("ua", "lang", "enc")
	if Fingerprint("ua2", "lang", "enc") == base {
		t.Fatal("user agent change must alter fingerprint")
	}
	if Fingerprint("ua", "lang2", "enc") == base {
		t.Fatal("accept-language change must alter fingerprint")
	}
	if Fingerprint("ua", "lang", "enc2") == base {
		t.Fatal("accept-encoding change must alter fingerprint")
	}
}

func TestFingerprintFieldBoundaries(t *testing.T) {
	// the separator keeps "ab"+"c" distinct from "a"+"bc"
	if Fingerprint("ab", "c", "") == Fingerprint("a", "bc", "") {
		t.Fatal("field boundaries must be preserved")
	}
}

func TestFingerprintFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("User-Agent", "agent")
	r.Header.Set("Accept-Language", "en")
	r.Header.Set("Accept-Encoding", "gzip")

	if got := FingerprintFromRequest(r); got != Fingerprint("agent", "en", "gzip") {
		t.Fatalf("unexpected request fingerprint %q", got)
	}

	// absent headers still produce a stable value
	empty := httptest.NewRequest("GET", "/", nil)
	empty.Header.Del("User-Agent")
	if FingerprintFromRequest(empty) != Fingerprint("", "", "") {
		t.Fatal("missing headers must hash as empty strings")
	}
}
