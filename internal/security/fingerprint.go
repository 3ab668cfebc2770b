package security

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
)

// fingerprintLength keeps stored fingerprints short; this is an advisory
// anomaly signal, not a security boundary, so 64 bits of hash suffice.
const fingerprintLength = 16

// Fingerprint derives a coarse device identity from request header
// attributes. Same inputs always yield the same value.
func Fingerprint(userAgent, acceptLanguage, acceptEncoding string) string {
	sum := sha256.Sum256([]byte(userAgent + "|" + acceptLanguage + "|" + acceptEncoding))
	return hex.EncodeToString(sum[:])[:fingerprintLength]
}

// FingerprintFromRequest computes the device fingerprint for an HTTP request.
func FingerprintFromRequest(r *http.Request) string {
	return Fingerprint(
		r.Header.Get("User-Agent"),
		r.Header.Get("Accept-Language"),
		r.Header.Get("Accept-Encoding"),
	)
}
