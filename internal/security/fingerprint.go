// Package security implements the abuse-mitigation engine: browser identity
// fingerprinting, per-identity trust state with a rolling request window,
// arithmetic captcha issuance/verification, and the rate gate that guards the
// expensive identification endpoint.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"
)

// fingerprintHeaders is the fixed header subset an identity is derived from.
// These are soft signals: stable within one browser session, near-certainly
// different across browsers. Collisions are an accepted trade-off.
var fingerprintHeaders = []string{
	"User-Agent",
	"Accept-Language",
	"Accept-Encoding",
	"Connection",
	"Upgrade-Insecure-Requests",
	"Sec-Fetch-Dest",
	"Sec-Fetch-Mode",
	"Sec-Fetch-Site",
}

// Fingerprint derives a stable pseudo-identity from request headers. The
// selected headers are serialized in sorted order so the result is
// independent of header ordering, then hashed and truncated to 16 hex chars.
// Pure function: same headers always yield the same identity.
func Fingerprint(h http.Header) string {
	parts := make([]string, 0, len(fingerprintHeaders))
	for _, name := range fingerprintHeaders {
		parts = append(parts, strings.ToLower(name)+"="+h.Get(name))
	}
	sort.Strings(parts)

	sum := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:])[:16]
}
