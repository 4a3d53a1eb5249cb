// Package ratelimit throttles captcha issuance per client IP using the token
// bucket algorithm. This is a volumetric guard on the challenge endpoint
// itself and is independent of the identity-based trust gate: it keeps a
// single client from flooding the challenge store, nothing more.
package ratelimit

import "time"

// Limiter is the issuance throttle contract. Implementations must be safe for
// concurrent use.
type Limiter interface {
	// Allow reports whether a request identified by key may proceed, along
	// with rate information for populating response headers.
	Allow(key string) (allowed bool, info Info)

	// Close stops background goroutines and releases resources.
	Close()
}

// Info contains rate limit state for populating response headers.
type Info struct {
	Limit      int           // Maximum requests per minute
	Remaining  int           // Approximate tokens remaining
	ResetAt    time.Time     // When the bucket will be full again
	RetryAfter time.Duration // How long to wait (meaningful only when denied)
}
