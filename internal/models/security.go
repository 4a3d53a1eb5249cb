// Package models - trust-state and captcha records.
// These are the explicit, typed forms of the per-identity security state the
// engine persists in the key-value store.
package models

import "time"

// TrustState tracks the rate-gating state for one browser identity. It is
// created with zero values on first access and persisted in the session-scoped
// key-value store; it expires implicitly with store eviction.
//
// Invariants:
//   - RequestCount >= 0
//   - WindowStartedAt <= now
//   - IsTrusted implies !RateLimited
type TrustState struct {
	IsTrusted           bool       `json:"is_trusted"`
	RequestCount        int        `json:"request_count"`
	WindowStartedAt     time.Time  `json:"window_started_at"`
	RateLimited         bool       `json:"rate_limited"`
	LastCaptchaPassedAt *time.Time `json:"last_captcha_passed_at,omitempty"`
}

// Challenge is a stored arithmetic captcha. Only the hash of the answer is
// kept; the plaintext answer never leaves the issuing function.
type Challenge struct {
	ID         string    `json:"id"`
	AnswerHash string    `json:"answer_hash"`
	ExpiresAt  time.Time `json:"expires_at"`
	Attempts   int       `json:"attempts"`
}

// Expired reports whether the challenge can no longer be answered.
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Session is the server-side record behind the session cookie. The identity
// fingerprint is pinned on first request and the CSRF token is rotated only
// when the session is recreated.
type Session struct {
	ID        string    `json:"id"`
	Identity  string    `json:"identity"`
	CSRFToken string    `json:"csrf_token"`
	CreatedAt time.Time `json:"created_at"`
}
