package security

import (
	"time"

	"wildid/internal/models"
)

// newTrustState returns the zero-value state for a first-seen identity with
// its window anchored at now.
func newTrustState(now time.Time) models.TrustState {
	return models.TrustState{WindowStartedAt: now}
}

// trustHolds reports whether the trust flag is still in effect. A zero
// duration means trust never expires within the session.
func trustHolds(st *models.TrustState, now time.Time, duration time.Duration) bool {
	if !st.IsTrusted {
		return false
	}
	if duration == 0 || st.LastCaptchaPassedAt == nil {
		return st.IsTrusted
	}
	return now.Sub(*st.LastCaptchaPassedAt) < duration
}

// normalize applies the lazy state transitions that precede every gate
// decision: lapsed trust is revoked, and an expired window is restarted for
// untrusted identities. Trusted identities' windows are left alone - they are
// exempt from counting while trust holds.
func normalize(st *models.TrustState, now time.Time, window, trustDuration time.Duration) {
	if st.IsTrusted && !trustHolds(st, now, trustDuration) {
		st.IsTrusted = false
		st.RateLimited = false
		st.RequestCount = 0
		st.WindowStartedAt = now
		return
	}

	resetWindowIfExpired(st, now, window)
}

// resetWindowIfExpired restarts the rolling window when it has elapsed.
// No-op for trusted identities so the reset can never disturb trust
// semantics by clearing RateLimited out from under a promotion.
func resetWindowIfExpired(st *models.TrustState, now time.Time, window time.Duration) {
	if st.IsTrusted {
		return
	}
	if now.Sub(st.WindowStartedAt) >= window {
		st.RequestCount = 0
		st.WindowStartedAt = now
		st.RateLimited = false
	}
}

// recordAttempt counts one protected-action request against the window and
// flips RateLimited once the threshold is reached. Safe no-op while trusted.
func recordAttempt(st *models.TrustState, threshold int) {
	if st.IsTrusted {
		return
	}
	st.RequestCount++
	if st.RequestCount >= threshold {
		st.RateLimited = true
	}
}

// promote marks the identity trusted after a solved captcha and clears all
// gating state.
func promote(st *models.TrustState, now time.Time) {
	st.IsTrusted = true
	st.RateLimited = false
	st.RequestCount = 0
	st.WindowStartedAt = now
	passed := now
	st.LastCaptchaPassedAt = &passed
}
