package security

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"wildid/internal/kvstore"
	"wildid/internal/models"
)

// casRetries bounds the optimistic-concurrency retry loop on a single
// identity's state. Contention beyond this is treated as a store failure so
// the gate fails closed.
const casRetries = 5

// ErrContention is returned when a state update cannot be applied within
// casRetries attempts.
var ErrContention = errors.New("security: state update contention")

// Coordinator is the security engine façade: it owns trust-state persistence,
// challenge issuance/verification and the rate-gate decision for the
// protected action. All per-identity mutations go through compare-and-swap
// loops on the backing store, so concurrent requests from one browser (two
// tabs) cannot lose updates.
type Coordinator struct {
	store kvstore.Store
	cfg   models.SecurityConfig

	// now is swappable for tests.
	now func() time.Time
}

// NewCoordinator creates the security engine on top of the given store.
func NewCoordinator(store kvstore.Store, cfg models.SecurityConfig) *Coordinator {
	return &Coordinator{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
}

func trustKey(identity string) string { return "trust:" + identity }
func captchaKey(id string) string     { return "captcha:" + id }

// CanProceed implements the rate gate. Only the protected action is gated;
// the decision sequence is: lazy window reset, trusted bypass, rate-limited
// denial.
func (c *Coordinator) CanProceed(ctx context.Context, identity, action string) (bool, string, error) {
	if action != ActionIdentify || !c.cfg.CaptchaEnabled {
		return true, "", nil
	}

	st, err := c.updateTrust(ctx, identity, func(st *models.TrustState) {})
	if err != nil {
		return false, models.ErrorCodeCaptchaRequired, err
	}

	if st.IsTrusted {
		return true, "", nil
	}
	if st.RateLimited {
		return false, models.ErrorCodeCaptchaRequired, nil
	}
	return true, "", nil
}

// RecordRequest counts one admitted protected-action request.
func (c *Coordinator) RecordRequest(ctx context.Context, identity, action string) error {
	if action != ActionIdentify || !c.cfg.CaptchaEnabled {
		return nil
	}

	_, err := c.updateTrust(ctx, identity, func(st *models.TrustState) {
		recordAttempt(st, c.cfg.RateLimitThreshold)
	})
	return err
}

// Status reports the identity's standing with the gate.
func (c *Coordinator) Status(ctx context.Context, identity string) (*models.SecurityStatus, error) {
	st, err := c.updateTrust(ctx, identity, func(st *models.TrustState) {})
	if err != nil {
		return nil, err
	}

	status := &models.SecurityStatus{
		IsTrusted:          st.IsTrusted,
		RequestCount:       st.RequestCount,
		RateLimited:        st.RateLimited,
		CaptchaRequired:    st.RateLimited,
		CaptchaEnabled:     c.cfg.CaptchaEnabled,
		RateLimitThreshold: c.cfg.RateLimitThreshold,
	}
	if !st.IsTrusted {
		remaining := c.cfg.RateLimitWindow - c.now().Sub(st.WindowStartedAt)
		if remaining < 0 {
			remaining = 0
		}
		status.WindowExpiresIn = int(remaining.Seconds())
	}
	return status, nil
}

// IssueChallenge creates a captcha, stores its answer hash, and marks the
// calling identity rate-limited. Only the challenge id and the question text
// leave the engine.
func (c *Coordinator) IssueChallenge(ctx context.Context, identity string) (*models.CaptchaResponse, error) {
	question, answer := newQuestion()

	ch := models.Challenge{
		ID:         uuid.NewString(),
		AnswerHash: hashAnswer(fmt.Sprintf("%d", answer)),
		ExpiresAt:  c.now().Add(c.cfg.CaptchaTTL),
	}

	raw, err := json.Marshal(ch)
	if err != nil {
		return nil, fmt.Errorf("marshal challenge: %w", err)
	}

	// Store TTL is twice the logical TTL so a verify between logical and
	// physical expiry still observes the challenge and reports Expired
	// rather than InvalidChallenge.
	if err := c.store.Set(ctx, captchaKey(ch.ID), raw, 2*c.cfg.CaptchaTTL); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}

	if _, err := c.updateTrust(ctx, identity, func(st *models.TrustState) {
		if !st.IsTrusted {
			st.RateLimited = true
		}
	}); err != nil {
		return nil, err
	}

	slog.Info("captcha issued", "identity", identity, "captcha_id", ch.ID)

	return &models.CaptchaResponse{
		CaptchaID: ch.ID,
		Question:  question,
		ExpiresIn: int(c.cfg.CaptchaTTL.Seconds()),
	}, nil
}

// VerifyChallenge checks a submitted answer against the stored challenge.
// Expired and exhausted challenges are purged; a correct answer consumes the
// challenge and promotes the identity to trusted.
func (c *Coordinator) VerifyChallenge(ctx context.Context, identity, challengeID, answer string) (Outcome, error) {
	key := captchaKey(challengeID)

	for attempt := 0; attempt < casRetries; attempt++ {
		raw, err := c.store.Get(ctx, key)
		if errors.Is(err, kvstore.ErrNotFound) {
			return OutcomeInvalidChallenge, nil
		}
		if err != nil {
			return OutcomeInvalidChallenge, fmt.Errorf("load challenge: %w", err)
		}

		var ch models.Challenge
		if err := json.Unmarshal(raw, &ch); err != nil {
			return OutcomeInvalidChallenge, fmt.Errorf("decode challenge: %w", err)
		}

		if ch.Expired(c.now()) {
			if err := c.store.Delete(ctx, key); err != nil {
				return OutcomeExpired, fmt.Errorf("purge expired challenge: %w", err)
			}
			return OutcomeExpired, nil
		}

		if checkAnswer(answer, ch.AnswerHash) {
			if err := c.store.Delete(ctx, key); err != nil {
				return OutcomeSuccess, fmt.Errorf("consume challenge: %w", err)
			}
			if _, err := c.updateTrust(ctx, identity, func(st *models.TrustState) {
				promote(st, c.now())
			}); err != nil {
				return OutcomeSuccess, err
			}
			slog.Info("captcha solved, identity trusted", "identity", identity, "captcha_id", challengeID)
			return OutcomeSuccess, nil
		}

		ch.Attempts++
		if ch.Attempts >= c.cfg.CaptchaMaxAttempts {
			if err := c.store.Delete(ctx, key); err != nil {
				return OutcomeTooManyAttempts, fmt.Errorf("purge exhausted challenge: %w", err)
			}
			slog.Warn("captcha attempts exhausted", "identity", identity, "captcha_id", challengeID)
			return OutcomeTooManyAttempts, nil
		}

		next, err := json.Marshal(ch)
		if err != nil {
			return OutcomeIncorrectAnswer, fmt.Errorf("marshal challenge: %w", err)
		}

		ttl := 2 * ch.ExpiresAt.Sub(c.now())
		err = c.store.CompareAndSwap(ctx, key, raw, next, ttl)
		if err == nil {
			return OutcomeIncorrectAnswer, nil
		}
		if errors.Is(err, kvstore.ErrConflict) || errors.Is(err, kvstore.ErrNotFound) {
			continue // raced with a concurrent attempt; re-read
		}
		return OutcomeIncorrectAnswer, fmt.Errorf("update challenge: %w", err)
	}

	return OutcomeIncorrectAnswer, ErrContention
}

// updateTrust runs a compare-and-swap loop on the identity's trust state:
// read (or initialize), normalize lapsed trust and expired windows, apply
// mutate, write back only if unchanged since the read.
func (c *Coordinator) updateTrust(ctx context.Context, identity string, mutate func(*models.TrustState)) (models.TrustState, error) {
	key := trustKey(identity)

	for attempt := 0; attempt < casRetries; attempt++ {
		var st models.TrustState
		var expected []byte

		raw, err := c.store.Get(ctx, key)
		switch {
		case errors.Is(err, kvstore.ErrNotFound):
			st = newTrustState(c.now())
		case err != nil:
			return st, fmt.Errorf("load trust state: %w", err)
		default:
			if err := json.Unmarshal(raw, &st); err != nil {
				return st, fmt.Errorf("decode trust state: %w", err)
			}
			expected = raw
		}

		normalize(&st, c.now(), c.cfg.RateLimitWindow, c.cfg.TrustDuration)
		mutate(&st)

		next, err := json.Marshal(st)
		if err != nil {
			return st, fmt.Errorf("marshal trust state: %w", err)
		}
		if expected != nil && bytes.Equal(expected, next) {
			return st, nil // nothing changed; skip the write
		}

		err = c.store.CompareAndSwap(ctx, key, expected, next, c.cfg.SessionTTL)
		if err == nil {
			return st, nil
		}
		if errors.Is(err, kvstore.ErrConflict) || errors.Is(err, kvstore.ErrNotFound) {
			continue // lost the race; retry on fresh state
		}
		return st, fmt.Errorf("store trust state: %w", err)
	}

	return models.TrustState{}, ErrContention
}
