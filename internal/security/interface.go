package security

import (
	"context"

	"wildid/internal/models"
)

// ActionIdentify is the protected action the gate is scoped to. Every other
// action passes the gate unconditionally.
const ActionIdentify = "identify"

// Engine is the security coordinator contract consumed by the HTTP layer.
// Implementations must keep per-identity state transitions atomic.
type Engine interface {
	// CanProceed decides whether identity may perform action right now.
	// When denied, reason carries the machine-readable cause
	// ("captcha_required"). A store failure is returned as an error and
	// callers must fail closed.
	CanProceed(ctx context.Context, identity, action string) (allowed bool, reason string, err error)

	// RecordRequest counts one admitted protected-action request against
	// the identity's window. No-op for other actions and for trusted
	// identities.
	RecordRequest(ctx context.Context, identity, action string) error

	// Status reports the identity's current gate standing. Side-effect
	// free apart from the lazy window reset.
	Status(ctx context.Context, identity string) (*models.SecurityStatus, error)

	// IssueChallenge creates a new captcha bound to the identity and marks
	// it rate-limited (a challenge being issued is evidence gating is
	// required).
	IssueChallenge(ctx context.Context, identity string) (*models.CaptchaResponse, error)

	// VerifyChallenge checks a submitted answer. OutcomeSuccess promotes
	// the identity to trusted and consumes the challenge.
	VerifyChallenge(ctx context.Context, identity, challengeID, answer string) (Outcome, error)
}
