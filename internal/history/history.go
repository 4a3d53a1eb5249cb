// Package history persists identification results so returning visitors can
// review what they photographed and leave feedback on verdicts.
package history

import (
	"context"
	"errors"
	"time"

	"wildid/internal/models"
)

// ErrNotFound is returned when the requested identification does not exist.
var ErrNotFound = errors.New("identification not found")

// Feedback values accepted by RecordFeedback.
const (
	FeedbackCorrect   = "correct"
	FeedbackIncorrect = "incorrect"
)

// Storage defines the identification history contract. Implementations must
// be safe for concurrent use.
type Storage interface {
	// Save stores a completed identification.
	Save(ctx context.Context, ident *models.Identification) error

	// List returns the most recent identifications for an identity, newest
	// first, capped at limit.
	List(ctx context.Context, identity string, limit int) ([]*models.Identification, error)

	// Get retrieves a single identification by its ID.
	Get(ctx context.Context, id string) (*models.Identification, error)

	// RecordFeedback attaches visitor feedback (correct/incorrect) to an
	// identification.
	RecordFeedback(ctx context.Context, id, feedback string, at time.Time) error

	// Close releases the backing resources.
	Close() error
}

// ValidFeedback reports whether the value is one RecordFeedback accepts.
func ValidFeedback(feedback string) bool {
	return feedback == FeedbackCorrect || feedback == FeedbackIncorrect
}
