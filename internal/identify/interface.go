package identify

import (
	"context"

	"wildid/internal/models"
)

// Upload is a photo submitted for identification.
type Upload struct {
	Filename string
	Data     []byte
}

// ServiceInterface defines the identification pipeline operations consumed by
// the HTTP layer.
type ServiceInterface interface {
	// Identify validates the upload, classifies it, enriches the verdict
	// with reference data and records the result.
	Identify(ctx context.Context, identity string, upload Upload) (*models.Identification, error)

	// History returns the identity's recent identifications, newest first.
	History(ctx context.Context, identity string, limit int) ([]*models.Identification, error)

	// Feedback attaches visitor feedback to one of the identity's own
	// identifications. Rows belonging to other identities are reported
	// as not found.
	Feedback(ctx context.Context, identity, id, feedback string) error
}

// Ensure Service implements ServiceInterface
var _ ServiceInterface = (*Service)(nil)
