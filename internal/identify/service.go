// Package identify runs the identification pipeline: validate the upload,
// classify it with an external vision model, enrich the verdict with species
// reference data and record the result in history.
package identify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"wildid/internal/classify"
	"wildid/internal/history"
	"wildid/internal/models"
	"wildid/internal/reference"
)

// allowedExtensions is the upload extension allowlist.
var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// Service orchestrates the identification pipeline.
type Service struct {
	classifier classify.Classifier
	store      history.Storage
	refs       *reference.DB
	maxBytes   int64

	// now is swappable for tests.
	now func() time.Time
}

// NewService creates the pipeline service. maxBytes caps accepted upload
// sizes; zero disables the cap (the HTTP layer still enforces its own).
func NewService(classifier classify.Classifier, store history.Storage, refs *reference.DB, maxBytes int64) *Service {
	return &Service{
		classifier: classifier,
		store:      store,
		refs:       refs,
		maxBytes:   maxBytes,
		now:        time.Now,
	}
}

// Identify validates, classifies, enriches and records one upload.
func (s *Service) Identify(ctx context.Context, identity string, upload Upload) (*models.Identification, error) {
	mimeType, err := s.validate(upload)
	if err != nil {
		return nil, err
	}

	verdict, err := s.classifier.Classify(ctx, upload.Data, mimeType)
	if err != nil {
		slog.Error("Classifier call failed", "error", err, "identity", identity)
		return nil, NewClassifierError(err)
	}

	ident := &models.Identification{
		ID:          uuid.NewString(),
		Identity:    identity,
		CreatedAt:   s.now(),
		Species:     verdict.Species,
		CommonName:  verdict.CommonName,
		Confidence:  verdict.Confidence,
		Description: verdict.Description,
		Notes:       verdict.Notes,
	}
	if !verdict.IsAnimal && ident.Notes == "" {
		ident.Notes = "No animal detected in the image"
	}

	if entry, ok := s.refs.Lookup(verdict.Species, verdict.CommonName); ok {
		ident.ConservationStatus = entry.ConservationStatus
		ident.Habitat = entry.Habitat
		ident.FunFact = entry.FunFact
	}

	if err := s.store.Save(ctx, ident); err != nil {
		return nil, NewInternalError("failed to record identification", err)
	}

	slog.Info("Identification recorded",
		"identity", identity,
		"identification_id", ident.ID,
		"species", ident.Species,
		"confidence", ident.Confidence,
	)
	return ident, nil
}

// History returns the identity's recent identifications.
func (s *Service) History(ctx context.Context, identity string, limit int) ([]*models.Identification, error) {
	idents, err := s.store.List(ctx, identity, limit)
	if err != nil {
		return nil, NewInternalError("failed to load history", err)
	}
	return idents, nil
}

// Feedback attaches visitor feedback to a recorded identification. The row
// must belong to the calling identity; foreign rows are indistinguishable
// from missing ones so ids cannot be probed.
func (s *Service) Feedback(ctx context.Context, identity, id, feedback string) error {
	if !history.ValidFeedback(feedback) {
		return NewInvalidUploadError(fmt.Sprintf("feedback must be %q or %q", history.FeedbackCorrect, history.FeedbackIncorrect))
	}

	ident, err := s.store.Get(ctx, id)
	if errors.Is(err, history.ErrNotFound) {
		return NewNotFoundError("identification not found")
	}
	if err != nil {
		return NewInternalError("failed to load identification", err)
	}
	if ident.Identity != identity {
		return NewNotFoundError("identification not found")
	}

	if err := s.store.RecordFeedback(ctx, id, feedback, s.now()); err != nil {
		return NewInternalError("failed to record feedback", err)
	}
	return nil
}

// validate checks the upload against the extension allowlist, the size cap
// and a content sniff, and returns the detected MIME type.
func (s *Service) validate(upload Upload) (string, error) {
	if len(upload.Data) == 0 {
		return "", NewInvalidUploadError("uploaded file is empty")
	}
	if s.maxBytes > 0 && int64(len(upload.Data)) > s.maxBytes {
		return "", NewInvalidUploadError(fmt.Sprintf("uploaded file exceeds the %d byte limit", s.maxBytes))
	}

	ext := strings.ToLower(filepath.Ext(upload.Filename))
	if !allowedExtensions[ext] {
		return "", NewInvalidUploadError("file type not allowed; upload png, jpg, jpeg, gif, bmp or webp")
	}

	mimeType := http.DetectContentType(upload.Data)
	if !strings.HasPrefix(mimeType, "image/") {
		return "", NewInvalidUploadError("uploaded file is not an image")
	}
	return mimeType, nil
}
