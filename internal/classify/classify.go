// Package classify calls external vision models to identify the animal in an
// uploaded photo. Providers are treated as black boxes that receive an image
// and return a structured verdict; prompt design and model behavior are their
// concern, not ours.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"wildid/internal/models"
)

// ErrNotConfigured is returned by the factory when the selected provider is
// missing its API key.
var ErrNotConfigured = errors.New("classify: provider not configured")

// Classifier identifies the animal in an image. Implementations must honor
// the context deadline.
type Classifier interface {
	Classify(ctx context.Context, image []byte, mimeType string) (*models.Verdict, error)
}

// prompt is the shared instruction sent to every provider. The JSON contract
// matches models.Verdict.
const prompt = `Please identify the animal species in this image.
Provide the scientific name, common name, and a brief description of key identifying features.
If this is not an animal or if you cannot clearly identify the species, please state that clearly.
Format your response as JSON with the following structure:
{
    "is_animal": true/false,
    "species": "scientific name",
    "common_name": "common name",
    "confidence": "high/medium/low",
    "description": "key identifying features",
    "notes": "any additional notes"
}`

// New builds the configured provider.
func New(cfg models.ClassifierConfig) (Classifier, error) {
	switch cfg.Provider {
	case models.ClassifierOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("%w: openai api key missing", ErrNotConfigured)
		}
		return NewOpenAIClassifier(cfg), nil
	case models.ClassifierGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("%w: gemini api key missing", ErrNotConfigured)
		}
		return NewGeminiClassifier(cfg), nil
	default:
		return nil, fmt.Errorf("unknown classifier provider: %s", cfg.Provider)
	}
}

// parseVerdict decodes the model's reply. Models sometimes wrap JSON in
// markdown fences or ignore the format entirely; a non-JSON reply becomes a
// low-confidence verdict carrying the raw text.
func parseVerdict(content string) *models.Verdict {
	trimmed := stripFences(content)

	var v models.Verdict
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		return &v
	}

	return &models.Verdict{
		IsAnimal:    true,
		Species:     "Unknown",
		CommonName:  "Unknown",
		Confidence:  "low",
		Description: strings.TrimSpace(content),
		Notes:       "Response was not in expected JSON format",
	}
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
