package classify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wildid/internal/models"
)

func testClassifierConfig() models.ClassifierConfig {
	return models.ClassifierConfig{
		Provider:     models.ClassifierOpenAI,
		OpenAIAPIKey: "test-key",
		OpenAIModel:  "gpt-4o",
		GeminiAPIKey: "test-key",
		GeminiModel:  "gemini-1.5-flash",
		Timeout:      5 * time.Second,
	}
}

func TestNew_ProviderSelection(t *testing.T) {
	cfg := testClassifierConfig()

	c, err := New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClassifier{}, c)

	cfg.Provider = models.ClassifierGemini
	c, err = New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &GeminiClassifier{}, c)

	cfg.Provider = "watson"
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestNew_MissingKey(t *testing.T) {
	cfg := testClassifierConfig()
	cfg.OpenAIAPIKey = ""

	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantSpecies string
		wantConf    string
	}{
		{
			name:        "clean json",
			content:     `{"is_animal": true, "species": "Vulpes vulpes", "common_name": "Red Fox", "confidence": "high", "description": "Rusty coat, white-tipped tail"}`,
			wantSpecies: "Vulpes vulpes",
			wantConf:    "high",
		},
		{
			name:        "fenced json",
			content:     "```json\n{\"is_animal\": true, \"species\": \"Vulpes vulpes\", \"common_name\": \"Red Fox\", \"confidence\": \"medium\", \"description\": \"d\"}\n```",
			wantSpecies: "Vulpes vulpes",
			wantConf:    "medium",
		},
		{
			name:        "prose fallback",
			content:     "This appears to be a red fox, though the image is blurry.",
			wantSpecies: "Unknown",
			wantConf:    "low",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := parseVerdict(tt.content)
			assert.Equal(t, tt.wantSpecies, v.Species)
			assert.Equal(t, tt.wantConf, v.Confidence)
			if tt.wantSpecies == "Unknown" {
				assert.Equal(t, tt.content, v.Description)
				assert.NotEmpty(t, v.Notes)
			}
		})
	}
}

func TestOpenAIClassifier_Classify(t *testing.T) {
	var captured openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		verdict := `{"is_animal": true, "species": "Ardea herodias", "common_name": "Great Blue Heron", "confidence": "high", "description": "Tall wading bird"}`
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": verdict}},
			},
		})
	}))
	defer srv.Close()

	c := NewOpenAIClassifier(testClassifierConfig())
	c.baseURL = srv.URL

	v, err := c.Classify(context.Background(), []byte("fake-image"), "image/jpeg")
	require.NoError(t, err)
	assert.True(t, v.IsAnimal)
	assert.Equal(t, "Ardea herodias", v.Species)
	assert.Equal(t, "high", v.Confidence)

	require.Len(t, captured.Messages, 1)
	require.Len(t, captured.Messages[0].Content, 2)
	assert.Equal(t, "gpt-4o", captured.Model)
	assert.Contains(t, captured.Messages[0].Content[1].ImageURL.URL, "data:image/jpeg;base64,")
}

func TestOpenAIClassifier_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limit"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOpenAIClassifier(testClassifierConfig())
	c.baseURL = srv.URL

	_, err := c.Classify(context.Background(), []byte("fake-image"), "image/jpeg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestGeminiClassifier_Classify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		require.Len(t, req.Contents[0].Parts, 2)
		assert.Equal(t, "image/png", req.Contents[0].Parts[1].InlineData.MimeType)

		verdict := `{"is_animal": true, "species": "Procyon lotor", "common_name": "Raccoon", "confidence": "medium", "description": "Masked face"}`
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": verdict}}}},
			},
		})
	}))
	defer srv.Close()

	c := NewGeminiClassifier(testClassifierConfig())
	c.baseURL = srv.URL

	v, err := c.Classify(context.Background(), []byte("fake-image"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "Procyon lotor", v.Species)
	assert.Equal(t, "Raccoon", v.CommonName)
}

func TestGeminiClassifier_EmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"candidates": []any{}})
	}))
	defer srv.Close()

	c := NewGeminiClassifier(testClassifierConfig())
	c.baseURL = srv.URL

	_, err := c.Classify(context.Background(), []byte("fake-image"), "image/png")
	assert.Error(t, err)
}
