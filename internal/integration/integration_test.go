package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"wildid/internal/api"
	"wildid/internal/history"
	"wildid/internal/identify"
	"wildid/internal/kvstore"
	"wildid/internal/models"
	"wildid/internal/reference"
	"wildid/internal/security"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// End-to-end tests covering the whole stack: session cookies, CSRF, the rate
// gate, captcha issuance and verification, the identification pipeline and
// history persistence, wired exactly as the main binary wires them.

// stubClassifier stands in for the external vision API.
type stubClassifier struct {
	verdict models.Verdict
}

func (s *stubClassifier) Classify(_ context.Context, _ []byte, _ string) (*models.Verdict, error) {
	v := s.verdict
	return &v, nil
}

type testEnv struct {
	t      *testing.T
	server *httptest.Server
	client *http.Client
	csrf   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := kvstore.NewMemoryStore(time.Minute)
	t.Cleanup(func() { _ = store.Close() })

	historyStore, err := history.NewSQLiteStorage(models.DatabaseConfig{
		DSN: filepath.Join(t.TempDir(), "history.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = historyStore.Close() })

	refs, err := reference.New()
	require.NoError(t, err)

	cfg := models.NewDefaultConfig()
	classifier := &stubClassifier{verdict: models.Verdict{
		IsAnimal:    true,
		Species:     "Vulpes vulpes",
		CommonName:  "Red Fox",
		Confidence:  "high",
		Description: "A red fox standing in a meadow.",
	}}
	identifyService := identify.NewService(classifier, historyStore, refs, cfg.Server.MaxUploadBytes)

	engine := security.NewCoordinator(store, cfg.Security)
	handlers := api.NewHandlers(engine, identifyService, store, cfg)
	router := api.SetupRoutes(handlers, cfg, nil)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &testEnv{
		t:      t,
		server: server,
		client: &http.Client{Jar: jar},
	}
}

func (e *testEnv) do(method, path, contentType string, body io.Reader) *http.Response {
	e.t.Helper()

	req, err := http.NewRequest(method, e.server.URL+path, body)
	require.NoError(e.t, err)
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if e.csrf != "" {
		req.Header.Set("X-CSRF-Token", e.csrf)
	}

	resp, err := e.client.Do(req)
	require.NoError(e.t, err)
	return resp
}

func (e *testEnv) decode(resp *http.Response, into any) {
	e.t.Helper()
	defer resp.Body.Close()
	require.NoError(e.t, json.NewDecoder(resp.Body).Decode(into))
}

func (e *testEnv) fetchStatus() *models.SecurityStatus {
	e.t.Helper()

	resp := e.do("GET", "/api/security/status", "", nil)
	require.Equal(e.t, http.StatusOK, resp.StatusCode)

	var status models.SecurityStatus
	e.decode(resp, &status)
	require.NotEmpty(e.t, status.CSRFToken)
	e.csrf = status.CSRFToken
	return &status
}

func (e *testEnv) identify(filename string) *http.Response {
	e.t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(e.t, err)
	_, err = part.Write([]byte("\x89PNG\r\n\x1a\nnot-a-real-frame-but-sniffs-as-png"))
	require.NoError(e.t, err)
	require.NoError(e.t, w.Close())

	return e.do("POST", "/api/identify", w.FormDataContentType(), &buf)
}

func solveQuestion(t *testing.T, question string) string {
	t.Helper()

	fields := strings.Fields(question)
	require.Len(t, fields, 3)
	a, err := strconv.Atoi(fields[0])
	require.NoError(t, err)
	b, err := strconv.Atoi(fields[2])
	require.NoError(t, err)

	switch fields[1] {
	case "+":
		return strconv.Itoa(a + b)
	case "-":
		return strconv.Itoa(a - b)
	case "×":
		return strconv.Itoa(a * b)
	}
	t.Fatalf("unexpected operator in question %q", question)
	return ""
}

func TestIntegration_GateCaptchaAndHistoryFlow(t *testing.T) {
	env := newTestEnv(t)

	status := env.fetchStatus()
	assert.False(t, status.IsTrusted)
	assert.Equal(t, 0, status.RequestCount)

	// Two identifications are admitted and enriched from reference data.
	for i := 0; i < 2; i++ {
		resp := env.identify(fmt.Sprintf("fox-%d.png", i))
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result models.IdentifyResponse
		env.decode(resp, &result)
		assert.Equal(t, "Vulpes vulpes", result.Result.Species)
		assert.Equal(t, "Least Concern", result.Result.ConservationStatus)
		assert.NotEmpty(t, result.Result.ID)
	}

	// The third request trips the gate.
	resp := env.identify("fox-3.png")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	var gateErr models.ErrorResponse
	env.decode(resp, &gateErr)
	assert.Equal(t, models.ErrorCodeCaptchaRequired, gateErr.Code)

	status = env.fetchStatus()
	assert.True(t, status.RateLimited)
	assert.True(t, status.CaptchaRequired)

	// Solve a captcha to earn trust.
	resp = env.do("POST", "/api/security/captcha", "application/json", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var challenge models.CaptchaResponse
	env.decode(resp, &challenge)

	verifyBody := fmt.Sprintf(`{"captcha_id":%q,"answer":%q}`,
		challenge.CaptchaID, solveQuestion(t, challenge.Question))
	resp = env.do("POST", "/api/security/verify", "application/json", strings.NewReader(verifyBody))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var verify models.VerifyResponse
	env.decode(resp, &verify)
	require.True(t, verify.Success)
	require.NotNil(t, verify.Status)
	assert.True(t, verify.Status.IsTrusted)

	// Trusted callers are no longer gated.
	resp = env.identify("fox-4.png")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var trusted models.IdentifyResponse
	env.decode(resp, &trusted)

	// History holds all three successful identifications, newest first.
	resp = env.do("GET", "/api/history", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page struct {
		Results []*models.Identification `json:"results"`
	}
	env.decode(resp, &page)
	require.Len(t, page.Results, 3)
	assert.Equal(t, trusted.Result.ID, page.Results[0].ID)

	// Feedback round-trips through the history store.
	resp = env.do("POST", "/api/identifications/"+trusted.Result.ID+"/feedback",
		"application/json", strings.NewReader(`{"feedback":"correct"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = env.do("GET", "/api/history?limit=1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env.decode(resp, &page)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "correct", page.Results[0].Feedback)
}

func TestIntegration_CSRFBlocksCrossSiteWrites(t *testing.T) {
	env := newTestEnv(t)
	env.fetchStatus()

	env.csrf = "stolen-or-missing"
	resp := env.do("POST", "/api/security/captcha", "application/json", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestIntegration_SeparateBrowsersAreSeparateIdentities(t *testing.T) {
	env := newTestEnv(t)
	env.fetchStatus()

	// Exhaust the first browser's window.
	for i := 0; i < 2; i++ {
		resp := env.identify("fox.png")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}
	resp := env.identify("fox.png")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	resp.Body.Close()

	// A different browser (fresh cookie jar, different headers) is not
	// affected by the first one's standing.
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	other := &testEnv{t: t, server: env.server, client: &http.Client{Jar: jar}}

	req, err := http.NewRequest("GET", env.server.URL+"/api/security/status", nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh) Safari/605.1.15")
	statusResp, err := other.client.Do(req)
	require.NoError(t, err)
	var status models.SecurityStatus
	other.decode(statusResp, &status)
	other.csrf = status.CSRFToken

	assert.Equal(t, 0, status.RequestCount)
	assert.False(t, status.RateLimited)
}

func TestIntegration_HealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do("GET", "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health models.HealthCheckResponse
	env.decode(resp, &health)
	assert.Equal(t, models.StatusHealthy, health.Status)
}
