package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"wildid/internal/identify"
	"wildid/internal/kvstore"
	"wildid/internal/models"
	"wildid/internal/ratelimit"
	"wildid/internal/security"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockIdentifyService implements identify.ServiceInterface for handler tests.
type mockIdentifyService struct {
	mock.Mock
}

func (m *mockIdentifyService) Identify(ctx context.Context, identity string, upload identify.Upload) (*models.Identification, error) {
	args := m.Called(ctx, identity, upload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Identification), args.Error(1)
}

func (m *mockIdentifyService) History(ctx context.Context, identity string, limit int) ([]*models.Identification, error) {
	args := m.Called(ctx, identity, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Identification), args.Error(1)
}

func (m *mockIdentifyService) Feedback(ctx context.Context, identity, id, feedback string) error {
	args := m.Called(ctx, identity, id, feedback)
	return args.Error(0)
}

func newTestRouter(t *testing.T, svc identify.ServiceInterface, limiter ratelimit.Limiter) *mux.Router {
	t.Helper()

	store := kvstore.NewMemoryStore(time.Minute)
	t.Cleanup(func() { _ = store.Close() })

	cfg := models.NewDefaultConfig()
	engine := security.NewCoordinator(store, cfg.Security)
	handlers := NewHandlers(engine, svc, store, cfg)
	return SetupRoutes(handlers, cfg, limiter)
}

// testClient drives the router the way a browser would: it carries the
// session cookie and CSRF token across requests.
type testClient struct {
	t      *testing.T
	router *mux.Router
	cookie *http.Cookie
	csrf   string
}

func newTestClient(t *testing.T, router *mux.Router) *testClient {
	return &testClient{t: t, router: router}
}

func (c *testClient) do(method, path, contentType string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	if c.csrf != "" {
		req.Header.Set("X-CSRF-Token", c.csrf)
	}

	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)

	for _, ck := range rec.Result().Cookies() {
		if ck.Name == sessionCookieName {
			c.cookie = ck
		}
	}
	return rec
}

// fetchStatus hits the status endpoint and memorizes the CSRF token.
func (c *testClient) fetchStatus() *models.SecurityStatus {
	c.t.Helper()

	rec := c.do("GET", "/api/security/status", "", nil)
	require.Equal(c.t, http.StatusOK, rec.Code)

	var status models.SecurityStatus
	require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.NotEmpty(c.t, status.CSRFToken)
	c.csrf = status.CSRFToken
	return &status
}

// solveQuestion computes the answer to an issued arithmetic challenge.
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

func pngForm(t *testing.T) (io.Reader, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "fox.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG\r\n\x1a\nfakeimagedata"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func foxIdentification() *models.Identification {
	return &models.Identification{
		ID:         "id-1",
		Species:    "Vulpes vulpes",
		CommonName: "Red Fox",
		Confidence: "high",
	}
}

func TestSecurityStatus_NewVisitor(t *testing.T) {
	client := newTestClient(t, newTestRouter(t, &mockIdentifyService{}, nil))

	status := client.fetchStatus()

	assert.False(t, status.IsTrusted)
	assert.False(t, status.RateLimited)
	assert.True(t, status.CaptchaEnabled)
	assert.Equal(t, 2, status.RateLimitThreshold)
	assert.Equal(t, 0, status.RequestCount)
	require.NotNil(t, client.cookie)
	assert.True(t, client.cookie.HttpOnly)
}

func TestSecurityStatus_SessionPersistsAcrossRequests(t *testing.T) {
	client := newTestClient(t, newTestRouter(t, &mockIdentifyService{}, nil))

	first := client.fetchStatus()
	cookie := client.cookie.Value
	second := client.fetchStatus()

	assert.Equal(t, first.CSRFToken, second.CSRFToken)
	assert.Equal(t, cookie, client.cookie.Value)
}

func TestCSRF_RejectsMissingAndBogusTokens(t *testing.T) {
	client := newTestClient(t, newTestRouter(t, &mockIdentifyService{}, nil))
	client.fetchStatus()

	body, contentType := pngForm(t)
	client.csrf = ""
	rec := client.do("POST", "/api/identify", contentType, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	body, contentType = pngForm(t)
	client.csrf = "not-the-token"
	rec = client.do("POST", "/api/identify", contentType, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var errResp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, models.ErrorCodeForbidden, errResp.Code)
}

func TestIdentify_FullGateAndCaptchaFlow(t *testing.T) {
	svc := &mockIdentifyService{}
	svc.On("Identify", mock.Anything, mock.Anything, mock.Anything).Return(foxIdentification(), nil)

	client := newTestClient(t, newTestRouter(t, svc, nil))
	client.fetchStatus()

	identifyOnce := func() *httptest.ResponseRecorder {
		body, contentType := pngForm(t)
		return client.do("POST", "/api/identify", contentType, body)
	}

	// Two requests pass the gate.
	for i := 0; i < 2; i++ {
		rec := identifyOnce()
		require.Equal(t, http.StatusOK, rec.Code, "request %d should be admitted", i+1)

		var resp models.IdentifyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Vulpes vulpes", resp.Result.Species)
		require.NotNil(t, resp.Status)
	}

	// The third hits the gate.
	rec := identifyOnce()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var gateErr models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &gateErr))
	assert.Equal(t, models.ErrorCodeCaptchaRequired, gateErr.Code)

	// Issue and solve a captcha.
	rec = client.do("POST", "/api/security/captcha", "application/json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var challenge models.CaptchaResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &challenge))
	assert.NotEmpty(t, challenge.CaptchaID)
	assert.Equal(t, 300, challenge.ExpiresIn)

	verifyBody := fmt.Sprintf(`{"captcha_id":%q,"answer":%q}`, challenge.CaptchaID, solveQuestion(t, challenge.Question))
	rec = client.do("POST", "/api/security/verify", "application/json", strings.NewReader(verifyBody))
	require.Equal(t, http.StatusOK, rec.Code)

	var verify models.VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verify))
	assert.True(t, verify.Success)
	require.NotNil(t, verify.Status)
	assert.True(t, verify.Status.IsTrusted)

	// Trusted callers pass the gate again.
	rec = identifyOnce()
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVerifyCaptcha_InvalidBody(t *testing.T) {
	client := newTestClient(t, newTestRouter(t, &mockIdentifyService{}, nil))
	client.fetchStatus()

	rec := client.do("POST", "/api/security/verify", "application/json", strings.NewReader("{not json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = client.do("POST", "/api/security/verify", "application/json", strings.NewReader(`{"captcha_id":"","answer":""}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyCaptcha_UnknownChallenge(t *testing.T) {
	client := newTestClient(t, newTestRouter(t, &mockIdentifyService{}, nil))
	client.fetchStatus()

	rec := client.do("POST", "/api/security/verify", "application/json",
		strings.NewReader(`{"captcha_id":"no-such-id","answer":"7"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var verify models.VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verify))
	assert.False(t, verify.Success)
	assert.Equal(t, "invalid_captcha", verify.Code)
	assert.NotEmpty(t, verify.Error)
}

func TestVerifyCaptcha_TooManyAttemptsIs429(t *testing.T) {
	client := newTestClient(t, newTestRouter(t, &mockIdentifyService{}, nil))
	client.fetchStatus()

	rec := client.do("POST", "/api/security/captcha", "application/json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var challenge models.CaptchaResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &challenge))

	body := fmt.Sprintf(`{"captcha_id":%q,"answer":"999"}`, challenge.CaptchaID)
	for i := 0; i < 2; i++ {
		rec = client.do("POST", "/api/security/verify", "application/json", strings.NewReader(body))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}

	rec = client.do("POST", "/api/security/verify", "application/json", strings.NewReader(body))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var verify models.VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verify))
	assert.Equal(t, "too_many_attempts", verify.Code)
}

func TestIdentify_MissingFile(t *testing.T) {
	client := newTestClient(t, newTestRouter(t, &mockIdentifyService{}, nil))
	client.fetchStatus()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("note", "no file here"))
	require.NoError(t, w.Close())

	rec := client.do("POST", "/api/identify", w.FormDataContentType(), &buf)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIdentify_RejectedUploadsDoNotConsumeWindow(t *testing.T) {
	svc := &mockIdentifyService{}
	svc.On("Identify", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, identify.NewInvalidUploadError("uploaded file is not an image")).Twice()
	svc.On("Identify", mock.Anything, mock.Anything, mock.Anything).
		Return(foxIdentification(), nil)

	client := newTestClient(t, newTestRouter(t, svc, nil))
	client.fetchStatus()

	// Handler-level rejections: no multipart file at all.
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("note", "no file"))
	require.NoError(t, w.Close())
	rec := client.do("POST", "/api/identify", w.FormDataContentType(), &buf)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Service-level rejections: the pipeline refuses the upload.
	for i := 0; i < 2; i++ {
		body, contentType := pngForm(t)
		rec = client.do("POST", "/api/identify", contentType, body)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}

	status := client.fetchStatus()
	assert.Equal(t, 0, status.RequestCount, "rejected uploads must not count")
	assert.False(t, status.RateLimited)

	// A valid upload is still admitted and is the first to count.
	body, contentType := pngForm(t)
	rec = client.do("POST", "/api/identify", contentType, body)
	require.Equal(t, http.StatusOK, rec.Code)

	status = client.fetchStatus()
	assert.Equal(t, 1, status.RequestCount)
}

func TestIdentify_ServiceErrorStatusIsPreserved(t *testing.T) {
	svc := &mockIdentifyService{}
	svc.On("Identify", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, identify.NewClassifierError(fmt.Errorf("upstream timeout")))

	client := newTestClient(t, newTestRouter(t, svc, nil))
	client.fetchStatus()

	body, contentType := pngForm(t)
	rec := client.do("POST", "/api/identify", contentType, body)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var errResp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, models.ErrorCodeServiceUnavailable, errResp.Code)
}

func TestHistory_DefaultAndExplicitLimit(t *testing.T) {
	svc := &mockIdentifyService{}
	svc.On("History", mock.Anything, mock.Anything, defaultHistoryLimit).
		Return([]*models.Identification{foxIdentification()}, nil).Once()
	svc.On("History", mock.Anything, mock.Anything, 5).
		Return([]*models.Identification{}, nil).Once()

	client := newTestClient(t, newTestRouter(t, svc, nil))
	client.fetchStatus()

	rec := client.do("GET", "/api/history", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = client.do("GET", "/api/history?limit=5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = client.do("GET", "/api/history?limit=zero", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.AssertExpectations(t)
}

func TestFeedback_Endpoint(t *testing.T) {
	svc := &mockIdentifyService{}
	// The identity passed through must be the session's 16-char fingerprint.
	svc.On("Feedback", mock.Anything, mock.MatchedBy(func(identity string) bool {
		return len(identity) == 16
	}), "id-1", "correct").Return(nil).Once()
	svc.On("Feedback", mock.Anything, mock.Anything, "missing", "correct").
		Return(identify.NewNotFoundError("identification not found")).Once()

	client := newTestClient(t, newTestRouter(t, svc, nil))
	client.fetchStatus()

	rec := client.do("POST", "/api/identifications/id-1/feedback", "application/json",
		strings.NewReader(`{"feedback":"correct"}`))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = client.do("POST", "/api/identifications/missing/feedback", "application/json",
		strings.NewReader(`{"feedback":"correct"}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	svc.AssertExpectations(t)
}

func TestCaptchaIssuance_Throttled(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(models.IssueLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 1,
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})
	t.Cleanup(limiter.Close)

	client := newTestClient(t, newTestRouter(t, &mockIdentifyService{}, limiter))
	client.fetchStatus()

	rec := client.do("POST", "/api/security/captcha", "application/json", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = client.do("POST", "/api/security/captcha", "application/json", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var errResp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, models.ErrorCodeRateLimited, errResp.Code)
}

func TestCaptcha_DisabledReturns404(t *testing.T) {
	store := kvstore.NewMemoryStore(time.Minute)
	t.Cleanup(func() { _ = store.Close() })

	cfg := models.NewDefaultConfig()
	cfg.Security.CaptchaEnabled = false
	engine := security.NewCoordinator(store, cfg.Security)
	router := SetupRoutes(NewHandlers(engine, &mockIdentifyService{}, store, cfg), cfg, nil)

	client := newTestClient(t, router)
	client.fetchStatus()

	rec := client.do("POST", "/api/security/captcha", "application/json", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	client := newTestClient(t, newTestRouter(t, &mockIdentifyService{}, nil))

	rec := client.do("GET", "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health models.HealthCheckResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, models.StatusHealthy, health.Status)
	assert.Contains(t, health.Components, "kvstore")
}

func TestMethodNotAllowed(t *testing.T) {
	client := newTestClient(t, newTestRouter(t, &mockIdentifyService{}, nil))

	rec := client.do("DELETE", "/api/security/status", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
