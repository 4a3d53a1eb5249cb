package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"wildid/internal/identify"
	"wildid/internal/kvstore"
	"wildid/internal/models"
	"wildid/internal/security"
	"wildid/internal/version"

	"github.com/gorilla/mux"
)

// defaultHistoryLimit caps history listings when the client does not ask for
// a specific page size.
const defaultHistoryLimit = 20

// Handlers contains HTTP handlers for the identification API.
type Handlers struct {
	engine          security.Engine
	identifyService identify.ServiceInterface
	store           kvstore.Store
	config          *models.Config
}

// NewHandlers creates a new handlers instance.
func NewHandlers(engine security.Engine, identifyService identify.ServiceInterface, store kvstore.Store, config *models.Config) *Handlers {
	return &Handlers{
		engine:          engine,
		identifyService: identifyService,
		store:           store,
		config:          config,
	}
}

// SecurityStatus reports the caller's standing with the rate gate.
// GET /api/security/status
func (h *Handlers) SecurityStatus(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if sess == nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "No session")
		return
	}

	status, err := h.engine.Status(r.Context(), sess.Identity)
	if err != nil {
		slog.Error("Security status lookup failed", "error", err)
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "Security state unavailable")
		return
	}

	// The status endpoint doubles as the CSRF token source for the SPA.
	status.CSRFToken = sess.CSRFToken

	h.writeJSONResponse(w, http.StatusOK, status)
}

// IssueCaptcha issues a fresh arithmetic challenge for the caller.
// POST /api/security/captcha
func (h *Handlers) IssueCaptcha(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if sess == nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "No session")
		return
	}

	if !h.config.Security.CaptchaEnabled {
		h.writeErrorResponse(w, http.StatusNotFound, models.ErrorCodeNotFound, "Captcha verification is disabled")
		return
	}

	challenge, err := h.engine.IssueChallenge(r.Context(), sess.Identity)
	if err != nil {
		slog.Error("Challenge issuance failed", "error", err)
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "Could not issue captcha")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, challenge)
}

// verifyRequest is the request body for captcha verification.
type verifyRequest struct {
	CaptchaID string `json:"captcha_id"`
	Answer    string `json:"answer"`
}

// VerifyCaptcha checks a submitted captcha answer and promotes the caller to
// trusted on success.
// POST /api/security/verify
func (h *Handlers) VerifyCaptcha(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if sess == nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "No session")
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}
	if req.CaptchaID == "" || req.Answer == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "captcha_id and answer are required")
		return
	}

	outcome, err := h.engine.VerifyChallenge(r.Context(), sess.Identity, req.CaptchaID, req.Answer)
	if err != nil {
		slog.Error("Captcha verification failed", "error", err)
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "Could not verify captcha")
		return
	}

	resp := &models.VerifyResponse{Success: outcome == security.OutcomeSuccess}
	if status, statusErr := h.engine.Status(r.Context(), sess.Identity); statusErr == nil {
		resp.Status = status
	}

	if resp.Success {
		h.writeJSONResponse(w, http.StatusOK, resp)
		return
	}

	resp.Error = outcome.Message()
	resp.Code = outcome.Code()

	statusCode := http.StatusBadRequest
	if outcome == security.OutcomeTooManyAttempts {
		statusCode = http.StatusTooManyRequests
	}
	h.writeJSONResponse(w, statusCode, resp)
}

// Identify accepts a multipart photo upload, passes the rate gate and runs
// the identification pipeline.
// POST /api/identify
func (h *Handlers) Identify(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if sess == nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "No session")
		return
	}

	// Gate before touching the body. A store failure denies the request.
	allowed, reason, err := h.engine.CanProceed(r.Context(), sess.Identity, security.ActionIdentify)
	if err != nil {
		slog.Error("Gate decision failed", "error", err)
		h.writeErrorResponse(w, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "Security state unavailable")
		return
	}
	if !allowed {
		h.writeErrorResponse(w, http.StatusTooManyRequests, reason, "Please complete the captcha before identifying more photos")
		return
	}

	upload, err := h.readUpload(r)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, err.Error())
		return
	}

	result, err := h.identifyService.Identify(r.Context(), sess.Identity, *upload)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	// Only completed identifications count against the window; rejected
	// uploads and classifier outages leave the caller's standing alone.
	if recordErr := h.engine.RecordRequest(r.Context(), sess.Identity, security.ActionIdentify); recordErr != nil {
		slog.Warn("Failed to record admitted request", "error", recordErr)
	}

	resp := &models.IdentifyResponse{Result: result}
	if status, statusErr := h.engine.Status(r.Context(), sess.Identity); statusErr == nil {
		resp.Status = status
	}

	h.writeJSONResponse(w, http.StatusOK, resp)
}

// History lists the caller's recent identifications, newest first.
// GET /api/history
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if sess == nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "No session")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	results, err := h.identifyService.History(r.Context(), sess.Identity, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]any{"results": results})
}

// feedbackRequest is the request body for identification feedback.
type feedbackRequest struct {
	Feedback string `json:"feedback"`
}

// Feedback records visitor feedback on one of the caller's own
// identifications.
// POST /api/identifications/{id}/feedback
func (h *Handlers) Feedback(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if sess == nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "No session")
		return
	}

	vars := mux.Vars(r)
	id := vars["id"]

	var req feedbackRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}

	if err := h.identifyService.Feedback(r.Context(), sess.Identity, id, req.Feedback); err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]bool{"success": true})
}

// HealthCheck reports service liveness plus the state of its dependencies.
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = version.GetInfo().Version

	if _, err := h.store.Get(r.Context(), "health:probe"); err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		response.Status = models.StatusDegraded
		response.AddComponent("kvstore", models.StatusUnhealthy, err.Error())
	} else {
		response.AddComponent("kvstore", models.StatusHealthy, "")
	}
	response.AddComponent("api", models.StatusHealthy, "")

	statusCode := http.StatusOK
	if response.Status != models.StatusHealthy {
		statusCode = http.StatusServiceUnavailable
	}
	h.writeJSONResponse(w, statusCode, response)
}

// readUpload extracts the photo from a multipart form, bounded by the
// configured upload size.
func (h *Handlers) readUpload(r *http.Request) (*identify.Upload, error) {
	maxBytes := h.config.Server.MaxUploadBytes
	r.Body = http.MaxBytesReader(nil, r.Body, maxBytes+4096)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return nil, fmt.Errorf("could not parse upload: file may exceed the %d byte limit", maxBytes)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("multipart field %q is required", "file")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("could not read upload: %w", err)
	}

	return &identify.Upload{Filename: header.Filename, Data: data}, nil
}

// writeServiceError maps identification service errors to HTTP responses,
// preserving the service's status code when it provides one.
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error) {
	var svcErr *identify.ServiceError
	if errors.As(err, &svcErr) {
		h.writeErrorResponse(w, svcErr.StatusCode, svcErr.Code, svcErr.Message)
		return
	}
	slog.Error("Unhandled service error", "error", err)
	h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing more we can send.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	errorResp := models.NewErrorResponse(message, errorCode)
	h.writeJSONResponse(w, statusCode, errorResp)
}
