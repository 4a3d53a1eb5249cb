// Package models - API response types and error handling.
// This file defines all outgoing API response structures with consistent formatting.
//
// Response Design Principles:
// - Consistent JSON structure across all endpoints
// - Optional fields use omitempty to reduce response size
// - Machine-readable error codes for programmatic handling
// - RFC3339 timestamps for international compatibility
package models

import "time"

// SecurityStatus describes the caller's current standing with the rate gate.
// CaptchaRequired mirrors RateLimited; clients key their UI off either field.
type SecurityStatus struct {
	IsTrusted          bool   `json:"is_trusted"`
	RequestCount       int    `json:"request_count"`
	RateLimited        bool   `json:"rate_limited"`
	CaptchaRequired    bool   `json:"captcha_required"`
	CaptchaEnabled     bool   `json:"captcha_enabled"`
	RateLimitThreshold int    `json:"rate_limit_threshold"`
	WindowExpiresIn    int    `json:"window_expires_in"` // seconds
	CSRFToken          string `json:"csrf_token,omitempty"`
}

// CaptchaResponse is returned when a new challenge is issued. The answer, or
// anything derived from it, must never appear here.
type CaptchaResponse struct {
	CaptchaID string `json:"captcha_id"`
	Question  string `json:"question"`
	ExpiresIn int    `json:"expires_in"` // seconds
}

// VerifyResponse is the result of a captcha verification attempt. On failure
// Error holds a human-readable message and Code one of the security outcome
// codes (invalid_captcha, expired_captcha, incorrect_answer, too_many_attempts).
type VerifyResponse struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
	Status  *SecurityStatus `json:"status,omitempty"`
}

// Verdict is the structured output of the external vision classifier. The
// shape follows the JSON contract given to the model; when the model fails to
// produce valid JSON the caller falls back to a low-confidence verdict with
// the raw text in Description.
type Verdict struct {
	IsAnimal    bool   `json:"is_animal"`
	Species     string `json:"species"`
	CommonName  string `json:"common_name"`
	Confidence  string `json:"confidence"` // high, medium or low
	Description string `json:"description"`
	Notes       string `json:"notes,omitempty"`
}

// Identification is a stored identification result plus its reference-data
// enrichment. Rows live in the history store keyed by identity.
type Identification struct {
	ID                 string     `json:"id"`
	Identity           string     `json:"identity"`
	CreatedAt          time.Time  `json:"created_at"`
	Species            string     `json:"species"`
	CommonName         string     `json:"common_name"`
	Confidence         string     `json:"confidence"`
	Description        string     `json:"description"`
	Notes              string     `json:"notes,omitempty"`
	ConservationStatus string     `json:"conservation_status,omitempty"`
	Habitat            string     `json:"habitat,omitempty"`
	FunFact            string     `json:"fun_fact,omitempty"`
	Feedback           string     `json:"feedback,omitempty"` // correct, incorrect or empty
	FeedbackAt         *time.Time `json:"feedback_at,omitempty"`
}

// IdentifyResponse is returned by the protected identification endpoint.
type IdentifyResponse struct {
	Result *Identification `json:"result"`
	Status *SecurityStatus `json:"status,omitempty"`
}

// ErrorResponse is the uniform error envelope for all endpoints.
type ErrorResponse struct {
	Error     string    `json:"error"`          // Error type (always "error")
	Message   string    `json:"message"`        // Human-readable error description
	Code      string    `json:"code,omitempty"` // Machine-readable error code
	Timestamp time.Time `json:"timestamp"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
)

// Standard HTTP Error Codes
const (
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400: Invalid request format
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"     // 400: Invalid request data
	ErrorCodeForbidden          = "FORBIDDEN"           // 403: CSRF or permission failure
	ErrorCodeNotFound           = "NOT_FOUND"           // 404: Resource doesn't exist
	ErrorCodeRateLimited        = "RATE_LIMIT_EXCEEDED" // 429: Issuance throttle hit
	ErrorCodeCaptchaRequired    = "captcha_required"    // 429: Gate demands verification
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: Dependency down
)

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}
