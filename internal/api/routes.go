package api

import (
	"encoding/json"
	"net/http"

	"wildid/internal/models"
	"wildid/internal/ratelimit"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/metrics"
			}),
		))
	}
}

// SetupRoutes configures the HTTP routes for the API. issueLimiter throttles
// captcha issuance per client IP; pass nil to disable the throttle.
func SetupRoutes(handlers *Handlers, config *models.Config, issueLimiter ratelimit.Limiter, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	for _, opt := range opts {
		opt(router)
	}

	api := router.PathPrefix("/api").Subrouter()
	api.Use(sessionMiddleware(handlers.store, config.Security.SessionTTL))
	api.Use(csrfMiddleware)

	api.HandleFunc("/security/status", handlers.SecurityStatus).Methods("GET")

	captchaHandler := http.Handler(http.HandlerFunc(handlers.IssueCaptcha))
	if issueLimiter != nil {
		captchaHandler = ratelimit.Middleware(issueLimiter)(captchaHandler)
	}
	api.Handle("/security/captcha", captchaHandler).Methods("POST")
	api.HandleFunc("/security/verify", handlers.VerifyCaptcha).Methods("POST")

	api.HandleFunc("/identify", handlers.Identify).Methods("POST")
	api.HandleFunc("/history", handlers.History).Methods("GET")
	api.HandleFunc("/identifications/{id}/feedback", handlers.Feedback).Methods("POST")

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")

	api.PathPrefix("").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}).Methods("OPTIONS")

	if config.Server.CORS.Enabled {
		router.Use(corsMiddleware(config.Server.CORS))
	}

	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		errorResp := models.NewErrorResponse("Method not allowed", models.ErrorCodeInvalidRequest)
		json.NewEncoder(w).Encode(errorResp)
	})

	return router
}
