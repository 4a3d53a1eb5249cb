package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"wildid/internal/kvstore"
	"wildid/internal/models"
	"wildid/internal/security"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// sessionCookieName is the cookie carrying the opaque session ID. All session
// state lives server-side in the key-value store.
const sessionCookieName = "wildid_session"

type contextKey string

const sessionContextKey contextKey = "session"

// sessionFromContext returns the session attached by sessionMiddleware, or
// nil when the middleware did not run.
func sessionFromContext(ctx context.Context) *models.Session {
	sess, _ := ctx.Value(sessionContextKey).(*models.Session)
	return sess
}

func sessionKey(id string) string {
	return "session:" + id
}

// sessionMiddleware loads or creates the server-side session for the request.
// The browser identity fingerprint is pinned when the session is created so
// that header churn mid-session cannot split one visitor into many
// identities.
func sessionMiddleware(store kvstore.Store, ttl time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, isNew, err := loadOrCreateSession(r, store, ttl)
			if err != nil {
				slog.Error("Session store unavailable", "error", err)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				errorResp := models.NewErrorResponse("Session state unavailable", models.ErrorCodeServiceUnavailable)
				json.NewEncoder(w).Encode(errorResp)
				return
			}

			if isNew {
				http.SetCookie(w, &http.Cookie{
					Name:     sessionCookieName,
					Value:    sess.ID,
					Path:     "/",
					MaxAge:   int(ttl.Seconds()),
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
					Secure:   r.TLS != nil,
				})
			}

			ctx := context.WithValue(r.Context(), sessionContextKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func loadOrCreateSession(r *http.Request, store kvstore.Store, ttl time.Duration) (sess *models.Session, isNew bool, err error) {
	if cookie, cookieErr := r.Cookie(sessionCookieName); cookieErr == nil && cookie.Value != "" {
		data, getErr := store.Get(r.Context(), sessionKey(cookie.Value))
		switch {
		case getErr == nil:
			sess = &models.Session{}
			if unmarshalErr := json.Unmarshal(data, sess); unmarshalErr == nil {
				return sess, false, nil
			}
			// Corrupt record; fall through and mint a new session.
		case !errors.Is(getErr, kvstore.ErrNotFound):
			return nil, false, getErr
		}
	}

	sess = &models.Session{
		ID:        uuid.NewString(),
		Identity:  security.Fingerprint(r.Header),
		CSRFToken: uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, false, err
	}
	if err := store.Set(r.Context(), sessionKey(sess.ID), data, ttl); err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

// csrfMiddleware rejects state-changing requests whose X-CSRF-Token header
// does not match the session's token. Clients obtain the token from the
// security status endpoint.
func csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		sess := sessionFromContext(r.Context())
		token := r.Header.Get("X-CSRF-Token")
		if sess == nil || token == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(sess.CSRFToken)) != 1 {
			slog.Warn("CSRF token rejected", "method", r.Method, "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			errorResp := models.NewErrorResponse("Invalid or missing CSRF token", models.ErrorCodeForbidden)
			json.NewEncoder(w).Encode(errorResp)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles Cross-Origin Resource Sharing
func corsMiddleware(corsConfig models.CORSConfig) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(corsConfig.AllowedOrigins) > 0 {
				origin := r.Header.Get("Origin")
				if origin != "" && (contains(corsConfig.AllowedOrigins, "*") || contains(corsConfig.AllowedOrigins, origin)) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
				}
			}
			if len(corsConfig.AllowedMethods) > 0 {
				w.Header().Set("Access-Control-Allow-Methods", joinStrings(corsConfig.AllowedMethods, ", "))
			}
			if len(corsConfig.AllowedHeaders) > 0 {
				w.Header().Set("Access-Control-Allow-Headers", joinStrings(corsConfig.AllowedHeaders, ", "))
			}
			if corsConfig.MaxAge > 0 {
				w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", corsConfig.MaxAge))
			}
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware handles panics
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("Panic recovered", "error", err, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				errorResp := models.NewErrorResponse("Internal server error", models.ErrorCodeInternalError)
				json.NewEncoder(w).Encode(errorResp)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

func joinStrings(list []string, sep string) string {
	result := ""
	for i, item := range list {
		if i > 0 {
			result += sep
		}
		result += item
	}
	return result
}
