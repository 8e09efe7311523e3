package handlers

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mrmushfiq/llm0-gateway/internal/gateway/security"
	"github.com/mrmushfiq/llm0-gateway/internal/shared/gateerr"
	"github.com/mrmushfiq/llm0-gateway/internal/shared/models"
)

type contextKey string

const userContextKey contextKey = "user"

// UserFromContext returns the authenticated user set by AuthMiddleware.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userContextKey).(*models.User)
	return user, ok
}

// KeyStore is the identity-store contract the middleware needs.
type KeyStore interface {
	GetAPIKey(ctx context.Context, rawKey string) (*models.APIKey, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	UpdateAPIKeyLastUsed(ctx context.Context, apiKeyID string) error
}

type Middleware struct {
	store KeyStore
	gate  *security.Gate
}

func NewMiddleware(store KeyStore, gate *security.Gate) *Middleware {
	return &Middleware{
		store: store,
		gate:  gate,
	}
}

// SecurityMiddleware evaluates the client IP against the security gate
// before anything else runs. Denials get a fixed access-denied response,
// independent of authentication outcome; the reason is only logged.
func (m *Middleware) SecurityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		decision := m.gate.Evaluate(ip)
		if !decision.Allowed {
			logrus.WithFields(logrus.Fields{
				"ip":     ip,
				"path":   r.URL.Path,
				"reason": decision.Reason,
			}).Warn("security gate denied request")
			writeError(w, gateerr.SecurityDenied())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AuthMiddleware validates API keys and loads the owning user. Failed
// authentication attempts feed the security gate's failed-login tracker.
func (m *Middleware) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Extract API key from Authorization header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.authFailed(w, r, "missing authorization header")
			return
		}

		// Parse Bearer token
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.authFailed(w, r, "invalid authorization header format")
			return
		}

		apiKey, err := m.store.GetAPIKey(r.Context(), parts[1])
		if err != nil {
			m.authFailed(w, r, "invalid API key")
			return
		}

		user, err := m.store.GetUser(r.Context(), apiKey.UserID)
		if err != nil || !user.IsActive {
			m.authFailed(w, r, "invalid API key")
			return
		}

		go m.store.UpdateAPIKeyLastUsed(context.Background(), apiKey.ID)

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) authFailed(w http.ResponseWriter, r *http.Request, message string) {
	m.gate.RecordFailedLogin(clientIP(r))
	writeError(w, gateerr.Unauthorized(message))
}

// CORSMiddleware handles CORS
func (m *Middleware) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP resolves the originating client address, preferring the first
// X-Forwarded-For entry when present.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx >= 0 {
			xff = xff[:idx]
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
