// Package middleware provides the HTTP middleware the control plane router
// is assembled from: request IDs, request logging, CORS, JWT authentication
// and per-user rate limiting.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/schemaflow/platform/internal/app/services/tenants"
	"github.com/schemaflow/platform/pkg/logger"
)

type ctxKey int

const (
	claimsKey ctxKey = iota
	requestIDKey
)

// Verifier validates a login token and returns its claims. *tenants.Service
// satisfies it.
type Verifier interface {
	VerifyToken(token string) (*tenants.Claims, error)
}

// ClaimsFrom returns the authenticated claims attached to ctx, or nil when
// the request was not authenticated.
func ClaimsFrom(ctx context.Context) *tenants.Claims {
	claims, _ := ctx.Value(claimsKey).(*tenants.Claims)
	return claims
}

// UserID returns the authenticated user ID, or "" when unauthenticated.
func UserID(ctx context.Context) string {
	if claims := ClaimsFrom(ctx); claims != nil {
		return claims.UserID
	}
	return ""
}

// AuthMiddleware authenticates requests with bearer tokens. Websocket
// clients that cannot set headers may pass the token as an access_token
// query parameter instead.
type AuthMiddleware struct {
	verifier  Verifier
	log       *logger.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates an authentication middleware. Requests to
// skipPaths pass through without a token.
func NewAuthMiddleware(verifier Verifier, log *logger.Logger, skipPaths []string) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("middleware")
	}
	skip := make(map[string]bool, len(skipPaths))
	for _, path := range skipPaths {
		skip[path] = true
	}
	return &AuthMiddleware{verifier: verifier, log: log, skipPaths: skip}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token := ""
		if header := r.Header.Get("Authorization"); header != "" {
			if !strings.HasPrefix(header, "Bearer ") {
				WriteError(w, http.StatusUnauthorized, "unauthorized", "authorization header must be a bearer token")
				return
			}
			token = strings.TrimPrefix(header, "Bearer ")
		} else {
			token = r.URL.Query().Get("access_token")
		}
		if token == "" {
			WriteError(w, http.StatusUnauthorized, "unauthorized", "missing credentials")
			return
		}

		claims, err := m.verifier.VerifyToken(token)
		if err != nil {
			m.log.WithError(err).Debugf("token rejected for %s %s", r.Method, r.URL.Path)
			WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WriteError writes the shared error envelope. Handlers and middleware use
// the same shape so clients parse one format.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]map[string]string{
		"error": {"code": code, "message": message},
	})
}
