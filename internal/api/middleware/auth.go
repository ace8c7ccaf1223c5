package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/notifyhub/villa-dispatch/internal/auth"
)

const claimsKey contextKey = "auth_claims"

// TokenValidator is satisfied by *auth.Service.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// Authenticate rejects requests without a valid bearer token and stores the
// claims on the request context.
func Authenticate(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return authenticate(v, logger, false)
}

// AuthenticateStream is Authenticate for event streams only. Browsers cannot
// set headers on an EventSource, so an access_token query parameter is
// accepted when no Authorization header is present.
func AuthenticateStream(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return authenticate(v, logger, true)
}

func authenticate(v TokenValidator, logger *zap.Logger, allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" && allowQuery {
				token = r.URL.Query().Get("access_token")
			}
			if token == "" {
				writeError(w, http.StatusUnauthorized, "access token required")
				return
			}

			claims, err := v.ValidateToken(token)
			if err != nil {
				logger.Warn("token validation failed",
					zap.String("correlation_id", GetCorrelationID(r.Context())),
					zap.Error(err))
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole lets through callers holding one of roles.
func RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetClaims(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "access token required")
				return
			}
			if !slices.Contains(roles, claims.Role) {
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireStaffAccess guards /staff/{staffID} routes: staff tokens only reach
// their own subject, service and admin tokens reach everyone.
func RequireStaffAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetClaims(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "access token required")
			return
		}
		if claims.Role == auth.RoleStaff && claims.Subject != chi.URLParam(r, "staffID") {
			writeError(w, http.StatusForbidden, "insufficient permissions")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetClaims returns the claims stored by Authenticate.
func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*auth.Claims)
	return c, ok
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
