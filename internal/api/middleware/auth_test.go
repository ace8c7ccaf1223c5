package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/notifyhub/villa-dispatch/internal/api/middleware"
	"github.com/notifyhub/villa-dispatch/internal/auth"
)

func protected(tokens *auth.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Authenticate(tokens, zap.NewNop()))
	r.With(middleware.RequireRole(auth.RoleAdmin)).Get("/admin", func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.GetClaims(r.Context())
		_, _ = w.Write([]byte(claims.Subject))
	})
	r.With(middleware.RequireStaffAccess).Get("/staff/{staffID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func streamed(tokens *auth.Service) http.Handler {
	r := chi.NewRouter()
	r.With(middleware.AuthenticateStream(tokens, zap.NewNop()), middleware.RequireStaffAccess).
		Get("/staff/{staffID}/events", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	return r
}

func TestAuthenticate(t *testing.T) {
	tokens := auth.NewService("secret", time.Hour)
	admin, err := tokens.GenerateToken("ops", auth.RoleAdmin, 0)
	require.NoError(t, err)
	staff, err := tokens.GenerateToken("staff-a", auth.RoleStaff, 0)
	require.NoError(t, err)
	foreign, err := auth.NewService("other", time.Hour).GenerateToken("ops", auth.RoleAdmin, 0)
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing token", "/admin", "", http.StatusUnauthorized},
		{"wrong scheme", "/admin", "Basic " + admin, http.StatusUnauthorized},
		{"foreign signature", "/admin", "Bearer " + foreign, http.StatusUnauthorized},
		{"admin", "/admin", "Bearer " + admin, http.StatusOK},
		{"staff on admin route", "/admin", "Bearer " + staff, http.StatusForbidden},
		{"query token ignored", "/admin?access_token=" + admin, "", http.StatusUnauthorized},
		{"staff own route", "/staff/staff-a", "Bearer " + staff, http.StatusOK},
		{"staff other route", "/staff/staff-b", "Bearer " + staff, http.StatusForbidden},
		{"admin any staff", "/staff/staff-b", "Bearer " + admin, http.StatusOK},
	}

	h := protected(tokens)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestAuthenticateStream_AcceptsQueryToken(t *testing.T) {
	tokens := auth.NewService("secret", time.Hour)
	staff, err := tokens.GenerateToken("staff-a", auth.RoleStaff, 0)
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"query token", "/staff/staff-a/events?access_token=" + staff, "", http.StatusOK},
		{"header token", "/staff/staff-a/events", "Bearer " + staff, http.StatusOK},
		{"query token other staff", "/staff/staff-b/events?access_token=" + staff, "", http.StatusForbidden},
		{"bad query token", "/staff/staff-a/events?access_token=nope", "", http.StatusUnauthorized},
		{"no token", "/staff/staff-a/events", "", http.StatusUnauthorized},
	}

	h := streamed(tokens)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestAuthenticate_ClaimsOnContext(t *testing.T) {
	tokens := auth.NewService("secret", time.Hour)
	admin, err := tokens.GenerateToken("ops", auth.RoleAdmin, 0)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	rec := httptest.NewRecorder()
	protected(tokens).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops", rec.Body.String())
}

func TestRequireRole_WithoutAuthenticate(t *testing.T) {
	h := middleware.RequireRole(auth.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
