package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubValidator struct {
	id   uuid.UUID
	role string
	err  error
}

func (s *stubValidator) ValidateToken(_ context.Context, _ string) (uuid.UUID, string, error) {
	return s.id, s.role, s.err
}

// okHandler writes 200 and the admin role (for assertions).
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	admin := AdminFromCtx(r.Context())
	if admin != nil {
		w.Write([]byte(admin.Role))
	}
	w.WriteHeader(http.StatusOK)
})

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestAdminAuth_ValidToken(t *testing.T) {
	validator := &stubValidator{id: uuid.New(), role: "support"}
	mw := AdminAuth(validator)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer valid-test-token")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := rec.Body.String(); body != "support" {
		t.Errorf("expected role %q in body, got %q", "support", body)
	}
}

func TestAdminAuth_MissingHeader(t *testing.T) {
	validator := &stubValidator{}
	mw := AdminAuth(validator)(okHandler)

	cases := []struct {
		name   string
		header string
	}{
		{"no header at all", ""},
		{"empty bearer", "Bearer "},
		{"wrong scheme", "Basic abc123"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			mw.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestAdminAuth_InvalidToken(t *testing.T) {
	validator := &stubValidator{err: errors.New("token expired")}
	mw := AdminAuth(validator)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer expired-token")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRequireRole(t *testing.T) {
	cases := []struct {
		name     string
		admin    *AdminIdentity
		required string
		want     int
	}{
		{"exact role", &AdminIdentity{ID: uuid.New(), Role: "support"}, "support", http.StatusOK},
		{"admin passes any check", &AdminIdentity{ID: uuid.New(), Role: "admin"}, "support", http.StatusOK},
		{"insufficient role", &AdminIdentity{ID: uuid.New(), Role: "support"}, "admin", http.StatusForbidden},
		{"not authenticated", nil, "support", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mw := RequireRole(tc.required)(okHandler)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.admin != nil {
				req = req.WithContext(WithAdmin(req.Context(), tc.admin))
			}
			rec := httptest.NewRecorder()
			mw.ServeHTTP(rec, req)

			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}
