package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const ctxAdminKey contextKey = "admin"

// AdminIdentity is the authenticated operator attached to admin requests.
type AdminIdentity struct {
	ID   uuid.UUID
	Role string
}

// TokenValidator verifies a bearer token and returns the admin id and role.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error)
}

// AdminAuth authenticates requests by validating the Bearer JWT. On success
// it sets the admin identity into request context.
func AdminAuth(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}

			id, role, err := tokens.ValidateToken(r.Context(), raw)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ctxAdminKey, &AdminIdentity{ID: id, Role: role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects requests whose authenticated admin lacks the role.
// Admins pass every role check.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			admin := AdminFromCtx(r.Context())
			if admin == nil {
				http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
				return
			}
			if admin.Role != role && admin.Role != "admin" {
				http.Error(w, `{"error":"insufficient role"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminFromCtx returns the authenticated admin or nil.
func AdminFromCtx(ctx context.Context) *AdminIdentity {
	admin, _ := ctx.Value(ctxAdminKey).(*AdminIdentity)
	return admin
}

// WithAdmin returns a context carrying the given admin identity.
func WithAdmin(ctx context.Context, admin *AdminIdentity) context.Context {
	return context.WithValue(ctx, ctxAdminKey, admin)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
