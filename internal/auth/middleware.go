package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/agroplatform/internal/apperr"
	"github.com/nikhilbhutani/agroplatform/internal/rbac"
	"github.com/nikhilbhutani/agroplatform/internal/tenant"
)

type Authenticator interface {
	Authenticate(token string) (*Claims, error)
}

type Authorizer interface {
	Authorize(ctx context.Context, userID uuid.UUID, role rbac.Role, perm rbac.Permission) (bool, error)
}

type Middleware struct {
	authn Authenticator
	authz Authorizer
}

func NewMiddleware(authn Authenticator, authz Authorizer) *Middleware {
	return &Middleware{authn: authn, authz: authz}
}

// Authenticate verifies the bearer token and stores its claims and tenant
// in the request context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.authn.Authenticate(extractBearerToken(r))
		if err != nil {
			writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		if id := claims.Tenant(); id != uuid.Nil {
			ctx = tenant.WithID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission lets the request through only if the caller's effective
// permission set holds perm.
func (m *Middleware) RequirePermission(perm rbac.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeError(w, apperr.Authentication("missing access token"))
				return
			}

			ok, err := m.authz.Authorize(r.Context(), claims.UserID(), claims.BaseRole(), perm)
			if errors.Is(err, rbac.ErrUserNotFound) {
				writeError(w, apperr.Authentication("account no longer exists"))
				return
			}
			if err != nil {
				slog.Error("permission check failed", "error", err, "user_id", claims.Subject, "permission", perm)
				writeError(w, apperr.Unexpected(err))
				return
			}
			if !ok {
				writeError(w, apperr.Authorization("insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireTopRole restricts platform administration to the top base role.
func (m *Middleware) RequireTopRole(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil {
			writeError(w, apperr.Authentication("missing access token"))
			return
		}
		if !claims.BaseRole().IsTop() {
			writeError(w, apperr.Authorization("platform administrators only"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ctxKey string

const claimsKey ctxKey = "claims"

func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey).(*Claims)
	return c
}

// WithClaims is used by handler tests to skip token verification.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(err))
	json.NewEncoder(w).Encode(map[string]string{"error": apperr.PublicMessage(err)})
}
