package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/agroplatform/internal/apperr"
	"github.com/nikhilbhutani/agroplatform/internal/auth"
	"github.com/nikhilbhutani/agroplatform/internal/rbac"
)

type PermissionResolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) (rbac.Set, error)
}

type PermissionHandler struct {
	resolver PermissionResolver
}

func NewPermissionHandler(resolver PermissionResolver) *PermissionHandler {
	return &PermissionHandler{resolver: resolver}
}

// Mine lists the caller's effective permissions, for UI gating.
func (h *PermissionHandler) Mine(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, apperr.Authentication("missing access token"))
		return
	}

	var perms []rbac.Permission
	if claims.BaseRole().IsTop() {
		perms = rbac.AllPermissions()
	} else {
		set, err := h.resolver.Resolve(r.Context(), claims.UserID())
		if errors.Is(err, rbac.ErrUserNotFound) {
			writeError(w, r, apperr.Authentication("account no longer exists"))
			return
		}
		if err != nil {
			writeError(w, r, apperr.Unexpected(err))
			return
		}
		perms = set.Slice()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":     claims.UserID(),
		"role":        claims.Role,
		"permissions": perms,
	})
}
