package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/agroplatform/internal/auth"
	"github.com/nikhilbhutani/agroplatform/internal/models"
	"github.com/nikhilbhutani/agroplatform/internal/users"
)

type UserService interface {
	Invite(ctx context.Context, actor users.Actor, tenantID uuid.UUID, req users.InviteRequest) (*models.User, error)
	Get(ctx context.Context, tenantID, userID uuid.UUID) (*models.User, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]models.User, error)
	ChangeRole(ctx context.Context, actor users.Actor, tenantID, userID uuid.UUID, role string) (*models.User, error)
	SetStatus(ctx context.Context, actor users.Actor, tenantID, userID uuid.UUID, status models.UserStatus) (*models.User, error)
	AssignCustomRole(ctx context.Context, actor users.Actor, tenantID, userID uuid.UUID, customRoleID *uuid.UUID) (*models.User, error)
}

type UserHandler struct {
	svc UserService
}

func NewUserHandler(svc UserService) *UserHandler {
	return &UserHandler{svc: svc}
}

func actorOf(c *auth.Claims) users.Actor {
	return users.Actor{UserID: c.UserID(), Role: c.BaseRole()}
}

func (h *UserHandler) Invite(w http.ResponseWriter, r *http.Request) {
	claims, tenantID, err := callerTenant(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req users.InviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.svc.Invite(r.Context(), actorOf(claims), tenantID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	_, tenantID, err := callerTenant(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.svc.List(r.Context(), tenantID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": list, "count": len(list)})
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	_, tenantID, err := callerTenant(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.svc.Get(r.Context(), tenantID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// update decodes body into T and applies fn to the target user.
func update[T any](w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, actor users.Actor, tenantID, userID uuid.UUID, body T) (*models.User, error)) {
	claims, tenantID, err := callerTenant(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body T
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := fn(r.Context(), actorOf(claims), tenantID, id, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type roleBody struct {
	Role string `json:"role"`
}

type statusBody struct {
	Status models.UserStatus `json:"status"`
}

type customRoleBody struct {
	CustomRoleID *uuid.UUID `json:"custom_role_id"`
}

func (h *UserHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	update(w, r, func(ctx context.Context, a users.Actor, tid, uid uuid.UUID, b roleBody) (*models.User, error) {
		return h.svc.ChangeRole(ctx, a, tid, uid, b.Role)
	})
}

func (h *UserHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	update(w, r, func(ctx context.Context, a users.Actor, tid, uid uuid.UUID, b statusBody) (*models.User, error) {
		return h.svc.SetStatus(ctx, a, tid, uid, b.Status)
	})
}

func (h *UserHandler) AssignCustomRole(w http.ResponseWriter, r *http.Request) {
	update(w, r, func(ctx context.Context, a users.Actor, tid, uid uuid.UUID, b customRoleBody) (*models.User, error) {
		return h.svc.AssignCustomRole(ctx, a, tid, uid, b.CustomRoleID)
	})
}
