package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/agroplatform/internal/audit"
	"github.com/nikhilbhutani/agroplatform/internal/auth"
	"github.com/nikhilbhutani/agroplatform/internal/rbac"
	"github.com/nikhilbhutani/agroplatform/internal/roles"
)

type RoleManager interface {
	Create(ctx context.Context, actor rbac.Role, tenantID uuid.UUID, req roles.CreateRequest) (*roles.Role, error)
	Update(ctx context.Context, actor rbac.Role, tenantID, roleID uuid.UUID, req roles.UpdateRequest) (*roles.Role, error)
	Delete(ctx context.Context, actor rbac.Role, tenantID, roleID uuid.UUID) error
	Get(ctx context.Context, tenantID, roleID uuid.UUID) (*roles.Role, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]roles.Role, error)
}

type RoleHandler struct {
	svc   RoleManager
	audit audit.Recorder
}

func NewRoleHandler(svc RoleManager, rec audit.Recorder) *RoleHandler {
	if rec == nil {
		rec = audit.Nop{}
	}
	return &RoleHandler{svc: svc, audit: rec}
}

func (h *RoleHandler) record(r *http.Request, c *auth.Claims, tenantID, roleID uuid.UUID, action string, details map[string]interface{}) {
	uid := c.UserID()
	h.audit.Record(r.Context(), audit.Event{
		TenantID:     &tenantID,
		UserID:       &uid,
		Action:       action,
		ResourceType: "custom_role",
		ResourceID:   &roleID,
		Details:      details,
		IPAddress:    clientAddr(r),
	})
}

func (h *RoleHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims, tenantID, err := callerTenant(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req roles.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	role, err := h.svc.Create(r.Context(), claims.BaseRole(), tenantID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.record(r, claims, tenantID, role.ID, audit.ActionRoleCreated, map[string]interface{}{"name": role.Name, "base_role": role.BaseRole})
	writeJSON(w, http.StatusCreated, role)
}

func (h *RoleHandler) List(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, map[string]interface{}{"roles": list, "count": len(list)})
}

func (h *RoleHandler) Get(w http.ResponseWriter, r *http.Request) {
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
	role, err := h.svc.Get(r.Context(), tenantID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (h *RoleHandler) Update(w http.ResponseWriter, r *http.Request) {
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
	var req roles.UpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	role, err := h.svc.Update(r.Context(), claims.BaseRole(), tenantID, id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.record(r, claims, tenantID, id, audit.ActionRoleUpdated, map[string]interface{}{"overrides": len(req.Overrides)})
	writeJSON(w, http.StatusOK, role)
}

func (h *RoleHandler) Delete(w http.ResponseWriter, r *http.Request) {
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
	if err := h.svc.Delete(r.Context(), claims.BaseRole(), tenantID, id); err != nil {
		writeError(w, r, err)
		return
	}
	h.record(r, claims, tenantID, id, audit.ActionRoleDeleted, nil)
	w.WriteHeader(http.StatusNoContent)
}
