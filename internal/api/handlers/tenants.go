package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/agroplatform/internal/apperr"
	"github.com/nikhilbhutani/agroplatform/internal/audit"
	"github.com/nikhilbhutani/agroplatform/internal/auth"
	"github.com/nikhilbhutani/agroplatform/internal/models"
	"github.com/nikhilbhutani/agroplatform/internal/tenant"
)

type TenantService interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	Create(ctx context.Context, req tenant.CreateRequest) (*models.Tenant, error)
	SetStatus(ctx context.Context, id uuid.UUID, status models.TenantStatus) (*models.Tenant, error)
}

// TenantHandler serves platform administration. Routes are mounted behind
// the top-role check.
type TenantHandler struct {
	svc   TenantService
	audit audit.Recorder
}

func NewTenantHandler(svc TenantService, rec audit.Recorder) *TenantHandler {
	if rec == nil {
		rec = audit.Nop{}
	}
	return &TenantHandler{svc: svc, audit: rec}
}

func tenantError(err error) error {
	if errors.Is(err, tenant.ErrNotFound) {
		return apperr.NotFound("tenant not found")
	}
	return apperr.Unexpected(err)
}

func (h *TenantHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req tenant.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, r, apperr.Validation("name is required"))
		return
	}
	if req.MaxUsers < 0 {
		writeError(w, r, apperr.Validation("max_users cannot be negative"))
		return
	}
	t, err := h.svc.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, apperr.Unexpected(err))
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *TenantHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, tenantError(err))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type tenantStatusBody struct {
	Status models.TenantStatus `json:"status"`
}

func (h *TenantHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body tenantStatusBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if !body.Status.Valid() {
		writeError(w, r, apperr.Validation(fmt.Sprintf("unknown tenant status %q", body.Status)))
		return
	}
	t, err := h.svc.SetStatus(r.Context(), id, body.Status)
	if err != nil {
		writeError(w, r, tenantError(err))
		return
	}

	var actor *uuid.UUID
	if c := auth.ClaimsFromContext(r.Context()); c != nil {
		uid := c.UserID()
		actor = &uid
	}
	h.audit.Record(r.Context(), audit.Event{
		TenantID:     &t.ID,
		UserID:       actor,
		Action:       audit.ActionTenantStatus,
		ResourceType: "tenant",
		ResourceID:   &t.ID,
		Details:      map[string]interface{}{"status": string(t.Status)},
		IPAddress:    clientAddr(r),
	})
	writeJSON(w, http.StatusOK, t)
}
