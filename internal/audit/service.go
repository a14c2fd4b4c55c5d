// Package audit writes best-effort security events. Recording never fails
// the operation that triggered it.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nikhilbhutani/agroplatform/internal/tenant"
)

const (
	ActionLoginSucceeded  = "auth.login.succeeded"
	ActionLoginFailed     = "auth.login.failed"
	ActionLogout          = "auth.logout"
	ActionResetRequested  = "auth.password.reset_requested"
	ActionPasswordReset   = "auth.password.reset"
	ActionInviteAccepted  = "auth.invite.accepted"
	ActionOAuthLogin      = "auth.oauth.login"
	ActionOAuthMismatch   = "auth.oauth.subject_mismatch"
	ActionUserInvited     = "users.invited"
	ActionUserRoleChanged = "users.role_changed"
	ActionUserStatus      = "users.status_changed"
	ActionRoleCreated     = "roles.created"
	ActionRoleUpdated     = "roles.updated"
	ActionRoleDeleted     = "roles.deleted"
	ActionTenantStatus    = "tenants.status_changed"
)

type Event struct {
	TenantID     *uuid.UUID
	UserID       *uuid.UUID
	Action       string
	ResourceType string
	ResourceID   *uuid.UUID
	Details      map[string]interface{}
	IPAddress    string
}

// Recorder accepts events without reporting failures.
type Recorder interface {
	Record(ctx context.Context, e Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}

// Service inserts events into audit_logs. Tenant events are written inside
// their tenant's scope; platform events (no tenant) use the bypass scope.
type Service struct {
	gate *tenant.Gate
}

func NewService(gate *tenant.Gate) *Service {
	return &Service{gate: gate}
}

func (s *Service) Write(ctx context.Context, e Event) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	if e.Details == nil {
		details = []byte("{}")
	}

	var ip *netip.Addr
	if e.IPAddress != "" {
		if parsed, err := netip.ParseAddr(e.IPAddress); err == nil {
			ip = &parsed
		}
	}

	var resourceType *string
	if e.ResourceType != "" {
		resourceType = &e.ResourceType
	}

	insert := func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO audit_logs (tenant_id, user_id, action, resource_type, resource_id, details, ip_address)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.TenantID, e.UserID, e.Action, resourceType, e.ResourceID, details, ip,
		)
		if err != nil {
			return fmt.Errorf("insert audit log: %w", err)
		}
		return nil
	}

	if e.TenantID != nil {
		return s.gate.Tenant(ctx, *e.TenantID, insert)
	}
	return s.gate.Bypass(ctx, insert)
}
