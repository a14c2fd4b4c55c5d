// Package users administers tenant accounts: invitations, role and status
// changes. Any change that alters what a user may do drops their cached
// permissions; role and status changes also end every open session.
package users

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/agroplatform/internal/apperr"
	"github.com/nikhilbhutani/agroplatform/internal/audit"
	mailer "github.com/nikhilbhutani/agroplatform/internal/mail"
	"github.com/nikhilbhutani/agroplatform/internal/models"
	"github.com/nikhilbhutani/agroplatform/internal/rbac"
	"github.com/nikhilbhutani/agroplatform/internal/roles"
	"github.com/nikhilbhutani/agroplatform/internal/session"
	"github.com/nikhilbhutani/agroplatform/internal/tenant"
)

type Store interface {
	FindInTenant(ctx context.Context, tenantID, id uuid.UUID) (*models.User, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]models.User, error)
	CountActive(ctx context.Context, tenantID uuid.UUID) (int, error)
	Create(ctx context.Context, u *models.User) (*models.User, error)
	DeletePending(ctx context.Context, tenantID, id uuid.UUID) error
	UpdateRole(ctx context.Context, tenantID, id uuid.UUID, role string) error
	UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status models.UserStatus) error
	SetCustomRole(ctx context.Context, tenantID, id uuid.UUID, customRoleID *uuid.UUID) error
}

type TenantLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
}

type SessionRevoker interface {
	RevokeAll(ctx context.Context, userID uuid.UUID) error
}

type TokenIssuer interface {
	Issue(ctx context.Context, kind session.Kind, payload interface{}, ttl time.Duration) (string, error)
}

type PermissionInvalidator interface {
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

type RoleLookup interface {
	Get(ctx context.Context, tenantID, roleID uuid.UUID) (*roles.Role, error)
}

// Actor is the authenticated user performing an administrative change.
type Actor struct {
	UserID uuid.UUID
	Role   rbac.Role
}

type Deps struct {
	Store       Store
	Tenants     TenantLookup
	Sessions    SessionRevoker
	Tokens      TokenIssuer
	Permissions PermissionInvalidator
	Roles       RoleLookup
	Mail        mailer.Sender
	Audit       audit.Recorder
}

type Service struct {
	store     Store
	tenants   TenantLookup
	sessions  SessionRevoker
	tokens    TokenIssuer
	perms     PermissionInvalidator
	roles     RoleLookup
	mail      mailer.Sender
	audit     audit.Recorder
	inviteTTL time.Duration
	appURL    string
}

func NewService(d Deps, inviteTTL time.Duration, appURL string) *Service {
	if d.Audit == nil {
		d.Audit = audit.Nop{}
	}
	return &Service{
		store:     d.Store,
		tenants:   d.Tenants,
		sessions:  d.Sessions,
		tokens:    d.Tokens,
		perms:     d.Permissions,
		roles:     d.Roles,
		mail:      d.Mail,
		audit:     d.Audit,
		inviteTTL: inviteTTL,
		appURL:    strings.TrimRight(appURL, "/"),
	}
}

type InviteRequest struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// Invite creates an active user without a password and mails an invite
// token that lets them set one.
func (s *Service) Invite(ctx context.Context, actor Actor, tenantID uuid.UUID, req InviteRequest) (*models.User, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		return nil, apperr.Validation("a valid email is required")
	}
	email := strings.ToLower(addr.Address)

	role, ok := rbac.ParseRole(req.Role)
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("unknown role %q", req.Role))
	}
	if role.IsTop() {
		return nil, apperr.Unprocessable("platform roles cannot be granted inside a tenant")
	}
	if !actor.Role.CanAssign(role) {
		return nil, apperr.Authorization(fmt.Sprintf("role %s is above what you can assign", role))
	}

	t, err := s.activeTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	active, err := s.store.CountActive(ctx, tenantID)
	if err != nil {
		return nil, apperr.Unexpected(fmt.Errorf("count active users: %w", err))
	}
	if !t.SeatAvailable(active) {
		return nil, apperr.Conflict(fmt.Sprintf("tenant has reached its limit of %d users", t.MaxUsers))
	}

	user, err := s.store.Create(ctx, &models.User{
		TenantID: &tenantID,
		Email:    email,
		FullName: strings.TrimSpace(req.FullName),
		Role:     string(role),
		Status:   models.UserActive,
	})
	if errors.Is(err, ErrEmailTaken) {
		return nil, apperr.Conflict("a user with this email already exists")
	}
	if err != nil {
		return nil, apperr.Unexpected(fmt.Errorf("create user: %w", err))
	}

	if err := s.deliverInvite(ctx, user, t); err != nil {
		s.discardPending(ctx, tenantID, user.ID)
		return nil, apperr.Unexpected(err)
	}

	s.record(ctx, actor, tenantID, audit.ActionUserInvited, user.ID, map[string]interface{}{"role": user.Role})
	return user, nil
}

func (s *Service) deliverInvite(ctx context.Context, user *models.User, t *models.Tenant) error {
	token, err := s.tokens.Issue(ctx, session.KindInvite, session.UserToken{UserID: user.ID}, s.inviteTTL)
	if err != nil {
		return err
	}
	if err := s.mail.Send(ctx, inviteMessage(user, t, s.link("/accept-invite", token))); err != nil {
		return fmt.Errorf("send invite: %w", err)
	}
	return nil
}

// discardPending removes a user whose invite never went out, releasing the
// seat and the email for a retry.
func (s *Service) discardPending(ctx context.Context, tenantID, userID uuid.UUID) {
	if err := s.store.DeletePending(context.WithoutCancel(ctx), tenantID, userID); err != nil {
		slog.Warn("discard uninvited user failed", "error", err, "user_id", userID)
	}
}

func (s *Service) Get(ctx context.Context, tenantID, userID uuid.UUID) (*models.User, error) {
	return s.load(ctx, tenantID, userID)
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID) ([]models.User, error) {
	list, err := s.store.List(ctx, tenantID)
	if err != nil {
		return nil, apperr.Unexpected(fmt.Errorf("list users: %w", err))
	}
	return list, nil
}

// ChangeRole sets a new static role. Any custom role assignment is dropped.
func (s *Service) ChangeRole(ctx context.Context, actor Actor, tenantID, userID uuid.UUID, roleName string) (*models.User, error) {
	role, ok := rbac.ParseRole(roleName)
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("unknown role %q", roleName))
	}
	if !actor.Role.CanAssign(role) {
		return nil, apperr.Authorization(fmt.Sprintf("role %s is above what you can assign", role))
	}
	user, err := s.loadManaged(ctx, actor, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if user.Role == string(role) && user.CustomRoleID == nil {
		return user, nil
	}

	if err := s.store.UpdateRole(ctx, tenantID, userID, string(role)); err != nil {
		return nil, s.storeError("update role", err)
	}
	if err := s.forceReauth(ctx, userID); err != nil {
		return nil, err
	}

	s.record(ctx, actor, tenantID, audit.ActionUserRoleChanged, userID,
		map[string]interface{}{"from": user.Role, "to": string(role)})
	user.Role = string(role)
	user.CustomRoleID = nil
	return user, nil
}

// SetStatus activates or deactivates an account. Reactivation counts
// against the tenant's seat limit.
func (s *Service) SetStatus(ctx context.Context, actor Actor, tenantID, userID uuid.UUID, status models.UserStatus) (*models.User, error) {
	if !status.Valid() {
		return nil, apperr.Validation(fmt.Sprintf("unknown status %q", status))
	}
	user, err := s.loadManaged(ctx, actor, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if user.Status == status {
		return user, nil
	}

	if status == models.UserActive {
		t, err := s.activeTenant(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		active, err := s.store.CountActive(ctx, tenantID)
		if err != nil {
			return nil, apperr.Unexpected(fmt.Errorf("count active users: %w", err))
		}
		if !t.SeatAvailable(active) {
			return nil, apperr.Conflict(fmt.Sprintf("tenant has reached its limit of %d users", t.MaxUsers))
		}
	}

	if err := s.store.UpdateStatus(ctx, tenantID, userID, status); err != nil {
		return nil, s.storeError("update status", err)
	}
	if err := s.forceReauth(ctx, userID); err != nil {
		return nil, err
	}

	s.record(ctx, actor, tenantID, audit.ActionUserStatus, userID,
		map[string]interface{}{"from": string(user.Status), "to": string(status)})
	user.Status = status
	return user, nil
}

// AssignCustomRole attaches the user to a custom role, or detaches them when
// customRoleID is nil.
func (s *Service) AssignCustomRole(ctx context.Context, actor Actor, tenantID, userID uuid.UUID, customRoleID *uuid.UUID) (*models.User, error) {
	user, err := s.loadManaged(ctx, actor, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if customRoleID != nil {
		role, err := s.roles.Get(ctx, tenantID, *customRoleID)
		if err != nil {
			return nil, err
		}
		if !actor.Role.CanAssign(rbac.Role(role.BaseRole)) {
			return nil, apperr.Authorization(fmt.Sprintf("role %s is above what you can assign", role.BaseRole))
		}
	}

	if err := s.store.SetCustomRole(ctx, tenantID, userID, customRoleID); err != nil {
		return nil, s.storeError("set custom role", err)
	}
	if err := s.perms.Invalidate(ctx, userID); err != nil {
		return nil, apperr.Unexpected(err)
	}

	details := map[string]interface{}{"custom_role_id": nil}
	if customRoleID != nil {
		details["custom_role_id"] = customRoleID.String()
	}
	s.record(ctx, actor, tenantID, audit.ActionUserRoleChanged, userID, details)
	user.CustomRoleID = customRoleID
	return user, nil
}

func (s *Service) load(ctx context.Context, tenantID, userID uuid.UUID) (*models.User, error) {
	user, err := s.store.FindInTenant(ctx, tenantID, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.Unexpected(fmt.Errorf("get user: %w", err))
	}
	return user, nil
}

// loadManaged returns the target user if actor strictly outranks them.
func (s *Service) loadManaged(ctx context.Context, actor Actor, tenantID, userID uuid.UUID) (*models.User, error) {
	if userID == actor.UserID {
		return nil, apperr.Authorization("you cannot change your own account")
	}
	user, err := s.load(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.CanAssign(rbac.Role(user.Role)) {
		return nil, apperr.Authorization("you cannot manage a user at or above your own role")
	}
	return user, nil
}

func (s *Service) activeTenant(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, error) {
	t, err := s.tenants.GetByID(ctx, tenantID)
	if errors.Is(err, tenant.ErrNotFound) {
		return nil, apperr.NotFound("tenant not found")
	}
	if err != nil {
		return nil, apperr.Unexpected(err)
	}
	if !t.IsActive() {
		return nil, apperr.TenantState(fmt.Sprintf("tenant is %s", t.Status))
	}
	return t, nil
}

func (s *Service) forceReauth(ctx context.Context, userID uuid.UUID) error {
	if err := s.perms.Invalidate(ctx, userID); err != nil {
		return apperr.Unexpected(err)
	}
	if err := s.sessions.RevokeAll(ctx, userID); err != nil {
		return apperr.Unexpected(err)
	}
	return nil
}

func (s *Service) storeError(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound("user not found")
	}
	return apperr.Unexpected(fmt.Errorf("%s: %w", op, err))
}

func (s *Service) record(ctx context.Context, actor Actor, tenantID uuid.UUID, action string, target uuid.UUID, details map[string]interface{}) {
	s.audit.Record(ctx, audit.Event{
		TenantID:     &tenantID,
		UserID:       &actor.UserID,
		Action:       action,
		ResourceType: "user",
		ResourceID:   &target,
		Details:      details,
	})
}

func (s *Service) link(path, token string) string {
	return s.appURL + path + "?token=" + url.QueryEscape(token)
}

func inviteMessage(u *models.User, t *models.Tenant, link string) mailer.Message {
	body := fmt.Sprintf(`<p>You have been invited to join %s.</p><p><a href="%s">Set your password</a></p>`,
		html.EscapeString(t.Name), html.EscapeString(link))
	return mailer.Message{
		To:      u.Email,
		Subject: fmt.Sprintf("You have been invited to %s", t.Name),
		Text:    fmt.Sprintf("You have been invited to join %s.\n\nSet your password here: %s\n", t.Name, link),
		HTML:    body,
	}
}
