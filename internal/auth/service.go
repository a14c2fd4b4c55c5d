// Package auth runs every credential flow: password login, refresh
// rotation, logout, password reset, invite acceptance and provider sign-in.
// Each flow runs all of its checks before it issues or writes anything.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/agroplatform/internal/apperr"
	"github.com/nikhilbhutani/agroplatform/internal/audit"
	"github.com/nikhilbhutani/agroplatform/internal/config"
	"github.com/nikhilbhutani/agroplatform/internal/mail"
	"github.com/nikhilbhutani/agroplatform/internal/models"
	"github.com/nikhilbhutani/agroplatform/internal/obs"
	"github.com/nikhilbhutani/agroplatform/internal/rbac"
	"github.com/nikhilbhutani/agroplatform/internal/session"
	"github.com/nikhilbhutani/agroplatform/internal/tenant"
	"github.com/nikhilbhutani/agroplatform/internal/users"
)

type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	SetPasswordHash(ctx context.Context, id uuid.UUID, hash string) error
	LinkGoogleSubject(ctx context.Context, id uuid.UUID, subject string) error
	TouchLastLogin(ctx context.Context, id uuid.UUID) error
}

type TenantStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
}

type SessionLedger interface {
	Issue(ctx context.Context, userID uuid.UUID) (string, error)
	Replace(ctx context.Context, userID uuid.UUID) (string, error)
	Consume(ctx context.Context, token string) (uuid.UUID, error)
	RevokeAll(ctx context.Context, userID uuid.UUID) error
}

type OneTimeTokens interface {
	Issue(ctx context.Context, kind session.Kind, payload interface{}, ttl time.Duration) (string, error)
	Consume(ctx context.Context, kind session.Kind, token string, dest interface{}) error
}

type LoginGuard interface {
	CheckAddress(ctx context.Context, addr string) error
	CheckAccount(ctx context.Context, account string) error
	RecordFailure(ctx context.Context, account string)
	Reset(ctx context.Context, account string)
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type Deps struct {
	Users    UserStore
	Tenants  TenantStore
	Sessions SessionLedger
	Tokens   OneTimeTokens
	Guard    LoginGuard
	Issuer   *TokenIssuer
	Mail     mail.Sender
	Audit    audit.Recorder
	// Provider is nil when social sign-in is not configured.
	Provider IdentityProvider
}

type Service struct {
	users    UserStore
	tenants  TenantStore
	sessions SessionLedger
	tokens   OneTimeTokens
	guard    LoginGuard
	issuer   *TokenIssuer
	mail     mail.Sender
	audit    audit.Recorder
	provider IdentityProvider
	cfg      config.AuthConfig
}

func NewService(d Deps, cfg config.AuthConfig) *Service {
	if d.Audit == nil {
		d.Audit = audit.Nop{}
	}
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")
	return &Service{
		users:    d.Users,
		tenants:  d.Tenants,
		sessions: d.Sessions,
		tokens:   d.Tokens,
		guard:    d.Guard,
		issuer:   d.Issuer,
		mail:     d.Mail,
		audit:    d.Audit,
		provider: d.Provider,
		cfg:      cfg,
	}
}

// invalidCredentials is shared by every login failure that must not reveal
// whether the account exists.
func invalidCredentials() error {
	return apperr.Authentication("invalid credentials")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Login verifies a password and opens a session. addr is the caller's
// source address for throttling.
func (s *Service) Login(ctx context.Context, email, password, addr string) (*TokenPair, error) {
	email = normalizeEmail(email)

	if err := s.guard.CheckAddress(ctx, addr); err != nil {
		obs.LoginTotal.WithLabelValues("rate_limited").Inc()
		return nil, err
	}
	if err := s.guard.CheckAccount(ctx, email); err != nil {
		obs.LoginTotal.WithLabelValues("locked").Inc()
		return nil, err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, users.ErrNotFound) {
		obs.LoginTotal.WithLabelValues("invalid").Inc()
		return nil, invalidCredentials()
	}
	if err != nil {
		obs.LoginTotal.WithLabelValues("error").Inc()
		return nil, apperr.Unexpected(fmt.Errorf("find user: %w", err))
	}
	if !user.HasPassword() {
		obs.LoginTotal.WithLabelValues("invalid").Inc()
		return nil, invalidCredentials()
	}
	if !user.IsActive() {
		obs.LoginTotal.WithLabelValues("inactive").Inc()
		return nil, apperr.TenantState("account is inactive")
	}
	if !VerifyPassword(*user.PasswordHash, password) {
		s.guard.RecordFailure(ctx, email)
		obs.LoginTotal.WithLabelValues("invalid").Inc()
		s.record(ctx, user, audit.ActionLoginFailed, addr, nil)
		return nil, invalidCredentials()
	}
	s.guard.Reset(ctx, email)

	pair, err := s.createSession(ctx, user)
	if err != nil {
		obs.LoginTotal.WithLabelValues(outcome(err)).Inc()
		return nil, err
	}
	obs.LoginTotal.WithLabelValues("success").Inc()
	s.record(ctx, user, audit.ActionLoginSucceeded, addr, nil)
	return pair, nil
}

// createSession checks the tenant, applies its session policy and issues a
// new token pair.
func (s *Service) createSession(ctx context.Context, user *models.User) (*TokenPair, error) {
	t, err := s.sessionTenant(ctx, user)
	if err != nil {
		return nil, err
	}
	return s.openSession(ctx, user, t)
}

// sessionTenant returns the user's tenant if it may hold sessions. The top
// role has no tenant and gets nil.
func (s *Service) sessionTenant(ctx context.Context, user *models.User) (*models.Tenant, error) {
	if rbac.Role(user.Role).IsTop() {
		return nil, nil
	}
	if user.TenantID == nil {
		return nil, apperr.TenantState("account is not attached to a tenant")
	}
	t, err := s.tenants.GetByID(ctx, *user.TenantID)
	if errors.Is(err, tenant.ErrNotFound) {
		return nil, apperr.TenantState("tenant no longer exists")
	}
	if err != nil {
		return nil, apperr.Unexpected(err)
	}
	if !t.IsActive() {
		return nil, apperr.TenantState(fmt.Sprintf("tenant is %s", t.Status))
	}
	return t, nil
}

func (s *Service) openSession(ctx context.Context, user *models.User, t *models.Tenant) (*TokenPair, error) {
	pair, err := s.issuePair(ctx, user, t)
	if err != nil {
		return nil, err
	}
	if err := s.users.TouchLastLogin(ctx, user.ID); err != nil {
		slog.Warn("stamp last login failed", "error", err, "user_id", user.ID)
	}
	return pair, nil
}

// issuePair mints an access token and registers a refresh token. Under a
// single-session tenant the new refresh token replaces every other one.
func (s *Service) issuePair(ctx context.Context, user *models.User, t *models.Tenant) (*TokenPair, error) {
	access, err := s.issuer.Issue(user)
	if err != nil {
		return nil, apperr.Unexpected(err)
	}
	register := s.sessions.Issue
	if t != nil && !t.MultiSession {
		register = s.sessions.Replace
	}
	refresh, err := register(ctx, user.ID)
	if err != nil {
		return nil, apperr.Unexpected(err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.issuer.TTL().Seconds()),
	}, nil
}

// Refresh rotates a refresh token. The presented token is consumed first, so
// a replay always fails.
func (s *Service) Refresh(ctx context.Context, token string) (*TokenPair, error) {
	userID, err := s.sessions.Consume(ctx, token)
	if errors.Is(err, session.ErrTokenNotFound) {
		obs.RefreshTotal.WithLabelValues("invalid").Inc()
		return nil, apperr.Authentication("invalid or expired refresh token")
	}
	if err != nil {
		obs.RefreshTotal.WithLabelValues("error").Inc()
		return nil, apperr.Unexpected(err)
	}

	pair, err := s.refreshFor(ctx, userID)
	if err != nil {
		obs.RefreshTotal.WithLabelValues(outcome(err)).Inc()
		return nil, err
	}
	obs.RefreshTotal.WithLabelValues("success").Inc()
	return pair, nil
}

func (s *Service) refreshFor(ctx context.Context, userID uuid.UUID) (*TokenPair, error) {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, users.ErrNotFound) {
		return nil, apperr.Authentication("invalid or expired refresh token")
	}
	if err != nil {
		return nil, apperr.Unexpected(fmt.Errorf("find user: %w", err))
	}
	if !user.IsActive() {
		return nil, apperr.TenantState("account is inactive")
	}
	t, err := s.sessionTenant(ctx, user)
	if err != nil {
		return nil, err
	}
	return s.issuePair(ctx, user, t)
}

// Logout ends the session behind token. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	userID, err := s.sessions.Consume(ctx, token)
	if errors.Is(err, session.ErrTokenNotFound) {
		return nil
	}
	if err != nil {
		return apperr.Unexpected(err)
	}
	s.audit.Record(ctx, audit.Event{UserID: &userID, Action: audit.ActionLogout})
	return nil
}

// Authenticate verifies an access token without touching any store.
func (s *Service) Authenticate(token string) (*Claims, error) {
	return s.issuer.Parse(token)
}

func (s *Service) record(ctx context.Context, user *models.User, action, addr string, details map[string]interface{}) {
	s.audit.Record(ctx, audit.Event{
		TenantID:  user.TenantID,
		UserID:    &user.ID,
		Action:    action,
		Details:   details,
		IPAddress: addr,
	})
}

func outcome(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindTenantState:
		return "inactive"
	case apperr.KindAuthentication:
		return "invalid"
	case apperr.KindAuthorization:
		return "rejected"
	default:
		return "error"
	}
}
