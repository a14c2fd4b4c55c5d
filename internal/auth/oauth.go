package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/nikhilbhutani/agroplatform/internal/apperr"
	"github.com/nikhilbhutani/agroplatform/internal/audit"
	"github.com/nikhilbhutani/agroplatform/internal/session"
	"github.com/nikhilbhutani/agroplatform/internal/users"
)

type oauthState struct {
	Redirect string `json:"redirect"`
}

// CallbackResult carries the one-time exchange code back to the browser.
// The token pair itself never travels through a redirect.
type CallbackResult struct {
	Code     string `json:"code"`
	Redirect string `json:"redirect"`
}

// RedirectURL is Redirect with the exchange code appended.
func (r *CallbackResult) RedirectURL() string {
	u, err := url.Parse(r.Redirect)
	if err != nil {
		return r.Redirect
	}
	q := u.Query()
	q.Set("code", r.Code)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Service) socialEnabled() error {
	if s.provider == nil {
		return apperr.NotFound("social sign-in is not configured")
	}
	return nil
}

// GenerateAuthURL issues a CSRF state bound to redirect and returns the
// provider's authorization URL.
func (s *Service) GenerateAuthURL(ctx context.Context, redirect string) (string, error) {
	if err := s.socialEnabled(); err != nil {
		return "", err
	}
	target, err := s.safeRedirect(redirect)
	if err != nil {
		return "", err
	}
	state, err := s.tokens.Issue(ctx, session.KindOAuthState, oauthState{Redirect: target}, s.cfg.OAuthStateTTL)
	if err != nil {
		return "", apperr.Unexpected(err)
	}
	return s.provider.AuthCodeURL(state), nil
}

// HandleCallback completes provider sign-in. Accounts are matched strictly
// by verified email and are never created here; a provider subject, once
// linked, must match on every later sign-in.
func (s *Service) HandleCallback(ctx context.Context, state, code string) (*CallbackResult, error) {
	if err := s.socialEnabled(); err != nil {
		return nil, err
	}

	var st oauthState
	if err := s.tokens.Consume(ctx, session.KindOAuthState, state, &st); err != nil {
		if errors.Is(err, session.ErrTokenNotFound) {
			return nil, apperr.Authentication("invalid or expired sign-in state")
		}
		return nil, apperr.Unexpected(err)
	}

	identity, err := s.provider.Exchange(ctx, code)
	if errors.Is(err, ErrIdentityRejected) {
		return nil, apperr.Authentication("identity provider rejected the sign-in")
	}
	if err != nil {
		return nil, apperr.Unexpected(err)
	}
	if !identity.EmailVerified {
		return nil, apperr.Authentication("provider email is not verified")
	}

	user, err := s.users.FindByEmail(ctx, normalizeEmail(identity.Email))
	if errors.Is(err, users.ErrNotFound) {
		return nil, apperr.Authorization("no account is registered for this identity")
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
	if t != nil && !t.AllowSocialLogin {
		return nil, apperr.Authorization("social sign-in is disabled for this tenant")
	}

	switch {
	case user.GoogleSubject == nil:
		err := s.users.LinkGoogleSubject(ctx, user.ID, identity.Subject)
		if errors.Is(err, users.ErrSubjectTaken) {
			s.record(ctx, user, audit.ActionOAuthMismatch, "", nil)
			return nil, apperr.Authorization("identity does not match the linked account")
		}
		if err != nil {
			return nil, apperr.Unexpected(err)
		}
	case *user.GoogleSubject != identity.Subject:
		s.record(ctx, user, audit.ActionOAuthMismatch, "", nil)
		return nil, apperr.Authorization("identity does not match the linked account")
	}

	pair, err := s.openSession(ctx, user, t)
	if err != nil {
		return nil, err
	}
	exchange, err := s.tokens.Issue(ctx, session.KindExchangeCode, pair, s.cfg.ExchangeCodeTTL)
	if err != nil {
		return nil, apperr.Unexpected(err)
	}
	s.record(ctx, user, audit.ActionOAuthLogin, "", nil)
	return &CallbackResult{Code: exchange, Redirect: st.Redirect}, nil
}

// ExchangeCode swaps a one-time exchange code for the token pair it holds.
func (s *Service) ExchangeCode(ctx context.Context, code string) (*TokenPair, error) {
	var pair TokenPair
	if err := s.tokens.Consume(ctx, session.KindExchangeCode, code, &pair); err != nil {
		if errors.Is(err, session.ErrTokenNotFound) {
			return nil, apperr.Authentication("invalid or expired exchange code")
		}
		return nil, apperr.Unexpected(err)
	}
	return &pair, nil
}

// safeRedirect accepts app-relative paths and absolute URLs under AppURL.
func (s *Service) safeRedirect(redirect string) (string, error) {
	if redirect == "" {
		return s.cfg.AppURL + "/", nil
	}
	if strings.HasPrefix(redirect, "/") && !strings.HasPrefix(redirect, "//") {
		return s.cfg.AppURL + redirect, nil
	}
	if s.cfg.AppURL != "" && (redirect == s.cfg.AppURL || strings.HasPrefix(redirect, s.cfg.AppURL+"/")) {
		return redirect, nil
	}
	return "", apperr.Validation("redirect must point into the application")
}
