package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/nikhilbhutani/agroplatform/internal/apperr"
	"github.com/nikhilbhutani/agroplatform/internal/audit"
	"github.com/nikhilbhutani/agroplatform/internal/session"
	"github.com/nikhilbhutani/agroplatform/internal/users"
)

// AcceptInvite redeems an invite token, sets the first password and opens
// a session.
func (s *Service) AcceptInvite(ctx context.Context, token, password string) (*TokenPair, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	var payload session.UserToken
	if err := s.tokens.Consume(ctx, session.KindInvite, token, &payload); err != nil {
		if errors.Is(err, session.ErrTokenNotFound) {
			return nil, apperr.Authentication("invalid or expired invite token")
		}
		return nil, apperr.Unexpected(err)
	}

	user, err := s.users.FindByID(ctx, payload.UserID)
	if errors.Is(err, users.ErrNotFound) {
		return nil, apperr.Authentication("invalid or expired invite token")
	}
	if err != nil {
		return nil, apperr.Unexpected(fmt.Errorf("find user: %w", err))
	}
	if !user.IsActive() {
		return nil, apperr.TenantState("account is inactive")
	}

	hash, err := HashPassword(password, s.cfg.BcryptCost)
	if err != nil {
		return nil, apperr.Unexpected(err)
	}
	if err := s.users.SetPasswordHash(ctx, user.ID, hash); err != nil {
		return nil, apperr.Unexpected(err)
	}
	user.PasswordHash = &hash

	pair, err := s.createSession(ctx, user)
	if err != nil {
		return nil, err
	}
	s.record(ctx, user, audit.ActionInviteAccepted, "", nil)
	return pair, nil
}
