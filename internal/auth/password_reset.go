package auth

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"

	"github.com/nikhilbhutani/agroplatform/internal/apperr"
	"github.com/nikhilbhutani/agroplatform/internal/audit"
	"github.com/nikhilbhutani/agroplatform/internal/mail"
	"github.com/nikhilbhutani/agroplatform/internal/session"
	"github.com/nikhilbhutani/agroplatform/internal/users"
)

// RequestPasswordReset mails a single-use reset link. Unknown and inactive
// accounts get the same silent success.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, users.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperr.Unexpected(fmt.Errorf("find user: %w", err))
	}
	if !user.IsActive() {
		return nil
	}

	token, err := s.tokens.Issue(ctx, session.KindReset, session.UserToken{UserID: user.ID}, s.cfg.ResetTokenTTL)
	if err != nil {
		return apperr.Unexpected(err)
	}
	link := s.cfg.AppURL + "/reset-password?token=" + url.QueryEscape(token)
	msg := mail.Message{
		To:      user.Email,
		Subject: "Reset your password",
		Text:    fmt.Sprintf("Use this link to choose a new password: %s\n\nThe link expires in %s.\n", link, s.cfg.ResetTokenTTL),
		HTML:    fmt.Sprintf(`<p><a href="%s">Choose a new password</a></p>`, html.EscapeString(link)),
	}
	if err := s.mail.Send(ctx, msg); err != nil {
		return apperr.Unexpected(fmt.Errorf("send reset mail: %w", err))
	}
	s.record(ctx, user, audit.ActionResetRequested, "", nil)
	return nil
}

// ResetPassword redeems a reset token, sets the new password and ends every
// open session of the account.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	var payload session.UserToken
	if err := s.tokens.Consume(ctx, session.KindReset, token, &payload); err != nil {
		if errors.Is(err, session.ErrTokenNotFound) {
			return apperr.Authentication("invalid or expired reset token")
		}
		return apperr.Unexpected(err)
	}

	user, err := s.users.FindByID(ctx, payload.UserID)
	if errors.Is(err, users.ErrNotFound) {
		return apperr.Authentication("invalid or expired reset token")
	}
	if err != nil {
		return apperr.Unexpected(fmt.Errorf("find user: %w", err))
	}

	hash, err := HashPassword(newPassword, s.cfg.BcryptCost)
	if err != nil {
		return apperr.Unexpected(err)
	}
	if err := s.users.SetPasswordHash(ctx, user.ID, hash); err != nil {
		return apperr.Unexpected(err)
	}
	if err := s.sessions.RevokeAll(ctx, user.ID); err != nil {
		return apperr.Unexpected(err)
	}
	s.guard.Reset(ctx, user.Email)
	s.record(ctx, user, audit.ActionPasswordReset, "", nil)
	return nil
}
