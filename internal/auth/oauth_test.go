package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"testing"

	"github.com/nikhilbhutani/agroplatform/internal/apperr"
	"github.com/nikhilbhutani/agroplatform/internal/audit"
	"github.com/nikhilbhutani/agroplatform/internal/models"
)

func (at *authTest) startSignIn(t *testing.T, redirect string) string {
	t.Helper()
	authURL, err := at.svc.GenerateAuthURL(context.Background(), redirect)
	if err != nil {
		t.Fatalf("auth url: %v", err)
	}
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	state := u.Query().Get("state")
	if state == "" {
		t.Fatalf("no state in %q", authURL)
	}
	return state
}

func (at *authTest) identityFor(u *models.User, subject string) {
	at.provider.identity = &Identity{Subject: subject, Email: strings.ToUpper(u.Email), EmailVerified: true}
}

func TestOAuthSignInLinksAndExchanges(t *testing.T) {
	at := newAuthTest(t)
	ctx := context.Background()
	u := at.seedUser(t, "grower@agro.test", "manager")
	at.identityFor(u, "google-1")

	state := at.startSignIn(t, "/farms")
	res, err := at.svc.HandleCallback(ctx, state, "auth-code")
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if got := at.users.users[u.ID].GoogleSubject; got == nil || *got != "google-1" {
		t.Fatalf("subject not linked: %v", got)
	}
	if !strings.HasPrefix(res.RedirectURL(), "https://app.agro.test/farms?code=") {
		t.Fatalf("redirect = %q", res.RedirectURL())
	}

	pair, err := at.svc.ExchangeCode(ctx, res.Code)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if _, err := at.svc.Authenticate(pair.AccessToken); err != nil {
		t.Fatalf("access token from exchange: %v", err)
	}
	_, err = at.svc.ExchangeCode(ctx, res.Code)
	wantKind(t, err, apperr.KindAuthentication)

	_, err = at.svc.HandleCallback(ctx, state, "auth-code")
	wantKind(t, err, apperr.KindAuthentication)

	state = at.startSignIn(t, "")
	if _, err := at.svc.HandleCallback(ctx, state, "auth-code"); err != nil {
		t.Fatalf("second sign-in with linked subject: %v", err)
	}
	if !at.audit.has(audit.ActionOAuthLogin) {
		t.Fatalf("sign-in not audited")
	}
}

func TestOAuthSubjectMismatch(t *testing.T) {
	at := newAuthTest(t)
	u := at.seedUser(t, "grower@agro.test", "operator")
	linked := "google-original"
	u.GoogleSubject = &linked
	at.identityFor(u, "google-impostor")

	_, err := at.svc.HandleCallback(context.Background(), at.startSignIn(t, ""), "auth-code")
	wantKind(t, err, apperr.KindAuthorization)
	if !at.audit.has(audit.ActionOAuthMismatch) {
		t.Fatalf("mismatch not audited")
	}
}

func TestOAuthSubjectAlreadyLinkedElsewhere(t *testing.T) {
	at := newAuthTest(t)
	other := at.seedUser(t, "other@agro.test", "operator")
	taken := "google-1"
	other.GoogleSubject = &taken
	u := at.seedUser(t, "grower@agro.test", "operator")
	at.identityFor(u, "google-1")

	_, err := at.svc.HandleCallback(context.Background(), at.startSignIn(t, ""), "auth-code")
	wantKind(t, err, apperr.KindAuthorization)
}

func TestOAuthRejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(at *authTest, u *models.User)
		want  apperr.Kind
	}{
		{
			name: "unknown email",
			setup: func(at *authTest, u *models.User) {
				at.provider.identity = &Identity{Subject: "g", Email: "stranger@agro.test", EmailVerified: true}
			},
			want: apperr.KindAuthorization,
		},
		{
			name: "unverified email",
			setup: func(at *authTest, u *models.User) {
				at.identityFor(u, "g")
				at.provider.identity.EmailVerified = false
			},
			want: apperr.KindAuthentication,
		},
		{
			name: "provider rejected",
			setup: func(at *authTest, u *models.User) {
				at.provider.err = fmt.Errorf("%w: bad code", ErrIdentityRejected)
			},
			want: apperr.KindAuthentication,
		},
		{
			name: "provider unreachable",
			setup: func(at *authTest, u *models.User) {
				at.provider.err = fmt.Errorf("dial tcp: connection refused")
			},
			want: apperr.KindUnexpected,
		},
		{
			name: "social sign-in disabled",
			setup: func(at *authTest, u *models.User) {
				at.identityFor(u, "g")
				at.setTenant(func(tn *models.Tenant) { tn.AllowSocialLogin = false })
			},
			want: apperr.KindAuthorization,
		},
		{
			name: "tenant suspended",
			setup: func(at *authTest, u *models.User) {
				at.identityFor(u, "g")
				at.setTenant(func(tn *models.Tenant) { tn.Status = models.TenantSuspended })
			},
			want: apperr.KindTenantState,
		},
		{
			name: "inactive account",
			setup: func(at *authTest, u *models.User) {
				at.identityFor(u, "g")
				u.Status = models.UserInactive
			},
			want: apperr.KindTenantState,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := newAuthTest(t)
			u := at.seedUser(t, "grower@agro.test", "operator")
			tt.setup(at, u)
			_, err := at.svc.HandleCallback(context.Background(), at.startSignIn(t, ""), "auth-code")
			wantKind(t, err, tt.want)
			if u.GoogleSubject != nil {
				t.Fatalf("subject linked on a rejected sign-in")
			}
		})
	}
}

func TestOAuthUnknownState(t *testing.T) {
	at := newAuthTest(t)
	_, err := at.svc.HandleCallback(context.Background(), "forged-state", "auth-code")
	wantKind(t, err, apperr.KindAuthentication)
}

func TestOAuthRedirectMustStayInApp(t *testing.T) {
	at := newAuthTest(t)
	ctx := context.Background()
	for _, bad := range []string{"https://evil.test/", "//evil.test/path", "https://app.agro.test.evil.test/", "javascript:alert(1)"} {
		_, err := at.svc.GenerateAuthURL(ctx, bad)
		wantKind(t, err, apperr.KindValidation)
	}
	for _, ok := range []string{"", "/farms/7", "https://app.agro.test/producers"} {
		if _, err := at.svc.GenerateAuthURL(ctx, ok); err != nil {
			t.Fatalf("GenerateAuthURL(%q): %v", ok, err)
		}
	}
}

func TestOAuthNotConfigured(t *testing.T) {
	at := newAuthTest(t)
	at.svc.provider = nil
	_, err := at.svc.GenerateAuthURL(context.Background(), "")
	wantKind(t, err, apperr.KindNotFound)
	_, err = at.svc.HandleCallback(context.Background(), "state", "code")
	wantKind(t, err, apperr.KindNotFound)
}
