package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nikhilbhutani/agroplatform/internal/config"
	"golang.org/x/oauth2"
)

const testClientID = "client-123.apps.example"

type idpFixture struct {
	key     *rsa.PrivateKey
	kid     string
	idToken string
	status  int
	server  *httptest.Server
}

func newIDPFixture(t *testing.T) *idpFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f := &idpFixture{key: key, kid: "key-1", status: http.StatusOK}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if f.status != http.StatusOK {
			w.WriteHeader(f.status)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "provider-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     f.idToken,
		})
	})
	mux.HandleFunc("/certs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kid": f.kid,
				"kty": "RSA",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
			}},
		})
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *idpFixture) provider() *GoogleProvider {
	cfg := config.OAuthConfig{
		GoogleClientID:     testClientID,
		GoogleClientSecret: "secret",
		GoogleRedirectURL:  "https://api.agro.test/auth/oauth/google/callback",
	}
	endpoint := oauth2.Endpoint{
		AuthURL:   f.server.URL + "/auth",
		TokenURL:  f.server.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	return newGoogleProvider(cfg, endpoint, f.server.URL+"/certs", f.server.Client())
}

func (f *idpFixture) sign(t *testing.T, key *rsa.PrivateKey, claims googleClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = f.kid
	signed, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign id token: %v", err)
	}
	return signed
}

func validGoogleClaims() googleClaims {
	now := time.Now()
	return googleClaims{
		Email:         "grower@agro.test",
		EmailVerified: true,
		Name:          "Ana Souza",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://accounts.google.com",
			Subject:   "1098765",
			Audience:  jwt.ClaimStrings{testClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func TestGoogleProviderExchange(t *testing.T) {
	f := newIDPFixture(t)
	f.idToken = f.sign(t, f.key, validGoogleClaims())

	id, err := f.provider().Exchange(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if id.Subject != "1098765" || id.Email != "grower@agro.test" || !id.EmailVerified || id.Name != "Ana Souza" {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestGoogleProviderRejectsBadAssertions(t *testing.T) {
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tests := []struct {
		name   string
		mutate func(c *googleClaims)
		key    *rsa.PrivateKey
	}{
		{name: "wrong audience", mutate: func(c *googleClaims) { c.Audience = jwt.ClaimStrings{"someone-else"} }},
		{name: "wrong issuer", mutate: func(c *googleClaims) { c.Issuer = "https://login.example.com" }},
		{name: "expired", mutate: func(c *googleClaims) { c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute)) }},
		{name: "no subject", mutate: func(c *googleClaims) { c.Subject = "" }},
		{name: "foreign signature", key: otherKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newIDPFixture(t)
			claims := validGoogleClaims()
			if tt.mutate != nil {
				tt.mutate(&claims)
			}
			key := f.key
			if tt.key != nil {
				key = tt.key
			}
			f.idToken = f.sign(t, key, claims)

			_, err := f.provider().Exchange(context.Background(), "auth-code")
			if !errors.Is(err, ErrIdentityRejected) {
				t.Fatalf("got %v, want ErrIdentityRejected", err)
			}
		})
	}
}

func TestGoogleProviderTokenEndpointRejects(t *testing.T) {
	f := newIDPFixture(t)
	f.status = http.StatusBadRequest

	_, err := f.provider().Exchange(context.Background(), "stale-code")
	if !errors.Is(err, ErrIdentityRejected) {
		t.Fatalf("got %v, want ErrIdentityRejected", err)
	}
}

func TestGoogleProviderMissingIDToken(t *testing.T) {
	f := newIDPFixture(t)
	_, err := f.provider().Exchange(context.Background(), "auth-code")
	if !errors.Is(err, ErrIdentityRejected) {
		t.Fatalf("got %v, want ErrIdentityRejected", err)
	}
}

func TestGoogleProviderAuthCodeURL(t *testing.T) {
	f := newIDPFixture(t)
	u := f.provider().AuthCodeURL("state-xyz")
	for _, want := range []string{"state=state-xyz", "client_id=" + testClientID, "scope=openid+email+profile"} {
		if !strings.Contains(u, want) {
			t.Fatalf("auth url %q lacks %q", u, want)
		}
	}
}

