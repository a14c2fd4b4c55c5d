package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nikhilbhutani/agroplatform/internal/config"
	"golang.org/x/oauth2"
)

// ErrIdentityRejected marks a provider response that failed verification.
var ErrIdentityRejected = errors.New("identity assertion rejected")

// Identity is a verified provider assertion.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

type IdentityProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Identity, error)
}

const (
	googleAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL = "https://oauth2.googleapis.com/token"
	googleJWKSURL  = "https://www.googleapis.com/oauth2/v3/certs"
)

var googleIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

// GoogleProvider runs the authorization-code flow and verifies the returned
// id_token against Google's published keys with the client id as audience.
type GoogleProvider struct {
	oauth  *oauth2.Config
	client *http.Client
	keys   *keySet
}

func NewGoogleProvider(cfg config.OAuthConfig) *GoogleProvider {
	return newGoogleProvider(cfg, oauth2.Endpoint{AuthURL: googleAuthURL, TokenURL: googleTokenURL}, googleJWKSURL, http.DefaultClient)
}

func newGoogleProvider(cfg config.OAuthConfig, endpoint oauth2.Endpoint, jwksURL string, client *http.Client) *GoogleProvider {
	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		client: client,
		keys:   &keySet{url: jwksURL, client: client, ttl: time.Hour},
	}
}

func (g *GoogleProvider) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (g *GoogleProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrIdentityRejected)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	tok, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, fmt.Errorf("%w: %v", ErrIdentityRejected, err)
		}
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return nil, fmt.Errorf("%w: no id_token in token response", ErrIdentityRejected)
	}
	return g.verify(ctx, raw)
}

type googleClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	jwt.RegisteredClaims
}

func (g *GoogleProvider) verify(ctx context.Context, raw string) (*Identity, error) {
	var claims googleClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		return g.keys.get(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(g.oauth.ClientID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityRejected, err)
	}
	if !validIssuer(claims.Issuer) {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrIdentityRejected, claims.Issuer)
	}
	if claims.Subject == "" || claims.Email == "" {
		return nil, fmt.Errorf("%w: assertion lacks subject or email", ErrIdentityRejected)
	}
	return &Identity{
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
	}, nil
}

func validIssuer(iss string) bool {
	for _, want := range googleIssuers {
		if iss == want {
			return true
		}
	}
	return false
}

// keySet caches a JWKS document. An unknown kid triggers at most one refetch
// per minute.
type keySet struct {
	url    string
	client *http.Client
	ttl    time.Duration

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func (k *keySet) get(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	age := time.Since(k.fetchedAt)
	if key, ok := k.keys[kid]; ok && age < k.ttl {
		return key, nil
	}
	if age > time.Minute {
		if err := k.refresh(ctx); err != nil {
			if key, ok := k.keys[kid]; ok {
				return key, nil
			}
			return nil, err
		}
	}
	if key, ok := k.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("unknown signing key %q", kid)
}

func (k *keySet) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return err
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, jwk := range doc.Keys {
		if jwk.Kty != "RSA" {
			continue
		}
		n, err := base64.RawURLEncoding.DecodeString(jwk.N)
		if err != nil {
			continue
		}
		e, err := base64.RawURLEncoding.DecodeString(jwk.E)
		if err != nil {
			continue
		}
		keys[jwk.Kid] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(n),
			E: int(new(big.Int).SetBytes(e).Int64()),
		}
	}
	k.keys = keys
	k.fetchedAt = time.Now()
	return nil
}
