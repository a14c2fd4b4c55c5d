package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/agroplatform/internal/cache"
)

// Kind namespaces single-use tokens so one kind can never be redeemed as another.
type Kind string

const (
	KindInvite       Kind = "invite"
	KindReset        Kind = "reset"
	KindOAuthState   Kind = "oauth_state"
	KindExchangeCode Kind = "oauth_code"
)

func oneTimeKey(kind Kind, token string) string {
	return "ott:" + string(kind) + ":" + token
}

type KV interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetDel(ctx context.Context, key string, dest interface{}) error
}

// TokenStore issues opaque tokens redeemable exactly once before their TTL.
type TokenStore struct {
	kv KV
}

func NewTokenStore(kv KV) *TokenStore {
	return &TokenStore{kv: kv}
}

// Issue stores payload under a new token of the given kind.
func (s *TokenStore) Issue(ctx context.Context, kind Kind, payload interface{}, ttl time.Duration) (string, error) {
	token, err := NewToken()
	if err != nil {
		return "", err
	}
	if err := s.kv.Set(ctx, oneTimeKey(kind, token), payload, ttl); err != nil {
		return "", fmt.Errorf("store %s token: %w", kind, err)
	}
	return token, nil
}

// Consume atomically redeems token into dest. A token already redeemed,
// expired or never issued yields ErrTokenNotFound.
func (s *TokenStore) Consume(ctx context.Context, kind Kind, token string, dest interface{}) error {
	if token == "" {
		return ErrTokenNotFound
	}
	err := s.kv.GetDel(ctx, oneTimeKey(kind, token), dest)
	if errors.Is(err, cache.ErrMiss) {
		return ErrTokenNotFound
	}
	if err != nil {
		return fmt.Errorf("consume %s token: %w", kind, err)
	}
	return nil
}

// UserToken is the payload of invite and reset tokens.
type UserToken struct {
	UserID uuid.UUID `json:"user_id"`
}
