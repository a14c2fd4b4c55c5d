package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrTokenNotFound means the token was never issued, already
// consumed, revoked or expired.
var ErrTokenNotFound = errors.New("session: token not found")

func refreshKey(token string) string { return "refresh:" + token }

func sessionsKey(userID uuid.UUID) string { return "sessions:" + userID.String() }

// KEYS[1] sessions set, ARGV[1] refresh key prefix.
const revokeAllScript = `
local tokens = redis.call("SMEMBERS", KEYS[1])
for _, t in ipairs(tokens) do
  redis.call("DEL", ARGV[1] .. t)
end
redis.call("DEL", KEYS[1])
return #tokens
`

// KEYS[1] sessions set, ARGV[1] refresh key prefix, ARGV[2] new token,
// ARGV[3] owner, ARGV[4] ttl in milliseconds.
const replaceAllScript = `
local tokens = redis.call("SMEMBERS", KEYS[1])
for _, t in ipairs(tokens) do
  redis.call("DEL", ARGV[1] .. t)
end
redis.call("DEL", KEYS[1])
redis.call("SET", ARGV[1] .. ARGV[2], ARGV[3], "PX", ARGV[4])
redis.call("SADD", KEYS[1], ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return #tokens
`

var (
	revokeAllLua  = redis.NewScript(revokeAllScript)
	replaceAllLua = redis.NewScript(replaceAllScript)
)

// Ledger maps live refresh tokens to their owners and tracks every user's
// open sessions so they can be revoked together.
type Ledger struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewLedger(client redis.UniversalClient, ttl time.Duration) *Ledger {
	return &Ledger{client: client, ttl: ttl}
}

func (l *Ledger) TTL() time.Duration { return l.ttl }

// Issue registers a fresh refresh token for userID.
func (l *Ledger) Issue(ctx context.Context, userID uuid.UUID) (string, error) {
	token, err := NewToken()
	if err != nil {
		return "", err
	}
	setKey := sessionsKey(userID)
	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, refreshKey(token), userID.String(), l.ttl)
		pipe.SAdd(ctx, setKey, token)
		pipe.Expire(ctx, setKey, l.ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("register refresh token: %w", err)
	}
	return token, nil
}

// Replace revokes every open session of userID and registers a fresh token in
// one step. Concurrent callers leave exactly one live session behind.
func (l *Ledger) Replace(ctx context.Context, userID uuid.UUID) (string, error) {
	token, err := NewToken()
	if err != nil {
		return "", err
	}
	err = replaceAllLua.Run(ctx, l.client, []string{sessionsKey(userID)},
		refreshKey(""), token, userID.String(), l.ttl.Milliseconds()).Err()
	if err != nil {
		return "", fmt.Errorf("replace sessions: %w", err)
	}
	return token, nil
}

// Consume atomically reads and deletes token. Of two concurrent callers with
// the same token exactly one gets the owner; the other gets ErrTokenNotFound.
func (l *Ledger) Consume(ctx context.Context, token string) (uuid.UUID, error) {
	val, err := l.client.GetDel(ctx, refreshKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, ErrTokenNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("consume refresh token: %w", err)
	}
	userID, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse refresh owner: %w", err)
	}
	if err := l.client.SRem(ctx, sessionsKey(userID), token).Err(); err != nil {
		return uuid.Nil, fmt.Errorf("remove session: %w", err)
	}
	return userID, nil
}

// RevokeAll kills every open session of userID.
func (l *Ledger) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	err := revokeAllLua.Run(ctx, l.client, []string{sessionsKey(userID)}, refreshKey("")).Err()
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	return nil
}

// Active returns the number of tracked sessions for userID. Entries whose
// refresh key already expired are pruned first.
func (l *Ledger) Active(ctx context.Context, userID uuid.UUID) (int, error) {
	setKey := sessionsKey(userID)
	tokens, err := l.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	live := 0
	for _, t := range tokens {
		n, err := l.client.Exists(ctx, refreshKey(t)).Result()
		if err != nil {
			return 0, fmt.Errorf("check session: %w", err)
		}
		if n > 0 {
			live++
			continue
		}
		l.client.SRem(ctx, setKey, t)
	}
	return live, nil
}
