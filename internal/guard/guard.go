// Package guard throttles login attempts per source address and locks
// accounts after repeated failures. Every check fails open: if the cache
// store is unreachable the attempt is allowed and the outage is logged.
package guard

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/nikhilbhutani/agroplatform/internal/apperr"
	"github.com/nikhilbhutani/agroplatform/internal/config"
	"github.com/nikhilbhutani/agroplatform/internal/obs"
)

type Counter interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type Guard struct {
	kv  Counter
	cfg config.GuardConfig
}

func New(kv Counter, cfg config.GuardConfig) *Guard {
	return &Guard{kv: kv, cfg: cfg}
}

func addressKey(addr string) string { return "rl:login:" + addr }

func failKey(account string) string { return "bf:fail:" + normalize(account) }

func lockKey(account string) string { return "bf:lock:" + normalize(account) }

func normalize(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}

// CheckAddress counts one attempt from addr and rejects it once the window
// holds more than MaxAttempts.
func (g *Guard) CheckAddress(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	count, err := g.kv.IncrementWindow(ctx, addressKey(addr), g.cfg.Window)
	if err != nil {
		failOpen("address", err)
		return nil
	}
	if count > int64(g.cfg.MaxAttempts) {
		return apperr.RateLimited("too many login attempts, try again later")
	}
	return nil
}

// CheckAccount rejects attempts against a locked account.
func (g *Guard) CheckAccount(ctx context.Context, account string) error {
	locked, err := g.kv.Exists(ctx, lockKey(account))
	if err != nil {
		failOpen("account", err)
		return nil
	}
	if locked {
		return apperr.RateLimited("account temporarily locked, try again later")
	}
	return nil
}

// RecordFailure counts a failed password check. Reaching MaxFailures sets
// the lockout key and clears the failure counter.
func (g *Guard) RecordFailure(ctx context.Context, account string) {
	count, err := g.kv.IncrementWindow(ctx, failKey(account), g.cfg.FailureWindow)
	if err != nil {
		failOpen("account", err)
		return
	}
	if count < int64(g.cfg.MaxFailures) {
		return
	}
	if err := g.kv.Set(ctx, lockKey(account), true, g.cfg.LockoutDuration); err != nil {
		failOpen("account", err)
		return
	}
	if err := g.kv.Delete(ctx, failKey(account)); err != nil {
		slog.Warn("clear failure counter failed", "error", err)
	}
	slog.Info("account locked", "account", normalize(account), "duration", g.cfg.LockoutDuration)
}

// Reset clears the failure counter after a successful login. An existing
// lock is left to expire.
func (g *Guard) Reset(ctx context.Context, account string) {
	if err := g.kv.Delete(ctx, failKey(account)); err != nil {
		slog.Warn("reset failure counter failed", "error", err)
	}
}

func failOpen(counter string, err error) {
	obs.GuardFailOpen.WithLabelValues(counter).Inc()
	slog.Warn("brute-force guard unavailable, allowing attempt", "counter", counter, "error", err)
}
