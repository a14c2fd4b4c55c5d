package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/agroplatform/internal/cache"
	"github.com/nikhilbhutani/agroplatform/internal/obs"
)

var ErrUserNotFound = errors.New("rbac: user not found")

// CustomGrants is the state of the custom role a user is attached to.
type CustomGrants struct {
	BaseRole  Role
	Active    bool
	Overrides []Override
}

// Subject is everything the effective permission set depends on.
type Subject struct {
	Role         Role
	CustomRoleID *uuid.UUID
	Custom       *CustomGrants
}

// Permissions computes the effective set. A user on an active custom role gets
// that role's allowed overrides; everyone else gets their static role's defaults.
func (s Subject) Permissions() Set {
	if s.CustomRoleID != nil && s.Custom != nil && s.Custom.Active {
		return Effective(s.Custom.BaseRole, s.Custom.Overrides)
	}
	return Defaults(s.Role)
}

type Store interface {
	LoadSubject(ctx context.Context, userID uuid.UUID) (*Subject, error)
	UsersWithCustomRole(ctx context.Context, customRoleID uuid.UUID) ([]uuid.UUID, error)
}

type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Version(ctx context.Context, key string) (int64, error)
	SetIfVersion(ctx context.Context, key string, value interface{}, ttl time.Duration, version int64) (bool, error)
	Bump(ctx context.Context, versionTTL time.Duration, keys ...string) error
}

type Resolver struct {
	store Store
	cache Cache
	ttl   time.Duration
}

func NewResolver(store Store, c Cache, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Resolver{store: store, cache: c, ttl: ttl}
}

// versionTTL outlives any cached set the version could still guard.
func (r *Resolver) versionTTL() time.Duration { return 2 * r.ttl }

func permKey(userID uuid.UUID) string {
	return "perm:" + userID.String()
}

// Resolve returns the user's effective permission set, from cache when present.
// Cache failures degrade to a store read.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID) (Set, error) {
	var cached []Permission
	err := r.cache.Get(ctx, permKey(userID), &cached)
	switch {
	case err == nil:
		obs.PermissionCache.WithLabelValues("hit").Inc()
		return NewSet(cached...), nil
	case errors.Is(err, cache.ErrMiss):
		obs.PermissionCache.WithLabelValues("miss").Inc()
	default:
		obs.PermissionCache.WithLabelValues("error").Inc()
		slog.Warn("permission cache read failed", "error", err, "user_id", userID)
	}

	// The version is read before the load so an invalidation landing in
	// between makes the write below a no-op.
	version, verErr := r.cache.Version(ctx, permKey(userID))
	subject, err := r.store.LoadSubject(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load permission subject: %w", err)
	}

	set := subject.Permissions()
	if verErr != nil {
		slog.Warn("permission cache version read failed", "error", verErr, "user_id", userID)
		return set, nil
	}
	stored, err := r.cache.SetIfVersion(ctx, permKey(userID), set.Slice(), r.ttl, version)
	if err != nil {
		slog.Warn("permission cache write failed", "error", err, "user_id", userID)
	} else if !stored {
		obs.PermissionCache.WithLabelValues("stale").Inc()
	}
	return set, nil
}

// Authorize checks one permission. The top role passes without touching the
// cache or the store.
func (r *Resolver) Authorize(ctx context.Context, userID uuid.UUID, role Role, perm Permission) (bool, error) {
	if role.IsTop() {
		return true, nil
	}
	set, err := r.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.Has(perm), nil
}

func (r *Resolver) Invalidate(ctx context.Context, userID uuid.UUID) error {
	if err := r.cache.Bump(ctx, r.versionTTL(), permKey(userID)); err != nil {
		return fmt.Errorf("invalidate permissions: %w", err)
	}
	return nil
}

// InvalidateForRole drops the cached sets of every user attached to the custom role.
func (r *Resolver) InvalidateForRole(ctx context.Context, customRoleID uuid.UUID) error {
	users, err := r.store.UsersWithCustomRole(ctx, customRoleID)
	if err != nil {
		return fmt.Errorf("list custom role members: %w", err)
	}
	return r.InvalidateUsers(ctx, users)
}

func (r *Resolver) InvalidateUsers(ctx context.Context, userIDs []uuid.UUID) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = permKey(id)
	}
	if err := r.cache.Bump(ctx, r.versionTTL(), keys...); err != nil {
		return fmt.Errorf("invalidate permissions: %w", err)
	}
	return nil
}
