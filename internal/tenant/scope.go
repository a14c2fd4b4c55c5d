package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	bindTenantSQL = "SELECT set_config('app.current_tenant', $1, true)"
	bindBypassSQL = "SELECT set_config('app.bypass_rls', 'on', true)"
)

// ErrNoTenant is returned when a tenant scope is requested without a tenant.
var ErrNoTenant = errors.New("tenant scope requires a tenant id")

// Beginner starts transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Gate runs work inside a transaction whose row-level security variables are
// bound before the first statement. Each call claims its own transaction, so
// concurrent scopes never share a binding. The bindings are transaction-local
// (set_config is_local) and vanish on commit or rollback.
type Gate struct {
	db Beginner
}

func NewGate(db Beginner) *Gate {
	return &Gate{db: db}
}

// Tenant runs fn with app.current_tenant bound to tenantID.
func (g *Gate) Tenant(ctx context.Context, tenantID uuid.UUID, fn func(pgx.Tx) error) error {
	if tenantID == uuid.Nil {
		return ErrNoTenant
	}
	return g.run(ctx, fn, bindTenantSQL, tenantID.String())
}

// Bypass runs fn with app.bypass_rls enabled. The tenant variable is never bound.
func (g *Gate) Bypass(ctx context.Context, fn func(pgx.Tx) error) error {
	return g.run(ctx, fn, bindBypassSQL)
}

func (g *Gate) run(ctx context.Context, fn func(pgx.Tx) error, bindSQL string, args ...any) (err error) {
	tx, err := g.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin scoped tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, bindSQL, args...); err != nil {
		return fmt.Errorf("bind isolation variable: %w", err)
	}

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit scoped tx: %w", err)
	}
	return nil
}

// InTenant is Gate.Tenant for work that produces a value.
func InTenant[T any](ctx context.Context, g *Gate, tenantID uuid.UUID, fn func(pgx.Tx) (T, error)) (T, error) {
	var out T
	err := g.Tenant(ctx, tenantID, func(tx pgx.Tx) error {
		v, err := fn(tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// InBypass is Gate.Bypass for work that produces a value.
func InBypass[T any](ctx context.Context, g *Gate, fn func(pgx.Tx) (T, error)) (T, error) {
	var out T
	err := g.Bypass(ctx, func(tx pgx.Tx) error {
		v, err := fn(tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
