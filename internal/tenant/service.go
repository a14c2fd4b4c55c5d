package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nikhilbhutani/agroplatform/internal/models"
)

var ErrNotFound = errors.New("tenant not found")

const tenantColumns = "id, name, status, multi_session, allow_social_login, max_users, created_at, updated_at"

// Service reads and administers tenant records. Tenants sit above the
// row-level security boundary, so every access goes through a bypass scope.
type Service struct {
	gate *Gate
}

func NewService(gate *Gate) *Service {
	return &Service{gate: gate}
}

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Status, &t.MultiSession, &t.AllowSocialLogin, &t.MaxUsers, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	t, err := InBypass(ctx, s.gate, func(tx pgx.Tx) (*models.Tenant, error) {
		return scanTenant(tx.QueryRow(ctx, "SELECT "+tenantColumns+" FROM tenants WHERE id = $1", id))
	})
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

type CreateRequest struct {
	Name             string `json:"name"`
	MultiSession     bool   `json:"multi_session"`
	AllowSocialLogin bool   `json:"allow_social_login"`
	MaxUsers         int    `json:"max_users"`
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Tenant, error) {
	t, err := InBypass(ctx, s.gate, func(tx pgx.Tx) (*models.Tenant, error) {
		return scanTenant(tx.QueryRow(ctx,
			`INSERT INTO tenants (name, multi_session, allow_social_login, max_users)
			 VALUES ($1, $2, $3, $4)
			 RETURNING `+tenantColumns,
			req.Name, req.MultiSession, req.AllowSocialLogin, req.MaxUsers,
		))
	})
	if err != nil {
		return nil, fmt.Errorf("create tenant: %w", err)
	}
	return t, nil
}

// SetStatus changes the tenant lifecycle state. Live sessions of a suspended
// or cancelled tenant die at their next refresh.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status models.TenantStatus) (*models.Tenant, error) {
	t, err := InBypass(ctx, s.gate, func(tx pgx.Tx) (*models.Tenant, error) {
		return scanTenant(tx.QueryRow(ctx,
			`UPDATE tenants SET status = $2, updated_at = now() WHERE id = $1
			 RETURNING `+tenantColumns,
			id, status,
		))
	})
	if err != nil {
		return nil, fmt.Errorf("set tenant status: %w", err)
	}
	return t, nil
}
