package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nikhilbhutani/agroplatform/internal/models"
	"github.com/nikhilbhutani/agroplatform/internal/rbac"
	"github.com/nikhilbhutani/agroplatform/internal/tenant"
)

const uniqueViolation = "23505"

const roleColumns = "id, tenant_id, name, base_role, is_active, created_at, updated_at"

// PostgresStore keeps custom roles and their override rows. Every statement
// runs in the owning tenant's scope.
type PostgresStore struct {
	gate *tenant.Gate
}

func NewPostgresStore(gate *tenant.Gate) *PostgresStore {
	return &PostgresStore{gate: gate}
}

func (s *PostgresStore) NameTaken(ctx context.Context, tenantID uuid.UUID, name string, exclude uuid.UUID) (bool, error) {
	return tenant.InTenant(ctx, s.gate, tenantID, func(tx pgx.Tx) (bool, error) {
		var taken bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (
				SELECT 1 FROM custom_roles
				WHERE tenant_id = $1 AND lower(name) = lower($2) AND is_active AND id <> $3
			)`, tenantID, name, exclude,
		).Scan(&taken)
		if err != nil {
			return false, fmt.Errorf("query role name: %w", err)
		}
		return taken, nil
	})
}

func (s *PostgresStore) Create(ctx context.Context, role *models.CustomRole, overrides []rbac.Override) (*models.CustomRole, error) {
	return tenant.InTenant(ctx, s.gate, role.TenantID, func(tx pgx.Tx) (*models.CustomRole, error) {
		created, err := scanRole(tx.QueryRow(ctx,
			`INSERT INTO custom_roles (tenant_id, name, base_role, is_active)
			 VALUES ($1, $2, $3, $4)
			 RETURNING `+roleColumns,
			role.TenantID, role.Name, role.BaseRole, role.IsActive,
		))
		if isUniqueViolation(err) {
			return nil, ErrNameTaken
		}
		if err != nil {
			return nil, fmt.Errorf("insert custom role: %w", err)
		}

		if err := upsertOverrides(ctx, tx, created.TenantID, created.ID, overrides); err != nil {
			return nil, err
		}
		return created, nil
	})
}

func (s *PostgresStore) Get(ctx context.Context, tenantID, roleID uuid.UUID) (*models.CustomRole, []rbac.Override, error) {
	var (
		role      *models.CustomRole
		overrides []rbac.Override
	)
	err := s.gate.Tenant(ctx, tenantID, func(tx pgx.Tx) error {
		var err error
		role, err = scanRole(tx.QueryRow(ctx,
			"SELECT "+roleColumns+" FROM custom_roles WHERE id = $1 AND tenant_id = $2 AND is_active",
			roleID, tenantID,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("query custom role: %w", err)
		}
		overrides, err = queryOverrides(ctx, tx, roleID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return role, overrides, nil
}

func (s *PostgresStore) List(ctx context.Context, tenantID uuid.UUID) ([]Record, error) {
	return tenant.InTenant(ctx, s.gate, tenantID, func(tx pgx.Tx) ([]Record, error) {
		rows, err := tx.Query(ctx,
			"SELECT "+roleColumns+" FROM custom_roles WHERE tenant_id = $1 AND is_active ORDER BY name",
			tenantID,
		)
		if err != nil {
			return nil, fmt.Errorf("query custom roles: %w", err)
		}
		list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.CustomRole, error) {
			r, err := scanRole(row)
			if err != nil {
				return models.CustomRole{}, err
			}
			return *r, nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan custom roles: %w", err)
		}

		records := make([]Record, 0, len(list))
		for _, r := range list {
			overrides, err := queryOverrides(ctx, tx, r.ID)
			if err != nil {
				return nil, err
			}
			records = append(records, Record{Role: r, Overrides: overrides})
		}
		return records, nil
	})
}

func (s *PostgresStore) Update(ctx context.Context, tenantID, roleID uuid.UUID, name *string, changed []rbac.Override) error {
	return s.gate.Tenant(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE custom_roles SET name = COALESCE($3, name), updated_at = now()
			 WHERE id = $1 AND tenant_id = $2 AND is_active`,
			roleID, tenantID, name,
		)
		if isUniqueViolation(err) {
			return ErrNameTaken
		}
		if err != nil {
			return fmt.Errorf("update custom role: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return upsertOverrides(ctx, tx, tenantID, roleID, changed)
	})
}

func (s *PostgresStore) Deactivate(ctx context.Context, tenantID, roleID uuid.UUID) ([]uuid.UUID, error) {
	return tenant.InTenant(ctx, s.gate, tenantID, func(tx pgx.Tx) ([]uuid.UUID, error) {
		tag, err := tx.Exec(ctx,
			`UPDATE custom_roles SET is_active = false, updated_at = now()
			 WHERE id = $1 AND tenant_id = $2 AND is_active`,
			roleID, tenantID,
		)
		if err != nil {
			return nil, fmt.Errorf("deactivate custom role: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, ErrNotFound
		}

		rows, err := tx.Query(ctx,
			`UPDATE users SET custom_role_id = NULL, updated_at = now()
			 WHERE custom_role_id = $1 RETURNING id`,
			roleID,
		)
		if err != nil {
			return nil, fmt.Errorf("detach custom role members: %w", err)
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
		if err != nil {
			return nil, fmt.Errorf("scan detached members: %w", err)
		}
		return ids, nil
	})
}

func upsertOverrides(ctx context.Context, tx pgx.Tx, tenantID, roleID uuid.UUID, overrides []rbac.Override) error {
	if len(overrides) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, o := range overrides {
		batch.Queue(
			`INSERT INTO role_permission_overrides (custom_role_id, tenant_id, module, action, allowed)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (custom_role_id, module, action) DO UPDATE SET allowed = EXCLUDED.allowed`,
			roleID, tenantID, string(o.Permission.Module()), string(o.Permission.Action()), o.Allowed,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("write overrides: %w", err)
	}
	return nil
}

func queryOverrides(ctx context.Context, tx pgx.Tx, roleID uuid.UUID) ([]rbac.Override, error) {
	rows, err := tx.Query(ctx,
		"SELECT module, action, allowed FROM role_permission_overrides WHERE custom_role_id = $1 ORDER BY module, action",
		roleID,
	)
	if err != nil {
		return nil, fmt.Errorf("query overrides: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (rbac.Override, error) {
		var module, action string
		var allowed bool
		if err := row.Scan(&module, &action, &allowed); err != nil {
			return rbac.Override{}, err
		}
		return rbac.Override{
			Permission: rbac.NewPermission(rbac.Module(module), rbac.Action(action)),
			Allowed:    allowed,
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan overrides: %w", err)
	}
	return out, nil
}

func scanRole(row pgx.Row) (*models.CustomRole, error) {
	var r models.CustomRole
	if err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.BaseRole, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
