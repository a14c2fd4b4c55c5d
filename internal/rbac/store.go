package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nikhilbhutani/agroplatform/internal/tenant"
)

// PostgresStore loads permission subjects. Lookups are keyed by user id alone,
// before any tenant is known, so they run in a bypass scope.
type PostgresStore struct {
	gate *tenant.Gate
}

func NewPostgresStore(gate *tenant.Gate) *PostgresStore {
	return &PostgresStore{gate: gate}
}

func (s *PostgresStore) LoadSubject(ctx context.Context, userID uuid.UUID) (*Subject, error) {
	return tenant.InBypass(ctx, s.gate, func(tx pgx.Tx) (*Subject, error) {
		var (
			role     string
			customID *uuid.UUID
			baseRole *string
			active   *bool
		)
		err := tx.QueryRow(ctx,
			`SELECT u.role, u.custom_role_id, cr.base_role, cr.is_active
			 FROM users u LEFT JOIN custom_roles cr ON cr.id = u.custom_role_id
			 WHERE u.id = $1`, userID,
		).Scan(&role, &customID, &baseRole, &active)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("query subject: %w", err)
		}

		subject := &Subject{Role: Role(role), CustomRoleID: customID}
		if customID == nil || baseRole == nil {
			return subject, nil
		}
		subject.Custom = &CustomGrants{BaseRole: Role(*baseRole), Active: active != nil && *active}
		if !subject.Custom.Active {
			return subject, nil
		}

		overrides, err := queryOverrides(ctx, tx, *customID)
		if err != nil {
			return nil, err
		}
		subject.Custom.Overrides = overrides
		return subject, nil
	})
}

func (s *PostgresStore) UsersWithCustomRole(ctx context.Context, customRoleID uuid.UUID) ([]uuid.UUID, error) {
	return tenant.InBypass(ctx, s.gate, func(tx pgx.Tx) ([]uuid.UUID, error) {
		rows, err := tx.Query(ctx, "SELECT id FROM users WHERE custom_role_id = $1", customRoleID)
		if err != nil {
			return nil, fmt.Errorf("query custom role members: %w", err)
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
		if err != nil {
			return nil, fmt.Errorf("scan custom role members: %w", err)
		}
		return ids, nil
	})
}

func queryOverrides(ctx context.Context, tx pgx.Tx, customRoleID uuid.UUID) ([]Override, error) {
	rows, err := tx.Query(ctx,
		"SELECT module, action, allowed FROM role_permission_overrides WHERE custom_role_id = $1",
		customRoleID,
	)
	if err != nil {
		return nil, fmt.Errorf("query overrides: %w", err)
	}
	defer rows.Close()

	var out []Override
	for rows.Next() {
		var module, action string
		var allowed bool
		if err := rows.Scan(&module, &action, &allowed); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		out = append(out, Override{Permission: NewPermission(Module(module), Action(action)), Allowed: allowed})
	}
	return out, rows.Err()
}
