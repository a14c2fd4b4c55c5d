package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nikhilbhutani/agroplatform/internal/models"
	"github.com/nikhilbhutani/agroplatform/internal/tenant"
)

var (
	ErrNotFound     = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
	ErrSubjectTaken = errors.New("provider subject already linked")
)

const userColumns = `id, tenant_id, email, full_name, role, custom_role_id, password_hash,
	status, google_subject, last_login_at, created_at, updated_at`

// PostgresStore reads and writes users. Credential lookups happen before the
// tenant is known and use the bypass scope; administration runs inside the
// tenant's scope.
type PostgresStore struct {
	gate *tenant.Gate
}

func NewPostgresStore(gate *tenant.Gate) *PostgresStore {
	return &PostgresStore{gate: gate}
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.FullName, &u.Role, &u.CustomRoleID, &u.PasswordHash,
		&u.Status, &u.GoogleSubject, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return tenant.InBypass(ctx, s.gate, func(tx pgx.Tx) (*models.User, error) {
		return scanUser(tx.QueryRow(ctx,
			"SELECT "+userColumns+" FROM users WHERE lower(email) = $1",
			strings.ToLower(email),
		))
	})
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return tenant.InBypass(ctx, s.gate, func(tx pgx.Tx) (*models.User, error) {
		return scanUser(tx.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
	})
}

func (s *PostgresStore) FindInTenant(ctx context.Context, tenantID, id uuid.UUID) (*models.User, error) {
	return tenant.InTenant(ctx, s.gate, tenantID, func(tx pgx.Tx) (*models.User, error) {
		return scanUser(tx.QueryRow(ctx,
			"SELECT "+userColumns+" FROM users WHERE id = $1 AND tenant_id = $2", id, tenantID,
		))
	})
}

func (s *PostgresStore) List(ctx context.Context, tenantID uuid.UUID) ([]models.User, error) {
	return tenant.InTenant(ctx, s.gate, tenantID, func(tx pgx.Tx) ([]models.User, error) {
		rows, err := tx.Query(ctx,
			"SELECT "+userColumns+" FROM users WHERE tenant_id = $1 ORDER BY email", tenantID,
		)
		if err != nil {
			return nil, fmt.Errorf("query users: %w", err)
		}
		list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.User, error) {
			u, err := scanUser(row)
			if err != nil {
				return models.User{}, err
			}
			return *u, nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan users: %w", err)
		}
		return list, nil
	})
}

func (s *PostgresStore) CountActive(ctx context.Context, tenantID uuid.UUID) (int, error) {
	return tenant.InTenant(ctx, s.gate, tenantID, func(tx pgx.Tx) (int, error) {
		var n int
		err := tx.QueryRow(ctx,
			"SELECT count(*) FROM users WHERE tenant_id = $1 AND status = 'active'", tenantID,
		).Scan(&n)
		if err != nil {
			return 0, fmt.Errorf("count active users: %w", err)
		}
		return n, nil
	})
}

func (s *PostgresStore) Create(ctx context.Context, u *models.User) (*models.User, error) {
	if u.TenantID == nil {
		return nil, tenant.ErrNoTenant
	}
	return tenant.InTenant(ctx, s.gate, *u.TenantID, func(tx pgx.Tx) (*models.User, error) {
		created, err := scanUser(tx.QueryRow(ctx,
			`INSERT INTO users (tenant_id, email, full_name, role, status)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING `+userColumns,
			u.TenantID, strings.ToLower(u.Email), u.FullName, u.Role, u.Status,
		))
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		if err != nil {
			return nil, fmt.Errorf("insert user: %w", err)
		}
		return created, nil
	})
}

// DeletePending removes a user that has never set a password or signed in.
func (s *PostgresStore) DeletePending(ctx context.Context, tenantID, id uuid.UUID) error {
	return s.tenantUpdate(ctx, tenantID, "delete pending user",
		`DELETE FROM users
		 WHERE id = $1 AND tenant_id = $2 AND password_hash IS NULL AND last_login_at IS NULL`,
		id, tenantID)
}

func (s *PostgresStore) SetPasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	return s.bypassUpdate(ctx, "set password",
		"UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1", id, hash)
}

func (s *PostgresStore) TouchLastLogin(ctx context.Context, id uuid.UUID) error {
	return s.bypassUpdate(ctx, "touch last login",
		"UPDATE users SET last_login_at = now() WHERE id = $1", id)
}

// LinkGoogleSubject stores subject on a user that has none yet.
func (s *PostgresStore) LinkGoogleSubject(ctx context.Context, id uuid.UUID, subject string) error {
	return s.gate.Bypass(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE users SET google_subject = $2, updated_at = now()
			 WHERE id = $1 AND google_subject IS NULL`,
			id, subject,
		)
		if isUniqueViolation(err) {
			return ErrSubjectTaken
		}
		if err != nil {
			return fmt.Errorf("link google subject: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrSubjectTaken
		}
		return nil
	})
}

// UpdateRole sets the static role and detaches any custom role.
func (s *PostgresStore) UpdateRole(ctx context.Context, tenantID, id uuid.UUID, role string) error {
	return s.tenantUpdate(ctx, tenantID, "update role",
		`UPDATE users SET role = $3, custom_role_id = NULL, updated_at = now()
		 WHERE id = $1 AND tenant_id = $2`, id, tenantID, role)
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status models.UserStatus) error {
	return s.tenantUpdate(ctx, tenantID, "update status",
		`UPDATE users SET status = $3, updated_at = now()
		 WHERE id = $1 AND tenant_id = $2`, id, tenantID, status)
}

func (s *PostgresStore) SetCustomRole(ctx context.Context, tenantID, id uuid.UUID, customRoleID *uuid.UUID) error {
	return s.tenantUpdate(ctx, tenantID, "set custom role",
		`UPDATE users SET custom_role_id = $3, updated_at = now()
		 WHERE id = $1 AND tenant_id = $2`, id, tenantID, customRoleID)
}

func (s *PostgresStore) bypassUpdate(ctx context.Context, op, sql string, args ...any) error {
	return s.gate.Bypass(ctx, func(tx pgx.Tx) error {
		return execOne(ctx, tx, op, sql, args...)
	})
}

func (s *PostgresStore) tenantUpdate(ctx context.Context, tenantID uuid.UUID, op, sql string, args ...any) error {
	return s.gate.Tenant(ctx, tenantID, func(tx pgx.Tx) error {
		return execOne(ctx, tx, op, sql, args...)
	})
}

func execOne(ctx context.Context, tx pgx.Tx, op, sql string, args ...any) error {
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
