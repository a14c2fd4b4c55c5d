// Package roles manages tenant-defined custom roles cloned from base roles.
package roles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/agroplatform/internal/apperr"
	"github.com/nikhilbhutani/agroplatform/internal/models"
	"github.com/nikhilbhutani/agroplatform/internal/rbac"
)

var (
	ErrNotFound  = errors.New("custom role not found")
	ErrNameTaken = errors.New("custom role name already exists in tenant")
)

const maxNameLength = 100

type Store interface {
	NameTaken(ctx context.Context, tenantID uuid.UUID, name string, exclude uuid.UUID) (bool, error)
	Create(ctx context.Context, role *models.CustomRole, overrides []rbac.Override) (*models.CustomRole, error)
	// Get returns active roles only.
	Get(ctx context.Context, tenantID, roleID uuid.UUID) (*models.CustomRole, []rbac.Override, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]Record, error)
	Update(ctx context.Context, tenantID, roleID uuid.UUID, name *string, changed []rbac.Override) error
	// Deactivate soft-deletes the role and detaches every user from it,
	// returning the detached user ids.
	Deactivate(ctx context.Context, tenantID, roleID uuid.UUID) ([]uuid.UUID, error)
}

// Invalidator drops cached permission sets. *rbac.Resolver satisfies it.
type Invalidator interface {
	InvalidateForRole(ctx context.Context, customRoleID uuid.UUID) error
	InvalidateUsers(ctx context.Context, userIDs []uuid.UUID) error
}

// Record is a stored role with its override rows.
type Record struct {
	Role      models.CustomRole
	Overrides []rbac.Override
}

// Role is the admin-facing view of a custom role.
type Role struct {
	models.CustomRole
	Permissions []rbac.Permission `json:"permissions"`
}

func newRole(r *models.CustomRole, overrides []rbac.Override) *Role {
	return &Role{
		CustomRole:  *r,
		Permissions: rbac.Effective(rbac.Role(r.BaseRole), overrides).Slice(),
	}
}

type Manager struct {
	store Store
	cache Invalidator
}

func NewManager(store Store, cache Invalidator) *Manager {
	return &Manager{store: store, cache: cache}
}

type CreateRequest struct {
	Name      string          `json:"name"`
	BaseRole  string          `json:"base_role"`
	Overrides []rbac.Override `json:"overrides,omitempty"`
}

// Create clones baseRole into a tenant role. Every module/action pair is
// snapshotted from the base defaults; supplied overrides may revoke defaults
// but any attempt to grant a pair the base role lacks is dropped.
func (m *Manager) Create(ctx context.Context, actor rbac.Role, tenantID uuid.UUID, req CreateRequest) (*Role, error) {
	name, err := normalizeName(req.Name)
	if err != nil {
		return nil, err
	}
	base, ok := rbac.ParseRole(req.BaseRole)
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("unknown base role %q", req.BaseRole))
	}
	if !base.Cloneable() {
		return nil, apperr.Unprocessable(fmt.Sprintf("role %s cannot be cloned", base))
	}
	if !actor.CanAssign(base) {
		return nil, apperr.Authorization(fmt.Sprintf("role %s is above what you can assign", base))
	}
	if err := validateOverrides(req.Overrides); err != nil {
		return nil, err
	}

	taken, err := m.store.NameTaken(ctx, tenantID, name, uuid.Nil)
	if err != nil {
		return nil, apperr.Unexpected(fmt.Errorf("check role name: %w", err))
	}
	if taken {
		return nil, nameConflict(name)
	}

	snapshot := snapshotOverrides(base, req.Overrides)
	created, err := m.store.Create(ctx, &models.CustomRole{
		TenantID: tenantID,
		Name:     name,
		BaseRole: string(base),
		IsActive: true,
	}, snapshot)
	if errors.Is(err, ErrNameTaken) {
		return nil, nameConflict(name)
	}
	if err != nil {
		return nil, apperr.Unexpected(fmt.Errorf("create custom role: %w", err))
	}
	return newRole(created, snapshot), nil
}

type UpdateRequest struct {
	Name      *string         `json:"name,omitempty"`
	Overrides []rbac.Override `json:"overrides,omitempty"`
}

// Update renames the role and/or applies override changes under the same
// per-pair rule as Create. Cached permission sets of the role's users are
// dropped whenever a grant changes.
func (m *Manager) Update(ctx context.Context, actor rbac.Role, tenantID, roleID uuid.UUID, req UpdateRequest) (*Role, error) {
	role, current, err := m.load(ctx, tenantID, roleID)
	if err != nil {
		return nil, err
	}
	base := rbac.Role(role.BaseRole)
	if !actor.CanAssign(base) {
		return nil, apperr.Authorization(fmt.Sprintf("role %s is above what you can assign", base))
	}
	if err := validateOverrides(req.Overrides); err != nil {
		return nil, err
	}

	var name *string
	if req.Name != nil {
		n, err := normalizeName(*req.Name)
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(n, role.Name) {
			taken, err := m.store.NameTaken(ctx, tenantID, n, roleID)
			if err != nil {
				return nil, apperr.Unexpected(fmt.Errorf("check role name: %w", err))
			}
			if taken {
				return nil, nameConflict(n)
			}
		}
		name = &n
	}

	changed := changedOverrides(base, current, req.Overrides)
	if name == nil && len(changed) == 0 {
		return newRole(role, current), nil
	}

	err = m.store.Update(ctx, tenantID, roleID, name, changed)
	if errors.Is(err, ErrNameTaken) {
		return nil, nameConflict(*name)
	}
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("custom role not found")
	}
	if err != nil {
		return nil, apperr.Unexpected(fmt.Errorf("update custom role: %w", err))
	}

	if len(changed) > 0 {
		if err := m.cache.InvalidateForRole(ctx, roleID); err != nil {
			return nil, apperr.Unexpected(err)
		}
	}

	if name != nil {
		role.Name = *name
	}
	return newRole(role, applyOverrides(current, changed)), nil
}

// Delete soft-deletes the role. Its users fall back to their static role.
func (m *Manager) Delete(ctx context.Context, actor rbac.Role, tenantID, roleID uuid.UUID) error {
	role, _, err := m.load(ctx, tenantID, roleID)
	if err != nil {
		return err
	}
	if !actor.CanAssign(rbac.Role(role.BaseRole)) {
		return apperr.Authorization(fmt.Sprintf("role %s is above what you can assign", role.BaseRole))
	}

	detached, err := m.store.Deactivate(ctx, tenantID, roleID)
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound("custom role not found")
	}
	if err != nil {
		return apperr.Unexpected(fmt.Errorf("deactivate custom role: %w", err))
	}
	if err := m.cache.InvalidateUsers(ctx, detached); err != nil {
		return apperr.Unexpected(err)
	}
	return nil
}

func (m *Manager) Get(ctx context.Context, tenantID, roleID uuid.UUID) (*Role, error) {
	role, overrides, err := m.load(ctx, tenantID, roleID)
	if err != nil {
		return nil, err
	}
	return newRole(role, overrides), nil
}

func (m *Manager) List(ctx context.Context, tenantID uuid.UUID) ([]Role, error) {
	records, err := m.store.List(ctx, tenantID)
	if err != nil {
		return nil, apperr.Unexpected(fmt.Errorf("list custom roles: %w", err))
	}
	out := make([]Role, 0, len(records))
	for i := range records {
		out = append(out, *newRole(&records[i].Role, records[i].Overrides))
	}
	return out, nil
}

func (m *Manager) load(ctx context.Context, tenantID, roleID uuid.UUID) (*models.CustomRole, []rbac.Override, error) {
	role, overrides, err := m.store.Get(ctx, tenantID, roleID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, apperr.NotFound("custom role not found")
	}
	if err != nil {
		return nil, nil, apperr.Unexpected(fmt.Errorf("get custom role: %w", err))
	}
	return role, overrides, nil
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Validation("role name is required")
	}
	if len(name) > maxNameLength {
		return "", apperr.Validation(fmt.Sprintf("role name must be at most %d characters", maxNameLength))
	}
	return name, nil
}

func nameConflict(name string) error {
	return apperr.Conflict(fmt.Sprintf("a role named %q already exists", name))
}

func validateOverrides(overrides []rbac.Override) error {
	for _, o := range overrides {
		if _, ok := rbac.ParsePermission(string(o.Permission)); !ok {
			return apperr.Validation(fmt.Sprintf("unknown permission %q", o.Permission))
		}
	}
	return nil
}

// snapshotOverrides returns one row per module/action pair.
func snapshotOverrides(base rbac.Role, requested []rbac.Override) []rbac.Override {
	defaults := rbac.Defaults(base)
	supplied := make(map[rbac.Permission]bool, len(requested))
	for _, o := range rbac.Clamp(base, requested) {
		supplied[o.Permission] = o.Allowed
	}

	all := rbac.AllPermissions()
	out := make([]rbac.Override, 0, len(all))
	for _, p := range all {
		allowed := defaults.Has(p)
		if v, ok := supplied[p]; ok {
			allowed = v
		}
		out = append(out, rbac.Override{Permission: p, Allowed: allowed})
	}
	return out
}

// changedOverrides filters requested down to the admissible entries that
// differ from current.
func changedOverrides(base rbac.Role, current, requested []rbac.Override) []rbac.Override {
	state := make(map[rbac.Permission]bool, len(current))
	for _, o := range current {
		state[o.Permission] = o.Allowed
	}

	var out []rbac.Override
	seen := map[rbac.Permission]bool{}
	for _, o := range rbac.Clamp(base, requested) {
		if seen[o.Permission] {
			continue
		}
		seen[o.Permission] = true
		if was, ok := state[o.Permission]; ok && was == o.Allowed {
			continue
		}
		out = append(out, o)
	}
	return out
}

func applyOverrides(current, changed []rbac.Override) []rbac.Override {
	idx := make(map[rbac.Permission]int, len(current))
	out := append([]rbac.Override(nil), current...)
	for i, o := range out {
		idx[o.Permission] = i
	}
	for _, o := range changed {
		if i, ok := idx[o.Permission]; ok {
			out[i].Allowed = o.Allowed
			continue
		}
		out = append(out, o)
	}
	return out
}
