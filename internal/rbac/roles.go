// Package rbac holds the base role hierarchy, the default permission matrix
// and the resolver that computes a user's effective permission set.
package rbac

type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleOperator   Role = "operator"
	RoleViewer     Role = "viewer"
)

var ranks = map[Role]int{
	RoleSuperAdmin: 5,
	RoleAdmin:      4,
	RoleManager:    3,
	RoleOperator:   2,
	RoleViewer:     1,
}

// Roles lists the base roles from highest to lowest rank.
var Roles = []Role{RoleSuperAdmin, RoleAdmin, RoleManager, RoleOperator, RoleViewer}

func ParseRole(s string) (Role, bool) {
	r := Role(s)
	_, ok := ranks[r]
	return r, ok
}

// Rank is 0 for unknown roles.
func (r Role) Rank() int { return ranks[r] }

func (r Role) Valid() bool { return r.Rank() > 0 }

// IsTop reports whether r holds the highest hierarchy rank.
func (r Role) IsTop() bool { return r == RoleSuperAdmin }

// Cloneable reports whether tenants may build custom roles on r. The two
// highest ranks are excluded: an administrator may only clone roles it could
// itself assign.
func (r Role) Cloneable() bool {
	return r.Valid() && r.Rank() < RoleAdmin.Rank()
}

// CanAssign reports whether a user holding r may grant target to someone else.
func (r Role) CanAssign(target Role) bool {
	return target.Valid() && r.Rank() > target.Rank()
}
