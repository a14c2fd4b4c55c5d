package rbac

import (
	"sort"
	"strings"
)

type Module string

const (
	ModuleOrganizations Module = "organizations"
	ModuleProducers     Module = "producers"
	ModuleFarms         Module = "farms"
	ModuleDocuments     Module = "documents"
	ModuleUsers         Module = "users"
	ModuleRoles         Module = "roles"
	ModuleAudit         Module = "audit"
)

type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

var (
	Modules = []Module{ModuleOrganizations, ModuleProducers, ModuleFarms, ModuleDocuments, ModuleUsers, ModuleRoles, ModuleAudit}
	Actions = []Action{ActionRead, ActionCreate, ActionUpdate, ActionDelete}
)

// Permission is a "module:action" pair.
type Permission string

func NewPermission(m Module, a Action) Permission {
	return Permission(string(m) + ":" + string(a))
}

func ParsePermission(s string) (Permission, bool) {
	m, a, ok := strings.Cut(s, ":")
	if !ok || !validModule(Module(m)) || !validAction(Action(a)) {
		return "", false
	}
	return NewPermission(Module(m), Action(a)), true
}

func (p Permission) Module() Module {
	m, _, _ := strings.Cut(string(p), ":")
	return Module(m)
}

func (p Permission) Action() Action {
	_, a, _ := strings.Cut(string(p), ":")
	return Action(a)
}

func validModule(m Module) bool {
	for _, x := range Modules {
		if x == m {
			return true
		}
	}
	return false
}

func validAction(a Action) bool {
	for _, x := range Actions {
		if x == a {
			return true
		}
	}
	return false
}

// AllPermissions enumerates every module/action pair.
func AllPermissions() []Permission {
	out := make([]Permission, 0, len(Modules)*len(Actions))
	for _, m := range Modules {
		for _, a := range Actions {
			out = append(out, NewPermission(m, a))
		}
	}
	return out
}

// Set is an effective permission set.
type Set map[Permission]struct{}

func NewSet(perms ...Permission) Set {
	s := make(Set, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

func (s Set) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Slice returns the permissions in sorted order.
func (s Set) Slice() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SubsetOf reports whether every member of s is in other.
func (s Set) SubsetOf(other Set) bool {
	for p := range s {
		if !other.Has(p) {
			return false
		}
	}
	return true
}

func grants(m Module, actions ...Action) []Permission {
	out := make([]Permission, 0, len(actions))
	for _, a := range actions {
		out = append(out, NewPermission(m, a))
	}
	return out
}

func union(groups ...[]Permission) Set {
	s := Set{}
	for _, g := range groups {
		for _, p := range g {
			s[p] = struct{}{}
		}
	}
	return s
}

var defaultMatrix = map[Role]Set{
	RoleSuperAdmin: NewSet(AllPermissions()...),
	RoleAdmin:      NewSet(AllPermissions()...),
	RoleManager: union(
		grants(ModuleOrganizations, ActionRead, ActionCreate, ActionUpdate),
		grants(ModuleProducers, Actions...),
		grants(ModuleFarms, Actions...),
		grants(ModuleDocuments, Actions...),
		grants(ModuleUsers, ActionRead, ActionCreate, ActionUpdate),
		grants(ModuleRoles, ActionRead),
		grants(ModuleAudit, ActionRead),
	),
	RoleOperator: union(
		grants(ModuleOrganizations, ActionRead),
		grants(ModuleProducers, ActionRead, ActionCreate, ActionUpdate),
		grants(ModuleFarms, ActionRead, ActionCreate, ActionUpdate),
		grants(ModuleDocuments, ActionRead, ActionCreate),
		grants(ModuleUsers, ActionRead),
	),
	RoleViewer: union(
		grants(ModuleOrganizations, ActionRead),
		grants(ModuleProducers, ActionRead),
		grants(ModuleFarms, ActionRead),
		grants(ModuleDocuments, ActionRead),
	),
}

// Defaults returns a copy of the base role's default grant set. Unknown roles
// get an empty set.
func Defaults(r Role) Set {
	src := defaultMatrix[r]
	out := make(Set, len(src))
	for p := range src {
		out[p] = struct{}{}
	}
	return out
}

// Override is a per-pair decision on a custom role.
type Override struct {
	Permission Permission `json:"permission"`
	Allowed    bool       `json:"allowed"`
}

// Clamp drops any grant that base does not hold by default. It is the single
// rule that keeps a cloned role inside its base role.
func Clamp(base Role, overrides []Override) []Override {
	defaults := Defaults(base)
	out := make([]Override, 0, len(overrides))
	for _, o := range overrides {
		if o.Allowed && !defaults.Has(o.Permission) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// Effective returns the allowed permissions of a custom role built on base,
// re-clamped against base's current defaults.
func Effective(base Role, overrides []Override) Set {
	defaults := Defaults(base)
	s := Set{}
	for _, o := range overrides {
		if o.Allowed && defaults.Has(o.Permission) {
			s[o.Permission] = struct{}{}
		}
	}
	return s
}
