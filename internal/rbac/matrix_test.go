package rbac

import (
	"math/rand"
	"testing"
)

func TestRoleHierarchy(t *testing.T) {
	if !RoleSuperAdmin.IsTop() || RoleAdmin.IsTop() {
		t.Fatalf("only super_admin holds the top rank")
	}
	for _, r := range []Role{RoleSuperAdmin, RoleAdmin} {
		if r.Cloneable() {
			t.Fatalf("%s must not be cloneable", r)
		}
	}
	for _, r := range []Role{RoleManager, RoleOperator, RoleViewer} {
		if !r.Cloneable() {
			t.Fatalf("%s should be cloneable", r)
		}
	}
	if Role("owner").Cloneable() {
		t.Fatalf("unknown roles are not cloneable")
	}
	if !RoleAdmin.CanAssign(RoleManager) || RoleAdmin.CanAssign(RoleAdmin) || RoleManager.CanAssign(RoleAdmin) {
		t.Fatalf("assignment must require a strictly higher rank")
	}
}

func TestDefaultsAreNested(t *testing.T) {
	for i := 1; i < len(Roles); i++ {
		lower, higher := Defaults(Roles[i]), Defaults(Roles[i-1])
		if !lower.SubsetOf(higher) {
			t.Fatalf("%s defaults exceed %s defaults", Roles[i], Roles[i-1])
		}
	}
	if Defaults(RoleManager).Has(NewPermission(ModuleOrganizations, ActionDelete)) {
		t.Fatalf("manager must not delete organizations by default")
	}
}

func TestDefaultsReturnsCopy(t *testing.T) {
	d := Defaults(RoleViewer)
	d[NewPermission(ModuleRoles, ActionDelete)] = struct{}{}
	if Defaults(RoleViewer).Has(NewPermission(ModuleRoles, ActionDelete)) {
		t.Fatalf("mutating a defaults copy leaked into the matrix")
	}
}

func TestParsePermission(t *testing.T) {
	if p, ok := ParsePermission("farms:update"); !ok || p.Module() != ModuleFarms || p.Action() != ActionUpdate {
		t.Fatalf("unexpected parse %q %v", p, ok)
	}
	for _, bad := range []string{"farms", "farms:fly", "tractors:read", ""} {
		if _, ok := ParsePermission(bad); ok {
			t.Fatalf("%q should not parse", bad)
		}
	}
}

func TestCloneManagerDropsOrganizationDelete(t *testing.T) {
	orgDelete := NewPermission(ModuleOrganizations, ActionDelete)
	clamped := Clamp(RoleManager, []Override{{Permission: orgDelete, Allowed: true}})
	if len(clamped) != 0 {
		t.Fatalf("escalating override survived clamp: %v", clamped)
	}
	if Effective(RoleManager, []Override{{Permission: orgDelete, Allowed: true}}).Has(orgDelete) {
		t.Fatalf("effective set includes organizations:delete")
	}
}

func TestEffectiveAlwaysWithinBase(t *testing.T) {
	all := AllPermissions()
	rng := rand.New(rand.NewSource(1))
	for _, base := range []Role{RoleManager, RoleOperator, RoleViewer} {
		for trial := 0; trial < 200; trial++ {
			var overrides []Override
			for _, p := range all {
				if rng.Intn(2) == 0 {
					overrides = append(overrides, Override{Permission: p, Allowed: rng.Intn(2) == 0})
				}
			}
			if !Effective(base, overrides).SubsetOf(Defaults(base)) {
				t.Fatalf("effective set for %s escaped its base", base)
			}
			if !Effective(base, Clamp(base, overrides)).SubsetOf(Defaults(base)) {
				t.Fatalf("clamped set for %s escaped its base", base)
			}
		}
	}
}
