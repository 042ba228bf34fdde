package permission

import (
	"testing"

	"github.com/doorforge/quotecontrol/internal/model"
)

func company(id int) model.Company { return model.Company{ID: id, Name: "co"} }

func team(companyID, hierarchy int, perms ...model.Permission) model.Team {
	return model.Team{ID: hierarchy, HierarchyIndex: hierarchy, Company: company(companyID), Permissions: perms}
}

func TestHasPermissionFor(t *testing.T) {
	owner := model.User{ID: 1, Teams: []model.Team{team(10, 5)}}

	t.Run("admin bypasses everything", func(t *testing.T) {
		admin := model.User{ID: 2, Admin: true}
		if !HasPermissionFor(admin, model.PermissionView, owner) {
			t.Error("expected admin to have permission")
		}
	})

	t.Run("universal permission grants regardless of company overlap", func(t *testing.T) {
		u := model.User{ID: 3, Teams: []model.Team{
			team(99, 1, model.Permission{Type: model.PermissionView, Scope: model.ScopeUniversal}),
		}}
		if !HasPermissionFor(u, model.PermissionView, owner) {
			t.Error("expected universal scope to grant permission")
		}
	})

	t.Run("no shared company denies", func(t *testing.T) {
		u := model.User{ID: 4, Teams: []model.Team{team(99, 1)}}
		if HasPermissionFor(u, model.PermissionView, owner) {
			t.Error("expected denial with no shared company")
		}
	})

	t.Run("company scope grants in shared company", func(t *testing.T) {
		u := model.User{ID: 5, Teams: []model.Team{
			team(10, 1, model.Permission{Type: model.PermissionView, Scope: model.ScopeCompany}),
		}}
		if !HasPermissionFor(u, model.PermissionView, owner) {
			t.Error("expected company scope to grant permission")
		}
	})

	t.Run("safe scope requires hierarchy at least the owner's", func(t *testing.T) {
		low := model.User{ID: 6, Teams: []model.Team{
			team(10, 2, model.Permission{Type: model.PermissionView, Scope: model.ScopeSafe}),
		}}
		if HasPermissionFor(low, model.PermissionView, owner) {
			t.Error("expected denial: hierarchy index below owner's")
		}

		high := model.User{ID: 7, Teams: []model.Team{
			team(10, 5, model.Permission{Type: model.PermissionView, Scope: model.ScopeSafe}),
		}}
		if !HasPermissionFor(high, model.PermissionView, owner) {
			t.Error("expected grant: hierarchy index at least the owner's")
		}
	})

	t.Run("wrong permission type does not grant", func(t *testing.T) {
		u := model.User{ID: 8, Teams: []model.Team{
			team(10, 9, model.Permission{Type: model.PermissionDelete, Scope: model.ScopeUniversal}),
		}}
		if HasPermissionFor(u, model.PermissionView, owner) {
			t.Error("expected denial: permission type mismatch")
		}
	})
}

func TestTeamHasPermission(t *testing.T) {
	tm := team(1, 0, model.Permission{Type: model.PermissionView, Scope: model.ScopeCompany})

	if !tm.HasPermission(model.Permission{Type: model.PermissionView, Scope: model.ScopeSafe}) {
		t.Error("company scope should satisfy a safe-scope request")
	}
	if tm.HasPermission(model.Permission{Type: model.PermissionView, Scope: model.ScopeUniversal}) {
		t.Error("company scope should not satisfy a universal-scope request")
	}
	if tm.HasPermission(model.Permission{Type: model.PermissionDelete, Scope: model.ScopeSafe}) {
		t.Error("mismatched type should not grant")
	}
}

func TestTeamCompareCrossCompany(t *testing.T) {
	a := team(1, 0)
	b := team(2, 0)
	if _, err := a.Compare(b); err != model.ErrCrossCompanyComparison {
		t.Errorf("expected ErrCrossCompanyComparison, got %v", err)
	}

	c := team(1, 5)
	cmp, err := a.Compare(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmp != -1 {
		t.Errorf("Compare = %d, want -1", cmp)
	}
}
