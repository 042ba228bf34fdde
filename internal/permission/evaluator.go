// Package permission implements the three-scope permission evaluator:
// safe < company < universal, gated by cross-company team membership
// and team hierarchy. Grounded on Common/team.py's has_permission and
// the seven-step algorithm named in the component design.
package permission

import "github.com/doorforge/quotecontrol/internal/model"

// HasPermissionFor implements user.has_permission_for(type, resource):
//  1. admins bypass every check.
//  2. shared = user's companies ∩ resource owner's companies.
//  3. any team with (type, universal) → true.
//  4. no shared company → false.
//  5. any team in a shared company with (type, company) → true.
//  6. any team in a shared company, whose hierarchy index is at least
//     the owner's highest team's in that company, with (type, safe) →
//     true.
//  7. otherwise false.
func HasPermissionFor(user model.User, ptype model.PermissionType, owner model.User) bool {
	if user.Admin {
		return true
	}

	if hasAny(user, model.Permission{Type: ptype, Scope: model.ScopeUniversal}) {
		return true
	}

	shared := sharedCompanies(user, owner)
	if len(shared) == 0 {
		return false
	}

	for _, companyID := range shared {
		for _, t := range user.TeamsInCompany(companyID) {
			if t.HasPermission(model.Permission{Type: ptype, Scope: model.ScopeCompany}) {
				return true
			}
		}
	}

	for _, companyID := range shared {
		ownerHighest, ok := owner.HighestHierarchyIndex(companyID)
		if !ok {
			continue
		}
		for _, t := range user.TeamsInCompany(companyID) {
			if t.HierarchyIndex < ownerHighest {
				continue
			}
			if t.HasPermission(model.Permission{Type: ptype, Scope: model.ScopeSafe}) {
				return true
			}
		}
	}

	return false
}

func hasAny(user model.User, p model.Permission) bool {
	for _, t := range user.Teams {
		if t.HasPermission(p) {
			return true
		}
	}
	return false
}

// sharedCompanies returns the ids of companies both users have a team
// membership in.
func sharedCompanies(a, b model.User) []int {
	bCompanies := make(map[int]bool)
	for _, c := range b.Companies() {
		bCompanies[c.ID] = true
	}
	var out []int
	seen := make(map[int]bool)
	for _, c := range a.Companies() {
		if bCompanies[c.ID] && !seen[c.ID] {
			seen[c.ID] = true
			out = append(out, c.ID)
		}
	}
	return out
}
