package model

import "fmt"

// ErrCrossCompanyComparison is returned when two teams from different
// companies are compared. The original mixin this is ported from
// raises on such a comparison; Go has no operator overload to raise
// through, so Compare returns an error instead of panicking.
var ErrCrossCompanyComparison = fmt.Errorf("cannot compare two teams from different companies")

// Team is totally ordered by HierarchyIndex within a single company;
// comparing teams from different companies is a programming error.
type Team struct {
	ID             int
	Name           string
	HierarchyIndex int
	Company        Company
	Permissions    []Permission
}

// Compare returns -1, 0, or 1 as t orders before, equal to, or after
// other by HierarchyIndex. It errors if the teams belong to different
// companies.
func (t Team) Compare(other Team) (int, error) {
	if !t.Company.Equal(other.Company) {
		return 0, ErrCrossCompanyComparison
	}
	switch {
	case t.HierarchyIndex < other.HierarchyIndex:
		return -1, nil
	case t.HierarchyIndex > other.HierarchyIndex:
		return 1, nil
	default:
		return 0, nil
	}
}

// HasPermission returns true iff the team holds a permission of the
// same type with scope at least as broad as p.
func (t Team) HasPermission(p Permission) bool {
	for _, held := range t.Permissions {
		if held.Type == p.Type && held.Scope >= p.Scope {
			return true
		}
	}
	return false
}

func (t Team) ToJSON() map[string]any {
	return map[string]any{
		"id":              t.ID,
		"name":            t.Name,
		"hierarchy_index": t.HierarchyIndex,
		"company":         t.Company.ToJSON(),
	}
}
