package session

import "github.com/moneykeeper/authkit/internal/api"

// ExtractPermissionCodes unions permission codes from the three shapes the
// backend has historically used on the user profile:
//
//  1. a flat permissions list on the user, entries either plain strings or
//     objects carrying a codename;
//  2. role.permissions, same entry shapes, status ignored;
//  3. role.role_permissions join records, each contributing
//     permission.codename when present, plus the record's own bare codename
//     unless its status field is explicitly false.
//
// All three sources must stay: any deployed backend version may still answer
// with any of them. The asymmetric status handling between sources 2 and 3 is
// reproduced as-is from the upstream behaviour; see DESIGN.md before changing it.
func ExtractPermissionCodes(p *api.Profile) []string {
	if p == nil {
		return nil
	}

	set := make(map[string]struct{})
	addEntries(set, p.Permissions)

	if p.Role != nil {
		addEntries(set, p.Role.Permissions)
		for _, rec := range p.Role.RolePermissions {
			record, ok := rec.(map[string]any)
			if !ok {
				continue
			}
			if perm, ok := record["permission"].(map[string]any); ok {
				addCodename(set, perm["codename"])
			}
			if !statusIsFalse(record["status"]) {
				addCodename(set, record["codename"])
			}
		}
	}

	out := make([]string, 0, len(set))
	for code := range set {
		out = append(out, code)
	}
	return out
}

// addEntries handles the string-or-object entry shapes of sources 1 and 2.
func addEntries(set map[string]struct{}, entries []any) {
	for _, entry := range entries {
		switch v := entry.(type) {
		case string:
			if v != "" {
				set[v] = struct{}{}
			}
		case map[string]any:
			addCodename(set, v["codename"])
		}
	}
}

func addCodename(set map[string]struct{}, v any) {
	if code, ok := v.(string); ok && code != "" {
		set[code] = struct{}{}
	}
}

// statusIsFalse is true only for an explicit boolean false; absent, null or
// any other value counts as active.
func statusIsFalse(v any) bool {
	b, ok := v.(bool)
	return ok && !b
}
