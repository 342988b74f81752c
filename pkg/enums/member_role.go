package enums

import (
	"fmt"
	"strings"
)

// MemberRole is a store-level permission role. Roles are ordered: each one
// can do everything the roles below it can.
type MemberRole string

const (
	MemberRoleOwner    MemberRole = "owner"
	MemberRoleAdmin    MemberRole = "admin"
	MemberRoleOperator MemberRole = "operator"
	MemberRoleViewer   MemberRole = "viewer"
)

// memberRoleRank lists roles from most to least privileged.
var memberRoleRank = []MemberRole{MemberRoleOwner, MemberRoleAdmin, MemberRoleOperator, MemberRoleViewer}

func (m MemberRole) String() string { return string(m) }

func (m MemberRole) rank() int {
	for i, r := range memberRoleRank {
		if r == m {
			return len(memberRoleRank) - i
		}
	}
	return 0
}

func (m MemberRole) IsValid() bool { return m.rank() > 0 }

// AtLeast reports whether m is min or a more privileged role.
func (m MemberRole) AtLeast(min MemberRole) bool {
	return m.IsValid() && m.rank() >= min.rank()
}

// RolesAtLeast returns min and every role above it, most privileged first.
func RolesAtLeast(min MemberRole) []MemberRole {
	var out []MemberRole
	for _, r := range memberRoleRank {
		if r.AtLeast(min) {
			out = append(out, r)
		}
	}
	return out
}

// ParseMemberRole accepts a role name in any case.
func ParseMemberRole(value string) (MemberRole, error) {
	role := MemberRole(strings.ToLower(strings.TrimSpace(value)))
	if !role.IsValid() {
		return "", fmt.Errorf("invalid member role %q", value)
	}
	return role, nil
}
