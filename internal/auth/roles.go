package auth

import "strings"

// Role is the kitchen-safety actor a token speaks for.
type Role string

const (
	// RoleObserver watches the dashboard and reads alerts.
	RoleObserver Role = "observer"
	// RoleAttendant works the line and may force a burner zone lit.
	RoleAttendant Role = "attendant"
	// RoleSafetyOfficer owns the zone layout and escalation thresholds.
	RoleSafetyOfficer Role = "safety_officer"
)

var roleRanks = map[Role]int{
	RoleObserver:      1,
	RoleAttendant:     2,
	RoleSafetyOfficer: 3,
}

// NormalizeRole maps a claim such as "Safety-Officer" onto a known role.
func NormalizeRole(value string) (Role, bool) {
	role := Role(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_"))
	if _, ok := roleRanks[role]; !ok {
		return "", false
	}
	return role, true
}

// RoleAtLeast reports whether role carries the privileges of required.
func RoleAtLeast(role Role, required Role) bool {
	return roleRanks[role] >= roleRanks[required]
}
