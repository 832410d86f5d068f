package impersonation

import "github.com/flockhq/flock/types"

// Landing paths after an impersonation starts.
const (
	PathDashboard  = "/dashboard"
	PathMemberApp  = "/app"
	PathOnboarding = "/onboarding"
)

// RedirectFor returns where the operator lands once impersonating target.
func RedirectFor(target *types.User) string {
	if !target.HasChurch() {
		return PathOnboarding
	}
	switch target.Role {
	case types.RoleChurchAdmin, types.RoleLeader:
		return PathDashboard
	default:
		return PathMemberApp
	}
}
