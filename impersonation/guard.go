package impersonation

import (
	"github.com/flockhq/flock/types"
)

// CanStartImpersonation reports whether a user of role actor may
// impersonate a user of role target.
func CanStartImpersonation(actor, target types.Role) bool {
	return actor.IsTopTier() && !target.IsTopTier()
}

// Authorize checks that actor may impersonate target.
func Authorize(actor, target *types.User) error {
	if !actor.Role.IsTopTier() {
		return fail(types.ErrUnauthorized, "only super administrators can impersonate users")
	}
	if actor.ID == target.ID {
		return fail(types.ErrForbidden, "cannot impersonate yourself")
	}
	if !CanStartImpersonation(actor.Role, target.Role) {
		return fail(types.ErrForbidden, "cannot impersonate another super administrator")
	}
	if !target.IsActive() {
		return fail(types.ErrNotFound, "target user not found")
	}
	return nil
}
