package impersonation

import (
	"database/sql"
	"testing"
	"time"

	"github.com/flockhq/flock/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCanStartImpersonation(t *testing.T) {
	roles := []types.Role{types.RoleSuperAdmin, types.RoleChurchAdmin, types.RoleLeader, types.RoleMember}

	for _, actor := range roles {
		for _, target := range roles {
			want := actor == types.RoleSuperAdmin && target != types.RoleSuperAdmin
			assert.Equal(t, want, CanStartImpersonation(actor, target), "%s -> %s", actor, target)
		}
	}
}

func TestAuthorize(t *testing.T) {
	admin := &types.User{ID: uuid.New(), Role: types.RoleSuperAdmin}
	deleted := &types.User{ID: uuid.New(), Role: types.RoleMember, DeletedAt: sql.NullTime{Time: time.Now(), Valid: true}}

	tests := []struct {
		name    string
		actor   *types.User
		target  *types.User
		wantErr error
		wantMsg string
	}{
		{"member target", admin, &types.User{ID: uuid.New(), Role: types.RoleMember}, nil, ""},
		{"leader target", admin, &types.User{ID: uuid.New(), Role: types.RoleLeader}, nil, ""},
		{"church admin actor", &types.User{ID: uuid.New(), Role: types.RoleChurchAdmin}, &types.User{ID: uuid.New(), Role: types.RoleMember},
			types.ErrUnauthorized, "only super administrators can impersonate users"},
		{"self", admin, admin, types.ErrForbidden, "cannot impersonate yourself"},
		{"super admin target", admin, &types.User{ID: uuid.New(), Role: types.RoleSuperAdmin},
			types.ErrForbidden, "cannot impersonate another super administrator"},
		{"deleted target", admin, deleted, types.ErrNotFound, "target user not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(tt.actor, tt.target)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantMsg, err.Error())
		})
	}
}

func TestRedirectFor(t *testing.T) {
	church := types.NewNullUUID(uuid.New())

	assert.Equal(t, PathOnboarding, RedirectFor(&types.User{Role: types.RoleChurchAdmin}))
	assert.Equal(t, PathDashboard, RedirectFor(&types.User{Role: types.RoleChurchAdmin, ChurchID: church}))
	assert.Equal(t, PathDashboard, RedirectFor(&types.User{Role: types.RoleLeader, ChurchID: church}))
	assert.Equal(t, PathMemberApp, RedirectFor(&types.User{Role: types.RoleMember, ChurchID: church}))
}
