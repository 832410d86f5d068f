package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flockhq/flock/types"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memUsers map[uuid.UUID]*types.User

func (m memUsers) GetUserByID(_ context.Context, id uuid.UUID) (*types.User, error) {
	if u, ok := m[id]; ok {
		return u, nil
	}
	return nil, types.ErrNotFound
}

func newTestMiddleware(users memUsers) *SessionMiddleware {
	store := sessions.NewCookieStore([]byte("0123456789abcdef0123456789abcdef"))
	return NewSessionMiddleware(store, "flock_session", users)
}

func loginCookies(t *testing.T, m *SessionMiddleware, user *types.User) []*http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	require.NoError(t, m.Login(rec, httptest.NewRequest(http.MethodPost, "/login", nil), user))
	return rec.Result().Cookies()
}

func TestRequireAuth(t *testing.T) {
	admin := &types.User{ID: uuid.New(), Email: "root@flock.test", Role: types.RoleSuperAdmin}
	m := newTestMiddleware(memUsers{admin.ID: admin})

	var seen *types.User
	h := m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, seen)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range loginCookies(t, m, admin) {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, admin.ID, seen.ID)
}

func TestRequireAuthUnknownUser(t *testing.T) {
	ghost := &types.User{ID: uuid.New(), Role: types.RoleMember}
	m := newTestMiddleware(memUsers{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range loginCookies(t, m, ghost) {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	m.RequireAuth(http.NotFoundHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoadUserPassesAnonymousRequests(t *testing.T) {
	m := newTestMiddleware(memUsers{})

	called := false
	h := m.LoadUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Nil(t, GetUserFromContext(r.Context()))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}

func TestRequireTopTier(t *testing.T) {
	h := RequireTopTier(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	tests := []struct {
		name string
		user *types.User
		want int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"member", &types.User{ID: uuid.New(), Role: types.RoleMember}, http.StatusForbidden},
		{"church admin", &types.User{ID: uuid.New(), Role: types.RoleChurchAdmin}, http.StatusForbidden},
		{"super admin", &types.User{ID: uuid.New(), Role: types.RoleSuperAdmin}, http.StatusTeapot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.user != nil {
				req = req.WithContext(WithUser(req.Context(), tt.user))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestEffectiveAndActorIDs(t *testing.T) {
	admin := &types.User{ID: uuid.New(), Role: types.RoleSuperAdmin}
	target := uuid.New()
	ctx := WithUser(context.Background(), admin)

	assert.Equal(t, admin.ID, EffectiveUserID(ctx))
	assert.Equal(t, admin.ID, GetActorIDForAudit(ctx))
	assert.Equal(t, uuid.Nil, EffectiveUserID(context.Background()))

	sess := &types.ImpersonationSession{ID: uuid.New(), AdminID: admin.ID, TargetUserID: target, TargetUserEmail: "member@grace.test"}
	ctx = WithImpersonation(ctx, sess)
	assert.Equal(t, target, EffectiveUserID(ctx))
	assert.Equal(t, admin.ID, GetActorIDForAudit(ctx))

	entry := NewAuditLogWithContext(ctx, "event.created", "event", "42")
	assert.Equal(t, admin.ID, entry.ActorUserID.UUID)
	imp, ok := entry.Changes["_impersonation"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, sess.ID.String(), imp["session_id"])
	assert.Equal(t, target.String(), imp["impersonated_user_id"])
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:4242"
	assert.Equal(t, "198.51.100.4", GetClientIP(req))

	req.Header.Set("X-Real-IP", "192.0.2.9")
	assert.Equal(t, "192.0.2.9", GetClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", GetClientIP(req))
}
