package impersonation

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flockhq/flock/auth"
	"github.com/flockhq/flock/types"
	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginCookieName = "flock_session"

type httpEnv struct {
	*testEnv
	router *mux.Router
	sm     *auth.SessionMiddleware
}

func newHTTPEnv(t *testing.T) *httpEnv {
	t.Helper()
	env := newTestEnv(t)

	store := sessions.NewCookieStore([]byte("0123456789abcdef0123456789abcdef"), []byte("abcdef0123456789abcdef0123456789"))
	sm := auth.NewSessionMiddleware(store, loginCookieName, env.db)

	router := mux.NewRouter()
	NewHandlers(env.svc, sm, env.db).RegisterRoutes(router)

	// An application route acting on the effective user.
	app := router.PathPrefix("/api/events").Subrouter()
	app.Use(sm.RequireAuth, env.svc.Middleware, env.svc.AuditRequests)
	app.HandleFunc("", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Effective-User", auth.EffectiveUserID(r.Context()).String())
		w.Header().Set("X-Actor", auth.GetActorIDForAudit(r.Context()).String())
		w.WriteHeader(http.StatusCreated)
	}).Methods(http.MethodGet, http.MethodPost)

	return &httpEnv{testEnv: env, router: router, sm: sm}
}

// client holds the cookies of one browser.
type client struct {
	env     *httpEnv
	cookies map[string]*http.Cookie
}

func (e *httpEnv) login(t *testing.T, user *types.User) *client {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	require.NoError(t, e.sm.Login(rec, req, user))

	c := &client{env: e, cookies: map[string]*http.Cookie{}}
	c.absorb(rec)
	return c
}

func (c *client) absorb(rec *httptest.ResponseRecorder) {
	for _, ck := range rec.Result().Cookies() {
		if ck.MaxAge < 0 {
			delete(c.cookies, ck.Name)
			continue
		}
		c.cookies[ck.Name] = ck
	}
}

func (c *client) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for _, ck := range c.cookies {
		req.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
	}

	rec := httptest.NewRecorder()
	c.env.router.ServeHTTP(rec, req)
	c.absorb(rec)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHandlersStartStatusEnd(t *testing.T) {
	env := newHTTPEnv(t)
	admin := env.login(t, env.admin)

	rec := admin.do(t, http.MethodGet, "/api/impersonation/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[types.ImpersonationStatusResponse](t, rec).Active)

	rec = admin.do(t, http.MethodPost, "/api/impersonation/start", types.ImpersonationStartRequest{
		TargetUserID: env.pastor.ID.String(),
		Reason:       "support ticket #123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	started := decode[types.ImpersonationStartResult](t, rec)
	assert.True(t, started.Success)
	assert.Equal(t, PathDashboard, started.RedirectTo)
	assert.Contains(t, admin.cookies, DefaultCookieName)
	assert.NotContains(t, rec.Body.String(), admin.cookies[DefaultCookieName].Value, "token must not appear in the body")

	rec = admin.do(t, http.MethodGet, "/api/impersonation/status", nil)
	status := decode[types.ImpersonationStatusResponse](t, rec)
	require.True(t, status.Active)
	assert.Equal(t, env.pastor.Email, status.Impersonation.TargetUserEmail)

	rec = admin.do(t, http.MethodPost, "/api/impersonation/start", types.ImpersonationStartRequest{
		TargetUserID: env.member.ID.String(),
		Reason:       "second",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	conflict := decode[types.ImpersonationStartResult](t, rec)
	assert.False(t, conflict.Success)
	assert.Equal(t, "already impersonating a user; end the current session first", conflict.Error)

	rec = admin.do(t, http.MethodPost, "/api/impersonation/end", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[types.ImpersonationEndResult](t, rec).Success)
	assert.NotContains(t, admin.cookies, DefaultCookieName)

	rec = admin.do(t, http.MethodPost, "/api/impersonation/end", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not currently impersonating", decode[types.ImpersonationEndResult](t, rec).Error)
}

func TestHandlersStartStatusCodes(t *testing.T) {
	env := newHTTPEnv(t)

	rec := env.login(t, env.pastor).do(t, http.MethodPost, "/api/impersonation/start", types.ImpersonationStartRequest{
		TargetUserID: env.member.ID.String(),
		Reason:       "ticket",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "only super administrators can impersonate users", decode[types.ImpersonationStartResult](t, rec).Error)

	admin := env.login(t, env.admin)
	rec = admin.do(t, http.MethodPost, "/api/impersonation/start", types.ImpersonationStartRequest{
		TargetUserID: env.admin2.ID.String(),
		Reason:       "ticket",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = admin.do(t, http.MethodPost, "/api/impersonation/start", types.ImpersonationStartRequest{
		TargetUserID: env.member.ID.String(),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	anonymous := &client{env: env, cookies: map[string]*http.Cookie{}}
	rec = anonymous.do(t, http.MethodPost, "/api/impersonation/start", types.ImpersonationStartRequest{
		TargetUserID: env.member.ID.String(),
		Reason:       "ticket",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlersEffectiveUserAndAudit(t *testing.T) {
	env := newHTTPEnv(t)
	admin := env.login(t, env.admin)

	rec := admin.do(t, http.MethodPost, "/api/impersonation/start", types.ImpersonationStartRequest{
		TargetUserID: env.member.ID.String(),
		Reason:       "ticket",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	sessionID := decode[types.ImpersonationStartResult](t, rec).Session.SessionID

	rec = admin.do(t, http.MethodPost, "/api/events", map[string]string{"title": "Easter"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, env.member.ID.String(), rec.Header().Get("X-Effective-User"))
	assert.Equal(t, env.admin.ID.String(), rec.Header().Get("X-Actor"))

	// Reads are not recorded.
	rec = admin.do(t, http.MethodGet, "/api/events", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	actions, err := env.db.ListActions(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionTypeHTTPRequest, actions[0].ActionType)
	assert.Equal(t, "/api/events", actions[0].ActionPath)
	assert.EqualValues(t, http.StatusCreated, actions[0].ActionPayload["status"])

	rec = admin.do(t, http.MethodGet, "/api/impersonation/sessions/"+sessionID.String()+"/actions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[types.ImpersonationActionsResponse](t, rec)
	assert.EqualValues(t, 1, resp.Session.ActionsCount)
	assert.Len(t, resp.Actions, 1)

	// Once the deadline passes the same request runs as the admin.
	env.clock.Advance(types.ImpersonationTTL + time.Second)
	rec = admin.do(t, http.MethodPost, "/api/events", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, env.admin.ID.String(), rec.Header().Get("X-Effective-User"))
	assert.NotContains(t, admin.cookies, DefaultCookieName)
}

func TestHandlersConsole(t *testing.T) {
	env := newHTTPEnv(t)
	admin := env.login(t, env.admin)
	ops := env.login(t, env.admin2)

	rec := admin.do(t, http.MethodPost, "/api/impersonation/start", types.ImpersonationStartRequest{
		TargetUserID: env.member.ID.String(),
		Reason:       "ticket",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	sessionID := decode[types.ImpersonationStartResult](t, rec).Session.SessionID

	rec = env.login(t, env.pastor).do(t, http.MethodGet, "/api/impersonation/sessions", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ops.do(t, http.MethodGet, "/api/impersonation/sessions?open=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[types.ImpersonationSessionsResponse](t, rec)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, sessionID, list.Sessions[0].ID)
	assert.NotContains(t, rec.Body.String(), "session_token")

	rec = ops.do(t, http.MethodGet, "/api/impersonation/sessions?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ops.do(t, http.MethodGet, "/api/impersonation/sessions/not-a-uuid/actions", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ops.do(t, http.MethodDelete, "/api/impersonation/sessions/"+sessionID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sess, err := env.db.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, types.EndReasonForced, sess.EndReason)

	// The impersonating admin's next read drops the cookie.
	rec = admin.do(t, http.MethodGet, "/api/impersonation/status", nil)
	assert.False(t, decode[types.ImpersonationStatusResponse](t, rec).Active)
	assert.NotContains(t, admin.cookies, DefaultCookieName)
}

func TestHandlersLogoutEndsImpersonation(t *testing.T) {
	env := newHTTPEnv(t)
	admin := env.login(t, env.admin)

	rec := admin.do(t, http.MethodPost, "/api/impersonation/start", types.ImpersonationStartRequest{
		TargetUserID: env.member.ID.String(),
		Reason:       "ticket",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	sessionID := decode[types.ImpersonationStartResult](t, rec).Session.SessionID

	rec = admin.do(t, http.MethodPost, "/api/auth/logout", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, admin.cookies)

	sess, err := env.db.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, types.EndReasonAdminLogout, sess.EndReason)

	rec = admin.do(t, http.MethodGet, "/api/impersonation/status", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
