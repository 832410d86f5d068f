// Package auth resolves the logged-in caller from the login session cookie
// and carries identity and impersonation state through request contexts.
package auth

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/flockhq/flock/types"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	// ContextKeyUser is the context key for the authenticated user.
	ContextKeyUser ContextKey = "user"
	// ContextKeyImpersonation is the context key for the validated
	// impersonation session.
	ContextKeyImpersonation ContextKey = "impersonation_session"
)

// Login session value keys.
const (
	sessionKeyLogged = "logged"
	sessionKeyUserID = "user_id"
)

// UserStore is the interface for user lookups.
type UserStore interface {
	GetUserByID(ctx context.Context, userID uuid.UUID) (*types.User, error)
}

// AuditLogger is the interface for the general admin-action audit log.
type AuditLogger interface {
	CreateAuditLog(ctx context.Context, log *types.AuditLog) error
}

// SessionMiddleware provides login-session authentication middleware.
type SessionMiddleware struct {
	sessionStore sessions.Store
	cookieName   string
	userStore    UserStore
}

// NewSessionMiddleware creates a new session middleware.
func NewSessionMiddleware(sessionStore sessions.Store, cookieName string, userStore UserStore) *SessionMiddleware {
	return &SessionMiddleware{
		sessionStore: sessionStore,
		cookieName:   cookieName,
		userStore:    userStore,
	}
}

// Authenticate validates the login session and returns the user, or an error.
func (m *SessionMiddleware) Authenticate(r *http.Request) (*types.User, error) {
	session, err := m.sessionStore.Get(r, m.cookieName)
	if err != nil {
		return nil, types.NewHTTPError(http.StatusUnauthorized, "Invalid session", err)
	}

	logged, ok := session.Values[sessionKeyLogged].(bool)
	if !ok || !logged {
		log.Debug().
			Str("path", r.URL.Path).
			Msg("Authentication required")
		return nil, types.NewHTTPError(http.StatusUnauthorized, "Authentication required", types.ErrUnauthenticated)
	}

	userIDStr, ok := session.Values[sessionKeyUserID].(string)
	if !ok {
		return nil, types.NewHTTPError(http.StatusUnauthorized, "Invalid session", types.ErrUnauthenticated)
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, types.NewHTTPError(http.StatusUnauthorized, "Invalid user ID in session", err)
	}

	user, err := m.userStore.GetUserByID(r.Context(), userID)
	if err != nil {
		return nil, types.NewHTTPError(http.StatusUnauthorized, "User not found", err)
	}

	return user, nil
}

// Login marks the login session as belonging to user.
func (m *SessionMiddleware) Login(w http.ResponseWriter, r *http.Request, user *types.User) error {
	session, err := m.sessionStore.Get(r, m.cookieName)
	if err != nil && session == nil {
		return err
	}
	session.Values[sessionKeyLogged] = true
	session.Values[sessionKeyUserID] = user.ID.String()
	return session.Save(r, w)
}

// Logout clears the login session.
func (m *SessionMiddleware) Logout(w http.ResponseWriter, r *http.Request) error {
	session, err := m.sessionStore.Get(r, m.cookieName)
	if err != nil && session == nil {
		return err
	}
	delete(session.Values, sessionKeyLogged)
	delete(session.Values, sessionKeyUserID)
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// RequireAuth returns middleware that requires authentication.
func (m *SessionMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.Authenticate(r)
		if err != nil {
			types.WriteHTTPError(w, err)
			return
		}

		annotateLogger(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// LoadUser attaches the logged-in user to the context when there is one and
// passes anonymous requests through unchanged.
func (m *SessionMiddleware) LoadUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.Authenticate(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		annotateLogger(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func annotateLogger(ctx context.Context, user *types.User) {
	zerolog.Ctx(ctx).UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Str("user_id", user.ID.String())
	})
}

// RequireTopTier returns middleware that requires the caller to be a super
// administrator. It must run after RequireAuth.
func RequireTopTier(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := GetUserFromContext(r.Context())
		if user == nil {
			types.WriteHTTPError(w, types.NewHTTPError(http.StatusUnauthorized, "Authentication required", types.ErrUnauthenticated))
			return
		}
		if !user.Role.IsTopTier() {
			log.Error().
				Str("user_id", user.ID.String()).
				Str("email", user.Email).
				Str("path", r.URL.Path).
				Msg("User is not a super admin")
			types.WriteHTTPError(w, types.NewHTTPError(http.StatusForbidden, "Super admin privileges required", types.ErrUnauthorized))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithUser returns a context carrying the authenticated user.
func WithUser(ctx context.Context, user *types.User) context.Context {
	return context.WithValue(ctx, ContextKeyUser, user)
}

// GetUserFromContext retrieves the user from the request context.
func GetUserFromContext(ctx context.Context) *types.User {
	user, ok := ctx.Value(ContextKeyUser).(*types.User)
	if !ok {
		return nil
	}
	return user
}

// WithImpersonation returns a context carrying a validated session.
func WithImpersonation(ctx context.Context, sess *types.ImpersonationSession) context.Context {
	return context.WithValue(ctx, ContextKeyImpersonation, sess)
}

// GetImpersonationFromContext returns the validated impersonation session,
// or nil when the request is not impersonating.
func GetImpersonationFromContext(ctx context.Context) *types.ImpersonationSession {
	sess, ok := ctx.Value(ContextKeyImpersonation).(*types.ImpersonationSession)
	if !ok {
		return nil
	}
	return sess
}

// EffectiveUserID returns the user whose data the request acts on: the
// impersonation target when impersonating, otherwise the caller.
func EffectiveUserID(ctx context.Context) uuid.UUID {
	if sess := GetImpersonationFromContext(ctx); sess != nil {
		return sess.TargetUserID
	}
	if user := GetUserFromContext(ctx); user != nil {
		return user.ID
	}
	return uuid.Nil
}

// GetActorIDForAudit returns the user ID to record as actor.
// While impersonating this is always the admin.
func GetActorIDForAudit(ctx context.Context) uuid.UUID {
	if sess := GetImpersonationFromContext(ctx); sess != nil {
		return sess.AdminID
	}
	if user := GetUserFromContext(ctx); user != nil {
		return user.ID
	}
	return uuid.Nil
}

// NewAuditLogWithContext creates an audit log with automatic impersonation handling.
func NewAuditLogWithContext(ctx context.Context, action, resourceType, resourceID string) *types.AuditLog {
	actorID := types.NewNullUUID(GetActorIDForAudit(ctx))
	auditLog := types.NewAuditLog(&actorID, action, resourceType, resourceID)

	if sess := GetImpersonationFromContext(ctx); sess != nil {
		auditLog.WithChanges(map[string]interface{}{
			"_impersonation": map[string]interface{}{
				"session_id":              sess.ID.String(),
				"impersonated_user_id":    sess.TargetUserID.String(),
				"impersonated_user_email": sess.TargetUserEmail,
				"performed_by_admin_id":   sess.AdminID.String(),
			},
		})
	}

	return auditLog
}

// GetClientIP extracts the client IP address from the request.
func GetClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first (for proxied requests)
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}

	realIP := r.Header.Get("X-Real-IP")
	if realIP != "" {
		return realIP
	}

	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}
