package impersonation

import (
	"net/http"
	"strings"

	"github.com/flockhq/flock/auth"
	"github.com/flockhq/flock/middleware"
	"github.com/flockhq/flock/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ActionTypeHTTPRequest is the action type recorded by AuditRequests.
const ActionTypeHTTPRequest = "http_request"

// Middleware validates the impersonation cookie and stores the session in
// the request context, where auth.EffectiveUserID and
// auth.GetImpersonationFromContext find it. It must run after the login
// session has been loaded.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := s.Current(w, r)
		if sess == nil {
			next.ServeHTTP(w, r)
			return
		}

		zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.
				Str("impersonation_session_id", sess.ID.String()).
				Str("impersonated_user_id", sess.TargetUserID.String())
		})
		next.ServeHTTP(w, r.WithContext(auth.WithImpersonation(r.Context(), sess)))
	})
}

// AuditRequests appends every state-changing request made while
// impersonating to the session's action log. Requests to the impersonation
// API itself are skipped since they are audited on their own. It must run
// after Middleware.
func (s *Service) AuditRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := auth.GetImpersonationFromContext(r.Context())
		if sess == nil || !isStateChanging(r.Method) || strings.HasPrefix(r.URL.Path, "/api/impersonation") {
			next.ServeHTTP(w, r)
			return
		}

		wrapped := middleware.NewStatusRecorder(w)
		next.ServeHTTP(wrapped, r)

		err := s.RecordAction(r.Context(), sess, types.ActionInput{
			Type:   ActionTypeHTTPRequest,
			Path:   r.URL.Path,
			Method: r.Method,
			Payload: map[string]interface{}{
				"status": wrapped.Status,
				"query":  r.URL.RawQuery,
			},
		})
		if err != nil {
			log.Error().Err(err).Str("session_id", sess.ID.String()).Str("path", r.URL.Path).Msg("Failed to audit impersonated request")
		}
	})
}

func isStateChanging(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}
