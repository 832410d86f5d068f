package middleware

import (
	"net/http"
	"time"

	"github.com/flockhq/flock/auth"
	"github.com/rs/zerolog"
)

// Logging returns a middleware that logs HTTP requests using zerolog.
//
// A request-scoped logger is stored in the context. Inner handlers enrich
// it with zerolog.Ctx(ctx).UpdateContext, and those fields (caller and
// impersonation identities) appear on the access log line.
func Logging(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := logger.With().Logger().WithContext(r.Context())
			reqLogger := zerolog.Ctx(ctx)

			wrapped := NewStatusRecorder(w)
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			var event *zerolog.Event
			switch {
			case wrapped.Status >= 500:
				event = reqLogger.Error()
			case wrapped.Status >= 400:
				event = reqLogger.Warn()
			default:
				event = reqLogger.Debug()
			}

			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.Status).
				Dur("duration", time.Since(start)).
				Str("remote_addr", auth.GetClientIP(r)).
				Str("user_agent", r.UserAgent()).
				Msg("HTTP request")
		})
	}
}
