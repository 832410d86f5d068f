package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/flockhq/flock/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Recovery returns a middleware that turns handler panics into 500s.
func Recovery() func(http.Handler) http.Handler {
	return RecoveryWithLogger(log.Logger)
}

// RecoveryWithLogger is Recovery logging to logger. http.ErrAbortHandler is
// re-raised so net/http can abort the connection.
func RecoveryWithLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := NewStatusRecorder(w)
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(v)
				}

				logger.Error().
					Interface("panic", v).
					Str("method", r.Method).
					Str("route", routeTemplate(r)).
					Str("remote_addr", r.RemoteAddr).
					Bool("headers_sent", rec.wroteHeader).
					Bytes("stack", debug.Stack()).
					Msg("Panic recovered")

				// Too late for an error body once the handler has started the response.
				if !rec.wroteHeader {
					types.WriteHTTPError(rec, types.ErrInternalServer)
				}
			}()

			next.ServeHTTP(rec, r)
		})
	}
}
