package types

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Common errors.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrUnauthorized    = errors.New("only super administrators can impersonate users")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("already impersonating a user; end the current session first")
	ErrBadRequest      = errors.New("bad request")
	ErrInternalServer  = errors.New("internal server error")

	// Impersonation session state.
	ErrTokenInvalid   = errors.New("invalid impersonation token")
	ErrSessionExpired = errors.New("impersonation session expired")
	ErrSessionEnded   = errors.New("impersonation session ended")

	// ErrStoreConflict is returned by the store when the one-active-session
	// per admin constraint rejects an insert.
	ErrStoreConflict = errors.New("store: active impersonation session already exists for admin")
)

// HTTPError represents an error that is surfaced to the user via HTTP.
type HTTPError struct {
	Code int    // HTTP response code to send to client; 0 means 500
	Msg  string // Response body to send to client
	Err  error  // Detailed error to log on the server
}

func (e HTTPError) Error() string {
	return fmt.Sprintf("http error[%d]: %s, %s", e.Code, e.Msg, e.Err)
}

func (e HTTPError) Unwrap() error {
	return e.Err
}

// NewHTTPError creates a new HTTPError.
func NewHTTPError(code int, msg string, err error) HTTPError {
	return HTTPError{Code: code, Msg: msg, Err: err}
}

// WriteHTTPError writes an HTTPError to the response writer.
func WriteHTTPError(w http.ResponseWriter, err error) {
	var herr HTTPError
	if errors.As(err, &herr) {
		code := herr.Code
		if code == 0 {
			code = http.StatusInternalServerError
		}
		http.Error(w, herr.Msg, code)
		log.Error().Err(herr.Err).Int("code", code).Msgf("user msg: %s", herr.Msg)
	} else {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		log.Error().Err(err).Int("code", http.StatusInternalServerError).Msg("http internal server error")
	}
}

// HTTPStatusFor maps an error of the taxonomy above to an HTTP status code.
func HTTPStatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrStoreConflict), errors.Is(err, ErrSessionEnded):
		return http.StatusConflict
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
