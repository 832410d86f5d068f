package impersonation

import (
	"errors"

	"github.com/flockhq/flock/types"
)

// Error is a failure whose message is safe to show to the operator.
// Kind is one of the types.Err* sentinels.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func fail(kind error, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// publicMessage returns the operator-facing text for err.
func publicMessage(err error, fallback string) string {
	var ierr *Error
	if errors.As(err, &ierr) {
		return ierr.Msg
	}
	return fallback
}

var (
	errNotImpersonating = fail(types.ErrSessionEnded, "not currently impersonating")
	errConflict         = fail(types.ErrConflict, types.ErrConflict.Error())
)
