package impersonation

import (
	"errors"
	"net/http"

	"github.com/flockhq/flock/auth"
	"github.com/flockhq/flock/token"
	"github.com/flockhq/flock/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Current returns the active impersonation session carried by r, or nil.
//
// Every failure is absorbed: a bad or stale cookie is cleared on w and the
// request proceeds as not impersonating. Sessions found past their deadline
// are closed with reason expired as a side effect. w may be nil when the
// caller cannot write headers; the cookie is then left in place.
func (s *Service) Current(w http.ResponseWriter, r *http.Request) *types.ImpersonationSession {
	raw, ok := s.readCookie(r)
	if !ok {
		return nil
	}

	ctx := r.Context()
	logger := log.With().Str("ip", auth.GetClientIP(r)).Logger()

	claims, err := s.codec.Verify(raw)
	if err != nil {
		if claims != nil && errors.Is(err, token.ErrTokenExpired) {
			// Authentic but past its deadline: close the row too, once the
			// stored deadline agrees.
			validationFailures.WithLabelValues(causeTokenExpired).Inc()
			s.expireStale(r, claims.SessionID, logger)
		} else {
			validationFailures.WithLabelValues(causeTokenInvalid).Inc()
			logger.Debug().Err(err).Msg("Rejected impersonation cookie")
		}
		s.clearCookie(w)
		return nil
	}

	sess, err := s.store.FindActiveSession(ctx, claims.SessionID)
	if err != nil {
		// Transient store failure; keep the cookie so the next request can retry.
		validationFailures.WithLabelValues(causeStoreError).Inc()
		logger.Error().Err(err).Str("session_id", claims.SessionID.String()).Msg("Failed to load impersonation session")
		return nil
	}
	if sess == nil {
		validationFailures.WithLabelValues(causeSessionMissing).Inc()
		s.clearCookie(w)
		return nil
	}

	if sess.AdminID != claims.AdminID || sess.TargetUserID != claims.TargetUserID {
		validationFailures.WithLabelValues(causeClaimsMismatch).Inc()
		logger.Warn().Str("session_id", sess.ID.String()).Msg("Impersonation cookie claims do not match stored session")
		s.clearCookie(w)
		return nil
	}

	if caller := auth.GetUserFromContext(ctx); caller != nil && caller.ID != sess.AdminID {
		validationFailures.WithLabelValues(causeCallerMismatch).Inc()
		logger.Warn().
			Str("session_id", sess.ID.String()).
			Str("caller_id", caller.ID.String()).
			Msg("Impersonation cookie presented by a different user")
		s.clearCookie(w)
		return nil
	}

	if sess.IsExpired(s.now()) {
		validationFailures.WithLabelValues(causeSessionExpired).Inc()
		if _, err := s.terminate(ctx, sess.ID, types.EndReasonExpired, metaFrom(r)); err != nil {
			logger.Error().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to expire impersonation session")
		}
		s.clearCookie(w)
		return nil
	}

	return sess
}

// expireStale closes the session behind an expired token if the stored row
// is itself past its deadline.
func (s *Service) expireStale(r *http.Request, sessionID uuid.UUID, logger zerolog.Logger) {
	ctx := r.Context()
	sess, err := s.store.FindActiveSession(ctx, sessionID)
	if err != nil {
		logger.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to load impersonation session")
		return
	}
	if sess == nil {
		return
	}
	if !sess.IsExpired(s.now()) {
		logger.Warn().
			Str("session_id", sessionID.String()).
			Time("expires_at", sess.ExpiresAt).
			Msg("Impersonation token expired before its session")
		return
	}
	if _, err := s.terminate(ctx, sess.ID, types.EndReasonExpired, metaFrom(r)); err != nil {
		logger.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to expire impersonation session")
	}
}

// ClientData returns the banner view of the current session, or nil.
func (s *Service) ClientData(w http.ResponseWriter, r *http.Request) *types.ImpersonationClientView {
	sess := s.Current(w, r)
	if sess == nil {
		return nil
	}
	return sess.ClientView(s.now())
}
