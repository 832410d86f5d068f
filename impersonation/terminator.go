package impersonation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/flockhq/flock/auth"
	"github.com/flockhq/flock/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Terminate closes the session identified by sessionID. It needs no
// credential, so it serves administrative overrides.
// Closing an already ended session is a no-op.
func (s *Service) Terminate(ctx context.Context, sessionID uuid.UUID, reason types.EndReason) error {
	_, err := s.terminate(ctx, sessionID, reason, requestMeta{})
	return err
}

// terminate ends the session and writes the audit-end entry when this call
// is the one that closed it. It reports whether it did.
func (s *Service) terminate(ctx context.Context, sessionID uuid.UUID, reason types.EndReason, meta requestMeta) (bool, error) {
	if !reason.IsValid() {
		return false, fail(types.ErrBadRequest, fmt.Sprintf("invalid end reason %q", reason))
	}

	sess, ended, err := s.store.EndSession(ctx, sessionID, reason, s.now())
	if err != nil {
		return false, err
	}
	if !ended {
		log.Debug().
			Str("session_id", sessionID.String()).
			Str("end_reason", sess.EndReason.String()).
			Msg("Impersonation session already ended")
		return false, nil
	}

	sessionsEnded.WithLabelValues(reason.String()).Inc()
	log.Info().
		Str("session_id", sess.ID.String()).
		Str("admin_id", sess.AdminID.String()).
		Str("target_user_id", sess.TargetUserID.String()).
		Str("end_reason", reason.String()).
		Int64("actions_count", sess.ActionsCount).
		Dur("duration", sess.Duration(s.now())).
		Msg("Impersonation ended")

	s.auditEnd(ctx, sess, meta)
	return true, nil
}

func (s *Service) auditEnd(ctx context.Context, sess *types.ImpersonationSession, meta requestMeta) {
	if s.audit == nil {
		return
	}

	action := types.ActionImpersonationStopped
	if sess.EndReason == types.EndReasonExpired {
		action = types.ActionImpersonationExpired
	}

	actor := types.NewNullUUID(sess.AdminID)
	entry := types.NewAuditLog(
		&actor,
		action,
		types.ResourceTypeImpersonationSession,
		sess.ID.String(),
	).At(*sess.EndedAt).WithChanges(map[string]interface{}{
		"target_user_id":    sess.TargetUserID.String(),
		"target_user_email": sess.TargetUserEmail,
		"end_reason":        sess.EndReason.String(),
		"actions_count":     sess.ActionsCount,
		"duration_seconds":  int64(sess.Duration(s.now()).Seconds()),
	}).WithIPAddress(meta.ip).WithUserAgent(meta.userAgent)

	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to create audit log for impersonation end")
	}
}

// End closes the caller's current session. The impersonation cookie is
// cleared whatever the outcome. An expired cookie still identifies its
// session; without a usable cookie the caller's open session is used.
func (s *Service) End(w http.ResponseWriter, r *http.Request, reason types.EndReason) types.ImpersonationEndResult {
	defer s.clearCookie(w)

	if reason == "" {
		reason = types.EndReasonManual
	}

	sessionID, err := s.sessionToEnd(r)
	if err == nil {
		_, err = s.terminate(r.Context(), sessionID, reason, metaFrom(r))
	}
	if err != nil {
		log.Warn().Err(err).Str("end_reason", reason.String()).Msg("Impersonation end failed")
		return types.ImpersonationEndResult{
			Success: false,
			Error:   publicMessage(err, "failed to end impersonation"),
			Err:     err,
		}
	}

	return types.ImpersonationEndResult{Success: true}
}

func (s *Service) sessionToEnd(r *http.Request) (uuid.UUID, error) {
	ctx := r.Context()

	if raw, ok := s.readCookie(r); ok {
		// Verify yields claims for valid and merely expired tokens only.
		if claims, _ := s.codec.Verify(raw); claims != nil {
			if caller := auth.GetUserFromContext(ctx); caller == nil || caller.ID == claims.AdminID {
				return claims.SessionID, nil
			}
		}
	}

	caller := auth.GetUserFromContext(ctx)
	if caller == nil {
		return uuid.Nil, errNotImpersonating
	}

	sess, err := s.store.FindActiveSessionForAdmin(ctx, caller.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("finding open session: %w", err)
	}
	if sess == nil {
		return uuid.Nil, errNotImpersonating
	}
	return sess.ID, nil
}

// ErrNotDue is returned by Expire for a session whose deadline has not
// passed yet.
var ErrNotDue = errors.New("impersonation session not yet due to expire")

// Expire closes the session with reason expired if its deadline has passed.
// Sessions that are already closed or unknown are ignored.
func (s *Service) Expire(ctx context.Context, sessionID uuid.UUID) error {
	sess, err := s.store.FindActiveSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}
	if !sess.IsExpired(s.now()) {
		return fmt.Errorf("session %s expires at %s: %w", sessionID, sess.ExpiresAt.Format(time.RFC3339), ErrNotDue)
	}

	_, err = s.terminate(ctx, sessionID, types.EndReasonExpired, requestMeta{})
	return err
}
