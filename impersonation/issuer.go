package impersonation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/flockhq/flock/auth"
	"github.com/flockhq/flock/token"
	"github.com/flockhq/flock/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// requestMeta is the forensic context of the request driving an operation.
type requestMeta struct {
	ip        string
	userAgent string
}

func metaFrom(r *http.Request) requestMeta {
	return requestMeta{ip: auth.GetClientIP(r), userAgent: r.UserAgent()}
}

// Start begins impersonating req.TargetUserID on behalf of the caller found
// in the request context. Failures are reported in the result, never as a
// panic or HTTP write; on success the impersonation cookie is set on w.
func (s *Service) Start(w http.ResponseWriter, r *http.Request, req types.ImpersonationStartRequest) types.ImpersonationStartResult {
	sess, target, err := s.start(w, r, req)
	if err != nil {
		startFailures.WithLabelValues(failureCause(err)).Inc()
		log.Warn().
			Err(err).
			Str("target_user_id", req.TargetUserID).
			Str("ip", auth.GetClientIP(r)).
			Msg("Impersonation start rejected")
		return types.ImpersonationStartResult{
			Success: false,
			Error:   publicMessage(err, "failed to start impersonation"),
			Err:     err,
		}
	}

	return types.ImpersonationStartResult{
		Success:    true,
		RedirectTo: RedirectFor(target),
		Session:    sess.ClientView(s.now()),
	}
}

func (s *Service) start(w http.ResponseWriter, r *http.Request, req types.ImpersonationStartRequest) (*types.ImpersonationSession, *types.User, error) {
	ctx := r.Context()
	meta := metaFrom(r)

	admin := auth.GetUserFromContext(ctx)
	if admin == nil {
		return nil, nil, fail(types.ErrUnauthenticated, "authentication required")
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, nil, fail(types.ErrBadRequest, "a reason is required to impersonate a user")
	}
	if utf8.RuneCountInString(reason) > MaxReasonLength {
		return nil, nil, fail(types.ErrBadRequest, fmt.Sprintf("reason must be at most %d characters", MaxReasonLength))
	}

	targetID, err := uuid.Parse(strings.TrimSpace(req.TargetUserID))
	if err != nil || targetID == uuid.Nil {
		return nil, nil, fail(types.ErrBadRequest, "a valid target user id is required")
	}

	target, err := s.users.GetUserByID(ctx, targetID)
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil, fail(types.ErrNotFound, "target user not found")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("looking up target user: %w", err)
	}

	if err := Authorize(admin, target); err != nil {
		return nil, nil, err
	}

	now := s.now()

	// Advisory check; the store's uniqueness constraint is what closes the race.
	existing, err := s.store.FindActiveSessionForAdmin(ctx, admin.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("checking for open session: %w", err)
	}
	if existing != nil {
		if !existing.IsExpired(now) {
			return nil, nil, errConflict
		}
		if _, err := s.terminate(ctx, existing.ID, types.EndReasonExpired, meta); err != nil {
			return nil, nil, fmt.Errorf("closing expired session %s: %w", existing.ID, err)
		}
	}

	// Token exp has whole-second precision; keep the stored deadline on the
	// same boundary so both agree on when the session expires.
	startedAt := now.Truncate(time.Second)

	sess := &types.ImpersonationSession{
		AdminID:         admin.ID,
		AdminEmail:      admin.Email,
		AdminName:       admin.Name,
		TargetUserID:    target.ID,
		TargetUserEmail: target.Email,
		TargetUserName:  target.Name,
		TargetChurchID:  target.ChurchID,
		Reason:          reason,
		StartedAt:       startedAt,
		ExpiresAt:       startedAt.Add(types.ImpersonationTTL),
		IPAddress:       meta.ip,
		UserAgent:       meta.userAgent,
	}
	if target.ChurchName.Valid {
		sess.TargetChurchName = target.ChurchName.String
	}

	id, err := s.store.InsertSession(ctx, sess)
	if errors.Is(err, types.ErrStoreConflict) {
		return nil, nil, errConflict
	}
	if err != nil {
		return nil, nil, fmt.Errorf("inserting session: %w", err)
	}
	sess.ID = id

	claims := token.Claims{
		SessionID:    sess.ID,
		AdminID:      sess.AdminID,
		TargetUserID: sess.TargetUserID,
	}
	if sess.TargetChurchID.Valid {
		churchID := sess.TargetChurchID.UUID
		claims.TargetChurchID = &churchID
	}

	signed, err := s.codec.Sign(claims, sess.ExpiresAt)
	if err == nil {
		err = s.store.SetSessionToken(ctx, sess.ID, signed)
	}
	if err != nil {
		// Do not leave an open row the admin holds no cookie for.
		if _, endErr := s.terminate(ctx, sess.ID, types.EndReasonForced, meta); endErr != nil {
			log.Error().Err(endErr).Str("session_id", sess.ID.String()).Msg("Failed to close session after token failure")
		}
		return nil, nil, fmt.Errorf("issuing token for session %s: %w", sess.ID, err)
	}
	sess.SessionToken = signed

	s.setCookie(w, signed, sess.ExpiresAt)

	sessionsStarted.Inc()
	log.Info().
		Str("session_id", sess.ID.String()).
		Str("admin_id", sess.AdminID.String()).
		Str("admin_email", sess.AdminEmail).
		Str("target_user_id", sess.TargetUserID.String()).
		Str("target_user_email", sess.TargetUserEmail).
		Str("reason", sess.Reason).
		Str("ip", meta.ip).
		Time("expires_at", sess.ExpiresAt).
		Msg("Impersonation started")

	s.auditStart(ctx, sess, meta)
	s.scheduleExpiry(ctx, sess)

	return sess, target, nil
}

func (s *Service) auditStart(ctx context.Context, sess *types.ImpersonationSession, meta requestMeta) {
	if s.audit == nil {
		return
	}

	actor := types.NewNullUUID(sess.AdminID)
	entry := types.NewAuditLog(
		&actor,
		types.ActionImpersonationStarted,
		types.ResourceTypeImpersonationSession,
		sess.ID.String(),
	).At(sess.StartedAt).WithChanges(map[string]interface{}{
		"admin_email":        sess.AdminEmail,
		"target_user_id":     sess.TargetUserID.String(),
		"target_user_email":  sess.TargetUserEmail,
		"target_user_name":   sess.TargetUserName,
		"target_church_id":   sess.TargetChurchID.String(),
		"target_church_name": sess.TargetChurchName,
		"reason":             sess.Reason,
		"expires_at":         sess.ExpiresAt,
	}).WithIPAddress(meta.ip).WithUserAgent(meta.userAgent)

	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to create audit log for impersonation start")
	}
}

func (s *Service) scheduleExpiry(ctx context.Context, sess *types.ImpersonationSession) {
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.ScheduleExpiry(ctx, sess.ID, sess.ExpiresAt); err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to schedule impersonation expiry; relying on lazy expiry")
	}
}

func failureCause(err error) string {
	switch {
	case errors.Is(err, types.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, types.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, types.ErrForbidden):
		return "forbidden"
	case errors.Is(err, types.ErrNotFound):
		return "not_found"
	case errors.Is(err, types.ErrConflict):
		return "conflict"
	case errors.Is(err, types.ErrBadRequest):
		return "bad_request"
	default:
		return "internal"
	}
}
