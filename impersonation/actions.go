package impersonation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/flockhq/flock/types"
	"github.com/rs/zerolog/log"
)

// LogAction appends in to the action log of the current session. It is a
// no-op when the request is not impersonating, and failures are logged
// rather than returned so that audit trouble never breaks the action.
func (s *Service) LogAction(w http.ResponseWriter, r *http.Request, in types.ActionInput) {
	sess := s.Current(w, r)
	if sess == nil {
		return
	}
	if err := s.RecordAction(r.Context(), sess, in); err != nil {
		log.Error().
			Err(err).
			Str("session_id", sess.ID.String()).
			Str("action_type", in.Type).
			Msg("Failed to log impersonation action")
	}
}

// RecordAction appends in to the action log of sess. A session found past
// its deadline is closed as expired and types.ErrSessionExpired returned.
func (s *Service) RecordAction(ctx context.Context, sess *types.ImpersonationSession, in types.ActionInput) error {
	if strings.TrimSpace(in.Type) == "" {
		return fail(types.ErrBadRequest, "action type is required")
	}

	entry := &types.ActionLogEntry{
		SessionID:  sess.ID,
		ActionType: in.Type,
		ActionPath: in.Path,
	}
	if in.Method != "" {
		method := strings.ToUpper(in.Method)
		entry.ActionMethod = &method
	}
	if len(in.Payload) > 0 {
		entry.ActionPayload = types.JSONMap(in.Payload)
	}

	err := s.store.RecordAction(ctx, entry, s.now())
	if errors.Is(err, types.ErrSessionExpired) {
		if _, endErr := s.terminate(ctx, sess.ID, types.EndReasonExpired, requestMeta{}); endErr != nil {
			log.Error().Err(endErr).Str("session_id", sess.ID.String()).Msg("Failed to expire impersonation session")
		}
		return err
	}
	if err != nil {
		return fmt.Errorf("recording impersonation action: %w", err)
	}

	actionsRecorded.Inc()
	return nil
}
