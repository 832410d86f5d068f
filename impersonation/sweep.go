package impersonation

import (
	"context"
	"fmt"

	"github.com/flockhq/flock/types"
	"github.com/rs/zerolog/log"
)

// sweepBatch bounds how many overdue sessions are loaded at once.
const sweepBatch = 500

// SweepExpired closes every open session whose deadline has passed and
// returns how many it closed. Lazy expiry on read does not depend on it.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	closed := 0
	for {
		if err := ctx.Err(); err != nil {
			return closed, err
		}

		overdue, err := s.store.ListOverdueSessions(ctx, now, sweepBatch)
		if err != nil {
			return closed, fmt.Errorf("listing overdue sessions: %w", err)
		}

		progress := 0
		for i := range overdue {
			ended, err := s.terminate(ctx, overdue[i].ID, types.EndReasonExpired, requestMeta{})
			if err != nil {
				log.Error().Err(err).Str("session_id", overdue[i].ID.String()).Msg("Failed to expire impersonation session")
				continue
			}
			// Rows closed concurrently still leave the overdue set.
			progress++
			if ended {
				closed++
			}
		}

		// A short batch was the last one. A batch where nothing could be
		// closed would be returned again unchanged.
		if len(overdue) < sweepBatch || progress == 0 {
			break
		}
	}

	if closed > 0 {
		log.Info().Int("closed", closed).Msg("Swept expired impersonation sessions")
	}
	return closed, nil
}
