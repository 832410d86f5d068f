package tasks

import (
	"context"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TaskTypeExpireImpersonation closes an impersonation session at its deadline.
const TaskTypeExpireImpersonation = "impersonation:expire"

// ExpirePayload is the payload of TaskTypeExpireImpersonation.
type ExpirePayload struct {
	SessionID uuid.UUID `json:"session_id"`
}

// Expirer closes a session once its deadline has passed. It returns an
// error for a session that is not yet due so the task is retried.
type Expirer interface {
	Expire(ctx context.Context, sessionID uuid.UUID) error
}

// NewExpiryHandler returns the handler for TaskTypeExpireImpersonation.
func NewExpiryHandler(e Expirer) *TaskHandler[ExpirePayload] {
	return NewTaskHandler(func(ctx context.Context, p ExpirePayload) error {
		return e.Expire(ctx, p.SessionID)
	})
}

// TaskTypeSweepImpersonation closes every open session past its deadline.
const TaskTypeSweepImpersonation = "impersonation:sweep"

// DefaultSweepSpec is the cron spec of the periodic sweep.
const DefaultSweepSpec = "@every 1m"

// Sweeper closes all overdue sessions.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// NewSweepHandler returns the handler for TaskTypeSweepImpersonation.
func NewSweepHandler(s Sweeper) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, _ *asynq.Task) error {
		_, err := s.SweepExpired(ctx)
		return err
	})
}
