// Package impersonation lets a super administrator act as another user
// for support purposes.
//
// A session is created by Start, read back on every request by Current and
// closed by End or Terminate. The session store is the single source of
// truth: the signed cookie only carries the lookup key and is never trusted
// on its own. Expiry is enforced lazily when a session is next read.
package impersonation

import (
	"context"
	"time"

	"github.com/flockhq/flock/auth"
	"github.com/flockhq/flock/token"
	"github.com/flockhq/flock/types"
	"github.com/google/uuid"
)

// MaxReasonLength bounds the free-text justification.
const MaxReasonLength = 1000

// Store is the persistence surface used by the service.
type Store interface {
	InsertSession(ctx context.Context, sess *types.ImpersonationSession) (uuid.UUID, error)
	FindActiveSession(ctx context.Context, sessionID uuid.UUID) (*types.ImpersonationSession, error)
	FindActiveSessionForAdmin(ctx context.Context, adminID uuid.UUID) (*types.ImpersonationSession, error)
	SetSessionToken(ctx context.Context, sessionID uuid.UUID, token string) error
	EndSession(ctx context.Context, sessionID uuid.UUID, reason types.EndReason, at time.Time) (*types.ImpersonationSession, bool, error)
	RecordAction(ctx context.Context, entry *types.ActionLogEntry, at time.Time) error
	ListOverdueSessions(ctx context.Context, now time.Time, limit int) ([]types.ImpersonationSession, error)
}

// TokenCodec signs and verifies session credentials.
type TokenCodec interface {
	Sign(claims token.Claims, expiresAt time.Time) (string, error)
	Verify(tokenString string) (*token.Claims, error)
}

// ExpiryScheduler arranges for a session to be terminated at its deadline.
// It is optional; lazy expiry on read applies regardless.
type ExpiryScheduler interface {
	ScheduleExpiry(ctx context.Context, sessionID uuid.UUID, at time.Time) error
}

// Config holds transport settings.
type Config struct {
	CookieName string
	// SecureCookie sets the Secure attribute; enable in production.
	SecureCookie bool
}

// Service implements the impersonation lifecycle.
type Service struct {
	store     Store
	users     auth.UserStore
	audit     auth.AuditLogger
	codec     TokenCodec
	scheduler ExpiryScheduler
	cfg       Config
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithExpiryScheduler enables eager expiry through scheduler.
func WithExpiryScheduler(scheduler ExpiryScheduler) Option {
	return func(s *Service) {
		s.scheduler = scheduler
	}
}

// NewService creates a Service. audit may be nil to disable the general
// audit log entries.
func NewService(store Store, users auth.UserStore, audit auth.AuditLogger, codec TokenCodec, cfg Config, opts ...Option) *Service {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}

	s := &Service{
		store: store,
		users: users,
		audit: audit,
		codec: codec,
		cfg:   cfg,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
