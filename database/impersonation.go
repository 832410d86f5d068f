package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flockhq/flock/types"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const sessionColumns = `id, admin_id, admin_email, admin_name,
	target_user_id, target_user_email, target_user_name, target_church_id, target_church_name,
	reason, session_token, started_at, expires_at, ended_at, end_reason, actions_count,
	ip_address, user_agent`

// InsertSession stores a new impersonation session and returns its
// generated ID. It fails with types.ErrStoreConflict when the admin already
// has an open session.
func (d *Database) InsertSession(ctx context.Context, sess *types.ImpersonationSession) (uuid.UUID, error) {
	row := *sess
	row.ID = uuid.New()
	row.StartedAt = row.StartedAt.UTC()
	row.ExpiresAt = row.ExpiresAt.UTC()
	row.EndedAt = nil
	row.EndReason = ""
	row.ActionsCount = 0

	_, err := d.db.NamedExecContext(ctx, `
		INSERT INTO impersonation_sessions (`+sessionColumns+`)
		VALUES (:id, :admin_id, :admin_email, :admin_name,
			:target_user_id, :target_user_email, :target_user_name, :target_church_id, :target_church_name,
			:reason, :session_token, :started_at, :expires_at, :ended_at, :end_reason, :actions_count,
			:ip_address, :user_agent)`, &row)
	if isUniqueViolation(err) {
		return uuid.Nil, fmt.Errorf("inserting session for admin %s: %w", sess.AdminID, types.ErrStoreConflict)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting session for admin %s: %w", sess.AdminID, err)
	}

	return row.ID, nil
}

// GetSession returns a session regardless of its state.
func (d *Database) GetSession(ctx context.Context, sessionID uuid.UUID) (*types.ImpersonationSession, error) {
	return getSession(ctx, d.db, sessionID)
}

// FindActiveSession returns the session if it has not been ended, or nil.
// Expiry is not checked here; callers decide with IsExpired.
func (d *Database) FindActiveSession(ctx context.Context, sessionID uuid.UUID) (*types.ImpersonationSession, error) {
	var sess types.ImpersonationSession
	err := d.db.GetContext(ctx, &sess, `
		SELECT `+sessionColumns+`
		FROM impersonation_sessions
		WHERE id = ? AND ended_at IS NULL`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// FindActiveSessionForAdmin returns the admin's open session, or nil.
func (d *Database) FindActiveSessionForAdmin(ctx context.Context, adminID uuid.UUID) (*types.ImpersonationSession, error) {
	var sess types.ImpersonationSession
	err := d.db.GetContext(ctx, &sess, `
		SELECT `+sessionColumns+`
		FROM impersonation_sessions
		WHERE admin_id = ? AND ended_at IS NULL`, adminID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding open session for admin %s: %w", adminID, err)
	}
	return &sess, nil
}

// SetSessionToken records the issued token on an open session.
func (d *Database) SetSessionToken(ctx context.Context, sessionID uuid.UUID, token string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE impersonation_sessions SET session_token = ?
		WHERE id = ? AND ended_at IS NULL`, token, sessionID)
	if err != nil {
		return fmt.Errorf("setting token on session %s: %w", sessionID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("setting token on session %s: %w", sessionID, types.ErrSessionEnded)
	}
	return nil
}

// EndSession closes a session. It returns the stored row and whether this
// call closed it; closing an already ended session is a no-op that
// returns false.
func (d *Database) EndSession(ctx context.Context, sessionID uuid.UUID, reason types.EndReason, at time.Time) (*types.ImpersonationSession, bool, error) {
	if !reason.IsValid() {
		return nil, false, fmt.Errorf("ending session %s: %w: invalid end reason %q", sessionID, types.ErrBadRequest, reason)
	}

	var (
		sess  *types.ImpersonationSession
		ended bool
	)
	err := d.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE impersonation_sessions SET ended_at = ?, end_reason = ?
			WHERE id = ? AND ended_at IS NULL`, at.UTC(), reason, sessionID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		ended = n == 1

		sess, err = getSession(ctx, tx, sessionID)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("ending session %s: %w", sessionID, err)
	}

	return sess, ended, nil
}

// RecordAction appends entry to the session's action log and increments
// actions_count in one transaction. Nothing is written unless the session
// is open and unexpired at at.
func (d *Database) RecordAction(ctx context.Context, entry *types.ActionLogEntry, at time.Time) error {
	entry.CreatedAt = at.UTC()

	err := d.WithTx(ctx, func(tx *sqlx.Tx) error {
		var state struct {
			EndedAt   *time.Time `db:"ended_at"`
			ExpiresAt time.Time  `db:"expires_at"`
		}
		err := tx.GetContext(ctx, &state, `
			SELECT ended_at, expires_at FROM impersonation_sessions WHERE id = ?`, entry.SessionID)
		if errors.Is(err, sql.ErrNoRows) {
			return types.ErrNotFound
		}
		if err != nil {
			return err
		}
		if state.EndedAt != nil {
			return types.ErrSessionEnded
		}
		if !at.Before(state.ExpiresAt) {
			return types.ErrSessionExpired
		}

		res, err := tx.NamedExecContext(ctx, `
			INSERT INTO impersonation_action_log (session_id, action_type, action_path, action_method, action_payload, created_at)
			VALUES (:session_id, :action_type, :action_path, :action_method, :action_payload, :created_at)`, entry)
		if err != nil {
			return err
		}
		if id, err := res.LastInsertId(); err == nil {
			entry.ID = id
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE impersonation_sessions SET actions_count = actions_count + 1
			WHERE id = ? AND ended_at IS NULL`, entry.SessionID)
		return err
	})
	if err != nil {
		return fmt.Errorf("recording action on session %s: %w", entry.SessionID, err)
	}
	return nil
}

// ListActions returns the action log of a session, oldest first.
func (d *Database) ListActions(ctx context.Context, sessionID uuid.UUID) ([]types.ActionLogEntry, error) {
	entries := []types.ActionLogEntry{}
	err := d.db.SelectContext(ctx, &entries, `
		SELECT id, session_id, action_type, action_path, action_method, action_payload, created_at
		FROM impersonation_action_log
		WHERE session_id = ?
		ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing actions of session %s: %w", sessionID, err)
	}
	return entries, nil
}

// ListSessions returns the most recent sessions, newest first.
func (d *Database) ListSessions(ctx context.Context, openOnly bool, limit int) ([]types.ImpersonationSession, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + sessionColumns + ` FROM impersonation_sessions`
	if openOnly {
		query += ` WHERE ended_at IS NULL`
	}
	query += ` ORDER BY started_at DESC LIMIT ?`

	sessions := []types.ImpersonationSession{}
	if err := d.db.SelectContext(ctx, &sessions, query, limit); err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// ListOverdueSessions returns open sessions whose deadline is at or before
// now, oldest deadline first.
func (d *Database) ListOverdueSessions(ctx context.Context, now time.Time, limit int) ([]types.ImpersonationSession, error) {
	sessions := []types.ImpersonationSession{}
	err := d.db.SelectContext(ctx, &sessions, `
		SELECT `+sessionColumns+`
		FROM impersonation_sessions
		WHERE ended_at IS NULL AND expires_at <= ?
		ORDER BY expires_at ASC
		LIMIT ?`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("listing overdue sessions: %w", err)
	}
	return sessions, nil
}

func getSession(ctx context.Context, q sqlx.QueryerContext, sessionID uuid.UUID) (*types.ImpersonationSession, error) {
	var sess types.ImpersonationSession
	err := sqlx.GetContext(ctx, q, &sess, `
		SELECT `+sessionColumns+`
		FROM impersonation_sessions
		WHERE id = ?`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}
