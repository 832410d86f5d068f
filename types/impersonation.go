package types

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ImpersonationTTL is the fixed lifetime of an impersonation session.
// Sessions are never extended.
const ImpersonationTTL = 4 * time.Hour

// EndReason records why an impersonation session was closed.
type EndReason string

const (
	EndReasonManual      EndReason = "manual"
	EndReasonExpired     EndReason = "expired"
	EndReasonAdminLogout EndReason = "admin_logout"
	EndReasonForced      EndReason = "forced"
)

// IsValid returns true if the EndReason is valid.
func (e EndReason) IsValid() bool {
	switch e {
	case EndReasonManual, EndReasonExpired, EndReasonAdminLogout, EndReasonForced:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (e EndReason) String() string {
	return string(e)
}

// Scan implements the sql.Scanner interface. NULL scans to "".
func (e *EndReason) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*e = ""
	case string:
		*e = EndReason(v)
	case []byte:
		*e = EndReason(v)
	default:
		return fmt.Errorf("cannot scan %T into EndReason", v)
	}
	return nil
}

// Value implements the driver.Valuer interface. "" is stored as NULL.
func (e EndReason) Value() (driver.Value, error) {
	if e == "" {
		return nil, nil
	}
	return string(e), nil
}

// ImpersonationSession is one bounded window in which an admin acts as
// another user. Rows are closed, never deleted.
type ImpersonationSession struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	AdminID          uuid.UUID  `db:"admin_id" json:"admin_id"`
	AdminEmail       string     `db:"admin_email" json:"admin_email"`
	AdminName        string     `db:"admin_name" json:"admin_name"`
	TargetUserID     uuid.UUID  `db:"target_user_id" json:"target_user_id"`
	TargetUserEmail  string     `db:"target_user_email" json:"target_user_email"`
	TargetUserName   string     `db:"target_user_name" json:"target_user_name"`
	TargetChurchID   NullUUID   `db:"target_church_id" json:"target_church_id"`
	TargetChurchName string     `db:"target_church_name" json:"target_church_name"`
	Reason           string     `db:"reason" json:"reason"`
	SessionToken     string     `db:"session_token" json:"-"`
	StartedAt        time.Time  `db:"started_at" json:"started_at"`
	ExpiresAt        time.Time  `db:"expires_at" json:"expires_at"`
	EndedAt          *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	EndReason        EndReason  `db:"end_reason" json:"end_reason,omitempty"`
	ActionsCount     int64      `db:"actions_count" json:"actions_count"`
	IPAddress        string     `db:"ip_address" json:"ip_address"`
	UserAgent        string     `db:"user_agent" json:"user_agent"`
}

// IsExpired reports whether the session deadline has passed at now.
func (s *ImpersonationSession) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// IsEnded reports whether the session has been closed.
func (s *ImpersonationSession) IsEnded() bool {
	return s.EndedAt != nil
}

// IsActive reports whether the session is open and unexpired at now.
func (s *ImpersonationSession) IsActive(now time.Time) bool {
	return !s.IsEnded() && !s.IsExpired(now)
}

// Duration returns how long the session has lasted as of now, or its
// total length once ended.
func (s *ImpersonationSession) Duration(now time.Time) time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

// ClientView returns the banner-safe projection of the session.
func (s *ImpersonationSession) ClientView(now time.Time) *ImpersonationClientView {
	remaining := s.ExpiresAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return &ImpersonationClientView{
		SessionID:        s.ID,
		AdminName:        s.AdminName,
		AdminEmail:       s.AdminEmail,
		TargetUserID:     s.TargetUserID,
		TargetUserName:   s.TargetUserName,
		TargetUserEmail:  s.TargetUserEmail,
		TargetChurchName: s.TargetChurchName,
		Reason:           s.Reason,
		StartedAt:        s.StartedAt,
		ExpiresAt:        s.ExpiresAt,
		RemainingSeconds: int64(remaining / time.Second),
	}
}

// ImpersonationClientView is the only session view sent to the browser.
type ImpersonationClientView struct {
	SessionID        uuid.UUID `json:"session_id"`
	AdminName        string    `json:"admin_name"`
	AdminEmail       string    `json:"admin_email"`
	TargetUserID     uuid.UUID `json:"target_user_id"`
	TargetUserName   string    `json:"target_user_name"`
	TargetUserEmail  string    `json:"target_user_email"`
	TargetChurchName string    `json:"target_church_name,omitempty"`
	Reason           string    `json:"reason"`
	StartedAt        time.Time `json:"started_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	RemainingSeconds int64     `json:"remaining_seconds"`
}

// ActionLogEntry is one action performed under an impersonation session.
// Entries are append-only.
type ActionLogEntry struct {
	ID            int64     `db:"id" json:"id"`
	SessionID     uuid.UUID `db:"session_id" json:"session_id"`
	ActionType    string    `db:"action_type" json:"action_type"`
	ActionPath    string    `db:"action_path" json:"action_path"`
	ActionMethod  *string   `db:"action_method" json:"action_method,omitempty"`
	ActionPayload JSONMap   `db:"action_payload" json:"action_payload,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// ActionInput describes an action to append to the current session log.
type ActionInput struct {
	Type    string
	Path    string
	Method  string
	Payload map[string]interface{}
}

// ImpersonationStartRequest is the request body for starting impersonation.
type ImpersonationStartRequest struct {
	TargetUserID string `json:"target_user_id"`
	Reason       string `json:"reason"`
}

// ImpersonationEndRequest is the optional request body for ending impersonation.
type ImpersonationEndRequest struct {
	Reason EndReason `json:"reason,omitempty"`
}

// ImpersonationStartResult is the outcome of a start attempt. Failures are
// reported in Error rather than as a Go error so callers can show them.
type ImpersonationStartResult struct {
	Success    bool                     `json:"success"`
	Error      string                   `json:"error,omitempty"`
	RedirectTo string                   `json:"redirect_to,omitempty"`
	Session    *ImpersonationClientView `json:"session,omitempty"`
	Err        error                    `json:"-"`
}

// ImpersonationEndResult is the outcome of an end attempt.
type ImpersonationEndResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Err     error  `json:"-"`
}

// ImpersonationStatusResponse is the response for the status endpoint.
type ImpersonationStatusResponse struct {
	Active        bool                     `json:"active"`
	Impersonation *ImpersonationClientView `json:"impersonation,omitempty"`
}

// ImpersonationSessionsResponse lists sessions for the support console API.
type ImpersonationSessionsResponse struct {
	Sessions []ImpersonationSession `json:"sessions"`
}

// ImpersonationActionsResponse lists the action log of one session.
type ImpersonationActionsResponse struct {
	Session *ImpersonationSession `json:"session"`
	Actions []ActionLogEntry      `json:"actions"`
}
