package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NullUUID represents a UUID that may be null.
type NullUUID struct {
	UUID  uuid.UUID
	Valid bool
}

// NewNullUUID wraps id, treating uuid.Nil as null.
func NewNullUUID(id uuid.UUID) NullUUID {
	return NullUUID{UUID: id, Valid: id != uuid.Nil}
}

// Scan implements the sql.Scanner interface.
func (n *NullUUID) Scan(value interface{}) error {
	if value == nil {
		n.UUID, n.Valid = uuid.UUID{}, false
		return nil
	}
	n.Valid = true
	switch v := value.(type) {
	case string:
		var err error
		n.UUID, err = uuid.Parse(v)
		return err
	case []byte:
		var err error
		n.UUID, err = uuid.Parse(string(v))
		return err
	}
	return nil
}

// Value implements the driver.Valuer interface.
func (n NullUUID) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return n.UUID.String(), nil
}

// MarshalJSON renders a null UUID as JSON null.
func (n NullUUID) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.UUID.String())
}

// String returns the UUID string, or "" when null.
func (n NullUUID) String() string {
	if !n.Valid {
		return ""
	}
	return n.UUID.String()
}

// AuditLog is an entry of the general admin-action log.
type AuditLog struct {
	ID           int64          `db:"id" json:"id"`
	Timestamp    time.Time      `db:"timestamp" json:"timestamp"`
	ActorUserID  NullUUID       `db:"actor_user_id" json:"actor_user_id"`
	Action       string         `db:"action" json:"action"`
	ResourceType string         `db:"resource_type" json:"resource_type"`
	ResourceID   string         `db:"resource_id" json:"resource_id"`
	Changes      JSONMap        `db:"changes" json:"changes"`
	IPAddress    sql.NullString `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent    sql.NullString `db:"user_agent" json:"user_agent,omitempty"`
}

// Audit log action constants.
const (
	ActionImpersonationStarted = "user.impersonation_started"
	ActionImpersonationStopped = "user.impersonation_stopped"
	ActionImpersonationExpired = "user.impersonation_expired"
)

// Resource types for audit logging.
const (
	ResourceTypeUser                 = "user"
	ResourceTypeImpersonationSession = "impersonation_session"
)

// NewAuditLog creates a new audit log entry with common fields.
func NewAuditLog(actorUserID *NullUUID, action, resourceType, resourceID string) *AuditLog {
	log := &AuditLog{
		Timestamp:    time.Now().UTC(),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Changes:      make(JSONMap),
	}

	if actorUserID != nil && actorUserID.Valid {
		log.ActorUserID = *actorUserID
	}

	return log
}

// At overrides the entry timestamp.
func (a *AuditLog) At(t time.Time) *AuditLog {
	a.Timestamp = t.UTC()
	return a
}

// WithChanges adds change details to the audit log.
func (a *AuditLog) WithChanges(changes map[string]interface{}) *AuditLog {
	if a.Changes == nil {
		a.Changes = make(JSONMap)
	}
	for k, v := range changes {
		a.Changes[k] = v
	}
	return a
}

// WithIPAddress adds IP address to the audit log.
func (a *AuditLog) WithIPAddress(ip string) *AuditLog {
	if ip != "" {
		a.IPAddress = sql.NullString{String: ip, Valid: true}
	}
	return a
}

// WithUserAgent adds user agent to the audit log.
func (a *AuditLog) WithUserAgent(ua string) *AuditLog {
	if ua != "" {
		a.UserAgent = sql.NullString{String: ua, Valid: true}
	}
	return a
}
