// Package types provides common types used across flock.
package types

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// User represents an application user.
type User struct {
	ID         uuid.UUID      `db:"id" json:"id"`
	Email      string         `db:"email" json:"email"`
	Name       string         `db:"name" json:"name"`
	Role       Role           `db:"role" json:"role"`
	ChurchID   NullUUID       `db:"church_id" json:"church_id"`
	ChurchName sql.NullString `db:"church_name" json:"-"`

	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
	ModifiedAt time.Time    `db:"modified_at" json:"modified_at"`
	DeletedAt  sql.NullTime `db:"deleted_at" json:"-"`
}

// Church is a tenant of the platform.
type Church struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// IsActive returns true if the user is not soft-deleted.
func (u *User) IsActive() bool {
	return !u.DeletedAt.Valid
}

// HasChurch returns true if the user belongs to a church.
func (u *User) HasChurch() bool {
	return u.ChurchID.Valid
}
