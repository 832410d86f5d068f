package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flockhq/flock/types"
	"github.com/google/uuid"
)

const userColumns = `u.id, u.email, u.name, u.role, u.church_id, c.name AS church_name,
	u.created_at, u.modified_at, u.deleted_at`

// GetUserByID returns an active user with its church name.
func (d *Database) GetUserByID(ctx context.Context, userID uuid.UUID) (*types.User, error) {
	var user types.User
	err := d.db.GetContext(ctx, &user, `
		SELECT `+userColumns+`
		FROM users u
		LEFT JOIN churches c ON c.id = u.church_id
		WHERE u.id = ? AND u.deleted_at IS NULL`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", userID, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", userID, err)
	}
	return &user, nil
}

// CreateUser inserts user, assigning an ID when unset.
func (d *Database) CreateUser(ctx context.Context, user *types.User) error {
	if !user.Role.IsValid() {
		return fmt.Errorf("creating user: %w: invalid role %q", types.ErrBadRequest, user.Role)
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now().UTC()
	user.CreatedAt, user.ModifiedAt = now, now

	_, err := d.db.NamedExecContext(ctx, `
		INSERT INTO users (id, email, name, role, church_id, created_at, modified_at)
		VALUES (:id, :email, :name, :role, :church_id, :created_at, :modified_at)`, user)
	if err != nil {
		return fmt.Errorf("creating user %s: %w", user.Email, err)
	}
	return nil
}

// CreateChurch inserts church, assigning an ID when unset.
func (d *Database) CreateChurch(ctx context.Context, church *types.Church) error {
	if church.ID == uuid.Nil {
		church.ID = uuid.New()
	}
	church.CreatedAt = time.Now().UTC()

	_, err := d.db.NamedExecContext(ctx, `
		INSERT INTO churches (id, name, created_at) VALUES (:id, :name, :created_at)`, church)
	if err != nil {
		return fmt.Errorf("creating church %s: %w", church.Name, err)
	}
	return nil
}

// UpdateUserName renames an active user.
func (d *Database) UpdateUserName(ctx context.Context, userID uuid.UUID, name string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE users SET name = ?, modified_at = ?
		WHERE id = ? AND deleted_at IS NULL`, name, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("updating user %s: %w", userID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("user %s: %w", userID, types.ErrNotFound)
	}
	return nil
}
