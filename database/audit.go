package database

import (
	"context"
	"fmt"

	"github.com/flockhq/flock/types"
)

// CreateAuditLog appends an entry to the general admin-action log.
func (d *Database) CreateAuditLog(ctx context.Context, entry *types.AuditLog) error {
	res, err := d.db.NamedExecContext(ctx, `
		INSERT INTO audit_log (timestamp, actor_user_id, action, resource_type, resource_id, changes, ip_address, user_agent)
		VALUES (:timestamp, :actor_user_id, :action, :resource_type, :resource_id, :changes, :ip_address, :user_agent)`, entry)
	if err != nil {
		return fmt.Errorf("creating audit log %s: %w", entry.Action, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// ListAuditLogs returns the entries for a resource, oldest first.
func (d *Database) ListAuditLogs(ctx context.Context, resourceType, resourceID string) ([]types.AuditLog, error) {
	logs := []types.AuditLog{}
	err := d.db.SelectContext(ctx, &logs, `
		SELECT id, timestamp, actor_user_id, action, resource_type, resource_id, changes, ip_address, user_agent
		FROM audit_log
		WHERE resource_type = ? AND resource_id = ?
		ORDER BY id`, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("listing audit logs for %s/%s: %w", resourceType, resourceID, err)
	}
	return logs, nil
}
