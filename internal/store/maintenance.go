package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/alertflow/internal/domain"
)

// MaintenanceRepo persists maintenance windows and the parent/child
// server topology used for suppression.
type MaintenanceRepo struct{ db *sql.DB }

// WindowsForServers loads every maintenance window whose server name is
// in the given set. Effective state is computed by the caller via
// StatusAt, not trusted from the stored column.
func (r *MaintenanceRepo) WindowsForServers(ctx context.Context, names []string) ([]domain.MaintenanceWindow, error) {
	if len(names) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, server_group, COALESCE(server_name,''), COALESCE(other_server,''),
		       COALESCE(comments,''), start_datetime, end_datetime, status,
		       created_at, updated_at
		FROM maintenance_windows
		WHERE server_name = ANY($1)
	`, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("maintenance windows: %w", err)
	}
	defer rows.Close()

	var out []domain.MaintenanceWindow
	for rows.Next() {
		var w domain.MaintenanceWindow
		if err := rows.Scan(
			&w.ID, &w.ServerGroup, &w.ServerName, &w.OtherServer,
			&w.Comments, &w.StartAt, &w.EndAt, &w.Status,
			&w.CreatedAt, &w.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan maintenance window: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ParentsOf returns the parents of a server in the topology graph.
func (r *MaintenanceRepo) ParentsOf(ctx context.Context, child string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT parent FROM parent_child_relationships WHERE child = $1`, child)
	if err != nil {
		return nil, fmt.Errorf("parents of %q: %w", child, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan parent: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AddRelationship records a parent/child edge, ignoring duplicates.
func (r *MaintenanceRepo) AddRelationship(ctx context.Context, parent, child string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO parent_child_relationships (parent, child)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, parent, child)
	if err != nil {
		return fmt.Errorf("add relationship: %w", err)
	}
	return nil
}
