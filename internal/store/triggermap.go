package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/alertflow/internal/domain"
)

// TriggerMappingRepo persists the trigger-to-team reference table.
type TriggerMappingRepo struct{ db *sql.DB }

// All loads every trigger mapping. The router snapshots this set.
func (r *TriggerMappingRepo) All(ctx context.Context) ([]domain.TriggerMapping, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, trigger_name, COALESCE(category,''), COALESCE(priority,''),
		       COALESCE(actionable,''), COALESCE(recommended_action,''),
		       team, COALESCE(department,''), COALESCE(responsible_persons,'')
		FROM trigger_mappings
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list trigger mappings: %w", err)
	}
	defer rows.Close()

	var out []domain.TriggerMapping
	for rows.Next() {
		var m domain.TriggerMapping
		if err := rows.Scan(
			&m.ID, &m.TriggerName, &m.Category, &m.Priority,
			&m.Actionable, &m.RecommendedAction, &m.Team,
			&m.Department, &m.ResponsiblePersons,
		); err != nil {
			return nil, fmt.Errorf("scan trigger mapping: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ReplaceAll swaps the whole reference table in one transaction.
// Used by the bulk loader when a new trigger export lands.
func (r *TriggerMappingRepo) ReplaceAll(ctx context.Context, mappings []domain.TriggerMapping) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM trigger_mappings`); err != nil {
		return 0, fmt.Errorf("clear trigger mappings: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trigger_mappings
			(trigger_name, category, priority, actionable, recommended_action,
			 team, department, responsible_persons)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, m := range mappings {
		if m.TriggerName == "" || m.Team == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			m.TriggerName, m.Category, m.Priority, m.Actionable,
			m.RecommendedAction, m.Team, m.Department, m.ResponsiblePersons,
		); err != nil {
			return 0, fmt.Errorf("insert trigger mapping %q: %w", m.TriggerName, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit replace: %w", err)
	}
	return count, nil
}
