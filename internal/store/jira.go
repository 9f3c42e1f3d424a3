package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/alertflow/internal/domain"
)

// JiraRepo persists tracker tickets created for alerts.
type JiraRepo struct{ db *sql.DB }

// Insert records a newly created ticket and returns its row id.
func (r *JiraRepo) Insert(ctx context.Context, e *domain.JiraEntry) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO jira_table
			(email_id, jiraticket_id, assigned_to, created_at, teams_flag, teams_channel, inserted_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING jira_id
	`, e.EmailID, e.TicketID, nullIfEmpty(e.AssignedTo), e.CreatedAt,
		e.TeamsFlag, nullIfEmpty(e.TeamsChannel)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert jira entry: %w", err)
	}
	return id, nil
}

// LatestTicketFor finds the most recent ticket created for an alert
// with the same trigger and resource, excluding the email currently
// being processed. Returns ErrNotFound when no such ticket exists.
func (r *JiraRepo) LatestTicketFor(ctx context.Context, trigger, resource, excludeEmailID string) (*domain.JiraEntry, error) {
	e := &domain.JiraEntry{}
	err := r.db.QueryRowContext(ctx, `
		SELECT j.jira_id, j.email_id, j.jiraticket_id, COALESCE(j.assigned_to,''),
		       j.created_at, j.teams_flag, COALESCE(j.teams_channel,''), j.inserted_at
		FROM jira_table j
		JOIN segregated_email s ON s.email_id = j.email_id
		WHERE s.trigger_name = $1 AND s.resource_name = $2 AND j.email_id <> $3
		ORDER BY j.inserted_at DESC
		LIMIT 1
	`, trigger, resource, excludeEmailID).Scan(
		&e.JiraID, &e.EmailID, &e.TicketID, &e.AssignedTo,
		&e.CreatedAt, &e.TeamsFlag, &e.TeamsChannel, &e.InsertedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest ticket lookup: %w", err)
	}
	return e, nil
}

// MarkNotified records that the chat notification for a ticket went out.
func (r *JiraRepo) MarkNotified(ctx context.Context, jiraID int64, channel string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jira_table SET teams_flag = TRUE, teams_channel = $1
		WHERE jira_id = $2
	`, channel, jiraID)
	if err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
