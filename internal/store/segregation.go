package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/alertflow/internal/domain"
)

// SegregationRepo persists classification results.
type SegregationRepo struct{ db *sql.DB }

// Get loads the classification row for one email.
func (r *SegregationRepo) Get(ctx context.Context, emailID string) (*domain.SegregatedEmail, error) {
	s := &domain.SegregatedEmail{}
	err := r.db.QueryRowContext(ctx, `
		SELECT email_id, COALESCE(priority,''), COALESCE(type,''),
		       COALESCE(resource_name,''), COALESCE(trigger_name,''),
		       COALESCE(generated_summary,''), COALESCE(recommended_action,''),
		       inserted_at, status
		FROM segregated_email
		WHERE email_id = $1
	`, emailID).Scan(
		&s.EmailID, &s.Priority, &s.Type, &s.ResourceName, &s.TriggerName,
		&s.GeneratedSummary, &s.RecommendedAction, &s.InsertedAt, &s.Status,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get segregated email: %w", err)
	}
	return s, nil
}

// Upsert writes the classification result, replacing any earlier
// attempt for the same email.
func (r *SegregationRepo) Upsert(ctx context.Context, s *domain.SegregatedEmail) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO segregated_email
			(email_id, priority, type, resource_name, trigger_name,
			 generated_summary, recommended_action, inserted_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), $8)
		ON CONFLICT (email_id) DO UPDATE SET
			priority = EXCLUDED.priority,
			type = EXCLUDED.type,
			resource_name = EXCLUDED.resource_name,
			trigger_name = EXCLUDED.trigger_name,
			generated_summary = EXCLUDED.generated_summary,
			recommended_action = EXCLUDED.recommended_action,
			inserted_at = NOW(),
			status = EXCLUDED.status
	`, s.EmailID, s.Priority, s.Type, s.ResourceName, s.TriggerName,
		s.GeneratedSummary, s.RecommendedAction, s.Status)
	if err != nil {
		return fmt.Errorf("upsert segregated email: %w", err)
	}
	return nil
}

// RecentAlertID returns the email_id of the latest non-informational
// alert with the same trigger and resource classified after the given
// cutoff, excluding the email being processed, or "" when there is
// none. Used by the optional time-window suppression.
func (r *SegregationRepo) RecentAlertID(ctx context.Context, trigger, resource, excludeEmailID string, since time.Time) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT email_id FROM segregated_email
		WHERE trigger_name = $1 AND resource_name = $2
		  AND email_id <> $3
		  AND priority IN ('P1','P2','P3')
		  AND inserted_at >= $4
		ORDER BY inserted_at DESC
		LIMIT 1
	`, trigger, resource, excludeEmailID, since).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("recent alert check: %w", err)
	}
	return id, nil
}
