package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/alertflow/internal/domain"
)

// SummaryRepo persists generated summaries.
type SummaryRepo struct{ db *sql.DB }

// Get loads the summary for one email.
func (r *SummaryRepo) Get(ctx context.Context, emailID string) (*domain.Summary, error) {
	s := &domain.Summary{}
	err := r.db.QueryRowContext(ctx, `
		SELECT email_id, summary, inserted_at, status
		FROM summary_table
		WHERE email_id = $1
	`, emailID).Scan(&s.EmailID, &s.Summary, &s.InsertedAt, &s.Status)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}
	return s, nil
}

// Upsert writes the summary for an email, replacing any earlier one.
func (r *SummaryRepo) Upsert(ctx context.Context, emailID, summary string, status bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO summary_table (email_id, summary, inserted_at, status)
		VALUES ($1, $2, NOW(), $3)
		ON CONFLICT (email_id) DO UPDATE SET
			summary = EXCLUDED.summary,
			inserted_at = NOW(),
			status = EXCLUDED.status
	`, emailID, summary, status)
	if err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}
