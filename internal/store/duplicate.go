package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/alertflow/internal/domain"
)

// DuplicateRepo records suppressed duplicate alerts.
type DuplicateRepo struct{ db *sql.DB }

// Insert stores a suppressed duplicate. Re-recording the same duplicate
// is a no-op.
func (r *DuplicateRepo) Insert(ctx context.Context, d *domain.DuplicateEmail) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO duplicate_emails
			(duplicate_email_id, email_id, subject, body, sender, received_at, inserted_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (duplicate_email_id) DO NOTHING
	`, d.DuplicateEmailID, d.EmailID, d.Subject, d.Body, d.Sender, d.ReceivedAt)
	if err != nil {
		return fmt.Errorf("insert duplicate: %w", err)
	}
	return nil
}

// CountSince reports how many duplicates were recorded after the cutoff.
// Surfaced by the status API.
func (r *DuplicateRepo) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM duplicate_emails WHERE inserted_at >= $1`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count duplicates: %w", err)
	}
	return n, nil
}
