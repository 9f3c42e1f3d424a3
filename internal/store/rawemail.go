package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/alertflow/internal/domain"
)

// RawEmailRepo persists ingested alert emails.
type RawEmailRepo struct{ db *sql.DB }

// Insert stores a raw email if it has not been seen before.
// Returns false when a row with the same email_id already exists.
func (r *RawEmailRepo) Insert(ctx context.Context, e *domain.RawEmail) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO raw_emails (email_id, sender, subject, body, email_path, received_at, inserted_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), $7)
		ON CONFLICT (email_id) DO NOTHING
	`, e.EmailID, e.Sender, e.Subject, e.Body, e.EmailPath, e.ReceivedAt, e.Status)
	if err != nil {
		return false, fmt.Errorf("insert raw email: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Get loads one raw email by id.
func (r *RawEmailRepo) Get(ctx context.Context, emailID string) (*domain.RawEmail, error) {
	e := &domain.RawEmail{}
	err := r.db.QueryRowContext(ctx, `
		SELECT email_id, sender, subject, body, email_path, received_at, inserted_at, status
		FROM raw_emails
		WHERE email_id = $1
	`, emailID).Scan(
		&e.EmailID, &e.Sender, &e.Subject, &e.Body, &e.EmailPath,
		&e.ReceivedAt, &e.InsertedAt, &e.Status,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get raw email: %w", err)
	}
	return e, nil
}

// IsPublished reports whether the email was already handed to the
// classification queue. Unknown emails report false.
func (r *RawEmailRepo) IsPublished(ctx context.Context, emailID string) (bool, error) {
	var status bool
	err := r.db.QueryRowContext(ctx,
		`SELECT status FROM raw_emails WHERE email_id = $1`, emailID).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("raw email status: %w", err)
	}
	return status, nil
}

// MarkPublished flips status after a successful queue publish.
func (r *RawEmailRepo) MarkPublished(ctx context.Context, emailID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE raw_emails SET status = TRUE WHERE email_id = $1`, emailID)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
