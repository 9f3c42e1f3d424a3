package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/alertflow/internal/domain"
)

// ServerRepo persists the server inventory.
type ServerRepo struct{ db *sql.DB }

// ByComputerName loads every inventory row for a machine. A machine can
// belong to more than one functional group; the caller decides which
// row wins.
func (r *ServerRepo) ByComputerName(ctx context.Context, name string) ([]domain.Server, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, computername, server_group,
		       COALESCE(description_function,''), COALESCE(responsible_person,'')
		FROM servers
		WHERE UPPER(computername) = UPPER($1)
		ORDER BY id
	`, name)
	if err != nil {
		return nil, fmt.Errorf("servers by name: %w", err)
	}
	defer rows.Close()

	var out []domain.Server
	for rows.Next() {
		var s domain.Server
		if err := rows.Scan(&s.ID, &s.ComputerName, &s.Group, &s.DescriptionFunction, &s.ResponsiblePerson); err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Upsert inserts or refreshes one inventory row.
func (r *ServerRepo) Upsert(ctx context.Context, s *domain.Server) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO servers (computername, server_group, description_function, responsible_person)
		SELECT $1, $2, $3, $4
		WHERE NOT EXISTS (
			SELECT 1 FROM servers WHERE computername = $1 AND server_group = $2
		)
	`, s.ComputerName, s.Group, s.DescriptionFunction, s.ResponsiblePerson)
	if err != nil {
		return fmt.Errorf("upsert server: %w", err)
	}
	return nil
}
