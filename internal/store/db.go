package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/alertflow/internal/config"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store bundles the per-aggregate repositories over one connection pool.
type Store struct {
	DB *sql.DB

	RawEmails   *RawEmailRepo
	Segregation *SegregationRepo
	Summaries   *SummaryRepo
	Jira        *JiraRepo
	Duplicates  *DuplicateRepo
	Triggers    *TriggerMappingRepo
	Maintenance *MaintenanceRepo
	Servers     *ServerRepo
	Jobs        *JobRepo
	Settings    *SettingsRepo
}

// New wraps an open database handle with the repository set.
func New(db *sql.DB) *Store {
	return &Store{
		DB:          db,
		RawEmails:   &RawEmailRepo{db: db},
		Segregation: &SegregationRepo{db: db},
		Summaries:   &SummaryRepo{db: db},
		Jira:        &JiraRepo{db: db},
		Duplicates:  &DuplicateRepo{db: db},
		Triggers:    &TriggerMappingRepo{db: db},
		Maintenance: &MaintenanceRepo{db: db},
		Servers:     &ServerRepo{db: db},
		Jobs:        &JobRepo{db: db},
		Settings:    &SettingsRepo{db: db},
	}
}

// Open connects to PostgreSQL with pool settings from config and pings it.
func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}
