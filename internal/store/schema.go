package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements is the idempotent DDL for the whole pipeline.
// Statement order matters: referenced tables first.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS raw_emails (
		email_id    VARCHAR(64) PRIMARY KEY,
		sender      TEXT NOT NULL,
		subject     TEXT NOT NULL,
		body        TEXT NOT NULL,
		email_path  TEXT NOT NULL,
		received_at TIMESTAMP NOT NULL,
		inserted_at TIMESTAMP NOT NULL DEFAULT NOW(),
		status      BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS segregated_email (
		email_id           VARCHAR(64) PRIMARY KEY REFERENCES raw_emails(email_id) ON DELETE CASCADE,
		priority           VARCHAR(50),
		type               VARCHAR(50),
		resource_name      VARCHAR(255),
		trigger_name       VARCHAR(255),
		generated_summary  TEXT,
		recommended_action TEXT,
		inserted_at        TIMESTAMP NOT NULL DEFAULT NOW(),
		status             BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS summary_table (
		email_id    VARCHAR(64) PRIMARY KEY REFERENCES raw_emails(email_id) ON DELETE CASCADE,
		summary     TEXT NOT NULL,
		inserted_at TIMESTAMP NOT NULL DEFAULT NOW(),
		status      BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS jira_table (
		jira_id       BIGSERIAL PRIMARY KEY,
		email_id      VARCHAR(64) NOT NULL REFERENCES raw_emails(email_id) ON DELETE CASCADE,
		jiraticket_id VARCHAR(50) NOT NULL UNIQUE,
		assigned_to   VARCHAR(100),
		created_at    TIMESTAMP NOT NULL,
		teams_flag    BOOLEAN NOT NULL DEFAULT FALSE,
		teams_channel VARCHAR(100),
		inserted_at   TIMESTAMP NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jira_table_email_id ON jira_table (email_id)`,
	`CREATE TABLE IF NOT EXISTS duplicate_emails (
		duplicate_email_id VARCHAR(64) PRIMARY KEY,
		email_id           VARCHAR(64) NOT NULL,
		subject            TEXT,
		body               TEXT,
		sender             TEXT,
		received_at        TIMESTAMP,
		inserted_at        TIMESTAMP NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS trigger_mappings (
		id                  SERIAL PRIMARY KEY,
		trigger_name        VARCHAR(500) NOT NULL,
		category            VARCHAR(100),
		priority            VARCHAR(50),
		actionable          VARCHAR(50),
		recommended_action  TEXT,
		team                VARCHAR(100) NOT NULL,
		department          VARCHAR(100),
		responsible_persons VARCHAR(255)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trigger_mappings_trigger ON trigger_mappings (trigger_name)`,
	`CREATE INDEX IF NOT EXISTS idx_trigger_mappings_team ON trigger_mappings (team)`,
	`CREATE TABLE IF NOT EXISTS maintenance_windows (
		id             SERIAL PRIMARY KEY,
		server_group   VARCHAR(255) NOT NULL,
		server_name    VARCHAR(255),
		other_server   VARCHAR(255),
		comments       TEXT,
		start_datetime TIMESTAMP NOT NULL,
		end_datetime   TIMESTAMP NOT NULL,
		status         VARCHAR(20) NOT NULL DEFAULT 'Scheduled',
		created_at     TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at     TIMESTAMP NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_maintenance_windows_server ON maintenance_windows (server_name)`,
	`CREATE TABLE IF NOT EXISTS parent_child_relationships (
		parent VARCHAR(255) NOT NULL,
		child  VARCHAR(255) NOT NULL,
		PRIMARY KEY (parent, child)
	)`,
	`CREATE TABLE IF NOT EXISTS servers (
		id                   SERIAL PRIMARY KEY,
		computername         VARCHAR(255) NOT NULL,
		server_group         VARCHAR(255) NOT NULL,
		description_function TEXT,
		responsible_person   VARCHAR(255)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_servers_computername ON servers (computername)`,
	`CREATE TABLE IF NOT EXISTS job_table (
		job_id         BIGSERIAL PRIMARY KEY,
		job_name       VARCHAR(100),
		job_start_time TIMESTAMP,
		job_end_time   TIMESTAMP,
		last_run_time  TIMESTAMP,
		frequency      VARCHAR(50) NOT NULL,
		inserted_at    TIMESTAMP NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS config (
		job_name       VARCHAR(100) PRIMARY KEY,
		interval_unit  VARCHAR(20) NOT NULL,
		interval_value INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS configuration (
		key         VARCHAR(100) PRIMARY KEY,
		value       TEXT NOT NULL,
		updated_at  TIMESTAMP NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates every table and index the pipeline needs.
// All statements are idempotent, so it is safe to run at every startup.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
