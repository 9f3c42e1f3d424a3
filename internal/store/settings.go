package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Configuration keys recognized in the configuration table. Values
// there override the file/env configuration at refresh time.
const (
	SettingMailAllowlist = "mail_address_allowlist"
)

// SettingsRepo persists runtime-mutable settings: the scheduler
// interval (config table) and key/value overrides (configuration table).
type SettingsRepo struct{ db *sql.DB }

// SchedulerInterval reads the interval for a job from the config table.
// ErrNotFound when the job has no stored interval.
func (r *SettingsRepo) SchedulerInterval(ctx context.Context, jobName string) (unit string, value int, err error) {
	err = r.db.QueryRowContext(ctx, `
		SELECT interval_unit, interval_value FROM config WHERE job_name = $1
	`, jobName).Scan(&unit, &value)
	if err == sql.ErrNoRows {
		return "", 0, ErrNotFound
	}
	if err != nil {
		return "", 0, fmt.Errorf("scheduler interval: %w", err)
	}
	return unit, value, nil
}

// SetSchedulerInterval stores the interval for a job.
func (r *SettingsRepo) SetSchedulerInterval(ctx context.Context, jobName, unit string, value int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (job_name, interval_unit, interval_value)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_name) DO UPDATE SET
			interval_unit = EXCLUDED.interval_unit,
			interval_value = EXCLUDED.interval_value
	`, jobName, unit, value)
	if err != nil {
		return fmt.Errorf("set scheduler interval: %w", err)
	}
	return nil
}

// Value reads one configuration override. ErrNotFound when unset.
func (r *SettingsRepo) Value(ctx context.Context, key string) (string, error) {
	var v string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM configuration WHERE key = $1`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("setting %q: %w", key, err)
	}
	return v, nil
}

// SetValue stores one configuration override.
func (r *SettingsRepo) SetValue(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO configuration (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// MailAllowlist reads the sender allow-list override as a normalized
// slice. ErrNotFound when unset; an empty stored value means an empty
// allow-list, which drops every sender.
func (r *SettingsRepo) MailAllowlist(ctx context.Context) ([]string, error) {
	raw, err := r.Value(ctx, SettingMailAllowlist)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToLower(s))
		}
	}
	return out, nil
}
