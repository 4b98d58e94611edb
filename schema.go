package main

import "database/sql"

func ensureSchema(db *sql.DB) error {

	// monthly pool ledger
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS monthly_pools (
			period_key TEXT PRIMARY KEY,
			total_amount NUMERIC(20,6) NOT NULL,
			remaining_amount NUMERIC(20,6) NOT NULL,
			artist_allocation NUMERIC(20,6) NOT NULL,
			listener_allocation NUMERIC(20,6) NOT NULL,
			artist_spent NUMERIC(20,6) NOT NULL DEFAULT 0,
			listener_spent NUMERIC(20,6) NOT NULL DEFAULT 0,
			halted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		ALTER TABLE monthly_pools
			ADD COLUMN IF NOT EXISTS halted BOOLEAN NOT NULL DEFAULT FALSE;
	`)
	if err != nil {
		return err
	}

	// wallet balances
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS wallet_balances (
			identity TEXT PRIMARY KEY,
			balance NUMERIC(20,6) NOT NULL DEFAULT 0,
			lifetime_earned NUMERIC(20,6) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	// append-only settlement log
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS reward_audit_log (
			id UUID PRIMARY KEY,
			identity TEXT NOT NULL,
			role TEXT NOT NULL,
			content_id TEXT NOT NULL,
			period_key TEXT NOT NULL,
			approved_seconds BIGINT NOT NULL,
			amount NUMERIC(20,6) NOT NULL,
			bonuses_applied TEXT NOT NULL DEFAULT 'none',
			balance_after NUMERIC(20,6) NOT NULL,
			pool_remaining NUMERIC(20,6) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_reward_audit_identity_created
			ON reward_audit_log (identity, created_at);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_reward_audit_period_created
			ON reward_audit_log (period_key, created_at);
	`)
	if err != nil {
		return err
	}

	// per-identity accrual sessions
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS session_states (
			identity TEXT PRIMARY KEY,
			session_start TIMESTAMPTZ NOT NULL,
			accrued_seconds BIGINT NOT NULL DEFAULT 0,
			last_activity_at TIMESTAMPTZ NOT NULL,
			prior_session_closed BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	// per-content daily counters
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS content_daily_usage (
			identity TEXT NOT NULL,
			content_id TEXT NOT NULL,
			date TEXT NOT NULL,
			used_seconds BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (identity, content_id, date)
		);
	`)
	if err != nil {
		return err
	}

	// operational telemetry
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS reward_telemetry (
			id BIGSERIAL PRIMARY KEY,
			event TEXT NOT NULL,
			details JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	// operator-tunable settings
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS global_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}
