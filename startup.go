package main

import (
	"context"
	"database/sql"
	"log"
	"time"
)

const startupAdvisoryLockID int64 = 611390284

var startupLockConn *sql.Conn

// acquireStartupLock elects a leader for one-time initialization. The lock
// rides a dedicated connection and is held for the process lifetime; it
// releases automatically when the connection drops.
func acquireStartupLock(ctx context.Context, db *sql.DB) (*sql.Conn, bool, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, false, err
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, startupAdvisoryLockID).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, false, err
	}
	if !acquired {
		_ = conn.Close()
		return nil, false, nil
	}
	return conn, true, nil
}

// ensureCurrentPool materializes the current period's pool row ahead of
// the first settlement, so dashboards and status reads see real numbers
// from the moment the period begins. Leader-only; the settlement path can
// also open the period lazily if this never ran.
func ensureCurrentPool(ctx context.Context, db *sql.DB, now time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	pool, err := loadOrCreatePoolTx(tx, periodKeyFor(now), GetRewardSettings())
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	log.Println("Startup: period", pool.PeriodKey, "remaining", pool.RemainingAmount.String())
	return nil
}

// startPoolGaugeLoop keeps the pool gauge fresh between settlements, so a
// quiet instance still reports accurate pool health.
func startPoolGaugeLoop(db *sql.DB) {
	refresh := func() {
		now := time.Now().UTC()
		status, err := getPoolStatus(db, periodKeyFor(now), now)
		if err != nil {
			log.Println("Pool gauge refresh failed:", err)
			return
		}
		poolRemainingPercent.Set(status.RemainingPercent)
	}
	refresh()

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for range ticker.C {
			refresh()
		}
	}()
}
