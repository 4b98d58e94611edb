package main

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuditLogEntry is one append-only settlement record. Rows are never
// updated or deleted; the log is the replay source for every balance.
type AuditLogEntry struct {
	ID              string
	Identity        string
	Role            string
	ContentID       string
	PeriodKey       string
	ApprovedSeconds int64
	Amount          decimal.Decimal
	BonusesApplied  string
	BalanceAfter    decimal.Decimal
	PoolRemaining   decimal.Decimal
	CreatedAt       time.Time
}

func bonusLabel(bonuses RewardBonuses) string {
	label := ""
	if bonuses.NewIdentity {
		label += "new_identity,"
	}
	if bonuses.ContentDiversity {
		label += "content_diversity,"
	}
	if bonuses.ActivityStreak {
		label += "activity_streak,"
	}
	if label == "" {
		return "none"
	}
	return label[:len(label)-1]
}

// insertAuditEntryTx appends the settlement record inside the same
// transaction that moved the money. If this insert fails the whole
// settlement rolls back; there is never a payout without its record.
func insertAuditEntryTx(tx *sql.Tx, entry AuditLogEntry) (string, error) {
	id := uuid.New().String()
	_, err := tx.Exec(`
		INSERT INTO reward_audit_log (
			id,
			identity,
			role,
			content_id,
			period_key,
			approved_seconds,
			amount,
			bonuses_applied,
			balance_after,
			pool_remaining,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	`, id, entry.Identity, entry.Role, entry.ContentID, entry.PeriodKey,
		entry.ApprovedSeconds, entry.Amount, entry.BonusesApplied,
		entry.BalanceAfter, entry.PoolRemaining)
	return id, err
}

// dailyEmission sums what the period paid out on a single UTC day. Used by
// the dashboard's burn-rate alert.
func dailyEmission(db *sql.DB, periodKey string, day time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := db.QueryRow(`
		SELECT COALESCE(SUM(amount), 0)
		FROM reward_audit_log
		WHERE period_key = $1
		  AND created_at >= $2
		  AND created_at < $3
	`, periodKey, day.UTC().Truncate(24*time.Hour), day.UTC().Truncate(24*time.Hour).Add(24*time.Hour)).Scan(&total)
	return total, err
}

// settlementStatsToday gathers the dashboard's farming signals for one UTC
// day: how many identities settled, how many settlements happened, and how
// many identities spent the day pinned at their role's session cap.
func settlementStatsToday(db *sql.DB, now time.Time) (identities int, settlements int, cappedIdentities int, err error) {
	dayStart := now.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	err = db.QueryRow(`
		SELECT COUNT(DISTINCT identity), COUNT(*)
		FROM reward_audit_log
		WHERE created_at >= $1 AND created_at < $2
	`, dayStart, dayEnd).Scan(&identities, &settlements)
	if err != nil {
		return 0, 0, 0, err
	}

	// the cap an identity is measured against follows its most recently
	// settled role; artists run a higher cap than listeners
	settings := GetRewardSettings()
	err = db.QueryRow(`
		SELECT COUNT(*)
		FROM session_states s
		WHERE s.last_activity_at >= $1
		  AND s.last_activity_at < $2
		  AND s.accrued_seconds >= CASE
			WHEN (
				SELECT a.role
				FROM reward_audit_log a
				WHERE a.identity = s.identity
				ORDER BY a.created_at DESC
				LIMIT 1
			) = $3 THEN $4
			ELSE $5
		  END
	`, dayStart, dayEnd, RoleArtist,
		settings.SessionCapSeconds(RoleArtist),
		settings.SessionCapSeconds(RoleListener)).Scan(&cappedIdentities)
	if err != nil {
		return 0, 0, 0, err
	}
	return identities, settlements, cappedIdentities, nil
}
