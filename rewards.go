package main

import (
	"database/sql"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// RewardBonuses are the independently-triggered multipliers applied on top
// of the base rate. Each bonus contributes (1 + fraction); the product is
// composed in the fixed order: new identity, content diversity, activity
// streak. The order never changes so a settlement is reproducible from its
// inputs.
type RewardBonuses struct {
	NewIdentity      bool
	ContentDiversity bool
	ActivityStreak   bool
}

const (
	newIdentityWindowDays = 7
	diversityMinContents  = 5
	streakRequiredDays    = 3
)

var (
	decimalOne     = decimal.NewFromInt(1)
	decimalSixty   = decimal.NewFromInt(60)
	decimalHundred = decimal.NewFromInt(100)
)

func baseRatePerMinute(settings RewardSettings, role string) decimal.Decimal {
	if role == RoleArtist {
		return settings.ArtistRatePerMinute
	}
	return settings.ListenerRatePerMinute
}

func bonusMultiplier(settings RewardSettings, bonuses RewardBonuses) decimal.Decimal {
	multiplier := decimalOne
	if bonuses.NewIdentity {
		multiplier = multiplier.Mul(decimalOne.Add(settings.NewIdentityBonus))
	}
	if bonuses.ContentDiversity {
		multiplier = multiplier.Mul(decimalOne.Add(settings.ContentDiversityBonus))
	}
	if bonuses.ActivityStreak {
		multiplier = multiplier.Mul(decimalOne.Add(settings.ActivityStreakBonus))
	}
	return multiplier
}

// computeRewardAmount prices an approved duration. The duration must
// already be clamped to what the policy engine approved; nothing here may
// price above it. Clamping order is raw amount, then floor, then ceiling.
func computeRewardAmount(settings RewardSettings, role string, approvedSeconds int64, bonuses RewardBonuses) decimal.Decimal {
	if approvedSeconds <= 0 {
		return decimal.Zero
	}

	minutes := decimal.NewFromInt(approvedSeconds).Div(decimalSixty)
	amount := baseRatePerMinute(settings, role).Mul(minutes).Mul(bonusMultiplier(settings, bonuses))

	if amount.LessThan(settings.RewardFloor) {
		amount = settings.RewardFloor
	}
	if amount.GreaterThan(settings.RewardCeiling) {
		amount = settings.RewardCeiling
	}
	return amount
}

// deriveBonuses inspects settlement history for the identity. Query
// failures drop the bonus rather than failing the request; a missing bonus
// never blocks a payout and an error never inflates one.
func deriveBonuses(db *sql.DB, identity string, now time.Time) RewardBonuses {
	var bonuses RewardBonuses

	var firstSeen sql.NullTime
	err := db.QueryRow(`
		SELECT MIN(created_at)
		FROM reward_audit_log
		WHERE identity = $1
	`, identity).Scan(&firstSeen)
	if err != nil {
		log.Println("Rewards: bonus lookup failed:", err)
	} else if !firstSeen.Valid || now.Sub(firstSeen.Time) <= newIdentityWindowDays*24*time.Hour {
		bonuses.NewIdentity = true
	}

	var distinctContents int
	err = db.QueryRow(`
		SELECT COUNT(DISTINCT content_id)
		FROM content_daily_usage
		WHERE identity = $1 AND date = $2
	`, identity, dayKey(now)).Scan(&distinctContents)
	if err != nil {
		log.Println("Rewards: diversity lookup failed:", err)
	} else if distinctContents >= diversityMinContents {
		bonuses.ContentDiversity = true
	}

	var activeDays int
	err = db.QueryRow(`
		SELECT COUNT(DISTINCT DATE(created_at))
		FROM reward_audit_log
		WHERE identity = $1
		  AND created_at >= $2
		  AND created_at < $3
	`, identity, now.UTC().AddDate(0, 0, -streakRequiredDays).Truncate(24*time.Hour), now.UTC().Truncate(24*time.Hour)).Scan(&activeDays)
	if err != nil {
		log.Println("Rewards: streak lookup failed:", err)
	} else if activeDays >= streakRequiredDays {
		bonuses.ActivityStreak = true
	}

	return bonuses
}
