package main

import (
	"database/sql"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// Anomaly scoring thresholds. The score is a coarse 0-100 farming signal
// for operators, not an enforcement input; enforcement stays with the
// policy engine.
const (
	cappedShareHigh = 0.80
	cappedShareWarn = 0.50
	avgSettleHigh   = 20.0
	avgSettleWarn   = 10.0

	anomalyAlertScore  = 50
	emissionBurnFactor = 1.5
	assumedPeriodDays  = 30
)

// anomalyScoreFrom combines two farming signals: the share of active
// identities pinned at their session cap, and the average settlement count
// per identity. Both saturate rather than stack within a signal.
func anomalyScoreFrom(cappedShare float64, avgSettlementsPerIdentity float64) int {
	score := 0
	switch {
	case cappedShare > cappedShareHigh:
		score += 50
	case cappedShare > cappedShareWarn:
		score += 25
	}
	switch {
	case avgSettlementsPerIdentity > avgSettleHigh:
		score += 30
	case avgSettlementsPerIdentity > avgSettleWarn:
		score += 15
	}
	if score > 100 {
		score = 100
	}
	return score
}

type DashboardAlert struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type DashboardSnapshot struct {
	GeneratedAt      time.Time        `json:"generatedAt"`
	Pool             PoolStatus       `json:"pool"`
	ActiveIdentities int              `json:"activeIdentities"`
	SettlementsToday int              `json:"settlementsToday"`
	CappedIdentities int              `json:"cappedIdentities"`
	DailyEmission    decimal.Decimal  `json:"dailyEmission"`
	AnomalyScore     int              `json:"anomalyScore"`
	Alerts           []DashboardAlert `json:"alerts"`
}

// buildDashboard assembles the operator view for the current period: pool
// health, today's activity shape, the anomaly score, and any active
// alerts. Reads only; safe to call on every request.
func buildDashboard(db *sql.DB, now time.Time) (DashboardSnapshot, error) {
	periodKey := periodKeyFor(now)

	pool, err := getPoolStatus(db, periodKey, now)
	if err != nil {
		return DashboardSnapshot{}, err
	}

	identities, settlements, capped, err := settlementStatsToday(db, now)
	if err != nil {
		return DashboardSnapshot{}, err
	}

	emission, err := dailyEmission(db, periodKey, now)
	if err != nil {
		return DashboardSnapshot{}, err
	}

	cappedShare := 0.0
	avgSettlements := 0.0
	if identities > 0 {
		cappedShare = float64(capped) / float64(identities)
		avgSettlements = float64(settlements) / float64(identities)
	}
	score := anomalyScoreFrom(cappedShare, avgSettlements)
	anomalyScoreGauge.Set(float64(score))

	snapshot := DashboardSnapshot{
		GeneratedAt:      now.UTC(),
		Pool:             pool,
		ActiveIdentities: identities,
		SettlementsToday: settlements,
		CappedIdentities: capped,
		DailyEmission:    emission,
		AnomalyScore:     score,
		Alerts:           collectAlerts(pool, emission, score),
	}

	if len(snapshot.Alerts) > 0 {
		log.Println("Dashboard:", len(snapshot.Alerts), "active alert(s), anomaly score", score)
	}
	return snapshot, nil
}

// collectAlerts evaluates the three operator alert conditions: pool
// running low, daily emission burning faster than the period can sustain,
// and an elevated anomaly score.
func collectAlerts(pool PoolStatus, emission decimal.Decimal, score int) []DashboardAlert {
	alerts := []DashboardAlert{}

	if pool.Halted {
		alerts = append(alerts, DashboardAlert{
			Kind:    "period_halted",
			Message: "settlements are halted for period " + pool.PeriodKey,
		})
	}
	if pool.RemainingPercent < lowPoolAlertPercent {
		alerts = append(alerts, DashboardAlert{
			Kind:    "pool_low",
			Message: "pool below 20% remaining for period " + pool.PeriodKey,
		})
	}

	// emission > total/days * factor, rearranged so the comparison is
	// exact instead of rounding through a division
	burnLimit := pool.Total.Mul(decimal.NewFromFloat(emissionBurnFactor))
	if pool.Total.IsPositive() && emission.Mul(decimal.NewFromInt(assumedPeriodDays)).GreaterThan(burnLimit) {
		alerts = append(alerts, DashboardAlert{
			Kind:    "emission_spike",
			Message: "daily emission exceeds 1.5x the sustainable burn rate",
		})
	}

	if score > anomalyAlertScore {
		alerts = append(alerts, DashboardAlert{
			Kind:    "anomaly",
			Message: "farming anomaly score elevated",
		})
	}
	return alerts
}
