package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

const lowPoolAlertPercent = 20

// maxReportSeconds bounds a single report to one day. Nothing a playback
// service observes is longer, and the bound keeps cap arithmetic far from
// integer overflow.
const maxReportSeconds = 24 * 60 * 60

// ActivityReport is one observed consumption or streaming interval,
// submitted by the playback service after the fact.
type ActivityReport struct {
	Identity        string `json:"identity"`
	Role            string `json:"role"`
	ContentID       string `json:"contentId"`
	ContentOwner    string `json:"contentOwner"`
	DurationSeconds int64  `json:"durationSeconds"`
}

func (r ActivityReport) validate() string {
	if !isValidIdentity(r.Identity) || !isValidRole(r.Role) || !isValidContentID(r.ContentID) {
		return ReasonInvalidRequest
	}
	if r.ContentOwner != "" && !isValidIdentity(r.ContentOwner) {
		return ReasonInvalidRequest
	}
	if r.DurationSeconds <= 0 || r.DurationSeconds > maxReportSeconds {
		return ReasonInvalidRequest
	}
	return ""
}

// SettlementResult is the full outcome of one activity report: either a
// settled payout or a rejection with its reason.
type SettlementResult struct {
	Settled         bool            `json:"settled"`
	Reason          string          `json:"reason,omitempty"`
	Retryable       bool            `json:"retryable"`
	RetryAfter      time.Duration   `json:"-"`
	Amount          decimal.Decimal `json:"amount"`
	ApprovedSeconds int64           `json:"approvedSeconds"`
	BalanceAfter    decimal.Decimal `json:"balanceAfter"`
	PeriodKey       string          `json:"periodKey"`
	AuditID         string          `json:"auditId,omitempty"`
	Bonuses         string          `json:"bonuses,omitempty"`
}

func rejection(reason string) SettlementResult {
	rewardsRejectedTotal.WithLabelValues(reason).Inc()
	return SettlementResult{
		Settled:   false,
		Reason:    reason,
		Retryable: retryableReason(reason),
		Amount:    decimal.Zero,
	}
}

// SubmitActivity runs the full pipeline for one report: rate admission,
// policy evaluation against a state snapshot, pricing, and the atomic
// settlement transaction. No step pays on error; anything that fails after
// admission leaves balances, the pool, and policy state untouched.
func SubmitActivity(ctx context.Context, db *sql.DB, rate *RateController, report ActivityReport, now time.Time) SettlementResult {
	if reason := report.validate(); reason != "" {
		return rejection(reason)
	}
	if allowed, retryAfter := rate.Admit(ctx, report.Identity, ClassFinancial); !allowed {
		result := rejection(ReasonThrottled)
		result.RetryAfter = retryAfter
		return result
	}

	periodKey := periodKeyFor(now)
	settings := GetRewardSettings()

	// optimistic pre-check: rejects cheaply before pricing. The binding
	// evaluation reruns inside settleReward against state read under the
	// per-identity lock.
	snap, err := loadPolicySnapshot(db, report.Identity, report.ContentID, now)
	if err != nil {
		log.Println("Settlement: snapshot load failed:", err)
		return rejection(ReasonPersistenceFailure)
	}

	decision := evaluatePolicy(settings, report.Role, report.Identity, report.ContentOwner,
		report.DurationSeconds, now, snap)
	if !decision.Allowed {
		return rejection(decision.Reason)
	}

	bonuses := deriveBonuses(db, report.Identity, now)
	amount := computeRewardAmount(settings, report.Role, decision.ApprovedSeconds, bonuses)

	started := time.Now()
	settled, err := settleReward(ctx, db, settings, report, periodKey, amount, bonuses, now)
	settlementDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		return settlementFailure(db, periodKey, err)
	}

	rewardsIssuedTotal.Inc()
	if f, _ := amount.Float64(); f > 0 {
		rewardsAmountTotal.Add(f)
	}
	if settled.PoolRemainingPercent < lowPoolAlertPercent {
		emitTelemetryWithCooldown(db, "pool_low", time.Hour, map[string]interface{}{
			"period_key":        periodKey,
			"remaining_percent": settled.PoolRemainingPercent,
		})
	}
	poolRemainingPercent.Set(settled.PoolRemainingPercent)

	return SettlementResult{
		Settled:         true,
		Amount:          amount,
		ApprovedSeconds: decision.ApprovedSeconds,
		BalanceAfter:    settled.BalanceAfter,
		PeriodKey:       periodKey,
		AuditID:         settled.AuditID,
		Bonuses:         bonusLabel(bonuses),
	}
}

func settlementFailure(db *sql.DB, periodKey string, err error) SettlementResult {
	var policyErr policyRejectionError
	switch {
	case errors.As(err, &policyErr):
		return rejection(policyErr.reason)
	case errors.Is(err, errInsufficientFunds):
		emitTelemetryWithCooldown(db, "pool_exhausted", time.Hour, map[string]interface{}{
			"period_key": periodKey,
		})
		return rejection(ReasonInsufficientFunds)
	case errors.Is(err, errPeriodHalted):
		return rejection(ReasonInvariantViolation)
	case errors.Is(err, errInvariantViolation):
		log.Println("Settlement: HALTING period", periodKey, "after invariant violation")
		if haltErr := haltPeriod(db, periodKey); haltErr != nil {
			log.Println("Settlement: halt write failed:", haltErr)
		}
		emitTelemetry(db, "period_halted", map[string]interface{}{
			"period_key": periodKey,
		})
		return rejection(ReasonInvariantViolation)
	case errors.Is(err, context.DeadlineExceeded):
		return rejection(ReasonTimeout)
	default:
		log.Println("Settlement: transaction failed:", err)
		return rejection(ReasonPersistenceFailure)
	}
}

type settledOutcome struct {
	BalanceAfter         decimal.Decimal
	AuditID              string
	PoolRemainingPercent float64
}

// settleReward is the atomic money move: reserve from the pool, credit the
// wallet, append the audit record, and commit the policy usage the
// decision consumed. One transaction; all four or none. The per-identity
// advisory lock is taken first and the policy re-evaluated against locked
// state, so of N concurrent identical reports exactly one can settle.
func settleReward(ctx context.Context, db *sql.DB, settings RewardSettings, report ActivityReport,
	periodKey string, amount decimal.Decimal, bonuses RewardBonuses,
	now time.Time) (settledOutcome, error) {

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return settledOutcome{}, err
	}
	defer tx.Rollback()

	if err := lockIdentityTx(tx, report.Identity); err != nil {
		return settledOutcome{}, err
	}

	pool, err := loadOrCreatePoolTx(tx, periodKey, settings)
	if err != nil {
		return settledOutcome{}, err
	}
	if pool.Halted {
		return settledOutcome{}, errPeriodHalted
	}

	// binding evaluation: the caller's snapshot was read without the
	// identity lock and may have lost a race with another settlement
	snap, err := loadPolicySnapshot(tx, report.Identity, report.ContentID, now)
	if err != nil {
		return settledOutcome{}, err
	}
	decision := evaluatePolicy(settings, report.Role, report.Identity, report.ContentOwner,
		report.DurationSeconds, now, snap)
	if !decision.Allowed {
		return settledOutcome{}, policyRejectionError{reason: decision.Reason}
	}

	reserved, err := applyReservation(pool, report.Role, amount)
	if err != nil {
		return settledOutcome{}, err
	}
	if err := savePoolTx(tx, reserved); err != nil {
		return settledOutcome{}, err
	}

	balance, err := creditWalletTx(tx, report.Identity, amount)
	if err != nil {
		return settledOutcome{}, err
	}

	auditID, err := insertAuditEntryTx(tx, AuditLogEntry{
		Identity:        report.Identity,
		Role:            report.Role,
		ContentID:       report.ContentID,
		PeriodKey:       periodKey,
		ApprovedSeconds: decision.ApprovedSeconds,
		Amount:          amount,
		BonusesApplied:  bonusLabel(bonuses),
		BalanceAfter:    balance,
		PoolRemaining:   reserved.RemainingAmount,
	})
	if err != nil {
		return settledOutcome{}, err
	}

	if err := commitPolicyUsageTx(tx, report.Identity, report.ContentID, decision, now); err != nil {
		return settledOutcome{}, err
	}

	if err := tx.Commit(); err != nil {
		return settledOutcome{}, err
	}

	remainingPercent := 0.0
	if reserved.TotalAmount.IsPositive() {
		remainingPercent, _ = reserved.RemainingAmount.Div(reserved.TotalAmount).Mul(decimalHundred).Float64()
	}
	return settledOutcome{
		BalanceAfter:         balance,
		AuditID:              auditID,
		PoolRemainingPercent: remainingPercent,
	}, nil
}
