package main

import (
	"database/sql"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// MonthlyPool is the budget ledger row for one period. It is the single
// source of truth for "is there money left"; every mutation happens under
// a row lock inside the settlement transaction.
type MonthlyPool struct {
	PeriodKey          string
	TotalAmount        decimal.Decimal
	RemainingAmount    decimal.Decimal
	ArtistAllocation   decimal.Decimal
	ListenerAllocation decimal.Decimal
	ArtistSpent        decimal.Decimal
	ListenerSpent      decimal.Decimal

	// Halted is set when a settlement detects a ledger inconsistency for
	// this period. No further settlements run against a halted period
	// until an operator investigates and clears the flag.
	Halted bool
}

func newMonthlyPool(periodKey string, settings RewardSettings) MonthlyPool {
	total := settings.PoolOpeningAllocation
	artistAllocation := total.Mul(decimal.NewFromInt(int64(settings.ArtistSplitPercent))).Div(decimalHundred)
	return MonthlyPool{
		PeriodKey:          periodKey,
		TotalAmount:        total,
		RemainingAmount:    total,
		ArtistAllocation:   artistAllocation,
		ListenerAllocation: total.Sub(artistAllocation),
		ArtistSpent:        decimal.Zero,
		ListenerSpent:      decimal.Zero,
	}
}

// checkInvariants verifies the conservation law of the ledger row:
// remaining = total - artist_spent - listener_spent, never negative, and
// no role sub-pool overdrawn.
func (p MonthlyPool) checkInvariants() error {
	if p.RemainingAmount.IsNegative() {
		return errInvariantViolation
	}
	if !p.TotalAmount.Sub(p.ArtistSpent).Sub(p.ListenerSpent).Equal(p.RemainingAmount) {
		return errInvariantViolation
	}
	if p.ArtistSpent.GreaterThan(p.ArtistAllocation) || p.ListenerSpent.GreaterThan(p.ListenerAllocation) {
		return errInvariantViolation
	}
	return nil
}

// applyReservation is the pure read-modify-write step of try_reserve. The
// caller holds the row lock; two concurrent reservations can therefore
// never both pass the remaining-amount check.
func applyReservation(p MonthlyPool, role string, amount decimal.Decimal) (MonthlyPool, error) {
	if !amount.IsPositive() {
		return p, errInvariantViolation
	}
	if err := p.checkInvariants(); err != nil {
		return p, err
	}

	if p.RemainingAmount.LessThan(amount) {
		return p, errInsufficientFunds
	}

	switch role {
	case RoleArtist:
		if p.ArtistSpent.Add(amount).GreaterThan(p.ArtistAllocation) {
			return p, errInsufficientFunds
		}
		p.ArtistSpent = p.ArtistSpent.Add(amount)
	default:
		if p.ListenerSpent.Add(amount).GreaterThan(p.ListenerAllocation) {
			return p, errInsufficientFunds
		}
		p.ListenerSpent = p.ListenerSpent.Add(amount)
	}

	p.RemainingAmount = p.RemainingAmount.Sub(amount)
	if err := p.checkInvariants(); err != nil {
		return p, err
	}
	return p, nil
}

// loadOrCreatePoolTx locks the period row, materializing it with the
// opening allocation on first access of a new period. The insert races
// benignly with other instances; whoever loses re-reads the winner's row.
func loadOrCreatePoolTx(tx *sql.Tx, periodKey string, settings RewardSettings) (MonthlyPool, error) {
	pool, err := scanPoolRow(tx.QueryRow(`
		SELECT period_key, total_amount, remaining_amount,
			artist_allocation, listener_allocation, artist_spent, listener_spent, halted
		FROM monthly_pools
		WHERE period_key = $1
		FOR UPDATE
	`, periodKey))
	if err == nil {
		return pool, nil
	}
	if err != sql.ErrNoRows {
		return MonthlyPool{}, err
	}

	fresh := newMonthlyPool(periodKey, settings)
	log.Println("Pool: opening period", periodKey, "allocation", fresh.TotalAmount.String())
	if _, err := tx.Exec(`
		INSERT INTO monthly_pools (
			period_key,
			total_amount,
			remaining_amount,
			artist_allocation,
			listener_allocation,
			artist_spent,
			listener_spent,
			halted,
			created_at,
			updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, NOW(), NOW())
		ON CONFLICT (period_key) DO NOTHING
	`, fresh.PeriodKey, fresh.TotalAmount, fresh.RemainingAmount,
		fresh.ArtistAllocation, fresh.ListenerAllocation, fresh.ArtistSpent, fresh.ListenerSpent); err != nil {
		return MonthlyPool{}, err
	}

	return scanPoolRow(tx.QueryRow(`
		SELECT period_key, total_amount, remaining_amount,
			artist_allocation, listener_allocation, artist_spent, listener_spent, halted
		FROM monthly_pools
		WHERE period_key = $1
		FOR UPDATE
	`, periodKey))
}

func savePoolTx(tx *sql.Tx, pool MonthlyPool) error {
	_, err := tx.Exec(`
		UPDATE monthly_pools
		SET remaining_amount = $2,
			artist_spent = $3,
			listener_spent = $4,
			updated_at = NOW()
		WHERE period_key = $1
	`, pool.PeriodKey, pool.RemainingAmount, pool.ArtistSpent, pool.ListenerSpent)
	return err
}

// haltPeriod freezes a period after an invariant violation. Runs in its
// own statement, outside the failed settlement transaction, so the flag
// survives the rollback that the violation forced.
func haltPeriod(db *sql.DB, periodKey string) error {
	_, err := db.Exec(`
		UPDATE monthly_pools
		SET halted = TRUE, updated_at = NOW()
		WHERE period_key = $1
	`, periodKey)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPoolRow(row rowScanner) (MonthlyPool, error) {
	var pool MonthlyPool
	err := row.Scan(
		&pool.PeriodKey,
		&pool.TotalAmount,
		&pool.RemainingAmount,
		&pool.ArtistAllocation,
		&pool.ListenerAllocation,
		&pool.ArtistSpent,
		&pool.ListenerSpent,
		&pool.Halted,
	)
	return pool, err
}

// PoolStatus is the read-only view served without authentication.
type PoolStatus struct {
	PeriodKey        string          `json:"periodKey"`
	Total            decimal.Decimal `json:"total"`
	Remaining        decimal.Decimal `json:"remaining"`
	RemainingPercent float64         `json:"remainingPercent"`
	ArtistSpent      decimal.Decimal `json:"artistSpent"`
	ListenerSpent    decimal.Decimal `json:"listenerSpent"`
	Halted           bool            `json:"halted"`
}

func poolStatusFrom(pool MonthlyPool) PoolStatus {
	status := PoolStatus{
		PeriodKey:     pool.PeriodKey,
		Total:         pool.TotalAmount,
		Remaining:     pool.RemainingAmount,
		ArtistSpent:   pool.ArtistSpent,
		ListenerSpent: pool.ListenerSpent,
		Halted:        pool.Halted,
	}
	if pool.TotalAmount.IsPositive() {
		percent, _ := pool.RemainingAmount.Div(pool.TotalAmount).Mul(decimalHundred).Float64()
		status.RemainingPercent = percent
	}
	return status
}

// getPoolStatus reads the period row without taking locks; the read path
// never writes. The current period reports its opening allocation before
// the first settlement materializes the row. Any other period without a
// row was never opened, and reporting today's allocation for it would be
// a fabrication, so it is not found instead.
func getPoolStatus(db *sql.DB, periodKey string, now time.Time) (PoolStatus, error) {
	pool, err := scanPoolRow(db.QueryRow(`
		SELECT period_key, total_amount, remaining_amount,
			artist_allocation, listener_allocation, artist_spent, listener_spent, halted
		FROM monthly_pools
		WHERE period_key = $1
	`, periodKey))
	if err == sql.ErrNoRows {
		if periodKey == periodKeyFor(now) {
			return poolStatusFrom(newMonthlyPool(periodKey, GetRewardSettings())), nil
		}
		return PoolStatus{}, errPoolNotFound
	}
	if err != nil {
		return PoolStatus{}, err
	}
	return poolStatusFrom(pool), nil
}
