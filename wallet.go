package main

import (
	"database/sql"

	"github.com/shopspring/decimal"
)

// creditWalletTx adds a settled reward to the identity's balance inside
// the settlement transaction. The upsert keeps first-time identities off a
// separate registration path.
func creditWalletTx(tx *sql.Tx, identity string, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRow(`
		INSERT INTO wallet_balances (identity, balance, lifetime_earned, created_at, updated_at)
		VALUES ($1, $2, $2, NOW(), NOW())
		ON CONFLICT (identity) DO UPDATE
		SET balance = wallet_balances.balance + EXCLUDED.balance,
			lifetime_earned = wallet_balances.lifetime_earned + EXCLUDED.balance,
			updated_at = NOW()
		RETURNING balance
	`, identity, amount).Scan(&balance)
	return balance, err
}

// getWalletBalance is the read-only view of a single identity's balance.
func getWalletBalance(db *sql.DB, identity string) (decimal.Decimal, decimal.Decimal, error) {
	var balance, lifetime decimal.Decimal
	err := db.QueryRow(`
		SELECT balance, lifetime_earned
		FROM wallet_balances
		WHERE identity = $1
	`, identity).Scan(&balance, &lifetime)
	if err == sql.ErrNoRows {
		return decimal.Zero, decimal.Zero, nil
	}
	return balance, lifetime, err
}
