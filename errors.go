package main

import "errors"

// Rejection reasons surfaced to clients. Policy and budget rejections are
// permanent for the request that triggered them; THROTTLED, TIMEOUT and
// PERSISTENCE_FAILURE are safe to retry.
const (
	ReasonThrottled          = "THROTTLED"
	ReasonCooldownActive     = "COOLDOWN_ACTIVE"
	ReasonSessionCap         = "SESSION_CAP_EXCEEDED"
	ReasonContentDailyLimit  = "CONTENT_DAILY_LIMIT_EXCEEDED"
	ReasonSelfConsumption    = "SELF_CONSUMPTION_BLOCKED"
	ReasonInsufficientFunds  = "INSUFFICIENT_FUNDS"
	ReasonTimeout            = "TIMEOUT"
	ReasonPersistenceFailure = "PERSISTENCE_FAILURE"
	ReasonInvariantViolation = "INVARIANT_VIOLATION"
	ReasonInvalidRequest     = "INVALID_REQUEST"
)

var (
	errInsufficientFunds  = errors.New("pool funds insufficient")
	errInvariantViolation = errors.New("ledger invariant violated")
	errPeriodHalted       = errors.New("settlements halted for period")
	errPoolNotFound       = errors.New("pool period not materialized")
)

// policyRejectionError carries a policy verdict out of the settlement
// transaction when the state read under the identity lock disagrees with
// the optimistic pre-check.
type policyRejectionError struct {
	reason string
}

func (e policyRejectionError) Error() string {
	return "policy rejected: " + e.reason
}

// retryableReason reports whether a client may resubmit the identical
// activity and expect a different outcome.
func retryableReason(reason string) bool {
	switch reason {
	case ReasonThrottled, ReasonTimeout, ReasonPersistenceFailure:
		return true
	default:
		return false
	}
}
