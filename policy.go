package main

import (
	"database/sql"
	"hash/fnv"
	"math"
	"time"
)

// SessionState is the per-identity accrual window. Each settled report
// closes its listening burst; a gap longer than the cooldown since the
// last settled activity abandons the session entirely and resets accrual.
type SessionState struct {
	SessionStart       time.Time
	AccruedSeconds     int64
	LastActivityAt     time.Time
	PriorSessionClosed bool
}

// PolicySnapshot is everything the policy checks read, captured before
// evaluation so a decision is reproducible. Nothing is written until the
// settlement that consumed the snapshot has committed.
type PolicySnapshot struct {
	HasSession         bool
	Session            SessionState
	ContentUsedSeconds int64
}

// PolicyDecision is the outcome of evaluating one activity report.
// Reason is set only on rejection; an allowed decision approves the full
// requested duration.
type PolicyDecision struct {
	Allowed         bool
	Reason          string
	ApprovedSeconds int64
	NextState       SessionState
}

// rowQuerier lets snapshot reads run against the pooled handle or inside
// the settlement transaction.
type rowQuerier interface {
	QueryRow(query string, args ...interface{}) *sql.Row
}

func loadPolicySnapshot(q rowQuerier, identity string, contentID string, now time.Time) (PolicySnapshot, error) {
	var snap PolicySnapshot

	var state SessionState
	err := q.QueryRow(`
		SELECT session_start, accrued_seconds, last_activity_at, prior_session_closed
		FROM session_states
		WHERE identity = $1
	`, identity).Scan(&state.SessionStart, &state.AccruedSeconds, &state.LastActivityAt, &state.PriorSessionClosed)
	switch err {
	case nil:
		snap.HasSession = true
		snap.Session = state
	case sql.ErrNoRows:
		// first activity ever for this identity
	default:
		return PolicySnapshot{}, err
	}

	err = q.QueryRow(`
		SELECT used_seconds
		FROM content_daily_usage
		WHERE identity = $1 AND content_id = $2 AND date = $3
	`, identity, contentID, dayKey(now)).Scan(&snap.ContentUsedSeconds)
	if err != nil && err != sql.ErrNoRows {
		return PolicySnapshot{}, err
	}
	return snap, nil
}

func rejected(reason string) PolicyDecision {
	return PolicyDecision{Allowed: false, Reason: reason}
}

func identityLockKey(identity string) int64 {
	h := fnv.New64a()
	h.Write([]byte(identity))
	return int64(h.Sum64())
}

// lockIdentityTx serializes settlements per identity for the lifetime of
// the transaction. Without it, concurrent identical reports would all read
// the same pre-settlement snapshot, all pass the cooldown and daily-cap
// checks, and all get paid.
func lockIdentityTx(tx *sql.Tx, identity string) error {
	_, err := tx.Exec(`SELECT pg_advisory_xact_lock($1)`, identityLockKey(identity))
	return err
}

// evaluatePolicy applies the anti-farm checks to one activity report. It
// is pure: the snapshot is the only state it sees, and the caller commits
// NextState only after the settlement succeeds.
//
// A settled report closes its listening burst, so the cooldown gates the
// gap between settled reports. A gap of exactly the cooldown continues the
// same session (accrual carries toward the session cap, which is what
// catches metronome-precise farming); a longer gap starts a fresh one.
//
// Check order: self-consumption, cooldown, session cap, content daily cap.
// The first failing check rejects the whole report; caps never award a
// partial duration. Self-consumption is absolute.
func evaluatePolicy(settings RewardSettings, role string, identity string, contentOwner string,
	requestedSeconds int64, now time.Time, snap PolicySnapshot) PolicyDecision {

	if role == RoleListener && identity == contentOwner {
		return rejected(ReasonSelfConsumption)
	}
	if requestedSeconds <= 0 {
		return rejected(ReasonInvalidRequest)
	}

	session := SessionState{
		SessionStart:   now,
		AccruedSeconds: 0,
		LastActivityAt: now,
	}
	if snap.HasSession {
		gap := now.Sub(snap.Session.LastActivityAt)
		cooldown := settings.Cooldown()
		switch {
		case gap > cooldown:
			// idle long enough, fresh session with accrual reset
		case gap < cooldown && snap.Session.PriorSessionClosed:
			return rejected(ReasonCooldownActive)
		default:
			session = snap.Session
			session.LastActivityAt = now
		}
	}

	// accrual counters never wrap; a sum that would overflow is a ledger
	// impossibility, not a cap pass
	if session.AccruedSeconds > math.MaxInt64-requestedSeconds ||
		snap.ContentUsedSeconds > math.MaxInt64-requestedSeconds {
		return rejected(ReasonInvariantViolation)
	}

	if session.AccruedSeconds+requestedSeconds > settings.SessionCapSeconds(role) {
		return rejected(ReasonSessionCap)
	}
	if snap.ContentUsedSeconds+requestedSeconds > settings.ContentDailyCapSeconds() {
		return rejected(ReasonContentDailyLimit)
	}

	session.AccruedSeconds += requestedSeconds
	session.PriorSessionClosed = true
	return PolicyDecision{
		Allowed:         true,
		ApprovedSeconds: requestedSeconds,
		NextState:       session,
	}
}

// commitPolicyUsageTx persists the post-decision session state and the
// per-content daily counter inside the settlement transaction. If the
// settlement rolls back, so does the usage, and the activity may be
// resubmitted without double counting.
func commitPolicyUsageTx(tx *sql.Tx, identity string, contentID string, decision PolicyDecision, now time.Time) error {
	_, err := tx.Exec(`
		INSERT INTO session_states (identity, session_start, accrued_seconds, last_activity_at, prior_session_closed, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (identity) DO UPDATE
		SET session_start = EXCLUDED.session_start,
			accrued_seconds = EXCLUDED.accrued_seconds,
			last_activity_at = EXCLUDED.last_activity_at,
			prior_session_closed = EXCLUDED.prior_session_closed,
			updated_at = NOW()
	`, identity, decision.NextState.SessionStart, decision.NextState.AccruedSeconds,
		decision.NextState.LastActivityAt, decision.NextState.PriorSessionClosed)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO content_daily_usage (identity, content_id, date, used_seconds, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (identity, content_id, date) DO UPDATE
		SET used_seconds = content_daily_usage.used_seconds + EXCLUDED.used_seconds,
			updated_at = NOW()
	`, identity, contentID, dayKey(now), decision.ApprovedSeconds)
	return err
}
