package main

import (
	"math"
	"testing"
	"time"
)

var policyNow = time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

// settledSnapshot is the state left behind by a committed settlement:
// the burst is closed and the cooldown clock runs from lastActivity.
func settledSnapshot(start time.Time, accrued int64, lastActivity time.Time) PolicySnapshot {
	return PolicySnapshot{
		HasSession: true,
		Session: SessionState{
			SessionStart:       start,
			AccruedSeconds:     accrued,
			LastActivityAt:     lastActivity,
			PriorSessionClosed: true,
		},
	}
}

func TestEvaluatePolicy_FirstActivity(t *testing.T) {
	settings := testSettings()

	decision := evaluatePolicy(settings, RoleListener, "user-1", "artist-1", 300, policyNow, PolicySnapshot{})
	if !decision.Allowed {
		t.Fatalf("first activity rejected: %s", decision.Reason)
	}
	if decision.ApprovedSeconds != 300 {
		t.Errorf("ApprovedSeconds = %d, want 300", decision.ApprovedSeconds)
	}
	if decision.NextState.AccruedSeconds != 300 {
		t.Errorf("AccruedSeconds = %d, want 300", decision.NextState.AccruedSeconds)
	}
	if !decision.NextState.SessionStart.Equal(policyNow) {
		t.Errorf("SessionStart = %v, want %v", decision.NextState.SessionStart, policyNow)
	}
	if !decision.NextState.PriorSessionClosed {
		t.Error("a settled report must close its burst")
	}
}

func TestEvaluatePolicy_SelfConsumption(t *testing.T) {
	settings := testSettings()

	t.Run("listener_blocked_on_own_content", func(t *testing.T) {
		decision := evaluatePolicy(settings, RoleListener, "artist-1", "artist-1", 300, policyNow, PolicySnapshot{})
		if decision.Allowed || decision.Reason != ReasonSelfConsumption {
			t.Errorf("got %+v, want SELF_CONSUMPTION_BLOCKED", decision)
		}
	})

	t.Run("blocked_even_when_other_checks_would_pass", func(t *testing.T) {
		// fresh identity, no session, tiny duration: nothing else rejects
		decision := evaluatePolicy(settings, RoleListener, "artist-1", "artist-1", 1, policyNow, PolicySnapshot{})
		if decision.Allowed {
			t.Error("self-consumption must be absolute")
		}
	})

	t.Run("artist_streams_own_content", func(t *testing.T) {
		decision := evaluatePolicy(settings, RoleArtist, "artist-1", "artist-1", 300, policyNow, PolicySnapshot{})
		if !decision.Allowed {
			t.Errorf("artist on own content rejected: %s", decision.Reason)
		}
	})
}

func TestEvaluatePolicy_CooldownBoundary(t *testing.T) {
	settings := testSettings() // 30 minute cooldown
	settledAt := policyNow.Add(-30 * time.Minute)

	tests := []struct {
		name        string
		gap         time.Duration
		wantAllowed bool
		wantAccrued int64
	}{
		{"29_minutes_after_settlement", 29 * time.Minute, false, 0},
		// exactly the threshold continues the same session
		{"exactly_30_minutes", 30 * time.Minute, true, 900},
		// past the threshold starts fresh, accrual reset
		{"31_minutes_after_settlement", 31 * time.Minute, true, 300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := settledAt.Add(tt.gap)
			snap := settledSnapshot(settledAt.Add(-10*time.Minute), 600, settledAt)

			decision := evaluatePolicy(settings, RoleListener, "user-1", "artist-1", 300, now, snap)
			if decision.Allowed != tt.wantAllowed {
				t.Fatalf("Allowed = %v (reason %s), want %v", decision.Allowed, decision.Reason, tt.wantAllowed)
			}
			if !tt.wantAllowed {
				if decision.Reason != ReasonCooldownActive {
					t.Errorf("Reason = %s, want COOLDOWN_ACTIVE", decision.Reason)
				}
				return
			}
			if decision.NextState.AccruedSeconds != tt.wantAccrued {
				t.Errorf("AccruedSeconds = %d, want %d", decision.NextState.AccruedSeconds, tt.wantAccrued)
			}
		})
	}
}

func TestEvaluatePolicy_RapidResubmissionRejected(t *testing.T) {
	settings := testSettings()
	snap := settledSnapshot(policyNow.Add(-10*time.Minute), 600, policyNow.Add(-time.Minute))

	decision := evaluatePolicy(settings, RoleListener, "user-1", "artist-1", 60, policyNow, snap)
	if decision.Allowed || decision.Reason != ReasonCooldownActive {
		t.Errorf("got %+v, want COOLDOWN_ACTIVE one minute after a settlement", decision)
	}
}

func TestEvaluatePolicy_LongIdleResetsAccrual(t *testing.T) {
	settings := testSettings()
	snap := settledSnapshot(policyNow.Add(-4*time.Hour), 5000, policyNow.Add(-2*time.Hour))

	decision := evaluatePolicy(settings, RoleListener, "user-1", "artist-1", 300, policyNow, snap)
	if !decision.Allowed {
		t.Fatalf("rejected: %s", decision.Reason)
	}
	if decision.NextState.AccruedSeconds != 300 {
		t.Errorf("AccruedSeconds = %d, want fresh 300", decision.NextState.AccruedSeconds)
	}
	if !decision.NextState.SessionStart.Equal(policyNow) {
		t.Errorf("SessionStart = %v, want %v", decision.NextState.SessionStart, policyNow)
	}
}

func TestEvaluatePolicy_SessionCap(t *testing.T) {
	settings := testSettings() // listener cap 90 min, artist cap 120 min

	t.Run("single_report_over_cap_rejected", func(t *testing.T) {
		decision := evaluatePolicy(settings, RoleListener, "user-1", "artist-1", 91*60, policyNow, PolicySnapshot{})
		if decision.Allowed || decision.Reason != ReasonSessionCap {
			t.Errorf("got %+v, want SESSION_CAP_EXCEEDED", decision)
		}
	})

	t.Run("accrual_counts_toward_cap", func(t *testing.T) {
		// same session continues at exactly the cooldown; 85 accrued
		// minutes plus a 10 minute report breaches the 90 minute cap
		settledAt := policyNow.Add(-30 * time.Minute)
		snap := settledSnapshot(settledAt.Add(-85*time.Minute), 85*60, settledAt)

		decision := evaluatePolicy(settings, RoleListener, "user-1", "artist-2", 600, policyNow, snap)
		if decision.Allowed || decision.Reason != ReasonSessionCap {
			t.Errorf("got %+v, want SESSION_CAP_EXCEEDED", decision)
		}
	})

	t.Run("report_exactly_at_cap_allowed", func(t *testing.T) {
		loose := settings
		loose.ContentDailyCapMinutes = 240 // keep the content cap out of the way
		decision := evaluatePolicy(loose, RoleArtist, "artist-1", "", 120*60, policyNow, PolicySnapshot{})
		if !decision.Allowed {
			t.Errorf("report at exactly the cap rejected: %s", decision.Reason)
		}
	})

	t.Run("artist_cap_is_higher", func(t *testing.T) {
		loose := settings
		loose.ContentDailyCapMinutes = 240
		decision := evaluatePolicy(loose, RoleArtist, "artist-1", "", 100*60, policyNow, PolicySnapshot{})
		if !decision.Allowed {
			t.Errorf("artist under 120 min cap rejected: %s", decision.Reason)
		}
	})
}

func TestEvaluatePolicy_ContentDailyCap(t *testing.T) {
	settings := testSettings() // 10 min per content per day

	t.Run("report_over_content_budget_rejected", func(t *testing.T) {
		snap := PolicySnapshot{ContentUsedSeconds: 540}
		decision := evaluatePolicy(settings, RoleListener, "user-1", "artist-1", 300, policyNow, snap)
		if decision.Allowed || decision.Reason != ReasonContentDailyLimit {
			t.Errorf("got %+v, want CONTENT_DAILY_LIMIT_EXCEEDED", decision)
		}
	})

	t.Run("report_exactly_at_content_budget_allowed", func(t *testing.T) {
		snap := PolicySnapshot{ContentUsedSeconds: 540}
		decision := evaluatePolicy(settings, RoleListener, "user-1", "artist-1", 60, policyNow, snap)
		if !decision.Allowed {
			t.Errorf("rejected: %s", decision.Reason)
		}
	})

	t.Run("exhausted_content_rejected", func(t *testing.T) {
		snap := PolicySnapshot{ContentUsedSeconds: 600}
		decision := evaluatePolicy(settings, RoleListener, "user-1", "artist-1", 1, policyNow, snap)
		if decision.Allowed || decision.Reason != ReasonContentDailyLimit {
			t.Errorf("got %+v, want CONTENT_DAILY_LIMIT_EXCEEDED", decision)
		}
	})
}

// An extreme duration added to carried accrual must not wrap negative and
// slip under the caps.
func TestEvaluatePolicy_ExtremeDurationDoesNotWrap(t *testing.T) {
	settings := testSettings()

	t.Run("carried_session_overflow_rejected", func(t *testing.T) {
		settledAt := policyNow.Add(-30 * time.Minute)
		snap := settledSnapshot(settledAt.Add(-5*time.Minute), 300, settledAt)
		snap.ContentUsedSeconds = 300

		decision := evaluatePolicy(settings, RoleListener, "user-1", "artist-1", math.MaxInt64, policyNow, snap)
		if decision.Allowed || decision.Reason != ReasonInvariantViolation {
			t.Errorf("got %+v, want INVARIANT_VIOLATION", decision)
		}
	})

	t.Run("fresh_session_still_capped", func(t *testing.T) {
		decision := evaluatePolicy(settings, RoleListener, "user-1", "artist-1", math.MaxInt64, policyNow, PolicySnapshot{})
		if decision.Allowed {
			t.Error("MaxInt64 duration approved")
		}
	})
}

func TestEvaluatePolicy_InvalidDuration(t *testing.T) {
	settings := testSettings()

	for _, seconds := range []int64{0, -1} {
		decision := evaluatePolicy(settings, RoleListener, "user-1", "artist-1", seconds, policyNow, PolicySnapshot{})
		if decision.Allowed || decision.Reason != ReasonInvalidRequest {
			t.Errorf("duration %d: got %+v, want INVALID_REQUEST", seconds, decision)
		}
	}
}
