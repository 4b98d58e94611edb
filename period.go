package main

import "time"

// Budget periods are calendar months in UTC. The period key selects the
// live monthly_pools row; historical rows are kept forever.

func periodKeyFor(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func periodStart(key string) (time.Time, error) {
	return time.Parse("2006-01", key)
}

// dayKey is the per-identity usage bucket for daily caps.
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func sameUTCDay(a, b time.Time) bool {
	return dayKey(a) == dayKey(b)
}
