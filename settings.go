package main

import (
	"database/sql"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// RewardSettings are the operator-tunable knobs of the settlement core.
// They load from the global_settings table at startup and are cached
// in-process behind settingsMu.
type RewardSettings struct {
	CooldownMinutes           int
	ListenerSessionCapMinutes int
	ArtistSessionCapMinutes   int
	ContentDailyCapMinutes    int

	ListenerRatePerMinute decimal.Decimal
	ArtistRatePerMinute   decimal.Decimal
	RewardFloor           decimal.Decimal
	RewardCeiling         decimal.Decimal

	PoolOpeningAllocation decimal.Decimal
	ArtistSplitPercent    int

	NewIdentityBonus      decimal.Decimal
	ContentDiversityBonus decimal.Decimal
	ActivityStreakBonus   decimal.Decimal

	TokenSymbol string
}

var (
	settingsMu     sync.RWMutex
	cachedSettings = RewardSettings{
		CooldownMinutes:           30,
		ListenerSessionCapMinutes: 90,
		ArtistSessionCapMinutes:   120,
		ContentDailyCapMinutes:    10,

		ListenerRatePerMinute: decimal.RequireFromString("0.3"),
		ArtistRatePerMinute:   decimal.RequireFromString("1.5"),
		RewardFloor:           decimal.RequireFromString("0.01"),
		RewardCeiling:         decimal.RequireFromString("1000"),

		PoolOpeningAllocation: decimal.RequireFromString("1000000"),
		ArtistSplitPercent:    60,

		NewIdentityBonus:      decimal.RequireFromString("0.10"),
		ContentDiversityBonus: decimal.RequireFromString("0.05"),
		ActivityStreakBonus:   decimal.RequireFromString("0.05"),

		TokenSymbol: "STRM",
	}
)

func LoadRewardSettings(db *sql.DB) error {
	rows, err := db.Query(`
		SELECT key, value
		FROM global_settings
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	settingsMu.Lock()
	defer settingsMu.Unlock()

	for rows.Next() {
		var key string
		var value string
		if err := rows.Scan(&key, &value); err != nil {
			continue
		}
		applySetting(&cachedSettings, key, value)
	}
	return rows.Err()
}

func GetRewardSettings() RewardSettings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return cachedSettings
}

func UpdateRewardSettings(db *sql.DB, updates map[string]string) (RewardSettings, error) {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	for key, value := range updates {
		applySetting(&cachedSettings, key, value)
		_, err := db.Exec(`
			INSERT INTO global_settings (key, value, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
		`, key, value)
		if err != nil {
			return cachedSettings, err
		}
	}
	return cachedSettings, nil
}

func applySetting(target *RewardSettings, key string, value string) {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "cooldown_minutes":
		if v, err := strconv.Atoi(value); err == nil && v >= 0 {
			target.CooldownMinutes = v
		}
	case "listener_session_cap_minutes":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			target.ListenerSessionCapMinutes = v
		}
	case "artist_session_cap_minutes":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			target.ArtistSessionCapMinutes = v
		}
	case "content_daily_cap_minutes":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			target.ContentDailyCapMinutes = v
		}
	case "listener_rate_per_minute":
		if v, err := decimal.NewFromString(value); err == nil && v.IsPositive() {
			target.ListenerRatePerMinute = v
		}
	case "artist_rate_per_minute":
		if v, err := decimal.NewFromString(value); err == nil && v.IsPositive() {
			target.ArtistRatePerMinute = v
		}
	case "reward_floor":
		if v, err := decimal.NewFromString(value); err == nil && !v.IsNegative() {
			target.RewardFloor = v
		}
	case "reward_ceiling":
		if v, err := decimal.NewFromString(value); err == nil && v.IsPositive() {
			target.RewardCeiling = v
		}
	case "pool_opening_allocation":
		if v, err := decimal.NewFromString(value); err == nil && v.IsPositive() {
			target.PoolOpeningAllocation = v
		}
	case "artist_split_percent":
		if v, err := strconv.Atoi(value); err == nil && v >= 0 && v <= 100 {
			target.ArtistSplitPercent = v
		}
	case "new_identity_bonus":
		if v, err := decimal.NewFromString(value); err == nil && !v.IsNegative() {
			target.NewIdentityBonus = v
		}
	case "content_diversity_bonus":
		if v, err := decimal.NewFromString(value); err == nil && !v.IsNegative() {
			target.ContentDiversityBonus = v
		}
	case "activity_streak_bonus":
		if v, err := decimal.NewFromString(value); err == nil && !v.IsNegative() {
			target.ActivityStreakBonus = v
		}
	case "token_symbol":
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			target.TokenSymbol = trimmed
		}
	}
}

func (s RewardSettings) Cooldown() time.Duration {
	return time.Duration(s.CooldownMinutes) * time.Minute
}

func (s RewardSettings) SessionCapSeconds(role string) int64 {
	if role == RoleArtist {
		return int64(s.ArtistSessionCapMinutes) * 60
	}
	return int64(s.ListenerSessionCapMinutes) * 60
}

func (s RewardSettings) ContentDailyCapSeconds() int64 {
	return int64(s.ContentDailyCapMinutes) * 60
}
