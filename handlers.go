package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type SubmitActivityResponse struct {
	OK                bool            `json:"ok"`
	Error             string          `json:"error,omitempty"`
	Retryable         bool            `json:"retryable,omitempty"`
	RetryAfterSeconds int64           `json:"retryAfterSeconds,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	ApprovedSeconds   int64           `json:"approvedSeconds,omitempty"`
	Balance           decimal.Decimal `json:"balance"`
	PeriodKey         string          `json:"periodKey,omitempty"`
	AuditID           string          `json:"auditId,omitempty"`
	Bonuses           string          `json:"bonuses,omitempty"`
	Token             string          `json:"token,omitempty"`
}

type WalletResponse struct {
	OK             bool            `json:"ok"`
	Error          string          `json:"error,omitempty"`
	Identity       string          `json:"identity,omitempty"`
	Balance        decimal.Decimal `json:"balance"`
	LifetimeEarned decimal.Decimal `json:"lifetimeEarned"`
	Token          string          `json:"token,omitempty"`
}

type SettingsResponse struct {
	OK       bool           `json:"ok"`
	Error    string         `json:"error,omitempty"`
	Settings RewardSettings `json:"settings,omitempty"`
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func submitActivityHandler(db *sql.DB, rate *RateController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var report ActivityReport
		if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
			json.NewEncoder(w).Encode(SubmitActivityResponse{
				OK: false, Error: ReasonInvalidRequest,
				Amount: decimal.Zero, Balance: decimal.Zero,
			})
			return
		}

		result := SubmitActivity(r.Context(), db, rate, report, time.Now().UTC())
		if !result.Settled {
			json.NewEncoder(w).Encode(SubmitActivityResponse{
				OK: false, Error: result.Reason, Retryable: result.Retryable,
				RetryAfterSeconds: int64(result.RetryAfter / time.Second),
				Amount:            decimal.Zero, Balance: decimal.Zero,
			})
			return
		}

		json.NewEncoder(w).Encode(SubmitActivityResponse{
			OK:              true,
			Amount:          result.Amount,
			ApprovedSeconds: result.ApprovedSeconds,
			Balance:         result.BalanceAfter,
			PeriodKey:       result.PeriodKey,
			AuditID:         result.AuditID,
			Bonuses:         result.Bonuses,
			Token:           GetRewardSettings().TokenSymbol,
		})
	}
}

func poolStatusHandler(db *sql.DB, rate *RateController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if allowed, retryAfter := rate.Admit(r.Context(), getClientIP(r), ClassPublic); !allowed {
			w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter/time.Second), 10))
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		now := time.Now().UTC()
		periodKey := r.URL.Query().Get("period")
		if periodKey == "" {
			periodKey = periodKeyFor(now)
		}
		if _, err := periodStart(periodKey); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		status, err := getPoolStatus(db, periodKey, now)
		if errors.Is(err, errPoolNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err != nil {
			log.Println("Failed to load pool status:", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(status)
	}
}

func walletHandler(db *sql.DB, rate *RateController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := r.URL.Query().Get("identity")
		if !isValidIdentity(identity) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if allowed, retryAfter := rate.Admit(r.Context(), identity, ClassAuth); !allowed {
			w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter/time.Second), 10))
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		balance, lifetime, err := getWalletBalance(db, identity)
		if err != nil {
			log.Println("Failed to load wallet:", err)
			json.NewEncoder(w).Encode(WalletResponse{OK: false, Error: "INTERNAL_ERROR",
				Balance: decimal.Zero, LifetimeEarned: decimal.Zero})
			return
		}
		json.NewEncoder(w).Encode(WalletResponse{
			OK:             true,
			Identity:       identity,
			Balance:        balance,
			LifetimeEarned: lifetime,
			Token:          GetRewardSettings().TokenSymbol,
		})
	}
}

func dashboardHandler(db *sql.DB, rate *RateController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireOperator(w, r) {
			return
		}
		if allowed, retryAfter := rate.Admit(r.Context(), getClientIP(r), ClassAuth); !allowed {
			w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter/time.Second), 10))
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		snapshot, err := buildDashboard(db, time.Now().UTC())
		if err != nil {
			log.Println("Failed to build dashboard:", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(snapshot)
	}
}

func settingsHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireOperator(w, r) {
			return
		}

		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(SettingsResponse{OK: true, Settings: GetRewardSettings()})
		case http.MethodPost:
			var updates map[string]string
			if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
				json.NewEncoder(w).Encode(SettingsResponse{OK: false, Error: ReasonInvalidRequest})
				return
			}
			settings, err := UpdateRewardSettings(db, updates)
			if err != nil {
				log.Println("Failed to persist settings:", err)
				json.NewEncoder(w).Encode(SettingsResponse{OK: false, Error: "INTERNAL_ERROR"})
				return
			}
			json.NewEncoder(w).Encode(SettingsResponse{OK: true, Settings: settings})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

// requireOperator gates the operator surface behind a shared token. An
// unset OPERATOR_TOKEN locks the surface closed rather than open.
func requireOperator(w http.ResponseWriter, r *http.Request) bool {
	token := strings.TrimSpace(os.Getenv("OPERATOR_TOKEN"))
	if token == "" || r.Header.Get("X-Operator-Token") != token {
		w.WriteHeader(http.StatusForbidden)
		return false
	}
	return true
}

func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}

func registerRoutes(mux *http.ServeMux, db *sql.DB, rate *RateController) {
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", metricsHandler())

	mux.HandleFunc("/api/activity", submitActivityHandler(db, rate))
	mux.HandleFunc("/api/pool", poolStatusHandler(db, rate))
	mux.HandleFunc("/api/wallet", walletHandler(db, rate))

	mux.HandleFunc("/api/dashboard", dashboardHandler(db, rate))
	mux.HandleFunc("/api/settings", settingsHandler(db))
}
