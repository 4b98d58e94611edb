package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Operational telemetry goes to a JSONB table so incidents can be
// reconstructed with plain SQL. Emission is best-effort: a failed insert
// is logged and dropped, never surfaced to the request path.

var (
	telemetryMu       sync.Mutex
	telemetryLastSent = make(map[string]time.Time)
)

func emitTelemetry(db *sql.DB, event string, details map[string]interface{}) {
	payload, err := json.Marshal(details)
	if err != nil {
		log.Println("Telemetry: marshal failed for", event, ":", err)
		return
	}
	if _, err := db.Exec(`
		INSERT INTO reward_telemetry (event, details, created_at)
		VALUES ($1, $2, NOW())
	`, event, payload); err != nil {
		log.Println("Telemetry: insert failed for", event, ":", err)
	}
}

// emitTelemetryWithCooldown suppresses repeat emissions of the same event
// within the cooldown. Used for conditions that hold continuously, like a
// draining pool, so the table records the onset instead of every request.
func emitTelemetryWithCooldown(db *sql.DB, event string, cooldown time.Duration, details map[string]interface{}) {
	telemetryMu.Lock()
	last, seen := telemetryLastSent[event]
	if seen && time.Since(last) < cooldown {
		telemetryMu.Unlock()
		return
	}
	telemetryLastSent[event] = time.Now()
	telemetryMu.Unlock()

	emitTelemetry(db, event, details)
}
