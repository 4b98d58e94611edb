package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Request classes and their fixed-window budgets, in requests per minute.
// Financial endpoints sit between the public read surface and the
// authenticated mutation surface: generous enough for honest playback
// reports, tight enough to blunt scripted farming.
const (
	ClassPublic    = "public"
	ClassAuth      = "auth"
	ClassFinancial = "financial"

	rateWindow       = time.Minute
	redisAdmitBudget = 200 * time.Millisecond
)

func classLimit(class string) int {
	switch class {
	case ClassAuth:
		return 10
	case ClassFinancial:
		return 30
	default:
		return 60
	}
}

type localWindow struct {
	windowStart int64
	count       int
}

// RateController admits or throttles requests against a fixed counting
// window. Counters live in Redis so every instance sees the same budget;
// when Redis is down or slow the controller falls back to counting
// in-process. It never admits a request it could not count: an identity
// that cannot be tracked is throttled, not waved through.
type RateController struct {
	rdb *redis.Client
	now func() time.Time

	mu    sync.Mutex
	local map[string]*localWindow
}

func newRateController(rdb *redis.Client) *RateController {
	return &RateController{
		rdb:   rdb,
		now:   time.Now,
		local: make(map[string]*localWindow),
	}
}

// Admit counts one request for the identity in the given class and reports
// whether it fits the window budget. On throttle, retryAfter is the time
// left until the current window rolls over.
func (rc *RateController) Admit(ctx context.Context, identity string, class string) (bool, time.Duration) {
	limit := classLimit(class)
	now := rc.now()
	windowSeconds := int64(rateWindow / time.Second)
	bucket := now.Unix() / windowSeconds
	retryAfter := time.Duration((bucket+1)*windowSeconds-now.Unix()) * time.Second

	if rc.rdb != nil {
		count, err := rc.admitRedis(ctx, identity, class, bucket)
		if err == nil {
			rateLimiterDegraded.Set(0)
			if count > int64(limit) {
				throttleEventsTotal.WithLabelValues(class).Inc()
				return false, retryAfter
			}
			return true, 0
		}
		log.Println("RateLimit: redis unavailable, using local window:", err)
		rateLimiterDegraded.Set(1)
	}

	if rc.admitLocal(identity, class, bucket, limit) {
		return true, 0
	}
	throttleEventsTotal.WithLabelValues(class).Inc()
	return false, retryAfter
}

func (rc *RateController) admitRedis(ctx context.Context, identity string, class string, bucket int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, redisAdmitBudget)
	defer cancel()

	key := fmt.Sprintf("ratelimit:%s:%s:%d", class, identity, bucket)
	pipe := rc.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*rateWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (rc *RateController) admitLocal(identity string, class string, bucket int64, limit int) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	key := class + ":" + identity
	window, ok := rc.local[key]
	if !ok || window.windowStart != bucket {
		rc.pruneLocked(bucket)
		window = &localWindow{windowStart: bucket}
		rc.local[key] = window
	}
	window.count++
	return window.count <= limit
}

// pruneLocked drops expired windows. Called with rc.mu held, only on the
// window-rollover path so steady-state admits stay O(1).
func (rc *RateController) pruneLocked(bucket int64) {
	if len(rc.local) < 10000 {
		return
	}
	for key, window := range rc.local {
		if window.windowStart != bucket {
			delete(rc.local, key)
		}
	}
}
