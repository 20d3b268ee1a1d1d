package perception

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"edutrack/internal/logging"
)

// Free-tier quota table for the Gemini API.
const (
	DefaultFlashRPM   = 15
	DefaultFlashDaily = 1500
	DefaultProRPM     = 2
	DefaultProDaily   = 50
)

// TierLimiter enforces per-tier request pacing and daily call quotas.
//
// Each tier gets a token bucket refilled at rpm/60 tokens per second with a
// burst of rpm, plus a daily call counter that resets at midnight UTC. When
// the requested tier has spent its daily quota, Acquire swaps to the other
// tier and logs the escalation.
type TierLimiter struct {
	flashBucket *rate.Limiter
	proBucket   *rate.Limiter

	flashDaily int64
	proDaily   int64

	flashCalls atomic.Int64
	proCalls   atomic.Int64
	day        atomic.Int64
}

// NewTierLimiter builds a limiter from per-tier RPM and daily quotas.
// Zero or negative values fall back to the free-tier defaults.
func NewTierLimiter(flashRPM, flashDaily, proRPM, proDaily int) *TierLimiter {
	if flashRPM <= 0 {
		flashRPM = DefaultFlashRPM
	}
	if flashDaily <= 0 {
		flashDaily = DefaultFlashDaily
	}
	if proRPM <= 0 {
		proRPM = DefaultProRPM
	}
	if proDaily <= 0 {
		proDaily = DefaultProDaily
	}

	l := &TierLimiter{
		flashBucket: rate.NewLimiter(rate.Limit(float64(flashRPM)/60.0), flashRPM),
		proBucket:   rate.NewLimiter(rate.Limit(float64(proRPM)/60.0), proRPM),
		flashDaily:  int64(flashDaily),
		proDaily:    int64(proDaily),
	}
	l.day.Store(utcDay(time.Now()))
	return l
}

func utcDay(t time.Time) int64 {
	return t.UTC().Unix() / 86400
}

// rollDay zeroes the daily counters when the UTC date has changed.
func (l *TierLimiter) rollDay() {
	d := utcDay(time.Now())
	old := l.day.Load()
	if old != d && l.day.CompareAndSwap(old, d) {
		l.flashCalls.Store(0)
		l.proCalls.Store(0)
		logging.APIDebug("[Limiter] daily quota counters reset (utc day %d)", d)
	}
}

func (l *TierLimiter) calls(tier ModelTier) int64 {
	if tier == TierPro {
		return l.proCalls.Load()
	}
	return l.flashCalls.Load()
}

func (l *TierLimiter) quota(tier ModelTier) int64 {
	if tier == TierPro {
		return l.proDaily
	}
	return l.flashDaily
}

func (l *TierLimiter) bucket(tier ModelTier) *rate.Limiter {
	if tier == TierPro {
		return l.proBucket
	}
	return l.flashBucket
}

func swapTier(tier ModelTier) ModelTier {
	if tier == TierFlash {
		return TierPro
	}
	return TierFlash
}

// Acquire blocks until a request slot for the tier is available and returns
// the tier the caller should actually use. The returned tier differs from
// the requested one when the daily quota for the requested tier is spent.
func (l *TierLimiter) Acquire(ctx context.Context, tier ModelTier) (ModelTier, error) {
	l.rollDay()

	if l.calls(tier) >= l.quota(tier) {
		swapped := swapTier(tier)
		logging.APIWarn("[Limiter] daily limit reached for tier=%s (%d calls), escalating to tier=%s",
			tier, l.calls(tier), swapped)
		tier = swapped
	}

	if err := l.bucket(tier).Wait(ctx); err != nil {
		return tier, err
	}
	return tier, nil
}

// RecordCall counts a completed call against the tier's daily quota.
func (l *TierLimiter) RecordCall(tier ModelTier) {
	l.rollDay()
	if tier == TierPro {
		l.proCalls.Add(1)
		return
	}
	l.flashCalls.Add(1)
}

// DailyCalls returns today's per-tier call counts keyed by tier name.
func (l *TierLimiter) DailyCalls() map[string]int64 {
	l.rollDay()
	return map[string]int64{
		string(TierFlash): l.flashCalls.Load(),
		string(TierPro):   l.proCalls.Load(),
	}
}
