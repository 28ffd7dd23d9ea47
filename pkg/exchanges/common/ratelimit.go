package common

import (
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WeightTracker tracks the exchange's reported request-weight usage.
type WeightTracker struct {
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	log           *zap.Logger
	mu            sync.RWMutex
}

// NewWeightTracker creates a tracker.
// limit: maximum weight per window (2400 for futures)
// resetInterval: window length (1 minute)
func NewWeightTracker(limit int, resetInterval time.Duration, log *zap.Logger) *WeightTracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &WeightTracker{
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
		log:           log,
	}
}

// UpdateFromHeader records the value of X-MBX-USED-WEIGHT-1M.
func (wt *WeightTracker) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}

	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	wt.mu.Lock()
	defer wt.mu.Unlock()

	if time.Since(wt.lastReset) >= wt.resetInterval {
		wt.usedWeight = 0
		wt.lastReset = time.Now()
	}

	wt.usedWeight = weight

	percentage := float64(wt.usedWeight) / float64(wt.limit) * 100
	if percentage >= 95 {
		wt.log.Warn("request weight critical",
			zap.Int("used", wt.usedWeight), zap.Int("limit", wt.limit), zap.Float64("pct", percentage))
	} else if percentage >= 80 {
		wt.log.Warn("request weight high",
			zap.Int("used", wt.usedWeight), zap.Int("limit", wt.limit), zap.Float64("pct", percentage))
	}
}

// Usage returns current usage information.
func (wt *WeightTracker) Usage() (used int, limit int, percentage float64) {
	wt.mu.RLock()
	defer wt.mu.RUnlock()

	if time.Since(wt.lastReset) >= wt.resetInterval {
		return 0, wt.limit, 0
	}

	return wt.usedWeight, wt.limit, float64(wt.usedWeight) / float64(wt.limit) * 100
}
