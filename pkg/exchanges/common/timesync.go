package common

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SafetyMarginMillis biases signed timestamps backward so a request never
// looks like it comes from the future to the exchange's skew check.
const SafetyMarginMillis = 1000

// TimeSync manages the local/exchange clock offset.
type TimeSync struct {
	getServerTime func(ctx context.Context) (int64, error)
	now           func() time.Time
	log           *zap.Logger

	offset       int64 // milliseconds, already includes the safety margin
	lastSync     time.Time
	syncInterval time.Duration
	mu           sync.RWMutex
}

// NewTimeSync creates a time synchronization manager. The offset starts at
// the fallback value until the first Sync. syncInterval <= 0 disables
// periodic re-sync.
func NewTimeSync(getServerTime func(ctx context.Context) (int64, error), syncInterval time.Duration, log *zap.Logger) *TimeSync {
	if log == nil {
		log = zap.NewNop()
	}
	return &TimeSync{
		getServerTime: getServerTime,
		now:           time.Now,
		log:           log,
		offset:        -SafetyMarginMillis,
		syncInterval:  syncInterval,
	}
}

// Start runs an initial sync and, when an interval is configured, re-syncs
// until ctx is done.
func (ts *TimeSync) Start(ctx context.Context) {
	ts.Sync(ctx)

	if ts.syncInterval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(ts.syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ts.Sync(ctx)
			}
		}
	}()
}

// Sync queries server time and stores offset = server - localMid - margin.
// A failed query falls back to -margin instead of failing.
func (ts *TimeSync) Sync(ctx context.Context) int64 {
	localBefore := ts.now().UnixMilli()
	serverTime, err := ts.getServerTime(ctx)
	localAfter := ts.now().UnixMilli()

	offset := int64(-SafetyMarginMillis)
	if err != nil {
		ts.log.Warn("time sync failed, using fallback offset",
			zap.Error(err), zap.Int64("offset_ms", offset))
	} else {
		localMid := (localBefore + localAfter) / 2
		offset = serverTime - localMid - SafetyMarginMillis
		ts.log.Info("time synced",
			zap.Int64("offset_ms", offset),
			zap.Int64("server_ms", serverTime),
			zap.Int64("local_ms", localMid))
	}

	ts.mu.Lock()
	ts.offset = offset
	ts.lastSync = ts.now()
	ts.mu.Unlock()

	return offset
}

// Now returns the current time in milliseconds adjusted by the offset.
func (ts *TimeSync) Now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.now().UnixMilli() + ts.offset
}

// Offset returns the current offset in milliseconds.
func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}

// LastSync returns when the offset was last written.
func (ts *TimeSync) LastSync() time.Time {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.lastSync
}
