package common

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TimeSync keeps the offset between the venue clock and the local clock so
// signed requests carry a timestamp the venue accepts.
type TimeSync struct {
	getServerTime func(ctx context.Context) (int64, error)
	offset        int64 // milliseconds offset (server - local)
	lastSync      time.Time
	syncInterval  time.Duration
	mu            sync.RWMutex
}

// NewTimeSync creates a new time synchronization manager.
func NewTimeSync(getServerTime func(ctx context.Context) (int64, error), syncInterval time.Duration) *TimeSync {
	if syncInterval <= 0 {
		syncInterval = 30 * time.Minute
	}
	return &TimeSync{
		getServerTime: getServerTime,
		syncInterval:  syncInterval,
	}
}

// Sync synchronizes with server time.
func (ts *TimeSync) Sync(ctx context.Context) error {
	localBefore := time.Now().UnixMilli()
	serverTime, err := ts.getServerTime(ctx)
	if err != nil {
		return err
	}
	localAfter := time.Now().UnixMilli()

	// Assume network latency is symmetric
	localTime := localBefore + (localAfter-localBefore)/2

	ts.mu.Lock()
	ts.offset = serverTime - localTime
	ts.lastSync = time.Now()
	ts.mu.Unlock()

	logrus.WithField("component", "timesync").Debugf("time sync: offset=%dms server=%d local=%d", serverTime-localTime, serverTime, localTime)
	return nil
}

// Stale reports whether the offset is older than the sync interval.
func (ts *TimeSync) Stale() bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.lastSync.IsZero() || time.Since(ts.lastSync) >= ts.syncInterval
}

// Invalidate forces a resync before the next signed request.
func (ts *TimeSync) Invalidate() {
	ts.mu.Lock()
	ts.lastSync = time.Time{}
	ts.mu.Unlock()
}

// Now returns current time adjusted for server offset.
func (ts *TimeSync) Now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().UnixMilli() + ts.offset
}

// Offset returns the current time offset in milliseconds.
func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}
