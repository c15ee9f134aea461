// Package persistence buffers journal writes off the trading path.
package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"spot-trader/pkg/db"
)

// Store is the durable journal behind the writer.
type Store interface {
	RecordOrder(ctx context.Context, r db.OrderRecord) error
	RecordCycles(ctx context.Context, rs []db.CycleRecord) error
}

// BatchWriter journals orders synchronously and batches cycle records,
// flushing when the buffer fills or the interval elapses.
type BatchWriter struct {
	store       Store
	mu          sync.Mutex
	buffer      []db.CycleRecord
	maxSize     int
	flushIntval time.Duration
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	log         *logrus.Entry
	metrics     BatchWriterMetrics
}

// BatchWriterMetrics provides statistics about batch operations.
type BatchWriterMetrics struct {
	TotalWrites  uint64 `json:"total_writes"`
	TotalBatches uint64 `json:"total_batches"`
	TotalErrors  uint64 `json:"total_errors"`
	Dropped      uint64 `json:"dropped"`
}

// NewBatchWriter creates a batch writer.
// maxSize: max buffered cycles before auto-flush
// interval: time-based flush interval
func NewBatchWriter(store Store, maxSize int, interval time.Duration) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}

	bw := &BatchWriter{
		store:       store,
		buffer:      make([]db.CycleRecord, 0, maxSize),
		maxSize:     maxSize,
		flushIntval: interval,
		done:        make(chan struct{}),
		log:         logrus.WithField("component", "journal"),
	}

	bw.wg.Add(1)
	go bw.backgroundFlush()

	return bw
}

// RecordOrder writes through; order records are never buffered.
func (bw *BatchWriter) RecordOrder(ctx context.Context, r db.OrderRecord) error {
	return bw.store.RecordOrder(ctx, r)
}

// RecordCycle queues a cycle record.
func (bw *BatchWriter) RecordCycle(ctx context.Context, r db.CycleRecord) error {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, r)
	shouldFlush := len(bw.buffer) >= bw.maxSize
	bw.mu.Unlock()

	if shouldFlush {
		return bw.Flush(ctx)
	}
	return nil
}

// Flush immediately writes all buffered records. A failed batch is dropped
// and counted; the journal is an audit trail, not trading state.
func (bw *BatchWriter) Flush(ctx context.Context) error {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	batch := bw.buffer
	bw.buffer = make([]db.CycleRecord, 0, bw.maxSize)
	bw.mu.Unlock()

	atomic.AddUint64(&bw.metrics.TotalBatches, 1)
	if err := bw.store.RecordCycles(ctx, batch); err != nil {
		atomic.AddUint64(&bw.metrics.TotalErrors, 1)
		atomic.AddUint64(&bw.metrics.Dropped, uint64(len(batch)))
		bw.log.WithError(err).WithField("records", len(batch)).Warn("cycle batch dropped")
		return err
	}
	atomic.AddUint64(&bw.metrics.TotalWrites, uint64(len(batch)))
	bw.log.WithField("records", len(batch)).Debug("cycles flushed")
	return nil
}

func (bw *BatchWriter) backgroundFlush() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.flushIntval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = bw.Flush(context.Background())
		case <-bw.done:
			_ = bw.Flush(context.Background())
			return
		}
	}
}

// Pending returns the number of buffered records.
func (bw *BatchWriter) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Metrics returns a snapshot of the writer counters.
func (bw *BatchWriter) Metrics() BatchWriterMetrics {
	return BatchWriterMetrics{
		TotalWrites:  atomic.LoadUint64(&bw.metrics.TotalWrites),
		TotalBatches: atomic.LoadUint64(&bw.metrics.TotalBatches),
		TotalErrors:  atomic.LoadUint64(&bw.metrics.TotalErrors),
		Dropped:      atomic.LoadUint64(&bw.metrics.Dropped),
	}
}

// Close flushes what is buffered and stops the background loop.
func (bw *BatchWriter) Close() error {
	bw.closeOnce.Do(func() { close(bw.done) })
	bw.wg.Wait()
	return nil
}
