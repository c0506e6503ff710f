package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/frugalroute/frugalroute/internal/domain"
)

// WriteQueue batches request-log rows and flushes them in one transaction
// on a timer. When the backlog exceeds the degraded threshold the queue
// sheds non-critical rows (cache hits) until it drains to half the
// threshold; completion rows are always accepted.
type WriteQueue struct {
	mu       sync.Mutex
	pending  []domain.RequestLog
	degraded bool

	store         *Store
	flushInterval time.Duration
	threshold     int
}

func NewWriteQueue(s *Store, flushInterval time.Duration, degradedThreshold int) *WriteQueue {
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	if degradedThreshold <= 0 {
		degradedThreshold = 1000
	}
	return &WriteQueue{
		store:         s,
		flushInterval: flushInterval,
		threshold:     degradedThreshold,
	}
}

// Enqueue appends a row. critical=false marks rows that degraded mode may
// drop. Returns whether the row was accepted.
func (q *WriteQueue) Enqueue(row domain.RequestLog, critical bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) > q.threshold && !q.degraded {
		q.degraded = true
		slog.Warn("write queue entering degraded mode", "depth", len(q.pending))
	}

	if q.degraded && !critical {
		return false
	}

	q.pending = append(q.pending, row)
	return true
}

// Depth returns the number of queued rows.
func (q *WriteQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Degraded reports whether the queue is shedding non-critical writes.
func (q *WriteQueue) Degraded() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.degraded
}

// Flush writes the current batch synchronously. Storage failures are
// logged and the batch is dropped; they never surface to clients.
// Degraded mode ends only once the backlog seen at flush time has shrunk
// below half the threshold.
func (q *WriteQueue) Flush(ctx context.Context) {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	if q.degraded && len(batch) < q.threshold/2 {
		q.degraded = false
		slog.Info("write queue leaving degraded mode")
	}
	q.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	if err := q.store.InsertRequestBatch(ctx, batch); err != nil {
		slog.Error("request log flush failed", "rows", len(batch), "error", err)
	}
}

// Run flushes on a timer until the context is cancelled, then drains
// synchronously.
func (q *WriteQueue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.Flush(ctx)
		case <-ctx.Done():
			q.Flush(context.Background())
			return
		}
	}
}
