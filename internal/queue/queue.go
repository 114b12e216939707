// Package queue implements the in-memory FIFO between telemetry
// ingestion and the resolution engine's consumer loop.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shelfi/shelfd/internal/model"
	"github.com/shelfi/shelfd/internal/obs"
)

// Queue is a buffered observation queue with a background broker. A single
// producer enqueues; the engine's single consumer drains Out.
type Queue struct {
	mu           sync.Mutex
	backlog      []model.Observation
	notify       chan struct{}
	out          chan model.Observation
	shuttingDown atomic.Bool

	enqueued  atomic.Uint64
	processed atomic.Uint64
}

// New creates a Queue with a buffered output channel.
func New(outBuffer int) *Queue {
	if outBuffer <= 0 {
		outBuffer = 64
	}
	return &Queue{
		notify: make(chan struct{}, 1),
		out:    make(chan model.Observation, outBuffer),
	}
}

// Start runs the broker loop.
func (q *Queue) Start(ctx context.Context, highWatermark int) {
	go q.broker(ctx, highWatermark)
}

// broker moves backlog items to the output channel.
func (q *Queue) broker(ctx context.Context, highWatermark int) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		q.flushOnce()
		if highWatermark > 0 {
			if sz := q.BacklogSize(); sz > highWatermark {
				obs.Logger.Warn("queue backlog exceeds high watermark", "backlog_size", sz, "high_watermark", highWatermark)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-q.notify:
		case <-ticker.C:
		}
	}
}

// flushOnce drains backlog into the output buffer.
func (q *Queue) flushOnce() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.backlog) > 0 && len(q.out) < cap(q.out) {
		item := q.backlog[0]
		q.backlog = q.backlog[1:]
		q.out <- item
	}
}

// Enqueue appends an observation into the backlog and notifies the broker.
func (q *Queue) Enqueue(o model.Observation) bool {
	if q.shuttingDown.Load() {
		return false
	}
	q.enqueued.Add(1)
	q.mu.Lock()
	q.backlog = append(q.backlog, o)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Out exposes the output channel of observations.
func (q *Queue) Out() <-chan model.Observation { return q.out }

// BacklogSize returns the number of enqueued-but-not-yet-output items.
func (q *Queue) BacklogSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

// Depth returns backlog plus buffered output items.
func (q *Queue) Depth() int {
	q.mu.Lock()
	bl := len(q.backlog)
	q.mu.Unlock()
	return bl + len(q.out)
}

// MarkProcessed increases the processed counter.
func (q *Queue) MarkProcessed() { q.processed.Add(1) }

// Metrics returns counters and sizes for observability.
func (q *Queue) Metrics() (enq, proc uint64, backlog, depth int) {
	enq = q.enqueued.Load()
	proc = q.processed.Load()
	backlog = q.BacklogSize()
	depth = q.Depth()
	return enq, proc, backlog, depth
}

// CloseIntake disallows future enqueues.
func (q *Queue) CloseIntake() { q.shuttingDown.Store(true) }

// IsShuttingDown reports if intake has been closed.
func (q *Queue) IsShuttingDown() bool { return q.shuttingDown.Load() }

// DrainUntil blocks until everything enqueued has been processed or the
// context is done.
func (q *Queue) DrainUntil(ctx context.Context) bool {
	for {
		enq, proc, backlog, depth := q.Metrics()
		if backlog == 0 && depth == 0 && enq == proc {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}
