// Package audit records security-relevant mutations without ever affecting
// the outcome of the operation that produced them.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/suteetoe/tenantgate/internal/model"
	"github.com/suteetoe/tenantgate/prometheus"
)

// Sink persists audit entries.
type Sink interface {
	InsertAuditLog(ctx context.Context, entry *model.AuditLog) error
}

// Recorder queues entries in memory and writes them from a single background
// worker. Record never blocks on the sink.
type Recorder struct {
	sink    Sink
	log     *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	queue   []model.AuditLog
	closed  bool
	notify  chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

// NewRecorder starts the background writer. writeTimeout bounds each sink call.
func NewRecorder(sink Sink, log *zap.Logger, writeTimeout time.Duration) *Recorder {
	if writeTimeout <= 0 {
		writeTimeout = 3 * time.Second
	}
	r := &Recorder{
		sink:    sink,
		log:     log.Named("audit"),
		timeout: writeTimeout,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues entry and returns immediately. Entries recorded after Close
// are dropped and logged.
func (r *Recorder) Record(entry model.AuditLog) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.log.Warn("Audit entry dropped after shutdown", zap.String("action", entry.Action))
		prometheus.RecordAudit("dropped")
		return
	}
	r.queue = append(r.queue, entry)
	depth := len(r.queue)
	r.mu.Unlock()

	prometheus.RecordAudit("queued")
	prometheus.AuditQueueDepth.Set(float64(depth))

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Close stops accepting entries and waits for the queue to drain or ctx to end.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.done)
	}
	r.mu.Unlock()

	select {
	case <-r.stopped:
		return nil
	case <-ctx.Done():
		r.mu.Lock()
		pending := len(r.queue)
		r.mu.Unlock()
		return fmt.Errorf("audit queue not drained, %d entries pending: %w", pending, ctx.Err())
	}
}

func (r *Recorder) run() {
	defer close(r.stopped)
	for {
		r.drain()
		select {
		case <-r.notify:
		case <-r.done:
			r.drain()
			return
		}
	}
}

func (r *Recorder) drain() {
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			r.mu.Unlock()
			prometheus.AuditQueueDepth.Set(0)
			return
		}
		entry := r.queue[0]
		r.queue[0] = model.AuditLog{}
		r.queue = r.queue[1:]
		depth := len(r.queue)
		r.mu.Unlock()

		prometheus.AuditQueueDepth.Set(float64(depth))
		r.write(entry)
	}
}

func (r *Recorder) write(entry model.AuditLog) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("Audit sink panicked",
				zap.String("action", entry.Action),
				zap.Any("panic", p))
			prometheus.RecordAudit("failed")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.sink.InsertAuditLog(ctx, &entry); err != nil {
		r.log.Error("Failed to write audit entry",
			zap.String("action", entry.Action),
			zap.String("entity_type", entry.EntityType),
			zap.String("entity_id", entry.EntityID),
			zap.Error(err))
		prometheus.RecordAudit("failed")
		return
	}
	prometheus.RecordAudit("written")
}
