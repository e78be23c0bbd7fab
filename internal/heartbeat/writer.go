// Package heartbeat persists probe results through sharded, non-blocking
// queues. Per-monitor order is preserved by routing every monitor to a fixed
// shard. Heartbeats that cannot be queued or persisted are dropped with a
// warning so that probing never waits on storage.
package heartbeat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/fuomag9/inframirror/internal/alert"
	"github.com/fuomag9/inframirror/internal/models"
	"github.com/fuomag9/inframirror/internal/store"
)

// Appender persists a heartbeat and advances the alert state atomically
type Appender interface {
	AppendHeartbeat(ctx context.Context, hb *models.Heartbeat, advance store.AdvanceFunc) (prev, next models.AlertState, err error)
}

// Sink is notified after a heartbeat has been committed
type Sink interface {
	HeartbeatWritten(hb *models.Heartbeat, prev, next models.AlertState)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(hb *models.Heartbeat, prev, next models.AlertState)

func (f SinkFunc) HeartbeatWritten(hb *models.Heartbeat, prev, next models.AlertState) {
	f(hb, prev, next)
}

// PolicyFunc resolves the alert policy of a monitor at write time
type PolicyFunc func(monitorID int) alert.Policy

// Options configures a Writer
type Options struct {
	Shards     int
	QueueSize  int
	MaxRetries int
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.Shards <= 0 {
		o.Shards = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = 100 * time.Millisecond
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = o.MinBackoff
	}
	return o
}

// Stats are cumulative writer counters
type Stats struct {
	Written int64
	Dropped int64
	Retried int64
}

// Writer is the append-only heartbeat persistence pipeline
type Writer struct {
	store    Appender
	policies PolicyFunc
	sinks    []Sink
	opts     Options
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
	queues []chan *models.Heartbeat
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	written atomic.Int64
	dropped atomic.Int64
	retried atomic.Int64
}

// NewWriter creates a writer and starts its shard workers
func NewWriter(s Appender, policies PolicyFunc, opts Options, logger *zap.Logger, sinks ...Sink) *Writer {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	w := &Writer{
		store:    s,
		policies: policies,
		sinks:    sinks,
		opts:     opts,
		logger:   logger.Named("heartbeat-writer"),
		queues:   make([]chan *models.Heartbeat, opts.Shards),
		ctx:      ctx,
		cancel:   cancel,
	}

	for i := range w.queues {
		w.queues[i] = make(chan *models.Heartbeat, opts.QueueSize)
		w.wg.Add(1)
		go w.work(w.queues[i])
	}

	return w
}

// Enqueue hands a heartbeat to its shard without blocking. It reports false
// when the heartbeat was dropped because the shard is full or the writer is
// closed.
func (w *Writer) Enqueue(hb *models.Heartbeat) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.drop(hb, "writer closed")
		return false
	}

	shard := hb.MonitorID % len(w.queues)
	if shard < 0 {
		shard = -shard
	}

	select {
	case w.queues[shard] <- hb:
		return true
	default:
		w.drop(hb, "queue full")
		return false
	}
}

// Close stops accepting heartbeats and drains the queues. If ctx ends first,
// pending retries are abandoned and ctx's error is returned.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		for _, q := range w.queues {
			close(q)
		}
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		<-done
		return ctx.Err()
	}
}

// Stats returns the cumulative counters
func (w *Writer) Stats() Stats {
	return Stats{
		Written: w.written.Load(),
		Dropped: w.dropped.Load(),
		Retried: w.retried.Load(),
	}
}

func (w *Writer) work(queue <-chan *models.Heartbeat) {
	defer w.wg.Done()
	for hb := range queue {
		w.write(hb)
	}
}

func (w *Writer) advance(prev models.AlertState, hb *models.Heartbeat) models.AlertState {
	next, _ := alert.Evaluate(prev, w.policies(hb.MonitorID), hb)
	return next
}

func (w *Writer) write(hb *models.Heartbeat) {
	b := &backoff.Backoff{
		Min:    w.opts.MinBackoff,
		Max:    w.opts.MaxBackoff,
		Factor: 2,
		Jitter: true,
	}

	for attempt := 0; ; attempt++ {
		prev, next, err := w.store.AppendHeartbeat(w.ctx, hb, w.advance)
		if err == nil {
			w.written.Add(1)
			for _, s := range w.sinks {
				s.HeartbeatWritten(hb, prev, next)
			}
			return
		}

		if permanent(err) {
			w.drop(hb, err.Error())
			return
		}
		if attempt >= w.opts.MaxRetries {
			w.drop(hb, "retries exhausted: "+err.Error())
			return
		}

		delay := b.Duration()
		w.retried.Add(1)
		w.logger.Debug("Retrying heartbeat write",
			zap.Int("monitor_id", hb.MonitorID),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-w.ctx.Done():
			timer.Stop()
			w.drop(hb, "writer shutting down")
			return
		}
	}
}

func (w *Writer) drop(hb *models.Heartbeat, reason string) {
	w.dropped.Add(1)
	w.logger.Warn("Dropping heartbeat",
		zap.Int("monitor_id", hb.MonitorID),
		zap.Time("executed_at", hb.ExecutedAt),
		zap.String("status", hb.Status),
		zap.String("reason", reason))
}

// permanent reports errors that a retry cannot fix
func permanent(err error) bool {
	var cfgErr *models.ConfigurationError
	return errors.As(err, &cfgErr) || errors.Is(err, store.ErrNotFound)
}
