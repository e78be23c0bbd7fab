// Package engine wires the probing pipeline: scheduler ticks run the probe
// runner, results are classified into heartbeats, and the heartbeat writer
// persists them and advances alert state before notifying sinks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fuomag9/inframirror/internal/alert"
	"github.com/fuomag9/inframirror/internal/classify"
	"github.com/fuomag9/inframirror/internal/config"
	"github.com/fuomag9/inframirror/internal/heartbeat"
	"github.com/fuomag9/inframirror/internal/models"
	"github.com/fuomag9/inframirror/internal/monitor"
	"github.com/fuomag9/inframirror/internal/store"
)

// Broadcaster pushes live events to connected clients
type Broadcaster interface {
	Broadcast(msgType string, payload any) error
}

// Notifier delivers alert transitions to notification channels
type Notifier interface {
	Notify(ctx context.Context, m *models.Monitor, hb *models.Heartbeat, tr alert.Transition) error
}

// TransitionEvent is broadcast when a monitor's alert state changes
type TransitionEvent struct {
	MonitorID   int              `json:"monitor_id"`
	MonitorName string           `json:"monitor_name"`
	Transition  alert.Transition `json:"transition"`
	Status      string           `json:"status"`
	HeartbeatID int              `json:"heartbeat_id"`
	Suppressed  bool             `json:"suppressed"`
	At          time.Time        `json:"at"`
}

// Stats summarises engine activity for metrics
type Stats struct {
	Monitors  int
	Scheduler SchedulerStats
	Writer    heartbeat.Stats
}

// Engine owns the scheduled monitors and the heartbeat pipeline
type Engine struct {
	store     *store.Store
	registry  *Registry
	scheduler *Scheduler
	runner    *monitor.Runner
	writer    *heartbeat.Writer
	hub       Broadcaster
	notifier  Notifier
	defaults  alert.Policy
	notifyTTL time.Duration
	logger    *zap.Logger

	mu       sync.RWMutex
	statuses map[int]string
	notifyWG sync.WaitGroup
}

// New creates an engine. hub and notifier may be nil.
func New(cfg config.EngineConfig, s *store.Store, hub Broadcaster, notifier Notifier, logger *zap.Logger) *Engine {
	e := &Engine{
		store:    s,
		registry: NewRegistry(),
		runner:   monitor.NewRunner(classify.Accept),
		hub:      hub,
		notifier: notifier,
		defaults: alert.Policy{
			FailureThreshold:  cfg.FailureThreshold,
			RecoveryThreshold: cfg.RecoveryThreshold,
		},
		notifyTTL: cfg.NotifyTimeout,
		logger:    logger.Named("engine"),
		statuses:  make(map[int]string),
	}
	if e.notifyTTL <= 0 {
		e.notifyTTL = 30 * time.Second
	}

	e.scheduler = NewScheduler(e.probe, int64(cfg.MaxConcurrentProbes), logger)
	e.writer = heartbeat.NewWriter(s, e.Policy, heartbeat.Options{
		Shards:     cfg.WriterShards,
		QueueSize:  cfg.WriterQueueSize,
		MaxRetries: cfg.WriterMaxRetries,
		MinBackoff: cfg.WriterMinBackoff,
		MaxBackoff: cfg.WriterMaxBackoff,
	}, logger, heartbeat.SinkFunc(e.heartbeatWritten))

	return e
}

// Start loads every enabled monitor and schedules it
func (e *Engine) Start(ctx context.Context) error {
	monitors, err := e.store.ListEnabledMonitors(ctx)
	if err != nil {
		return fmt.Errorf("failed to load monitors: %w", err)
	}

	states, err := e.store.ListAlertStates(ctx)
	if err != nil {
		return fmt.Errorf("failed to load alert states: %w", err)
	}
	e.mu.Lock()
	for id, st := range states {
		e.statuses[id] = st.Status
	}
	e.mu.Unlock()

	ids := make([]int, 0, len(monitors))
	for _, m := range monitors {
		ids = append(ids, m.ID)
	}
	latest, err := e.store.LatestHeartbeats(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load latest heartbeats: %w", err)
	}

	for i := range monitors {
		m := &monitors[i]
		var last time.Time
		if hb, ok := latest[m.ID]; ok {
			last = hb.ExecutedAt
		}
		e.schedule(m, last)
	}

	e.logger.Info("Engine started", zap.Int("monitors", len(monitors)))
	return nil
}

// StartMonitor schedules (or reschedules) a monitor with its latest settings
func (e *Engine) StartMonitor(ctx context.Context, m *models.Monitor) error {
	var last time.Time
	hb, err := e.store.LastHeartbeat(ctx, m.ID)
	switch {
	case err == nil:
		last = hb.ExecutedAt
	case !errors.Is(err, store.ErrNotFound):
		return err
	}
	e.schedule(m, last)
	return nil
}

func (e *Engine) schedule(m *models.Monitor, last time.Time) {
	snapshot := e.registry.Put(m)
	e.scheduler.Schedule(snapshot, last)
	e.logger.Info("Started monitor",
		zap.Int("monitor_id", m.ID),
		zap.String("name", m.Name),
		zap.String("type", m.Type),
		zap.Int("interval_seconds", m.IntervalSeconds))
}

// StopMonitor cancels the timer of a monitor. A running probe completes and
// its heartbeat is still written.
func (e *Engine) StopMonitor(id int) {
	e.scheduler.Unschedule(id)
	e.registry.Remove(id)
	e.logger.Info("Stopped monitor", zap.Int("monitor_id", id))
}

// Sync applies a created or updated monitor: enabled monitors are
// rescheduled, disabled ones stopped.
func (e *Engine) Sync(ctx context.Context, m *models.Monitor) error {
	if !m.Enabled {
		e.StopMonitor(m.ID)
		return nil
	}
	return e.StartMonitor(ctx, m)
}

// Forget stops a deleted monitor and drops its cached alert status
func (e *Engine) Forget(id int) {
	e.StopMonitor(id)
	e.mu.Lock()
	delete(e.statuses, id)
	e.mu.Unlock()
}

// Scheduled reports whether the monitor has a live timer
func (e *Engine) Scheduled(id int) bool {
	return e.scheduler.Scheduled(id)
}

// Stop stops scheduling, waits for running probes and drains the writer
func (e *Engine) Stop(ctx context.Context) error {
	schedErr := e.scheduler.Stop(ctx)
	writerErr := e.writer.Close(ctx)
	e.notifyWG.Wait()
	e.logger.Info("Engine stopped")
	return errors.Join(schedErr, writerErr)
}

// Check runs a one-off probe of m without persisting anything
func (e *Engine) Check(ctx context.Context, m *models.Monitor) (monitor.Outcome, classify.Verdict) {
	out := e.runner.Run(ctx, m)
	return out, classify.Classify(m, out.Result)
}

// Policy returns the alert policy of a monitor
func (e *Engine) Policy(monitorID int) alert.Policy {
	if m, ok := e.registry.Get(monitorID); ok {
		return alert.PolicyFor(m, e.defaults)
	}
	return alert.PolicyFor(&models.Monitor{}, e.defaults)
}

// Stats returns engine counters
func (e *Engine) Stats() Stats {
	return Stats{
		Monitors:  e.registry.Len(),
		Scheduler: e.scheduler.Stats(),
		Writer:    e.writer.Stats(),
	}
}

func (e *Engine) probe(ctx context.Context, m *models.Monitor, executedAt time.Time) {
	out := e.runner.Run(ctx, m)
	if out.Cancelled {
		e.logger.Debug("Probe cancelled", zap.Int("monitor_id", m.ID))
		return
	}

	verdict := classify.Classify(m, out.Result)
	hb := classify.NewHeartbeat(m, out, verdict, executedAt)

	e.logger.Debug("Probe finished",
		zap.Int("monitor_id", m.ID),
		zap.String("status", hb.Status),
		zap.String("severity", hb.Severity),
		zap.Int("attempts", hb.Attempts),
		zap.Int("response_time_ms", hb.ResponseTimeMs),
		zap.String("error_type", hb.ErrorType))

	e.writer.Enqueue(hb)
}

// heartbeatWritten runs after commit on the writer's shard goroutine
func (e *Engine) heartbeatWritten(hb *models.Heartbeat, prev, next models.AlertState) {
	e.mu.Lock()
	e.statuses[hb.MonitorID] = next.Status
	e.mu.Unlock()

	e.broadcast("heartbeat", hb)

	tr := alert.Between(prev, next)
	if tr == alert.None {
		return
	}

	m, ok := e.registry.Get(hb.MonitorID)
	if !ok {
		// Stopped while the heartbeat was in flight; reload for the name.
		loaded, err := e.store.GetMonitor(context.Background(), hb.MonitorID)
		if err != nil {
			e.logger.Warn("Transition for unknown monitor", zap.Int("monitor_id", hb.MonitorID), zap.Error(err))
			return
		}
		m = loaded
	}

	blocker, suppressed := e.suppressedBy(hb.MonitorID)
	e.broadcast("alert", TransitionEvent{
		MonitorID:   m.ID,
		MonitorName: m.Name,
		Transition:  tr,
		Status:      next.Status,
		HeartbeatID: hb.ID,
		Suppressed:  suppressed,
		At:          hb.ExecutedAt,
	})

	if suppressed {
		e.logger.Info("Notification suppressed, parent is down",
			zap.Int("monitor_id", m.ID),
			zap.Int("parent_id", blocker),
			zap.String("transition", string(tr)))
		return
	}

	e.logger.Info("Alert transition",
		zap.Int("monitor_id", m.ID),
		zap.String("name", m.Name),
		zap.String("transition", string(tr)),
		zap.Int("consecutive_failures", next.ConsecutiveFailures))

	if e.notifier == nil {
		return
	}
	e.notifyWG.Add(1)
	go func() {
		defer e.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.notifyTTL)
		defer cancel()
		if err := e.notifier.Notify(ctx, m, hb, tr); err != nil {
			e.logger.Warn("Notification failed", zap.Int("monitor_id", m.ID), zap.Error(err))
		}
	}()
}

// suppressedBy returns the nearest ancestor that is currently down
func (e *Engine) suppressedBy(id int) (int, bool) {
	ancestors := e.registry.Ancestors(id)
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, pid := range ancestors {
		if e.statuses[pid] == models.AlertDown {
			return pid, true
		}
	}
	return 0, false
}

func (e *Engine) broadcast(msgType string, payload any) {
	if e.hub == nil {
		return
	}
	if err := e.hub.Broadcast(msgType, payload); err != nil {
		e.logger.Debug("Broadcast failed", zap.String("type", msgType), zap.Error(err))
	}
}
