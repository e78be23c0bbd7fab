package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/fuomag9/inframirror/internal/models"
)

// ProbeFunc runs one check of m. executedAt is the tick time.
type ProbeFunc func(ctx context.Context, m *models.Monitor, executedAt time.Time)

// SchedulerStats are cumulative tick counters
type SchedulerStats struct {
	Scheduled        int
	InFlight         int64
	Dispatched       int64
	SkippedBusy      int64
	SkippedSaturated int64
}

// slot tracks a monitor across reschedules so that a probe started under an
// old timer still blocks ticks of the new one.
type slot struct {
	inFlight atomic.Bool
	last     time.Time // guarded by Scheduler.mu
}

type job struct {
	monitor *models.Monitor
	timer   *time.Timer
	slot    *slot
}

// Scheduler keeps one timer per monitor. A tick is skipped, never queued, when
// the monitor's previous probe is still running or when the global probe
// budget is exhausted.
type Scheduler struct {
	probe    ProbeFunc
	sem      *semaphore.Weighted
	logger   *zap.Logger
	interval func(*models.Monitor) time.Duration

	mu      sync.Mutex
	jobs    map[int]*job
	slots   map[int]*slot
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	inFlight    atomic.Int64
	dispatched  atomic.Int64
	skippedBusy atomic.Int64
	skippedSat  atomic.Int64
}

// NewScheduler creates a scheduler running at most maxConcurrent probes
func NewScheduler(probe ProbeFunc, maxConcurrent int64, logger *zap.Logger) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		probe:    probe,
		sem:      semaphore.NewWeighted(maxConcurrent),
		logger:   logger.Named("scheduler"),
		interval: func(m *models.Monitor) time.Duration { return m.Interval() },
		jobs:     make(map[int]*job),
		slots:    make(map[int]*slot),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Schedule starts or restarts the timer of m. lastExecuted is the time of the
// latest persisted heartbeat, if any; the first tick is delayed so that it is
// at least one interval after both it and any tick this scheduler already ran.
func (s *Scheduler) Schedule(m *models.Monitor, lastExecuted time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	if old, ok := s.jobs[m.ID]; ok {
		old.timer.Stop()
	}

	sl, ok := s.slots[m.ID]
	if !ok {
		sl = &slot{}
		s.slots[m.ID] = sl
	}
	if sl.last.After(lastExecuted) {
		lastExecuted = sl.last
	}

	interval := s.interval(m)
	delay := time.Duration(0)
	if !lastExecuted.IsZero() {
		delay = max(0, time.Until(lastExecuted.Add(interval)))
	}

	j := &job{monitor: m, slot: sl}
	j.timer = time.AfterFunc(delay, func() { s.tick(j) })
	s.jobs[m.ID] = j

	s.logger.Debug("Scheduled monitor",
		zap.Int("monitor_id", m.ID),
		zap.Duration("interval", interval),
		zap.Duration("first_delay", delay))
}

// Unschedule stops the timer of a monitor. A probe already running completes.
func (s *Scheduler) Unschedule(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return
	}
	j.timer.Stop()
	delete(s.jobs, id)
	if !j.slot.inFlight.Load() {
		delete(s.slots, id)
	}
}

// release clears the in-flight mark of a slot and forgets the slot when its
// monitor was unscheduled while the check ran.
func (s *Scheduler) release(id int, sl *slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl.inFlight.Store(false)
	if _, ok := s.jobs[id]; !ok && s.slots[id] == sl {
		delete(s.slots, id)
	}
}

// Scheduled reports whether a monitor has a live timer
func (s *Scheduler) Scheduled(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

// Stop cancels every timer and waits for running probes. When ctx ends first
// the probes are cancelled and Stop returns ctx's error once they exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	for id, j := range s.jobs {
		j.timer.Stop()
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

// Stats returns the tick counters
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	scheduled := len(s.jobs)
	s.mu.Unlock()
	return SchedulerStats{
		Scheduled:        scheduled,
		InFlight:         s.inFlight.Load(),
		Dispatched:       s.dispatched.Load(),
		SkippedBusy:      s.skippedBusy.Load(),
		SkippedSaturated: s.skippedSat.Load(),
	}
}

func (s *Scheduler) tick(j *job) {
	m := j.monitor

	s.mu.Lock()
	if s.stopped || s.jobs[m.ID] != j {
		s.mu.Unlock()
		return
	}
	// The tick time is taken before the timer is re-armed, so the next tick
	// is at least one interval after it.
	executedAt := time.Now().UTC()
	j.timer.Reset(s.interval(m))

	if !j.slot.inFlight.CompareAndSwap(false, true) {
		s.mu.Unlock()
		s.skippedBusy.Add(1)
		s.logger.Debug("Skipping tick, previous probe still running", zap.Int("monitor_id", m.ID))
		return
	}
	if !s.sem.TryAcquire(1) {
		j.slot.inFlight.Store(false)
		s.mu.Unlock()
		s.skippedSat.Add(1)
		s.logger.Warn("Skipping tick, probe budget exhausted", zap.Int("monitor_id", m.ID))
		return
	}
	j.slot.last = executedAt
	s.wg.Add(1)
	s.mu.Unlock()

	s.dispatched.Add(1)
	s.inFlight.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		defer s.release(m.ID, j.slot)
		defer s.inFlight.Add(-1)
		s.probe(s.ctx, m, executedAt)
	}()
}
