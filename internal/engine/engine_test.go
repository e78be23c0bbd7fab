package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/poll"

	"github.com/fuomag9/inframirror/internal/alert"
	"github.com/fuomag9/inframirror/internal/classify"
	"github.com/fuomag9/inframirror/internal/config"
	"github.com/fuomag9/inframirror/internal/database"
	"github.com/fuomag9/inframirror/internal/models"
	"github.com/fuomag9/inframirror/internal/monitor"
	"github.com/fuomag9/inframirror/internal/store"
)

const testInterval = 100 * time.Millisecond

// recorder is a ProbeFunc that records tick times and tracks concurrency
type recorder struct {
	mu       sync.Mutex
	ticks    map[int][]time.Time
	running  atomic.Int32
	maxSeen  atomic.Int32
	duration time.Duration
}

func newRecorder(d time.Duration) *recorder {
	return &recorder{ticks: make(map[int][]time.Time), duration: d}
}

func (r *recorder) probe(ctx context.Context, m *models.Monitor, executedAt time.Time) {
	n := r.running.Add(1)
	defer r.running.Add(-1)
	for {
		cur := r.maxSeen.Load()
		if n <= cur || r.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}

	r.mu.Lock()
	r.ticks[m.ID] = append(r.ticks[m.ID], executedAt)
	r.mu.Unlock()

	select {
	case <-time.After(r.duration):
	case <-ctx.Done():
	}
}

func (r *recorder) count(id int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ticks[id])
}

func (r *recorder) times(id int) []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.ticks[id]...)
}

func newTestScheduler(t *testing.T, probe ProbeFunc, maxConcurrent int64) *Scheduler {
	s := NewScheduler(probe, maxConcurrent, zaptest.NewLogger(t))
	s.interval = func(*models.Monitor) time.Duration { return testInterval }
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func waitForTicks(t *testing.T, r *recorder, id, n int) {
	t.Helper()
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if r.count(id) >= n {
			return poll.Success()
		}
		return poll.Continue("%d ticks so far", r.count(id))
	}, poll.WithTimeout(5*time.Second), poll.WithDelay(10*time.Millisecond))
}

func TestSchedulerSpacesTicksByInterval(t *testing.T) {
	// Probes take longer than the interval, so some ticks must be skipped.
	r := newRecorder(150 * time.Millisecond)
	s := newTestScheduler(t, r.probe, 10)

	s.Schedule(&models.Monitor{ID: 1}, time.Time{})
	waitForTicks(t, r, 1, 4)
	assert.NilError(t, s.Stop(context.Background()))

	ticks := r.times(1)
	for i := 1; i < len(ticks); i++ {
		gap := ticks[i].Sub(ticks[i-1])
		assert.Assert(t, gap >= testInterval, "ticks %d and %d are %s apart", i-1, i, gap)
	}
	assert.Equal(t, r.maxSeen.Load(), int32(1))
	assert.Assert(t, s.Stats().SkippedBusy > 0)
}

func TestSchedulerFirstDelayHonoursLastExecution(t *testing.T) {
	r := newRecorder(0)
	s := newTestScheduler(t, r.probe, 10)

	last := time.Now().Add(-20 * time.Millisecond)
	s.Schedule(&models.Monitor{ID: 1}, last)
	waitForTicks(t, r, 1, 1)

	first := r.times(1)[0]
	assert.Assert(t, first.Sub(last) >= testInterval, "first tick %s after last execution", first.Sub(last))
}

func TestSchedulerRescheduleKeepsSpacing(t *testing.T) {
	r := newRecorder(0)
	s := newTestScheduler(t, r.probe, 10)

	m := &models.Monitor{ID: 1}
	s.Schedule(m, time.Time{})
	waitForTicks(t, r, 1, 1)
	s.Schedule(m, time.Time{})
	waitForTicks(t, r, 1, 2)

	ticks := r.times(1)
	assert.Assert(t, ticks[1].Sub(ticks[0]) >= testInterval)
}

func TestSchedulerUnscheduleStopsTicks(t *testing.T) {
	r := newRecorder(50 * time.Millisecond)
	s := newTestScheduler(t, r.probe, 10)

	s.Schedule(&models.Monitor{ID: 1}, time.Time{})
	waitForTicks(t, r, 1, 2)
	s.Unschedule(1)
	assert.Assert(t, !s.Scheduled(1))

	// Let any in-flight probe finish, then make sure nothing new starts.
	time.Sleep(testInterval)
	settled := r.count(1)
	time.Sleep(3 * testInterval)
	assert.Equal(t, r.count(1), settled)
}

func TestSchedulerUnscheduleDuringRunForgetsSlot(t *testing.T) {
	r := newRecorder(200 * time.Millisecond)
	s := newTestScheduler(t, r.probe, 10)

	s.Schedule(&models.Monitor{ID: 1}, time.Time{})
	waitForTicks(t, r, 1, 1)
	s.Unschedule(1)

	slots := func() int {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.slots)
	}
	assert.Equal(t, slots(), 1)

	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if n := slots(); n > 0 {
			return poll.Continue("%d slots left", n)
		}
		return poll.Success()
	}, poll.WithTimeout(5*time.Second), poll.WithDelay(10*time.Millisecond))
	assert.Equal(t, s.Stats().InFlight, int64(0))
}

func TestSchedulerSkipsWhenSaturated(t *testing.T) {
	r := newRecorder(250 * time.Millisecond)
	s := newTestScheduler(t, r.probe, 1)

	s.Schedule(&models.Monitor{ID: 1}, time.Time{})
	s.Schedule(&models.Monitor{ID: 2}, time.Time{})

	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if s.Stats().SkippedSaturated > 0 {
			return poll.Success()
		}
		return poll.Continue("no saturated skip yet")
	}, poll.WithTimeout(5*time.Second), poll.WithDelay(10*time.Millisecond))

	assert.Equal(t, r.maxSeen.Load(), int32(1))
}

func TestRegistryAncestors(t *testing.T) {
	reg := NewRegistry()
	one, two := 1, 2
	reg.Put(&models.Monitor{ID: 1})
	reg.Put(&models.Monitor{ID: 2, ParentID: &one})
	reg.Put(&models.Monitor{ID: 3, ParentID: &two})

	assert.DeepEqual(t, reg.Ancestors(3), []int{2, 1})
	assert.Assert(t, reg.Ancestors(1) == nil)

	// A parent that is not registered ends the chain.
	reg.Remove(1)
	assert.DeepEqual(t, reg.Ancestors(3), []int{2, 1})
	assert.DeepEqual(t, reg.IDs(), []int{2, 3})
}

// fixedProber always answers with the same HTTP status
type fixedProber struct {
	status int
	calls  atomic.Int32
}

func (p *fixedProber) Name() string                  { return models.TypeHTTP }
func (p *fixedProber) Validate(*models.Monitor) error { return nil }
func (p *fixedProber) Probe(context.Context, *models.Monitor) *monitor.Result {
	p.calls.Add(1)
	return &monitor.Result{StatusCode: p.status, ResponseTime: time.Millisecond}
}

type notification struct {
	monitorID  int
	transition alert.Transition
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *fakeNotifier) Notify(_ context.Context, m *models.Monitor, _ *models.Heartbeat, tr alert.Transition) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{m.ID, tr})
	return nil
}

func (n *fakeNotifier) list() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.sent...)
}

type fakeHub struct {
	mu     sync.Mutex
	events map[string]int
}

func (h *fakeHub) Broadcast(msgType string, _ any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[msgType]++
	return nil
}

func newTestEngine(t *testing.T, prober monitor.Prober, notifier Notifier, hub Broadcaster) (*Engine, *store.Store) {
	t.Helper()
	db, err := database.Connect(config.DatabaseConfig{Type: "sqlite", DSN: ":memory:"}, zaptest.NewLogger(t))
	assert.NilError(t, err)
	assert.NilError(t, database.AutoMigrate(db))
	s := store.New(db)

	cfg := config.EngineConfig{
		MaxConcurrentProbes: 8,
		WriterShards:        2,
		WriterQueueSize:     64,
		WriterMaxRetries:    2,
		WriterMinBackoff:    time.Millisecond,
		WriterMaxBackoff:    10 * time.Millisecond,
		FailureThreshold:    3,
		RecoveryThreshold:   1,
	}
	e := New(cfg, s, hub, notifier, zaptest.NewLogger(t))
	e.runner = monitor.NewRunner(classify.Accept).WithProbers(func(string) (monitor.Prober, bool) {
		return prober, true
	})
	e.scheduler.interval = func(*models.Monitor) time.Duration { return testInterval }
	return e, s
}

func TestEngineServerErrorsTransitionToDown(t *testing.T) {
	prober := &fixedProber{status: 500}
	notifier := &fakeNotifier{}
	hub := &fakeHub{events: map[string]int{}}
	e, s := newTestEngine(t, prober, notifier, hub)
	ctx := context.Background()

	m := models.NewMonitor()
	m.Name = "checkout"
	m.Type = models.TypeHTTP
	m.URL = "https://shop.example.com/health"
	m.IntervalSeconds = 30
	m.TimeoutSeconds = 5
	m.RetryCount = 2
	m.RetryDelaySeconds = 0
	m.ExpectedStatusCodes = "200,201"
	assert.NilError(t, s.CreateMonitor(ctx, &m))

	assert.NilError(t, e.Start(ctx))
	assert.Assert(t, e.Scheduled(m.ID))

	poll.WaitOn(t, func(poll.LogT) poll.Result {
		count, err := s.CountHeartbeats(ctx, []store.Filter{{Field: "monitor_id", Op: store.OpEquals, Value: int64(m.ID)}})
		if err != nil {
			return poll.Error(err)
		}
		if count >= 5 {
			return poll.Success()
		}
		return poll.Continue("%d heartbeats", count)
	}, poll.WithTimeout(5*time.Second), poll.WithDelay(20*time.Millisecond))

	e.StopMonitor(m.ID)
	assert.NilError(t, e.Stop(ctx))

	state, err := s.GetAlertState(ctx, m.ID)
	assert.NilError(t, err)
	assert.Equal(t, state.Status, models.AlertDown)

	// Exactly one down notification: no resend configured.
	assert.DeepEqual(t, notifier.list(), []notification{{m.ID, alert.Down}}, cmp.AllowUnexported(notification{}))

	hbs, err := s.RecentHeartbeats(ctx, m.ID, 100)
	assert.NilError(t, err)
	for _, hb := range hbs {
		assert.Equal(t, hb.Success, false)
		assert.Equal(t, hb.ErrorType, monitor.ErrStatusCode)
		assert.Equal(t, hb.Attempts, 3)
		assert.Equal(t, *hb.ResponseStatusCode, 500)
	}
	assert.Equal(t, int(prober.calls.Load()), 3*len(hbs))
	assert.Assert(t, hub.events["heartbeat"] >= 5)
	assert.Equal(t, hub.events["alert"], 1)
}

func TestEngineDisabledMonitorStopsProducingHeartbeats(t *testing.T) {
	prober := &fixedProber{status: 200}
	e, s := newTestEngine(t, prober, nil, nil)
	ctx := context.Background()

	m := models.NewMonitor()
	m.Name = "api"
	m.Type = models.TypeHTTP
	m.URL = "https://api.example.com"
	assert.NilError(t, s.CreateMonitor(ctx, &m))
	assert.NilError(t, e.Sync(ctx, &m))

	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if prober.calls.Load() >= 2 {
			return poll.Success()
		}
		return poll.Continue("waiting for probes")
	}, poll.WithTimeout(5*time.Second), poll.WithDelay(10*time.Millisecond))

	m.Enabled = false
	assert.NilError(t, s.UpdateMonitor(ctx, &m))
	assert.NilError(t, e.Sync(ctx, &m))
	assert.Assert(t, !e.Scheduled(m.ID))

	time.Sleep(testInterval)
	settled := prober.calls.Load()
	time.Sleep(3 * testInterval)
	assert.Equal(t, prober.calls.Load(), settled)
	assert.NilError(t, e.Stop(ctx))
}

func TestSuppressedByDownAncestor(t *testing.T) {
	e, _ := newTestEngine(t, &fixedProber{status: 200}, nil, nil)
	root, mid := 1, 2
	e.registry.Put(&models.Monitor{ID: 1})
	e.registry.Put(&models.Monitor{ID: 2, ParentID: &root})
	e.registry.Put(&models.Monitor{ID: 3, ParentID: &mid})

	_, suppressed := e.suppressedBy(3)
	assert.Assert(t, !suppressed)

	e.statuses[1] = models.AlertDown
	blocker, suppressed := e.suppressedBy(3)
	assert.Assert(t, suppressed)
	assert.Equal(t, blocker, 1)

	e.statuses[2] = models.AlertDown
	blocker, _ = e.suppressedBy(3)
	assert.Equal(t, blocker, 2)
}
