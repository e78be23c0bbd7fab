package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/fuomag9/inframirror/internal/models"
)

// scriptedProber returns results[i] on the i-th call, repeating the last one
type scriptedProber struct {
	calls   atomic.Int32
	results []*Result
	block   bool
}

func (p *scriptedProber) Name() string { return "scripted" }
func (p *scriptedProber) Validate(*models.Monitor) error { return nil }

func (p *scriptedProber) Probe(ctx context.Context, _ *models.Monitor) *Result {
	n := int(p.calls.Add(1)) - 1
	if p.block {
		<-ctx.Done()
		return (&Result{}).fail(classifyError(ctx.Err()), "%v", ctx.Err())
	}
	if n >= len(p.results) {
		n = len(p.results) - 1
	}
	r := *p.results[n]
	return &r
}

func lookupFor(p Prober) func(string) (Prober, bool) {
	return func(string) (Prober, bool) { return p, true }
}

func testMonitor(mutate ...func(*models.Monitor)) *models.Monitor {
	m := models.NewMonitor()
	m.ID = 1
	m.Name = "test"
	m.Type = "scripted"
	m.TimeoutSeconds = 1
	m.RetryDelaySeconds = 0
	for _, fn := range mutate {
		fn(&m)
	}
	return &m
}

func TestRunnerRetriesAtMostRetryCountPlusOne(t *testing.T) {
	tests := []struct {
		name         string
		retryCount   int
		results      []*Result
		wantAttempts int
		wantFailed   bool
	}{
		{
			name:         "always failing",
			retryCount:   3,
			results:      []*Result{{ErrorType: ErrConnectionRefused}},
			wantAttempts: 4,
			wantFailed:   true,
		},
		{
			name:         "no retries",
			retryCount:   0,
			results:      []*Result{{ErrorType: ErrConnectionRefused}},
			wantAttempts: 1,
			wantFailed:   true,
		},
		{
			name:         "recovers on second attempt",
			retryCount:   3,
			results:      []*Result{{ErrorType: ErrTransport}, {StatusCode: 200}},
			wantAttempts: 2,
		},
		{
			name:         "first attempt succeeds",
			retryCount:   5,
			results:      []*Result{{StatusCode: 200}},
			wantAttempts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scriptedProber{results: tt.results}
			r := NewRunner(nil).WithProbers(lookupFor(p))

			out := r.Run(context.Background(), testMonitor(func(m *models.Monitor) { m.RetryCount = tt.retryCount }))

			assert.Equal(t, out.Attempts, tt.wantAttempts)
			assert.Equal(t, int(p.calls.Load()), tt.wantAttempts)
			assert.Equal(t, out.Result.Failed(), tt.wantFailed)
			assert.Assert(t, !out.Cancelled)
		})
	}
}

func TestRunnerAcceptFuncControlsRetry(t *testing.T) {
	p := &scriptedProber{results: []*Result{{StatusCode: 500}, {StatusCode: 500}, {StatusCode: 200}}}
	accept := func(_ *models.Monitor, r *Result) bool { return !r.Failed() && r.StatusCode < 500 }
	r := NewRunner(accept).WithProbers(lookupFor(p))

	out := r.Run(context.Background(), testMonitor(func(m *models.Monitor) { m.RetryCount = 4 }))

	assert.Equal(t, out.Attempts, 3)
	assert.Equal(t, out.Result.StatusCode, 200)
}

func TestRunnerReportsTimeout(t *testing.T) {
	p := &scriptedProber{block: true}
	r := NewRunner(nil).WithProbers(lookupFor(p))

	start := time.Now()
	out := r.Run(context.Background(), testMonitor(func(m *models.Monitor) { m.RetryCount = 1 }))

	assert.Equal(t, out.Result.ErrorType, ErrTimeout)
	assert.Equal(t, out.Attempts, 2)
	assert.Assert(t, time.Since(start) >= 2*time.Second)
}

func TestRunnerHTTPTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	r := NewRunner(nil)
	out := r.Run(context.Background(), testMonitor(func(m *models.Monitor) {
		m.Type = models.TypeHTTP
		m.URL = srv.URL
	}))

	assert.Assert(t, out.Result.Failed())
	assert.Equal(t, out.Result.ErrorType, ErrTimeout)
	assert.Equal(t, out.Attempts, 1)
}

func TestRunnerCancelled(t *testing.T) {
	p := &scriptedProber{results: []*Result{{ErrorType: ErrTransport}}}
	r := NewRunner(nil).WithProbers(lookupFor(p))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	out := r.Run(ctx, testMonitor(func(m *models.Monitor) {
		m.RetryCount = 5
		m.RetryDelaySeconds = 10
	}))

	assert.Assert(t, out.Cancelled)
	assert.Equal(t, out.Attempts, 1)
}

func TestRunnerUnknownType(t *testing.T) {
	out := NewRunner(nil).Run(context.Background(), testMonitor(func(m *models.Monitor) { m.Type = "gopher" }))
	assert.Equal(t, out.Result.ErrorType, ErrUnknownType)
	assert.Equal(t, out.Attempts, 1)
}
