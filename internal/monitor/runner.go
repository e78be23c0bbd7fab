package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/fuomag9/inframirror/internal/models"
)

// AcceptFunc decides whether an attempt's result ends the retry loop
type AcceptFunc func(m *models.Monitor, r *Result) bool

// Outcome is the result of running a monitor's check with retries
type Outcome struct {
	Result    *Result
	Attempts  int
	StartedAt time.Time
	// Cancelled is set when the caller's context ended before a final attempt
	// completed; such outcomes are not persisted.
	Cancelled bool
}

// Runner executes monitor checks with per-attempt timeouts and retries
type Runner struct {
	accept AcceptFunc
	lookup func(name string) (Prober, bool)
}

// NewRunner creates a runner. A nil accept treats any result without a
// transport error as final.
func NewRunner(accept AcceptFunc) *Runner {
	if accept == nil {
		accept = func(_ *models.Monitor, r *Result) bool { return !r.Failed() }
	}
	return &Runner{accept: accept, lookup: GetProber}
}

// WithProbers makes the runner resolve probers through lookup instead of the
// package registry.
func (r *Runner) WithProbers(lookup func(name string) (Prober, bool)) *Runner {
	r.lookup = lookup
	return r
}

// Run performs up to retry_count+1 attempts and returns the last one
func (r *Runner) Run(ctx context.Context, m *models.Monitor) Outcome {
	out := Outcome{StartedAt: time.Now().UTC()}

	prober, ok := r.lookup(m.Type)
	if !ok {
		out.Attempts = 1
		out.Result = (&Result{}).fail(ErrUnknownType, "unknown monitor type: %s", m.Type)
		return out
	}

	maxAttempts := m.RetryCount + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out.Attempts = attempt
		out.Result = r.attempt(ctx, prober, m)

		if ctx.Err() != nil {
			out.Cancelled = true
			return out
		}
		if attempt == maxAttempts || r.accept(m, out.Result) {
			return out
		}

		delay := m.RetryDelay()
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			out.Cancelled = true
			return out
		case <-timer.C:
		}
	}
	return out
}

func (r *Runner) attempt(ctx context.Context, prober Prober, m *models.Monitor) *Result {
	attemptCtx, cancel := context.WithTimeout(ctx, m.Timeout())
	defer cancel()

	start := time.Now()
	res := prober.Probe(attemptCtx, m)
	if res == nil {
		res = (&Result{}).fail(ErrTransport, "prober returned no result")
	}
	if res.ResponseTime == 0 {
		res.ResponseTime = time.Since(start)
	}

	// Any failure observed after the attempt deadline is reported as a timeout,
	// whatever error the transport surfaced.
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		if res.Failed() || res.ResponseTime >= m.Timeout() {
			res.ErrorType = ErrTimeout
			if res.ErrorMessage == "" {
				res.ErrorMessage = "check timed out after " + m.Timeout().String()
			}
		}
	}
	return res
}
