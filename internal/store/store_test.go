package store

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"gotest.tools/v3/assert"

	"github.com/fuomag9/inframirror/internal/config"
	"github.com/fuomag9/inframirror/internal/database"
	"github.com/fuomag9/inframirror/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Connect(config.DatabaseConfig{Type: "sqlite", DSN: ":memory:"}, zaptest.NewLogger(t))
	assert.NilError(t, err)
	assert.NilError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return New(db)
}

func createMonitor(t *testing.T, s *Store, name string, mutate ...func(*models.Monitor)) *models.Monitor {
	t.Helper()
	m := models.NewMonitor()
	m.Name = name
	m.Type = models.TypeHTTP
	m.URL = "https://example.com/" + name
	for _, fn := range mutate {
		fn(&m)
	}
	assert.NilError(t, s.CreateMonitor(context.Background(), &m))
	return &m
}

func countFailures(prev models.AlertState, hb *models.Heartbeat) models.AlertState {
	next := prev
	if hb.Success {
		next.ConsecutiveFailures = 0
		next.Status = models.AlertUp
	} else {
		next.ConsecutiveFailures++
	}
	return next
}

func TestCreateMonitorValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := models.NewMonitor()
	m.Type = models.TypeHTTP
	err := s.CreateMonitor(ctx, &m)

	var cfgErr *models.ConfigurationError
	assert.Assert(t, errors.As(err, &cfgErr))
	assert.Equal(t, cfgErr.Fields["name"], "is required")
}

func TestParentChain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root := createMonitor(t, s, "root")
	child := createMonitor(t, s, "child", func(m *models.Monitor) { m.ParentID = &root.ID })
	grandchild := createMonitor(t, s, "grandchild", func(m *models.Monitor) { m.ParentID = &child.ID })

	// root -> grandchild would close the loop
	root.ParentID = &grandchild.ID
	err := s.UpdateMonitor(ctx, root)
	assert.ErrorContains(t, err, "cycle")

	missing := 999
	orphan := models.NewMonitor()
	orphan.Name = "orphan"
	orphan.Type = models.TypeTCP
	orphan.URL = "db.internal"
	orphan.ParentID = &missing
	assert.ErrorContains(t, s.CreateMonitor(ctx, &orphan), "does not exist")

	children, err := s.ListChildren(ctx, root.ID)
	assert.NilError(t, err)
	assert.Equal(t, len(children), 1)
	assert.Equal(t, children[0].ID, child.ID)
}

func TestAppendHeartbeatAdvancesAlertState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := createMonitor(t, s, "api")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		hb := &models.Heartbeat{
			MonitorID:  m.ID,
			ExecutedAt: base.Add(time.Duration(i) * time.Minute),
			Status:     models.StatusDown,
			Severity:   models.SeverityCritical,
			Attempts:   1,
		}
		prev, next, err := s.AppendHeartbeat(ctx, hb, countFailures)
		assert.NilError(t, err)
		assert.Assert(t, hb.ID != 0)
		assert.Equal(t, prev.Version, i)
		assert.Equal(t, next.Version, i+1)
		assert.Equal(t, next.LastHeartbeatID, hb.ID)
	}

	state, err := s.GetAlertState(ctx, m.ID)
	assert.NilError(t, err)
	assert.Equal(t, state.ConsecutiveFailures, 3)
	assert.Equal(t, state.Version, 3)

	count, err := s.CountHeartbeats(ctx, []Filter{{Field: "monitor_id", Op: OpEquals, Value: int64(m.ID)}})
	assert.NilError(t, err)
	assert.Equal(t, count, int64(3))
}

func TestAppendHeartbeatRejectsRewrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := createMonitor(t, s, "api")

	hb := &models.Heartbeat{MonitorID: m.ID, ExecutedAt: time.Now().UTC(), Status: models.StatusUp, Severity: models.SeverityOK, Success: true}
	_, _, err := s.AppendHeartbeat(ctx, hb, countFailures)
	assert.NilError(t, err)

	hb.Message = "edited"
	_, _, err = s.AppendHeartbeat(ctx, hb, countFailures)
	assert.ErrorContains(t, err, "immutable")

	stored, err := s.GetHeartbeat(ctx, hb.ID)
	assert.NilError(t, err)
	assert.Equal(t, stored.Message, "")
}

func TestAppendHeartbeatForDeletedMonitor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := createMonitor(t, s, "gone")
	assert.NilError(t, s.DeleteMonitor(ctx, m.ID))

	hb := &models.Heartbeat{MonitorID: m.ID, ExecutedAt: time.Now().UTC(), Status: models.StatusUp, Severity: models.SeverityOK}
	_, _, err := s.AppendHeartbeat(ctx, hb, countFailures)
	assert.Assert(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, hb.ID, 0)
}

func TestRepairAlertStateVersionCheck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := createMonitor(t, s, "api")

	hb := &models.Heartbeat{MonitorID: m.ID, ExecutedAt: time.Now().UTC(), Status: models.StatusDown, Severity: models.SeverityCritical}
	_, next, err := s.AppendHeartbeat(ctx, hb, countFailures)
	assert.NilError(t, err)

	repaired := next
	repaired.Status = models.AlertDown
	err = s.RepairAlertState(ctx, repaired, next.Version-1)
	assert.Assert(t, errors.Is(err, ErrStaleState))

	assert.NilError(t, s.RepairAlertState(ctx, repaired, next.Version))
	state, err := s.GetAlertState(ctx, m.ID)
	assert.NilError(t, err)
	assert.Equal(t, state.Status, models.AlertDown)
	assert.Equal(t, state.Version, next.Version+1)
}

func TestListHeartbeatsWithCriteria(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := createMonitor(t, s, "api")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	statuses := []string{models.StatusUp, models.StatusDown, models.StatusDegraded, models.StatusDown}
	for i, st := range statuses {
		hb := &models.Heartbeat{
			MonitorID:      m.ID,
			ExecutedAt:     base.Add(time.Duration(i) * time.Minute),
			Status:         st,
			Severity:       models.SeverityOK,
			Success:        st != models.StatusDown,
			ResponseTimeMs: 100 * (i + 1),
			ErrorType:      map[bool]string{true: "", false: "timeout"}[st != models.StatusDown],
		}
		_, _, err := s.AppendHeartbeat(ctx, hb, countFailures)
		assert.NilError(t, err)
	}

	tests := []struct {
		query string
		want  int
	}{
		{"status.equals=down", 2},
		{"status.in=up,degraded", 2},
		{"response_time_ms.greaterThan=200", 2},
		{"response_time_ms.lessThanOrEqual=200&success.equals=true", 1},
		{"error_type.contains=TIME", 2},
		{"error_type.doesNotContain=time", 2},
		{"executed_at.greaterThanOrEqual=2024-01-01T00:02:00Z", 2},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			values, err := url.ParseQuery(tt.query)
			assert.NilError(t, err)
			q, err := ParseQuery(values, HeartbeatFields)
			assert.NilError(t, err)

			list, err := s.ListHeartbeats(ctx, q)
			assert.NilError(t, err)
			assert.Equal(t, len(list), tt.want)

			count, err := s.CountHeartbeats(ctx, q.Filters)
			assert.NilError(t, err)
			assert.Equal(t, count, int64(tt.want))
		})
	}
}

func TestContainsTreatsWildcardsLiterally(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{`C:\backup`, `C:backup`, `50% off`, `a_b`, `axb`} {
		createMonitor(t, s, name)
	}

	tests := []struct {
		needle string
		want   []string
	}{
		{`\b`, []string{`C:\backup`}},
		{`C:\`, []string{`C:\backup`}},
		{`%`, []string{`50% off`}},
		{`_`, []string{`a_b`}},
		{`backup`, []string{`C:\backup`, `C:backup`}},
	}
	for _, tt := range tests {
		t.Run(tt.needle, func(t *testing.T) {
			q, err := ParseQuery(url.Values{"name.contains": {tt.needle}}, MonitorFields)
			assert.NilError(t, err)
			list, err := s.ListMonitors(ctx, q)
			assert.NilError(t, err)

			var names []string
			for _, m := range list {
				names = append(names, m.Name)
			}
			assert.DeepEqual(t, names, tt.want)
		})
	}
}

func TestParseQueryErrors(t *testing.T) {
	tests := []string{
		"bogus.equals=1",
		"status.like=x",
		"response_time_ms.contains=1",
		"response_time_ms.equals=abc",
		"size=0",
		"sort=password,asc",
		"status",
	}
	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			values, err := url.ParseQuery(raw)
			assert.NilError(t, err)
			_, err = ParseQuery(values, HeartbeatFields)
			var cfgErr *models.ConfigurationError
			assert.Assert(t, errors.As(err, &cfgErr), "expected configuration error for %q", raw)
		})
	}
}

func TestLatestHeartbeats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createMonitor(t, s, "a")
	b := createMonitor(t, s, "b")

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		for _, m := range []*models.Monitor{a, b} {
			hb := &models.Heartbeat{MonitorID: m.ID, ExecutedAt: base.Add(time.Duration(i) * time.Second), Status: models.StatusUp, Severity: models.SeverityOK, ResponseTimeMs: i}
			_, _, err := s.AppendHeartbeat(ctx, hb, countFailures)
			assert.NilError(t, err)
		}
	}

	latest, err := s.LatestHeartbeats(ctx, []int{a.ID, b.ID})
	assert.NilError(t, err)
	assert.Equal(t, len(latest), 2)
	assert.Equal(t, latest[a.ID].ResponseTimeMs, 2)
	assert.Equal(t, latest[b.ID].ResponseTimeMs, 2)

	recent, err := s.RecentHeartbeats(ctx, a.ID, 2)
	assert.NilError(t, err)
	assert.Equal(t, len(recent), 2)
	assert.Equal(t, recent[0].ResponseTimeMs, 1)
	assert.Equal(t, recent[1].ResponseTimeMs, 2)
}
