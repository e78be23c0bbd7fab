package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/fuomag9/inframirror/internal/alert"
	"github.com/fuomag9/inframirror/internal/classify"
	"github.com/fuomag9/inframirror/internal/config"
	"github.com/fuomag9/inframirror/internal/database"
	"github.com/fuomag9/inframirror/internal/engine"
	"github.com/fuomag9/inframirror/internal/models"
	"github.com/fuomag9/inframirror/internal/monitor"
	"github.com/fuomag9/inframirror/internal/notification"
	"github.com/fuomag9/inframirror/internal/store"
	"github.com/fuomag9/inframirror/internal/uptime"
)

const (
	testSecret   = "test-secret"
	testPassword = "correct horse"
)

var testPolicy = alert.Policy{FailureThreshold: 2, RecoveryThreshold: 1}

type fakeEngine struct {
	mu        sync.Mutex
	synced    []int
	forgotten []int
	outcome   monitor.Outcome
	verdict   classify.Verdict
	policy    *alert.Policy
}

func (f *fakeEngine) Sync(_ context.Context, m *models.Monitor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, m.ID)
	return nil
}

func (f *fakeEngine) Forget(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, id)
}

func (f *fakeEngine) Check(context.Context, *models.Monitor) (monitor.Outcome, classify.Verdict) {
	return f.outcome, f.verdict
}

func (f *fakeEngine) Policy(int) alert.Policy {
	if f.policy != nil {
		return *f.policy
	}
	return testPolicy
}

func (f *fakeEngine) Stats() engine.Stats {
	return engine.Stats{Monitors: 3}
}

type testServer struct {
	handler http.Handler
	store   *store.Store
	engine  *fakeEngine
	token   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := database.Connect(config.DatabaseConfig{Type: "sqlite", DSN: ":memory:"}, zaptest.NewLogger(t))
	assert.NilError(t, err)
	assert.NilError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	ctx := context.Background()
	s := store.New(db)
	created, err := BootstrapAdmin(ctx, s, "admin", testPassword, "")
	assert.NilError(t, err)
	assert.Assert(t, created)

	user, err := s.GetUserByUsername(ctx, "admin")
	assert.NilError(t, err)
	token, err := generateJWT(user.ID, testSecret, time.Now().Add(time.Hour))
	assert.NilError(t, err)

	cfg := &config.Config{
		JWTSecret:   testSecret,
		Environment: "development",
		CORSOrigins: []string{"http://localhost:3000"},
		Auth:        config.AuthConfig{AdminUsername: "admin", TokenTTL: time.Hour},
	}
	logger := zaptest.NewLogger(t)
	eng := &fakeEngine{}

	return &testServer{
		handler: NewRouter(Deps{
			Config:     cfg,
			Store:      s,
			Engine:     eng,
			Uptime:     uptime.NewCalculator(db, 0),
			Dispatcher: notification.NewDispatcher(s, logger),
			Logger:     logger,
		}),
		store:  s,
		engine: eng,
		token:  token,
	}
}

// request sends an authenticated request unless headers override the
// credentials
func (ts *testServer) request(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			assert.NilError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if len(headers) == 0 {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	assert.NilError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (ts *testServer) createMonitor(t *testing.T, name string) *models.Monitor {
	t.Helper()
	m := models.NewMonitor()
	m.Name = name
	m.Type = models.TypeTCP
	m.URL = "203.0.113.10"
	m.Config = map[string]any{"port": float64(5432)}
	assert.NilError(t, ts.store.CreateMonitor(context.Background(), &m))
	return &m
}

func (ts *testServer) appendHeartbeats(t *testing.T, monitorID int, outcomes ...bool) {
	t.Helper()
	advance := func(prev models.AlertState, hb *models.Heartbeat) models.AlertState {
		next, _ := alert.Evaluate(prev, testPolicy, hb)
		return next
	}
	start := time.Now().UTC().Add(-time.Duration(len(outcomes)) * time.Minute)
	for i, ok := range outcomes {
		status := models.StatusUp
		if !ok {
			status = models.StatusDown
		}
		hb := &models.Heartbeat{
			MonitorID:      monitorID,
			ExecutedAt:     start.Add(time.Duration(i) * time.Minute),
			Success:        ok,
			Status:         status,
			Severity:       models.SeverityOK,
			Attempts:       1,
			ResponseTimeMs: 20,
		}
		_, _, err := ts.store.AppendHeartbeat(context.Background(), hb, advance)
		assert.NilError(t, err)
	}
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/auth/login",
		LoginRequest{Username: "admin", Password: testPassword}, "X-Test", "anonymous")
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())
	resp := decode[LoginResponse](t, rec)
	assert.Assert(t, resp.Token != "")
	assert.Equal(t, resp.User.Username, "admin")

	// The issued token works on protected routes
	rec = ts.request(t, http.MethodGet, "/api/auth/me", nil, "Authorization", "Bearer "+resp.Token)
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Equal(t, decode[Principal](t, rec).Username, "admin")

	rec = ts.request(t, http.MethodPost, "/api/auth/login",
		LoginRequest{Username: "admin", Password: "wrong"}, "X-Test", "anonymous")
	assert.Equal(t, rec.Code, http.StatusUnauthorized)
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/monitors", nil, "X-Test", "anonymous")
	assert.Equal(t, rec.Code, http.StatusUnauthorized)

	rec = ts.request(t, http.MethodGet, "/api/monitors", nil, "Authorization", "Bearer not-a-jwt")
	assert.Equal(t, rec.Code, http.StatusUnauthorized)

	expired, err := generateJWT(1, testSecret, time.Now().Add(-time.Minute))
	assert.NilError(t, err)
	rec = ts.request(t, http.MethodGet, "/api/monitors", nil, "Authorization", "Bearer "+expired)
	assert.Equal(t, rec.Code, http.StatusUnauthorized)
}

func TestCreateMonitor(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/monitors", map[string]any{
		"name":             "database",
		"type":             "tcp",
		"url":              "203.0.113.10",
		"config":           map[string]any{"port": 5432},
		"interval_seconds": 30,
	})
	assert.Equal(t, rec.Code, http.StatusCreated, rec.Body.String())

	m := decode[models.Monitor](t, rec)
	assert.Assert(t, m.ID > 0)
	assert.Equal(t, m.IntervalSeconds, 30)
	assert.Equal(t, m.TimeoutSeconds, 30) // default kept
	assert.Equal(t, rec.Header().Get("Location"), fmt.Sprintf("/api/monitors/%d", m.ID))
	assert.DeepEqual(t, ts.engine.synced, []int{m.ID})

	rec = ts.request(t, http.MethodGet, fmt.Sprintf("/api/monitors/%d", m.ID), nil)
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Equal(t, decode[models.Monitor](t, rec).Name, "database")
}

func TestCreateMonitorValidation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name  string
		body  any
		field string
	}{
		{"missing name", map[string]any{"type": "tcp", "url": "203.0.113.10"}, "name"},
		{"unknown type", map[string]any{"name": "x", "type": "smtp", "url": "x"}, "type"},
		{"missing host", map[string]any{"name": "x", "type": "tcp"}, "url"},
		{"zero interval", map[string]any{"name": "x", "type": "tcp", "url": "203.0.113.10", "interval_seconds": 0}, "interval_seconds"},
		{"unknown field", `{"name":"x","colour":"red"}`, "body"},
		{"id on create", map[string]any{"id": 7, "name": "x", "type": "tcp", "url": "203.0.113.10"}, "id"},
		{"null interval", map[string]any{"name": "x", "type": "tcp", "url": "203.0.113.10", "interval_seconds": nil}, "interval_seconds"},
		{"null timeout", `{"name":"x","type":"tcp","url":"203.0.113.10","timeout_seconds":null}`, "timeout_seconds"},
		{"null retry count", map[string]any{"name": "x", "type": "tcp", "url": "203.0.113.10", "retry_count": nil}, "retry_count"},
		{"null retry delay", map[string]any{"name": "x", "type": "tcp", "url": "203.0.113.10", "retry_delay_seconds": nil}, "retry_delay_seconds"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.request(t, http.MethodPost, "/api/monitors", tc.body)
			assert.Equal(t, rec.Code, http.StatusBadRequest, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.Check(t, is.Contains(resp.Fields, tc.field))
		})
	}
	assert.Equal(t, len(ts.engine.synced), 0)
}

func TestUpdateAndPatchRejectNullFields(t *testing.T) {
	ts := newTestServer(t)
	m := ts.createMonitor(t, "strict")
	path := fmt.Sprintf("/api/monitors/%d", m.ID)

	rec := ts.request(t, http.MethodPut, path, map[string]any{
		"name": "strict", "type": "tcp", "url": "203.0.113.10", "interval_seconds": nil,
	})
	assert.Equal(t, rec.Code, http.StatusBadRequest, rec.Body.String())
	assert.Check(t, is.Contains(decode[ErrorResponse](t, rec).Fields, "interval_seconds"))

	rec = ts.request(t, http.MethodPatch, path, `{"timeout_seconds":null,"retry_count":null}`)
	assert.Equal(t, rec.Code, http.StatusBadRequest, rec.Body.String())
	fields := decode[ErrorResponse](t, rec).Fields
	assert.Check(t, is.Contains(fields, "timeout_seconds"))
	assert.Check(t, is.Contains(fields, "retry_count"))

	stored, err := ts.store.GetMonitor(context.Background(), m.ID)
	assert.NilError(t, err)
	assert.Equal(t, stored.TimeoutSeconds, m.TimeoutSeconds)
	assert.Equal(t, len(ts.engine.synced), 0)
}

func TestUpdateAndPatchMonitor(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	m := ts.createMonitor(t, "api")
	before, err := ts.store.GetMonitor(ctx, m.ID)
	assert.NilError(t, err)
	path := fmt.Sprintf("/api/monitors/%d", m.ID)

	rec := ts.request(t, http.MethodPatch, path, map[string]any{"name": "renamed", "retry_count": 2})
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())
	patched := decode[models.Monitor](t, rec)
	assert.Equal(t, patched.Name, "renamed")
	assert.Equal(t, patched.RetryCount, 2)
	assert.Equal(t, patched.URL, "203.0.113.10")
	assert.Equal(t, patched.ConfigInt("port", 0), 5432)

	rec = ts.request(t, http.MethodPatch, path, map[string]any{"id": m.ID + 1})
	assert.Equal(t, rec.Code, http.StatusBadRequest)

	// PUT replaces the whole monitor; omitted fields take defaults
	rec = ts.request(t, http.MethodPut, path, map[string]any{
		"name": "replaced",
		"type": "tcp",
		"url":  "203.0.113.11:22",
	})
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())

	after, err := ts.store.GetMonitor(ctx, m.ID)
	assert.NilError(t, err)
	assert.Equal(t, after.Name, "replaced")
	assert.Equal(t, after.RetryCount, 0)
	assert.Equal(t, after.IntervalSeconds, 60)
	assert.Assert(t, after.CreatedAt.Equal(before.CreatedAt))
	assert.DeepEqual(t, ts.engine.synced, []int{m.ID, m.ID})

	rec = ts.request(t, http.MethodPut, "/api/monitors/999", map[string]any{"name": "x", "type": "tcp", "url": "203.0.113.11"})
	assert.Equal(t, rec.Code, http.StatusNotFound)
}

func TestDeleteMonitor(t *testing.T) {
	ts := newTestServer(t)
	m := ts.createMonitor(t, "doomed")
	ts.appendHeartbeats(t, m.ID, true, false)
	path := fmt.Sprintf("/api/monitors/%d", m.ID)

	rec := ts.request(t, http.MethodDelete, path, nil)
	assert.Equal(t, rec.Code, http.StatusNoContent)
	assert.DeepEqual(t, ts.engine.forgotten, []int{m.ID})

	rec = ts.request(t, http.MethodGet, path, nil)
	assert.Equal(t, rec.Code, http.StatusNotFound)

	count, err := ts.store.CountHeartbeats(context.Background(), nil)
	assert.NilError(t, err)
	assert.Equal(t, count, int64(0))
}

func TestListMonitorsWithCriteria(t *testing.T) {
	ts := newTestServer(t)
	alpha := ts.createMonitor(t, "alpha")
	ts.createMonitor(t, "beta")
	ts.createMonitor(t, "alphabet")
	ts.appendHeartbeats(t, alpha.ID, false, false)

	rec := ts.request(t, http.MethodGet, "/api/monitors?name.contains=alpha&sort=name,desc", nil)
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())
	assert.Equal(t, rec.Header().Get("X-Total-Count"), "2")
	list := decode[[]MonitorWithStatus](t, rec)
	assert.Equal(t, len(list), 2)
	assert.Equal(t, list[0].Name, "alphabet")
	assert.Equal(t, list[0].AlertStatus, models.AlertPending)
	assert.Assert(t, list[0].LastHeartbeat == nil)
	assert.Equal(t, list[1].Name, "alpha")
	assert.Equal(t, list[1].AlertStatus, models.AlertDown)
	assert.Equal(t, list[1].LastHeartbeat.Status, models.StatusDown)

	rec = ts.request(t, http.MethodGet, "/api/monitors?name.contains=alpha&size=1", nil)
	assert.Equal(t, len(decode[[]MonitorWithStatus](t, rec)), 1)
	assert.Equal(t, rec.Header().Get("X-Total-Count"), "2")

	rec = ts.request(t, http.MethodGet, "/api/monitors/count?name.equals=beta", nil)
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Equal(t, decode[int](t, rec), 1)

	rec = ts.request(t, http.MethodGet, "/api/monitors?password.equals=x", nil)
	assert.Equal(t, rec.Code, http.StatusBadRequest)
	assert.Check(t, is.Contains(decode[ErrorResponse](t, rec).Fields, "password.equals"))
}

func TestHeartbeatsAreReadOnly(t *testing.T) {
	ts := newTestServer(t)
	m := ts.createMonitor(t, "web")
	ts.appendHeartbeats(t, m.ID, true)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/heartbeats"},
		{http.MethodPut, "/api/heartbeats/1"},
		{http.MethodPatch, "/api/heartbeats/1"},
		{http.MethodDelete, "/api/heartbeats/1"},
	} {
		rec := ts.request(t, tc.method, tc.path, map[string]any{"status": "up"})
		assert.Equal(t, rec.Code, http.StatusMethodNotAllowed, "%s %s", tc.method, tc.path)
	}

	rec := ts.request(t, http.MethodGet, "/api/heartbeats/1", nil)
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Equal(t, decode[models.Heartbeat](t, rec).Status, models.StatusUp)
}

func TestMonitorHeartbeatsAndAlertState(t *testing.T) {
	ts := newTestServer(t)
	m := ts.createMonitor(t, "flaky")
	other := ts.createMonitor(t, "other")
	ts.appendHeartbeats(t, m.ID, true, false, false, false)
	ts.appendHeartbeats(t, other.ID, true)

	rec := ts.request(t, http.MethodGet, fmt.Sprintf("/api/monitors/%d/heartbeats", m.ID), nil)
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Equal(t, rec.Header().Get("X-Total-Count"), "4")

	rec = ts.request(t, http.MethodGet, fmt.Sprintf("/api/heartbeats/count?monitor_id.equals=%d&status.equals=down", m.ID), nil)
	assert.Equal(t, decode[int](t, rec), 3)

	rec = ts.request(t, http.MethodGet, fmt.Sprintf("/api/monitors/%d/alert-state", m.ID), nil)
	assert.Equal(t, rec.Code, http.StatusOK)
	state := decode[models.AlertState](t, rec)
	assert.Equal(t, state.Status, models.AlertDown)
	assert.Equal(t, state.ConsecutiveFailures, 3)

	rec = ts.request(t, http.MethodGet, fmt.Sprintf("/api/monitors/%d/alert-state?derive=true", m.ID), nil)
	assert.Equal(t, rec.Code, http.StatusOK)
	resp := decode[AlertStateResponse](t, rec)
	assert.Equal(t, resp.Window, 4)
	assert.Equal(t, resp.Derived.Status, models.AlertDown)
	assert.Assert(t, resp.Comparable)
	assert.Assert(t, !resp.Drifted)
}

func TestDeriveAlertStateAfterThresholdEdit(t *testing.T) {
	ts := newTestServer(t)
	m := ts.createMonitor(t, "edited")
	ts.appendHeartbeats(t, m.ID, true, false, false)

	ts.engine.policy = &alert.Policy{FailureThreshold: 5, RecoveryThreshold: 1}
	rec := ts.request(t, http.MethodGet, fmt.Sprintf("/api/monitors/%d/alert-state?derive=true", m.ID), nil)
	assert.Equal(t, rec.Code, http.StatusOK)
	resp := decode[AlertStateResponse](t, rec)
	assert.Equal(t, resp.Stored.Status, models.AlertDown)
	assert.Equal(t, resp.Derived.Status, models.AlertUp)
	assert.Assert(t, !resp.Comparable)
	assert.Assert(t, !resp.Drifted)
}

func TestCheckMonitor(t *testing.T) {
	ts := newTestServer(t)
	m := ts.createMonitor(t, "probe")
	path := fmt.Sprintf("/api/monitors/%d/check", m.ID)

	ts.engine.outcome = monitor.Outcome{
		Result:    &monitor.Result{ResponseTime: 42 * time.Millisecond},
		Attempts:  1,
		StartedAt: time.Now(),
	}
	ts.engine.verdict = classify.Verdict{Success: true, Status: models.StatusUp, Severity: models.SeverityOK}

	rec := ts.request(t, http.MethodPost, path, nil)
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())
	resp := decode[CheckResponse](t, rec)
	assert.Equal(t, resp.Heartbeat.MonitorID, m.ID)
	assert.Equal(t, resp.Heartbeat.ResponseTimeMs, 42)
	assert.Equal(t, resp.Verdict.Status, models.StatusUp)

	// One-off checks are never persisted
	count, err := ts.store.CountHeartbeats(context.Background(), nil)
	assert.NilError(t, err)
	assert.Equal(t, count, int64(0))

	ts.engine.outcome.Cancelled = true
	rec = ts.request(t, http.MethodPost, path, nil)
	assert.Equal(t, rec.Code, http.StatusServiceUnavailable)
}

func TestAPIKeyScopes(t *testing.T) {
	ts := newTestServer(t)
	ts.createMonitor(t, "web")

	rec := ts.request(t, http.MethodPost, "/api/api-keys", CreateAPIKeyRequest{Name: "ci", Scopes: []string{"read"}})
	assert.Equal(t, rec.Code, http.StatusCreated, rec.Body.String())
	created := decode[CreateAPIKeyResponse](t, rec)
	assert.Assert(t, len(created.Key) > apiKeyPrefixLen)
	assert.Equal(t, created.Prefix, created.Key[:apiKeyPrefixLen])

	rec = ts.request(t, http.MethodGet, "/api/monitors", nil, "X-API-Key", created.Key)
	assert.Equal(t, rec.Code, http.StatusOK)

	rec = ts.request(t, http.MethodPost, "/api/monitors", map[string]any{"name": "x"}, "X-API-Key", created.Key)
	assert.Equal(t, rec.Code, http.StatusForbidden)

	rec = ts.request(t, http.MethodGet, "/api/api-keys", nil, "X-API-Key", created.Key)
	assert.Equal(t, rec.Code, http.StatusForbidden)

	rec = ts.request(t, http.MethodGet, "/api/monitors", nil, "X-API-Key", created.Key[:apiKeyPrefixLen]+"tampered")
	assert.Equal(t, rec.Code, http.StatusUnauthorized)

	rec = ts.request(t, http.MethodPost, "/api/api-keys", CreateAPIKeyRequest{Name: "bad", Scopes: []string{"root"}})
	assert.Equal(t, rec.Code, http.StatusBadRequest)

	rec = ts.request(t, http.MethodDelete, fmt.Sprintf("/api/api-keys/%d", created.ID), nil)
	assert.Equal(t, rec.Code, http.StatusNoContent)
	rec = ts.request(t, http.MethodGet, "/api/monitors", nil, "X-API-Key", created.Key)
	assert.Equal(t, rec.Code, http.StatusUnauthorized)
}

func TestMonitorNotifications(t *testing.T) {
	ts := newTestServer(t)
	m := ts.createMonitor(t, "web")
	path := fmt.Sprintf("/api/monitors/%d/notifications", m.ID)

	rec := ts.request(t, http.MethodPost, "/api/notifications", map[string]any{
		"name":   "hook",
		"type":   "webhook",
		"config": map[string]any{"webhook_url": "https://hooks.example.com/x"},
	})
	assert.Equal(t, rec.Code, http.StatusCreated, rec.Body.String())
	n := decode[models.Notification](t, rec)
	assert.Assert(t, n.Active)

	rec = ts.request(t, http.MethodPost, "/api/notifications", map[string]any{"name": "bad", "type": "carrier-pigeon"})
	assert.Equal(t, rec.Code, http.StatusBadRequest)

	rec = ts.request(t, http.MethodGet, path, nil)
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Assert(t, decode[MonitorNotificationsRequest](t, rec).UseDefaults)

	rec = ts.request(t, http.MethodPut, path, MonitorNotificationsRequest{NotificationIDs: []int{n.ID}})
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())

	rec = ts.request(t, http.MethodGet, path, nil)
	got := decode[MonitorNotificationsRequest](t, rec)
	assert.DeepEqual(t, got.NotificationIDs, []int{n.ID})
	assert.Assert(t, !got.UseDefaults)

	rec = ts.request(t, http.MethodPut, path, MonitorNotificationsRequest{NotificationIDs: []int{999}})
	assert.Equal(t, rec.Code, http.StatusBadRequest)
	assert.Check(t, is.Contains(decode[ErrorResponse](t, rec).Fields, "notification_ids"))

	rec = ts.request(t, http.MethodGet, "/api/notifications/providers", nil)
	assert.Check(t, is.Contains(decode[[]string](t, rec), "webhook"))
}

func TestPublicStatusPage(t *testing.T) {
	ts := newTestServer(t)
	m := ts.createMonitor(t, "web")
	ts.appendHeartbeats(t, m.ID, true, true)

	rec := ts.request(t, http.MethodPost, "/api/status-pages", StatusPageRequest{
		Slug: "main", Title: "Main", MonitorIDs: []int{m.ID},
	})
	assert.Equal(t, rec.Code, http.StatusCreated, rec.Body.String())
	page := decode[models.StatusPage](t, rec)

	// Unpublished pages and their monitors stay private
	rec = ts.request(t, http.MethodGet, "/status/main", nil, "X-Test", "anonymous")
	assert.Equal(t, rec.Code, http.StatusNotFound)
	rec = ts.request(t, http.MethodGet, fmt.Sprintf("/api/badge/%d/status", m.ID), nil, "X-Test", "anonymous")
	assert.Equal(t, rec.Code, http.StatusNotFound)

	rec = ts.request(t, http.MethodPut, fmt.Sprintf("/api/status-pages/%d", page.ID), StatusPageRequest{
		Slug: "main", Title: "Main", Published: true, MonitorIDs: []int{m.ID},
	})
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())

	rec = ts.request(t, http.MethodGet, "/status/main", nil, "X-Test", "anonymous")
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())
	public := decode[PublicStatusPage](t, rec)
	assert.Equal(t, len(public.Monitors), 1)
	assert.Equal(t, public.Monitors[0].Status, models.AlertUp)
	assert.Equal(t, public.Monitors[0].Uptime24h, 100.0)
	assert.Equal(t, public.Monitors[0].LastHeartbeat.Status, models.StatusUp)

	rec = ts.request(t, http.MethodGet, fmt.Sprintf("/api/badge/%d/status", m.ID), nil, "X-Test", "anonymous")
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Equal(t, rec.Header().Get("Content-Type"), "image/svg+xml")
	assert.Check(t, is.Contains(rec.Body.String(), ">up<"))

	rec = ts.request(t, http.MethodPost, "/api/status-pages", StatusPageRequest{Slug: "main", Title: "Dup"})
	assert.Equal(t, rec.Code, http.StatusBadRequest)
	assert.Check(t, is.Contains(decode[ErrorResponse](t, rec).Fields, "slug"))
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t)
	m := ts.createMonitor(t, `say "hi"`)
	ts.appendHeartbeats(t, m.ID, true)

	rec := ts.request(t, http.MethodGet, "/metrics", nil, "X-Test", "anonymous")
	assert.Equal(t, rec.Code, http.StatusOK)
	body := rec.Body.String()
	labels := fmt.Sprintf(`monitor_id="%d",monitor_name="say \"hi\"",monitor_type="tcp"`, m.ID)
	assert.Check(t, is.Contains(body, "inframirror_monitor_up{"+labels+"} 1\n"))
	assert.Check(t, is.Contains(body, "inframirror_monitor_response_time_ms{"+labels+"} 20\n"))
	assert.Check(t, is.Contains(body, "inframirror_engine_monitors 3\n"))
	assert.Check(t, !strings.Contains(body, "inframirror_websocket_clients"))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.request(t, http.MethodGet, "/health", nil, "X-Test", "anonymous")
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Equal(t, rec.Body.String(), "OK")
}
