package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/fuomag9/inframirror/internal/alert"
	"github.com/fuomag9/inframirror/internal/classify"
	"github.com/fuomag9/inframirror/internal/engine"
	"github.com/fuomag9/inframirror/internal/models"
	"github.com/fuomag9/inframirror/internal/monitor"
	"github.com/fuomag9/inframirror/internal/store"
	"github.com/fuomag9/inframirror/internal/uptime"
)

// Engine is the part of the heartbeat engine the API drives
type Engine interface {
	Sync(ctx context.Context, m *models.Monitor) error
	Forget(id int)
	Check(ctx context.Context, m *models.Monitor) (monitor.Outcome, classify.Verdict)
	Policy(monitorID int) alert.Policy
	Stats() engine.Stats
}

// deriveWindow bounds the heartbeats replayed by ?derive=true
const deriveWindow = 1000

// MonitorWithStatus includes monitor data with its last heartbeat
type MonitorWithStatus struct {
	models.Monitor
	AlertStatus   string            `json:"alert_status"`
	LastHeartbeat *models.Heartbeat `json:"last_heartbeat,omitempty"`
}

// HandleGetMonitors lists monitors matching criteria filters with their
// latest heartbeat and alert status
func HandleGetMonitors(s *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := store.ParseQuery(r.URL.Query(), store.MonitorFields)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		ctx := r.Context()
		monitors, err := s.ListMonitors(ctx, q)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		total, err := s.CountMonitors(ctx, q.Filters)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		ids := make([]int, 0, len(monitors))
		for _, m := range monitors {
			ids = append(ids, m.ID)
		}
		latest, err := s.LatestHeartbeats(ctx, ids)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		states, err := s.ListAlertStates(ctx)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		result := make([]MonitorWithStatus, len(monitors))
		for i, m := range monitors {
			result[i] = MonitorWithStatus{Monitor: m, AlertStatus: models.AlertPending}
			if st, ok := states[m.ID]; ok {
				result[i].AlertStatus = st.Status
			}
			if hb, ok := latest[m.ID]; ok {
				result[i].LastHeartbeat = &hb
			}
		}

		setTotalCount(w, total)
		writeJSON(w, http.StatusOK, result)
	}
}

// HandleCountMonitors counts monitors matching criteria filters
func HandleCountMonitors(s *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := store.ParseQuery(r.URL.Query(), store.MonitorFields)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		count, err := s.CountMonitors(r.Context(), q.Filters)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, count)
	}
}

// HandleGetMonitor returns a single monitor by ID
func HandleGetMonitor(s *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		m, err := s.GetMonitor(r.Context(), id)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

// HandleCreateMonitor creates a monitor and schedules it when enabled
func HandleCreateMonitor(s *store.Store, eng Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m := models.NewMonitor()
		if err := decodeMonitor(r, &m); err != nil {
			writeError(w, logger, err)
			return
		}
		if m.ID != 0 {
			writeError(w, logger, models.NewConfigurationError("id", "must not be set on create"))
			return
		}
		m.NotificationsConfigured = false

		if err := saveMonitor(r.Context(), s, eng, &m, true); err != nil {
			writeError(w, logger, err)
			return
		}

		logger.Info("Monitor created", zap.Int("monitor_id", m.ID), zap.String("name", m.Name))
		w.Header().Set("Location", fmt.Sprintf("/api/monitors/%d", m.ID))
		writeJSON(w, http.StatusCreated, m)
	}
}

// HandleUpdateMonitor replaces a monitor. Omitted fields take their defaults.
func HandleUpdateMonitor(s *store.Store, eng Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		existing, err := s.GetMonitor(r.Context(), id)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		m := models.NewMonitor()
		if err := decodeMonitor(r, &m); err != nil {
			writeError(w, logger, err)
			return
		}
		if m.ID != 0 && m.ID != id {
			writeError(w, logger, models.NewConfigurationError("id", "does not match the path"))
			return
		}
		m.ID = id
		m.CreatedAt = existing.CreatedAt
		m.NotificationsConfigured = existing.NotificationsConfigured

		if err := saveMonitor(r.Context(), s, eng, &m, false); err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

// HandlePatchMonitor merges the given fields into a monitor
func HandlePatchMonitor(s *store.Store, eng Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		m, err := s.GetMonitor(r.Context(), id)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, logger, models.NewConfigurationError("body", "unreadable"))
			return
		}
		var patch map[string]json.RawMessage
		if err := json.Unmarshal(body, &patch); err != nil {
			writeError(w, logger, models.NewConfigurationError("body", "invalid JSON: "+err.Error()))
			return
		}
		if err := rejectNulls(patch); err != nil {
			writeError(w, logger, err)
			return
		}
		if raw, ok := patch["id"]; ok && string(raw) != fmt.Sprint(id) {
			writeError(w, logger, models.NewConfigurationError("id", "does not match the path"))
			return
		}
		delete(patch, "notifications_configured")
		delete(patch, "created_at")
		delete(patch, "updated_at")

		// Only keys present in the body are overwritten
		merged, _ := json.Marshal(patch)
		if err := json.Unmarshal(merged, m); err != nil {
			writeError(w, logger, models.NewConfigurationError("body", err.Error()))
			return
		}
		m.ID = id

		if err := saveMonitor(r.Context(), s, eng, m, false); err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

// nonNullFields must carry a value when present in a body. A JSON null would
// otherwise leave the default or previous value in place.
var nonNullFields = []string{
	"name", "type", "url", "enabled",
	"interval_seconds", "timeout_seconds", "retry_count", "retry_delay_seconds",
}

func rejectNulls(fields map[string]json.RawMessage) error {
	var cerr *models.ConfigurationError
	for _, name := range nonNullFields {
		raw, ok := fields[name]
		if !ok || !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			continue
		}
		if cerr == nil {
			cerr = &models.ConfigurationError{}
		}
		cerr.Add(name, "must not be null")
	}
	if cerr != nil {
		return cerr
	}
	return nil
}

// decodeMonitor decodes a whole monitor body onto m. Absent fields keep the
// values already in m.
func decodeMonitor(r *http.Request, m *models.Monitor) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return models.NewConfigurationError("body", "unreadable")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return models.NewConfigurationError("body", "invalid JSON: "+err.Error())
	}
	if err := rejectNulls(fields); err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(m); err != nil {
		return models.NewConfigurationError("body", "invalid JSON: "+err.Error())
	}
	return nil
}

func saveMonitor(ctx context.Context, s *store.Store, eng Engine, m *models.Monitor, create bool) error {
	if err := monitor.Validate(m); err != nil {
		return err
	}

	var err error
	if create {
		err = s.CreateMonitor(ctx, m)
	} else {
		err = s.UpdateMonitor(ctx, m)
	}
	if err != nil {
		return err
	}
	return eng.Sync(ctx, m)
}

// HandleDeleteMonitor deletes a monitor with its heartbeats. A probe in
// flight completes but its heartbeat is discarded.
func HandleDeleteMonitor(s *store.Store, eng Engine, calc *uptime.Calculator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		eng.Forget(id)
		if err := s.DeleteMonitor(r.Context(), id); err != nil {
			writeError(w, logger, err)
			return
		}
		calc.Invalidate(id)

		logger.Info("Monitor deleted", zap.Int("monitor_id", id))
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleGetChildren lists the monitors whose parent is the given monitor
func HandleGetChildren(s *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if _, err := s.GetMonitor(r.Context(), id); err != nil {
			writeError(w, logger, err)
			return
		}
		children, err := s.ListChildren(r.Context(), id)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, children)
	}
}

// HandleGetMonitorHeartbeats lists a monitor's heartbeats, newest first
func HandleGetMonitorHeartbeats(s *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if _, err := s.GetMonitor(r.Context(), id); err != nil {
			writeError(w, logger, err)
			return
		}

		q, err := store.ParseQuery(r.URL.Query(), store.HeartbeatFields)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		q.Filters = append(q.Filters, store.Filter{Field: "monitor_id", Op: store.OpEquals, Value: int64(id)})

		listHeartbeats(w, r.Context(), s, q, logger)
	}
}

// AlertStateResponse is returned by ?derive=true
type AlertStateResponse struct {
	Stored     models.AlertState `json:"stored"`
	Derived    models.AlertState `json:"derived"`
	// Comparable is false when the stored state was partly evaluated under
	// other thresholds or the window does not reach back far enough. Drifted
	// is only meaningful when it is true.
	Comparable bool              `json:"comparable"`
	Drifted    bool              `json:"drifted"`
	Window     int               `json:"window"`
}

// HandleGetAlertState returns the stored alert state. With derive=true it
// also rebuilds the state from the latest heartbeats.
func HandleGetAlertState(s *store.Store, eng Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		ctx := r.Context()
		if _, err := s.GetMonitor(ctx, id); err != nil {
			writeError(w, logger, err)
			return
		}

		stored, err := s.GetAlertState(ctx, id)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if r.URL.Query().Get("derive") != "true" {
			writeJSON(w, http.StatusOK, stored)
			return
		}

		heartbeats, err := s.RecentHeartbeats(ctx, id, deriveWindow)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		policy := eng.Policy(id)
		derived := alert.Replay(id, policy, heartbeats)
		samePolicy := alert.Comparable(stored, policy, heartbeats)
		writeJSON(w, http.StatusOK, AlertStateResponse{
			Stored:     stored,
			Derived:    derived,
			Comparable: samePolicy,
			Drifted:    samePolicy && alert.Drifted(stored, derived),
			Window:     len(heartbeats),
		})
	}
}

// CheckResponse is the result of a one-off check. Nothing is persisted.
type CheckResponse struct {
	Heartbeat *models.Heartbeat `json:"heartbeat"`
	Verdict   classify.Verdict  `json:"verdict"`
}

// HandleCheckMonitor probes a monitor once, outside its schedule
func HandleCheckMonitor(s *store.Store, eng Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		m, err := s.GetMonitor(r.Context(), id)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		out, verdict := eng.Check(r.Context(), m)
		if out.Cancelled {
			writeMessage(w, http.StatusServiceUnavailable, "check cancelled")
			return
		}
		writeJSON(w, http.StatusOK, CheckResponse{
			Heartbeat: classify.NewHeartbeat(m, out, verdict, out.StartedAt),
			Verdict:   verdict,
		})
	}
}

// MonitorNotificationsRequest links notification channels to a monitor.
// UseDefaults drops explicit links so default channels apply.
type MonitorNotificationsRequest struct {
	NotificationIDs []int `json:"notification_ids"`
	UseDefaults     bool  `json:"use_defaults"`
}

// HandleGetMonitorNotifications returns the channel links of a monitor
func HandleGetMonitorNotifications(s *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		m, err := s.GetMonitor(r.Context(), id)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		ids, err := s.MonitorNotificationIDs(r.Context(), id)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if ids == nil {
			ids = []int{}
		}
		writeJSON(w, http.StatusOK, MonitorNotificationsRequest{
			NotificationIDs: ids,
			UseDefaults:     !m.NotificationsConfigured,
		})
	}
}

// HandleSetMonitorNotifications replaces the channel links of a monitor
func HandleSetMonitorNotifications(s *store.Store, eng Engine, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		ctx := r.Context()
		if _, err := s.GetMonitor(ctx, id); err != nil {
			writeError(w, logger, err)
			return
		}

		var req MonitorNotificationsRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, logger, err)
			return
		}
		if req.UseDefaults && len(req.NotificationIDs) > 0 {
			writeError(w, logger, models.NewConfigurationError("notification_ids", "must be empty when use_defaults is set"))
			return
		}
		for _, nid := range req.NotificationIDs {
			if _, err := s.GetNotification(ctx, nid); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					err = models.NewConfigurationError("notification_ids", fmt.Sprintf("unknown notification %d", nid))
				}
				writeError(w, logger, err)
				return
			}
		}

		if err := s.SetMonitorNotifications(ctx, id, req.NotificationIDs, req.UseDefaults); err != nil {
			writeError(w, logger, err)
			return
		}

		// Refresh the engine's copy so transitions use the new links
		m, err := s.GetMonitor(ctx, id)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if err := eng.Sync(ctx, m); err != nil {
			writeError(w, logger, err)
			return
		}

		if req.NotificationIDs == nil {
			req.NotificationIDs = []int{}
		}
		writeJSON(w, http.StatusOK, req)
	}
}
