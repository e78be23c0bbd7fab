package api

import (
	"bufio"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fuomag9/inframirror/internal/models"
	"github.com/fuomag9/inframirror/internal/store"
	"github.com/fuomag9/inframirror/internal/uptime"
	"github.com/fuomag9/inframirror/internal/websocket"
)

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

type metricsWriter struct {
	*bufio.Writer
}

func (w metricsWriter) header(name, help, kind string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

// HandlePrometheusMetrics exports monitor and engine metrics in the
// Prometheus text format
func HandlePrometheusMetrics(s *store.Store, eng Engine, calc *uptime.Calculator, hub *websocket.Hub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		monitors, err := s.AllMonitors(ctx)
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

		labels := make([]string, len(monitors))
		for i, m := range monitors {
			labels[i] = fmt.Sprintf(`monitor_id="%d",monitor_name="%s",monitor_type="%s"`,
				m.ID, labelEscaper.Replace(m.Name), m.Type)
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		out := metricsWriter{bufio.NewWriter(w)}
		defer out.Flush()

		out.header("inframirror_monitor_up", "Monitor alert status (1 = up, 0 = down or pending)", "gauge")
		for i, m := range monitors {
			up := 0
			if states[m.ID].Status == models.AlertUp {
				up = 1
			}
			fmt.Fprintf(out, "inframirror_monitor_up{%s} %d\n", labels[i], up)
		}

		out.header("inframirror_monitor_response_time_ms", "Response time of the latest heartbeat", "gauge")
		for i, m := range monitors {
			if hb, ok := latest[m.ID]; ok {
				fmt.Fprintf(out, "inframirror_monitor_response_time_ms{%s} %d\n", labels[i], hb.ResponseTimeMs)
			}
		}

		out.header("inframirror_monitor_uptime_percentage", "Monitor uptime percentage (24h)", "gauge")
		for i := range monitors {
			stats, err := calc.CalculateUptimeForPeriod(ctx, &monitors[i], 24*time.Hour)
			if err != nil {
				logger.Warn("Uptime unavailable for metrics", zap.Int("monitor_id", monitors[i].ID), zap.Error(err))
				continue
			}
			fmt.Fprintf(out, "inframirror_monitor_uptime_percentage{%s} %.2f\n", labels[i], stats.UptimePercentage)
		}

		out.header("inframirror_monitor_enabled", "Monitor enabled flag", "gauge")
		for i, m := range monitors {
			enabled := 0
			if m.Enabled {
				enabled = 1
			}
			fmt.Fprintf(out, "inframirror_monitor_enabled{%s} %d\n", labels[i], enabled)
		}

		st := eng.Stats()
		out.header("inframirror_engine_monitors", "Monitors known to the engine", "gauge")
		fmt.Fprintf(out, "inframirror_engine_monitors %d\n", st.Monitors)
		out.header("inframirror_scheduler_scheduled", "Monitors with an active timer", "gauge")
		fmt.Fprintf(out, "inframirror_scheduler_scheduled %d\n", st.Scheduler.Scheduled)
		out.header("inframirror_scheduler_in_flight", "Probes currently running", "gauge")
		fmt.Fprintf(out, "inframirror_scheduler_in_flight %d\n", st.Scheduler.InFlight)
		out.header("inframirror_scheduler_dispatched_total", "Probes dispatched", "counter")
		fmt.Fprintf(out, "inframirror_scheduler_dispatched_total %d\n", st.Scheduler.Dispatched)
		out.header("inframirror_scheduler_skipped_total", "Ticks skipped", "counter")
		fmt.Fprintf(out, "inframirror_scheduler_skipped_total{reason=\"busy\"} %d\n", st.Scheduler.SkippedBusy)
		fmt.Fprintf(out, "inframirror_scheduler_skipped_total{reason=\"saturated\"} %d\n", st.Scheduler.SkippedSaturated)

		out.header("inframirror_heartbeats_written_total", "Heartbeats persisted", "counter")
		fmt.Fprintf(out, "inframirror_heartbeats_written_total %d\n", st.Writer.Written)
		out.header("inframirror_heartbeats_dropped_total", "Heartbeats dropped after retries or on overflow", "counter")
		fmt.Fprintf(out, "inframirror_heartbeats_dropped_total %d\n", st.Writer.Dropped)
		out.header("inframirror_heartbeats_retried_total", "Heartbeat write retries", "counter")
		fmt.Fprintf(out, "inframirror_heartbeats_retried_total %d\n", st.Writer.Retried)

		if hub != nil {
			out.header("inframirror_websocket_clients", "Connected websocket clients", "gauge")
			fmt.Fprintf(out, "inframirror_websocket_clients %d\n", hub.Clients())
			out.header("inframirror_websocket_dropped_total", "Websocket messages dropped for slow clients", "counter")
			fmt.Fprintf(out, "inframirror_websocket_dropped_total %d\n", hub.Dropped())
		}
	}
}
