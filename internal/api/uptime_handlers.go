package api

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/fuomag9/inframirror/internal/models"
	"github.com/fuomag9/inframirror/internal/store"
	"github.com/fuomag9/inframirror/internal/uptime"
)

// HandleGetMonitorUptime returns uptime statistics for a monitor
func HandleGetMonitorUptime(s *store.Store, calc *uptime.Calculator, logger *zap.Logger) http.HandlerFunc {
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

		period, err := uptime.ParsePeriod(r.URL.Query().Get("period"))
		if err != nil {
			writeError(w, logger, models.NewConfigurationError("period", err.Error()))
			return
		}

		stats, err := calc.CalculateUptimeForPeriod(r.Context(), m, period)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// HandleGetMonitorUptimeHistory returns daily uptime history for a monitor
func HandleGetMonitorUptimeHistory(s *store.Store, calc *uptime.Calculator, logger *zap.Logger) http.HandlerFunc {
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

		days := 30
		if raw := r.URL.Query().Get("days"); raw != "" {
			d, err := strconv.Atoi(raw)
			if err != nil || d < 1 || d > 365 {
				writeError(w, logger, models.NewConfigurationError("days", "must be between 1 and 365"))
				return
			}
			days = d
		}

		history, err := calc.GetDailyUptimeHistory(r.Context(), id, days)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, history)
	}
}

// HandleGetMonitorHourlyUptime returns hourly uptime for the last 24 hours
func HandleGetMonitorHourlyUptime(s *store.Store, calc *uptime.Calculator, logger *zap.Logger) http.HandlerFunc {
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

		history, err := calc.GetHourlyUptimeHistory(r.Context(), id)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if history == nil {
			history = []uptime.HourlyUptimePoint{}
		}
		writeJSON(w, http.StatusOK, history)
	}
}
