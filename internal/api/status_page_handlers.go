package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fuomag9/inframirror/internal/models"
	"github.com/fuomag9/inframirror/internal/store"
	"github.com/fuomag9/inframirror/internal/uptime"
)

// StatusPageRequest is the body of status page create and update calls
type StatusPageRequest struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Published   bool   `json:"published"`
	MonitorIDs  []int  `json:"monitor_ids"`
}

// StatusPageWithMonitors is a status page with its monitors in display order
type StatusPageWithMonitors struct {
	models.StatusPage
	Monitors []models.Monitor `json:"monitors"`
}

// HandleGetStatusPages returns all status pages
func HandleGetStatusPages(s *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pages, err := s.ListStatusPages(r.Context())
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, pages)
	}
}

// HandleGetStatusPage returns a single status page by ID
func HandleGetStatusPage(s *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		page, err := s.GetStatusPage(r.Context(), id)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		monitors, err := s.StatusPageMonitors(r.Context(), id)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if monitors == nil {
			monitors = []models.Monitor{}
		}
		writeJSON(w, http.StatusOK, StatusPageWithMonitors{StatusPage: *page, Monitors: monitors})
	}
}

// HandleCreateStatusPage creates a new status page
func HandleCreateStatusPage(s *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StatusPageRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, logger, err)
			return
		}

		page := models.StatusPage{
			Slug:        req.Slug,
			Title:       req.Title,
			Description: req.Description,
			Published:   req.Published,
		}
		if err := s.SaveStatusPage(r.Context(), &page, req.MonitorIDs); err != nil {
			writeError(w, logger, err)
			return
		}

		w.Header().Set("Location", fmt.Sprintf("/api/status-pages/%d", page.ID))
		writeJSON(w, http.StatusCreated, page)
	}
}

// HandleUpdateStatusPage replaces a status page and its monitor list
func HandleUpdateStatusPage(s *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		page, err := s.GetStatusPage(r.Context(), id)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		var req StatusPageRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, logger, err)
			return
		}
		page.Slug = req.Slug
		page.Title = req.Title
		page.Description = req.Description
		page.Published = req.Published

		if err := s.SaveStatusPage(r.Context(), page, req.MonitorIDs); err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

// HandleDeleteStatusPage deletes a status page
func HandleDeleteStatusPage(s *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if err := s.DeleteStatusPage(r.Context(), id); err != nil {
			writeError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// PublicMonitorStatus is what a public status page shows for one monitor
type PublicMonitorStatus struct {
	ID            int              `json:"id"`
	Name          string           `json:"name"`
	Type          string           `json:"type"`
	Status        string           `json:"status"`
	Uptime24h     float64          `json:"uptime_24h"`
	Severity      string           `json:"severity"`
	LastHeartbeat *PublicHeartbeat `json:"last_heartbeat,omitempty"`
}

// PublicHeartbeat omits probe details that could leak internals
type PublicHeartbeat struct {
	ExecutedAt     time.Time `json:"executed_at"`
	Status         string    `json:"status"`
	ResponseTimeMs int       `json:"response_time_ms"`
}

// PublicStatusPage is the unauthenticated view of a published page
type PublicStatusPage struct {
	Slug        string                `json:"slug"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Monitors    []PublicMonitorStatus `json:"monitors"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// HandleGetPublicStatusPage renders a published page by slug. Unpublished
// pages are reported as missing.
func HandleGetPublicStatusPage(s *store.Store, calc *uptime.Calculator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		page, err := s.GetStatusPageBySlug(ctx, chi.URLParam(r, "slug"))
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if !page.Published {
			writeError(w, logger, store.ErrNotFound)
			return
		}

		monitors, err := s.StatusPageMonitors(ctx, page.ID)
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

		result := PublicStatusPage{
			Slug:        page.Slug,
			Title:       page.Title,
			Description: page.Description,
			Monitors:    make([]PublicMonitorStatus, 0, len(monitors)),
			GeneratedAt: time.Now().UTC(),
		}
		for i := range monitors {
			m := &monitors[i]
			ms := PublicMonitorStatus{ID: m.ID, Name: m.Name, Type: m.Type, Status: models.AlertPending}
			if st, ok := states[m.ID]; ok {
				ms.Status = st.Status
			}
			if hb, ok := latest[m.ID]; ok {
				ms.LastHeartbeat = &PublicHeartbeat{
					ExecutedAt:     hb.ExecutedAt,
					Status:         hb.Status,
					ResponseTimeMs: hb.ResponseTimeMs,
				}
			}

			stats, err := calc.CalculateUptimeForPeriod(ctx, m, 24*time.Hour)
			if err != nil {
				writeError(w, logger, err)
				return
			}
			ms.Uptime24h = stats.UptimePercentage
			ms.Severity = stats.Severity
			result.Monitors = append(result.Monitors, ms)
		}

		w.Header().Set("Cache-Control", "public, max-age=30")
		writeJSON(w, http.StatusOK, result)
	}
}
