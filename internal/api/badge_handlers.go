package api

import (
	"fmt"
	"html"
	"net/http"

	"go.uber.org/zap"

	"github.com/fuomag9/inframirror/internal/models"
	"github.com/fuomag9/inframirror/internal/store"
	"github.com/fuomag9/inframirror/internal/uptime"
)

// badgeColors maps shields.io color names to fills
var badgeColors = map[string]string{
	"brightgreen": "#4c1",
	"green":       "#97ca00",
	"yellowgreen": "#a4a61d",
	"yellow":      "#dfb317",
	"orange":      "#fe7d37",
	"red":         "#e05d44",
	"gray":        "#555",
}

// publicMonitor loads a monitor that appears on a published status page.
// Other monitors are reported as missing.
func publicMonitor(w http.ResponseWriter, r *http.Request, s *store.Store, logger *zap.Logger) (*models.Monitor, bool) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, logger, err)
		return nil, false
	}
	public, err := s.IsPublicMonitor(r.Context(), id)
	if err != nil {
		writeError(w, logger, err)
		return nil, false
	}
	if !public {
		writeError(w, logger, store.ErrNotFound)
		return nil, false
	}
	m, err := s.GetMonitor(r.Context(), id)
	if err != nil {
		writeError(w, logger, err)
		return nil, false
	}
	return m, true
}

// HandleStatusBadge renders the alert status of a public monitor
func HandleStatusBadge(s *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, ok := publicMonitor(w, r, s, logger)
		if !ok {
			return
		}
		state, err := s.GetAlertState(r.Context(), m.ID)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		color := "gray"
		switch state.Status {
		case models.AlertUp:
			color = "brightgreen"
		case models.AlertDown:
			color = "red"
		}
		writeBadge(w, "status", state.Status, color)
	}
}

// HandleUptimeBadge renders the uptime percentage of a public monitor
func HandleUptimeBadge(s *store.Store, calc *uptime.Calculator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, ok := publicMonitor(w, r, s, logger)
		if !ok {
			return
		}

		period := r.URL.Query().Get("period")
		if period == "" {
			period = "30d"
		}
		d, err := uptime.ParsePeriod(period)
		if err != nil {
			writeError(w, logger, models.NewConfigurationError("period", err.Error()))
			return
		}
		stats, err := calc.CalculateUptimeForPeriod(r.Context(), m, d)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		text, color := "N/A", "gray"
		if stats.TotalChecks > 0 {
			text = fmt.Sprintf("%.2f%%", stats.UptimePercentage)
			switch stats.Severity {
			case models.SeverityCritical:
				color = "red"
			case models.SeverityWarning:
				color = "yellow"
			default:
				color = uptimeColor(stats.UptimePercentage)
			}
		}
		writeBadge(w, fmt.Sprintf("uptime (%s)", period), text, color)
	}
}

func uptimeColor(pct float64) string {
	switch {
	case pct >= 99.9:
		return "brightgreen"
	case pct >= 99.0:
		return "green"
	case pct >= 95.0:
		return "yellowgreen"
	case pct >= 90.0:
		return "yellow"
	default:
		return "red"
	}
}

func writeBadge(w http.ResponseWriter, label, message, color string) {
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Write([]byte(badgeSVG(label, message, color)))
}

// badgeSVG draws a flat shields.io style badge
func badgeSVG(label, message, color string) string {
	fill, ok := badgeColors[color]
	if !ok {
		fill = badgeColors["gray"]
	}

	labelWidth := len(label)*6 + 10
	messageWidth := len(message)*6 + 10
	totalWidth := labelWidth + messageWidth
	label = html.EscapeString(label)
	message = html.EscapeString(message)

	return fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="20" role="img" aria-label="%s: %s">
  <linearGradient id="b" x2="0" y2="100%%">
    <stop offset="0" stop-color="#bbb" stop-opacity=".1"/>
    <stop offset="1" stop-opacity=".1"/>
  </linearGradient>
  <mask id="a">
    <rect width="%d" height="20" rx="3" fill="#fff"/>
  </mask>
  <g mask="url(#a)">
    <path fill="#555" d="M0 0h%dv20H0z"/>
    <path fill="%s" d="M%d 0h%dv20H%dz"/>
    <path fill="url(#b)" d="M0 0h%dv20H0z"/>
  </g>
  <g fill="#fff" text-anchor="middle" font-family="DejaVu Sans,Verdana,Geneva,sans-serif" font-size="11">
    <text x="%d" y="14">%s</text>
    <text x="%d" y="14">%s</text>
  </g>
</svg>`,
		totalWidth, label, message,
		totalWidth,
		labelWidth, fill, labelWidth, messageWidth, labelWidth,
		totalWidth,
		labelWidth/2, label,
		labelWidth+messageWidth/2, message,
	)
}
