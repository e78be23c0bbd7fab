package uptime

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-orz/cache"
	"gorm.io/gorm"

	"github.com/fuomag9/inframirror/internal/models"
)

// Calculator calculates uptime statistics for monitors
type Calculator struct {
	db    *gorm.DB
	cache cache.Cache[string, *UptimeStats]
	ttl   time.Duration
	now   func() time.Time
}

// NewCalculator creates a new uptime calculator. Results of the rolling
// period queries are cached for ttl; a zero ttl disables caching.
func NewCalculator(db *gorm.DB, ttl time.Duration) *Calculator {
	c := &Calculator{db: db, ttl: ttl, now: time.Now}
	if ttl > 0 {
		c.cache = cache.New[string, *UptimeStats](ttl)
	}
	return c
}

// UptimeStats represents uptime statistics for a monitor
type UptimeStats struct {
	MonitorID        int     `json:"monitor_id"`
	UptimePercentage float64 `json:"uptime_percentage"`
	TotalChecks      int     `json:"total_checks"`
	UpChecks         int     `json:"up_checks"`
	DegradedChecks   int     `json:"degraded_checks"`
	DownChecks       int     `json:"down_checks"`
	AveragePing      float64 `json:"average_ping"`
	Severity         string  `json:"severity"`
	StartTime        string  `json:"start_time"`
	EndTime          string  `json:"end_time"`
}

// ParsePeriod accepts 24h, 7d, 30d and 90d. An empty period means 24h.
func ParsePeriod(period string) (time.Duration, error) {
	switch period {
	case "", "24h":
		return 24 * time.Hour, nil
	case "7d", "30d", "90d":
		days, _ := strconv.Atoi(period[:len(period)-1])
		return time.Duration(days) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported period %q (use 24h, 7d, 30d or 90d)", period)
	}
}

// CalculateUptimeForPeriod calculates uptime over the trailing period and
// rates it against the monitor's uptime thresholds.
func (c *Calculator) CalculateUptimeForPeriod(ctx context.Context, m *models.Monitor, period time.Duration) (*UptimeStats, error) {
	key := fmt.Sprintf("%d:%s", m.ID, period)
	if c.cache != nil {
		if stats, ok := c.cache.Get(key); ok {
			withSeverity := *stats
			withSeverity.Severity = Severity(m, stats)
			return &withSeverity, nil
		}
	}

	end := c.now().UTC()
	stats, err := c.CalculateUptimeForTimeRange(ctx, m.ID, end.Add(-period), end)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Set(key, stats, c.ttl)
	}

	withSeverity := *stats
	withSeverity.Severity = Severity(m, stats)
	return &withSeverity, nil
}

// Invalidate drops cached results of a monitor
func (c *Calculator) Invalidate(monitorID int) {
	if c.cache == nil {
		return
	}
	for _, p := range []string{"24h", "7d", "30d", "90d"} {
		d, _ := ParsePeriod(p)
		c.cache.Delete(fmt.Sprintf("%d:%s", monitorID, d))
	}
}

// CalculateUptimeForTimeRange calculates uptime between two specific times.
// Degraded heartbeats count as up.
func (c *Calculator) CalculateUptimeForTimeRange(ctx context.Context, monitorID int, start, end time.Time) (*UptimeStats, error) {
	var row struct {
		TotalChecks    int
		UpChecks       int
		DegradedChecks int
		DownChecks     int
		AveragePing    *float64
	}

	err := c.db.WithContext(ctx).Model(&models.Heartbeat{}).
		Select(`COUNT(*) AS total_checks,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS up_checks,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS degraded_checks,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS down_checks,
			AVG(CASE WHEN success THEN response_time_ms ELSE NULL END) AS average_ping`,
			models.StatusUp, models.StatusDegraded, models.StatusDown).
		Where("monitor_id = ? AND executed_at >= ? AND executed_at <= ?", monitorID, start, end).
		Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to calculate uptime: %w", err)
	}

	stats := &UptimeStats{
		MonitorID:      monitorID,
		TotalChecks:    row.TotalChecks,
		UpChecks:       row.UpChecks,
		DegradedChecks: row.DegradedChecks,
		DownChecks:     row.DownChecks,
		StartTime:      start.Format(time.RFC3339),
		EndTime:        end.Format(time.RFC3339),
	}
	if row.AveragePing != nil {
		stats.AveragePing = *row.AveragePing
	}
	stats.UptimePercentage = percentage(row.UpChecks+row.DegradedChecks, row.TotalChecks)
	return stats, nil
}

// Severity rates uptime against the monitor's warning and critical
// percentages. A period without checks is ok.
func Severity(m *models.Monitor, stats *UptimeStats) string {
	if stats.TotalChecks == 0 {
		return models.SeverityOK
	}
	switch {
	case m.UptimeCriticalPercent > 0 && stats.UptimePercentage < m.UptimeCriticalPercent:
		return models.SeverityCritical
	case m.UptimeWarningPercent > 0 && stats.UptimePercentage < m.UptimeWarningPercent:
		return models.SeverityWarning
	default:
		return models.SeverityOK
	}
}

// DailyUptimePoint represents uptime for a single day
type DailyUptimePoint struct {
	Date             string  `json:"date"`
	UptimePercentage float64 `json:"uptime_percentage"`
	TotalChecks      int     `json:"total_checks"`
	UpChecks         int     `json:"up_checks"`
	AveragePing      float64 `json:"average_ping"`
}

// GetDailyUptimeHistory returns the aggregated days of the last days days,
// oldest first. Days not yet aggregated are absent.
func (c *Calculator) GetDailyUptimeHistory(ctx context.Context, monitorID, days int) ([]DailyUptimePoint, error) {
	since := c.now().UTC().AddDate(0, 0, -days).Truncate(24 * time.Hour)

	var rows []models.StatDaily
	err := c.db.WithContext(ctx).
		Where("monitor_id = ? AND date >= ?", monitorID, since).
		Order("date ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load daily stats: %w", err)
	}

	points := make([]DailyUptimePoint, 0, len(rows))
	for _, r := range rows {
		points = append(points, DailyUptimePoint{
			Date:             r.Date.Format("2006-01-02"),
			UptimePercentage: r.UptimePercentage,
			TotalChecks:      r.TotalCount,
			UpChecks:         r.UpCount + r.DegradedCount,
			AveragePing:      r.PingAvg,
		})
	}
	return points, nil
}

// HourlyUptimePoint represents uptime for a single hour
type HourlyUptimePoint struct {
	Hour             string  `json:"hour"`
	UptimePercentage float64 `json:"uptime_percentage"`
	TotalChecks      int     `json:"total_checks"`
	UpChecks         int     `json:"up_checks"`
}

// GetHourlyUptimeHistory buckets the last 24 hours of heartbeats by hour,
// oldest first. Hours without heartbeats are omitted.
func (c *Calculator) GetHourlyUptimeHistory(ctx context.Context, monitorID int) ([]HourlyUptimePoint, error) {
	end := c.now().UTC()
	start := end.Add(-24 * time.Hour)

	var rows []struct {
		ExecutedAt time.Time
		Success    bool
	}
	err := c.db.WithContext(ctx).Model(&models.Heartbeat{}).
		Select("executed_at, success").
		Where("monitor_id = ? AND executed_at >= ? AND executed_at <= ?", monitorID, start, end).
		Order("executed_at ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load heartbeats: %w", err)
	}

	var points []HourlyUptimePoint
	for _, r := range rows {
		hour := r.ExecutedAt.UTC().Truncate(time.Hour).Format(time.RFC3339)
		if len(points) == 0 || points[len(points)-1].Hour != hour {
			points = append(points, HourlyUptimePoint{Hour: hour})
		}
		p := &points[len(points)-1]
		p.TotalChecks++
		if r.Success {
			p.UpChecks++
		}
	}
	for i := range points {
		points[i].UptimePercentage = percentage(points[i].UpChecks, points[i].TotalChecks)
	}
	return points, nil
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
