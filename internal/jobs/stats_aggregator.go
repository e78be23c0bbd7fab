package jobs

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fuomag9/inframirror/internal/models"
)

// StatsAggregator aggregates heartbeat data into hourly and daily statistics
type StatsAggregator struct {
	db *gorm.DB
}

// NewStatsAggregator creates a new statistics aggregator
func NewStatsAggregator(db *gorm.DB) *StatsAggregator {
	return &StatsAggregator{db: db}
}

// bucket is one monitor's heartbeat aggregate over a window. Ping figures
// only cover successful heartbeats.
type bucket struct {
	MonitorID     int
	PingMin       *int
	PingMax       *int
	PingAvg       *float64
	UpCount       int
	DegradedCount int
	DownCount     int
	TotalCount    int
}

func (b bucket) uptime() float64 {
	if b.TotalCount == 0 {
		return 0
	}
	return float64(b.UpCount+b.DegradedCount) / float64(b.TotalCount) * 100
}

func (b bucket) pings() (lo, hi int, avg float64) {
	if b.PingMin != nil {
		lo = *b.PingMin
	}
	if b.PingMax != nil {
		hi = *b.PingMax
	}
	if b.PingAvg != nil {
		avg = *b.PingAvg
	}
	return lo, hi, avg
}

// AggregateHour aggregates every monitor's heartbeats of the hour starting
// at hourStart. Re-running an hour overwrites its rows.
func (a *StatsAggregator) AggregateHour(ctx context.Context, hourStart time.Time) (int, error) {
	hourStart = hourStart.UTC().Truncate(time.Hour)
	buckets, err := a.collect(ctx, hourStart, hourStart.Add(time.Hour))
	if err != nil {
		return 0, err
	}
	if len(buckets) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([]models.StatHourly, 0, len(buckets))
	for _, b := range buckets {
		lo, hi, avg := b.pings()
		rows = append(rows, models.StatHourly{
			MonitorID:        b.MonitorID,
			Hour:             hourStart,
			PingMin:          lo,
			PingMax:          hi,
			PingAvg:          avg,
			UpCount:          b.UpCount,
			DegradedCount:    b.DegradedCount,
			DownCount:        b.DownCount,
			TotalCount:       b.TotalCount,
			UptimePercentage: b.uptime(),
			CreatedAt:        now,
		})
	}

	err = a.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "monitor_id"}, {Name: "hour"}},
		DoUpdates: clause.AssignmentColumns(statColumns),
	}).Create(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("failed to store hourly stats: %w", err)
	}
	return len(rows), nil
}

// AggregateDay aggregates every monitor's heartbeats of the UTC day
// containing day.
func (a *StatsAggregator) AggregateDay(ctx context.Context, day time.Time) (int, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	buckets, err := a.collect(ctx, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return 0, err
	}
	if len(buckets) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([]models.StatDaily, 0, len(buckets))
	for _, b := range buckets {
		lo, hi, avg := b.pings()
		rows = append(rows, models.StatDaily{
			MonitorID:        b.MonitorID,
			Date:             dayStart,
			PingMin:          lo,
			PingMax:          hi,
			PingAvg:          avg,
			UpCount:          b.UpCount,
			DegradedCount:    b.DegradedCount,
			DownCount:        b.DownCount,
			TotalCount:       b.TotalCount,
			UptimePercentage: b.uptime(),
			CreatedAt:        now,
		})
	}

	err = a.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "monitor_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns(statColumns),
	}).Create(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("failed to store daily stats: %w", err)
	}
	return len(rows), nil
}

var statColumns = []string{
	"ping_min", "ping_max", "ping_avg",
	"up_count", "degraded_count", "down_count", "total_count",
	"uptime_percentage",
}

func (a *StatsAggregator) collect(ctx context.Context, start, end time.Time) ([]bucket, error) {
	var buckets []bucket
	err := a.db.WithContext(ctx).Model(&models.Heartbeat{}).
		Select(`monitor_id,
			MIN(CASE WHEN success THEN response_time_ms ELSE NULL END) AS ping_min,
			MAX(CASE WHEN success THEN response_time_ms ELSE NULL END) AS ping_max,
			AVG(CASE WHEN success THEN response_time_ms ELSE NULL END) AS ping_avg,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS up_count,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS degraded_count,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS down_count,
			COUNT(*) AS total_count`,
			models.StatusUp, models.StatusDegraded, models.StatusDown).
		Where("executed_at >= ? AND executed_at < ?", start, end).
		Group("monitor_id").
		Order("monitor_id").
		Scan(&buckets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate heartbeats: %w", err)
	}
	return buckets, nil
}

// DeleteStatsBefore removes hourly rows older than hourlyCutoff and daily rows
// older than dailyCutoff.
func (a *StatsAggregator) DeleteStatsBefore(ctx context.Context, hourlyCutoff, dailyCutoff time.Time) (hourly, daily int64, err error) {
	res := a.db.WithContext(ctx).Where("hour < ?", hourlyCutoff).Delete(&models.StatHourly{})
	if res.Error != nil {
		return 0, 0, fmt.Errorf("failed to cleanup hourly stats: %w", res.Error)
	}
	hourly = res.RowsAffected

	res = a.db.WithContext(ctx).Where("date < ?", dailyCutoff).Delete(&models.StatDaily{})
	if res.Error != nil {
		return hourly, 0, fmt.Errorf("failed to cleanup daily stats: %w", res.Error)
	}
	return hourly, res.RowsAffected, nil
}
