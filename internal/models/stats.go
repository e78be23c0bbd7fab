package models

import "time"

// StatHourly holds per-monitor heartbeat aggregates for one hour
type StatHourly struct {
	ID               int       `json:"id" gorm:"primaryKey;autoIncrement"`
	MonitorID        int       `json:"monitor_id" gorm:"not null;uniqueIndex:idx_stat_hourly_monitor_hour,priority:1"`
	Hour             time.Time `json:"hour" gorm:"not null;uniqueIndex:idx_stat_hourly_monitor_hour,priority:2"`
	PingMin          int       `json:"ping_min"`
	PingMax          int       `json:"ping_max"`
	PingAvg          float64   `json:"ping_avg"`
	UpCount          int       `json:"up_count"`
	DegradedCount    int       `json:"degraded_count"`
	DownCount        int       `json:"down_count"`
	TotalCount       int       `json:"total_count"`
	UptimePercentage float64   `json:"uptime_percentage"`
	CreatedAt        time.Time `json:"created_at"`
}

// TableName specifies the table name for StatHourly
func (StatHourly) TableName() string {
	return "stat_hourly"
}

// StatDaily holds per-monitor heartbeat aggregates for one day
type StatDaily struct {
	ID               int       `json:"id" gorm:"primaryKey;autoIncrement"`
	MonitorID        int       `json:"monitor_id" gorm:"not null;uniqueIndex:idx_stat_daily_monitor_date,priority:1"`
	Date             time.Time `json:"date" gorm:"not null;uniqueIndex:idx_stat_daily_monitor_date,priority:2"`
	PingMin          int       `json:"ping_min"`
	PingMax          int       `json:"ping_max"`
	PingAvg          float64   `json:"ping_avg"`
	UpCount          int       `json:"up_count"`
	DegradedCount    int       `json:"degraded_count"`
	DownCount        int       `json:"down_count"`
	TotalCount       int       `json:"total_count"`
	UptimePercentage float64   `json:"uptime_percentage"`
	CreatedAt        time.Time `json:"created_at"`
}

// TableName specifies the table name for StatDaily
func (StatDaily) TableName() string {
	return "stat_daily"
}
