package models

import "time"

// Alert status values
const (
	AlertPending = "pending"
	AlertUp      = "up"
	AlertDown    = "down"
)

// AlertState is the per-monitor alert state machine position. It is written
// only in the transaction that appends a heartbeat, guarded by Version.
type AlertState struct {
	MonitorID            int        `json:"monitor_id" gorm:"primaryKey;autoIncrement:false"`
	Status               string     `json:"status" gorm:"not null;size:16"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	ConsecutiveSuccesses int        `json:"consecutive_successes"`
	DownNotifications    int        `json:"down_notifications"`
	LastHeartbeatID      int        `json:"last_heartbeat_id"`
	LastHeartbeatAt      *time.Time `json:"last_heartbeat_at,omitempty"`
	LastChangedAt        *time.Time `json:"last_changed_at,omitempty"`
	// Policy is the key of the thresholds the state was last evaluated under
	// and PolicySince the first heartbeat evaluated under them.
	Policy               string     `json:"policy" gorm:"not null;size:32;default:''"`
	PolicySince          int        `json:"policy_since_heartbeat_id"`
	Version              int        `json:"version" gorm:"not null"`
}

// TableName specifies the table name for AlertState
func (AlertState) TableName() string {
	return "alert_states"
}

// InitialAlertState is the state of a monitor with no heartbeats
func InitialAlertState(monitorID int) AlertState {
	return AlertState{MonitorID: monitorID, Status: AlertPending}
}
