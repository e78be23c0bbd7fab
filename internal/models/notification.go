package models

import (
	"time"

	"gorm.io/datatypes"
)

// Notification represents a notification channel configuration
type Notification struct {
	ID        int               `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string            `json:"name" gorm:"not null" validate:"required,max=255"`
	Type      string            `json:"type" gorm:"not null" validate:"required"`
	Config    datatypes.JSONMap `json:"config"`
	IsDefault bool              `json:"is_default"`
	Active    bool              `json:"active"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// TableName specifies the table name for Notification
func (Notification) TableName() string {
	return "notifications"
}

// MonitorNotification links monitors to notifications
type MonitorNotification struct {
	MonitorID      int `json:"monitor_id" gorm:"primaryKey;autoIncrement:false"`
	NotificationID int `json:"notification_id" gorm:"primaryKey;autoIncrement:false"`
}

// TableName specifies the table name for MonitorNotification
func (MonitorNotification) TableName() string {
	return "monitor_notifications"
}
