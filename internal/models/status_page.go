package models

import "time"

// StatusPage represents a public status page
type StatusPage struct {
	ID          int       `json:"id" gorm:"primaryKey;autoIncrement"`
	Slug        string    `json:"slug" gorm:"uniqueIndex;not null" validate:"required,max=64,slug"`
	Title       string    `json:"title" gorm:"not null" validate:"required,max=255"`
	Description string    `json:"description"`
	Published   bool      `json:"published"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for StatusPage
func (StatusPage) TableName() string {
	return "status_pages"
}

// StatusPageMonitor represents a monitor displayed on a status page
type StatusPageMonitor struct {
	StatusPageID int `json:"status_page_id" gorm:"primaryKey;autoIncrement:false"`
	MonitorID    int `json:"monitor_id" gorm:"primaryKey;autoIncrement:false"`
	DisplayOrder int `json:"display_order"`
}

// TableName specifies the table name for StatusPageMonitor
func (StatusPageMonitor) TableName() string {
	return "status_page_monitors"
}
