package models

import (
	"slices"
	"time"

	"gorm.io/datatypes"
)

// API key scopes
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
	ScopeAdmin = "admin"
)

// APIKey represents an API key for programmatic access
type APIKey struct {
	ID         int                         `json:"id" gorm:"primaryKey;autoIncrement"`
	Name       string                      `json:"name" gorm:"not null"`
	KeyHash    string                      `json:"-" gorm:"not null"`
	Prefix     string                      `json:"prefix" gorm:"index;size:16"`
	Scopes     datatypes.JSONSlice[string] `json:"scopes"`
	ExpiresAt  *time.Time                  `json:"expires_at,omitempty"`
	LastUsedAt *time.Time                  `json:"last_used_at,omitempty"`
	CreatedAt  time.Time                   `json:"created_at"`
}

// TableName specifies the table name for APIKey
func (APIKey) TableName() string {
	return "api_keys"
}

// HasScope checks if the API key has a specific scope
func (k *APIKey) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope) || slices.Contains(k.Scopes, ScopeAdmin)
}

// IsExpired checks if the API key has expired
func (k *APIKey) IsExpired() bool {
	if k.ExpiresAt == nil {
		return false
	}
	return k.ExpiresAt.Before(time.Now())
}
