package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/fuomag9/inframirror/internal/models"
)

// ListMonitors returns one page of monitors matching the query
func (s *Store) ListMonitors(ctx context.Context, q Query) ([]models.Monitor, error) {
	var monitors []models.Monitor
	tx := applyFilters(s.db.WithContext(ctx).Model(&models.Monitor{}), q.Filters)
	tx = applySorts(tx, q.Sorts, "id ASC")
	if err := paginate(tx, q).Find(&monitors).Error; err != nil {
		return nil, wrap("list monitors", err)
	}
	return monitors, nil
}

// CountMonitors counts monitors matching the filters
func (s *Store) CountMonitors(ctx context.Context, filters []Filter) (int64, error) {
	var count int64
	tx := applyFilters(s.db.WithContext(ctx).Model(&models.Monitor{}), filters)
	if err := tx.Count(&count).Error; err != nil {
		return 0, wrap("count monitors", err)
	}
	return count, nil
}

// AllMonitors returns every monitor ordered by id
func (s *Store) AllMonitors(ctx context.Context) ([]models.Monitor, error) {
	var monitors []models.Monitor
	if err := s.db.WithContext(ctx).Order("id").Find(&monitors).Error; err != nil {
		return nil, wrap("list all monitors", err)
	}
	return monitors, nil
}

// ListEnabledMonitors returns every enabled monitor
func (s *Store) ListEnabledMonitors(ctx context.Context) ([]models.Monitor, error) {
	var monitors []models.Monitor
	if err := s.db.WithContext(ctx).Where("enabled = ?", true).Order("id").Find(&monitors).Error; err != nil {
		return nil, wrap("list enabled monitors", err)
	}
	return monitors, nil
}

// ListChildren returns the monitors whose parent is id
func (s *Store) ListChildren(ctx context.Context, id int) ([]models.Monitor, error) {
	var monitors []models.Monitor
	if err := s.db.WithContext(ctx).Where("parent_id = ?", id).Order("id").Find(&monitors).Error; err != nil {
		return nil, wrap("list children", err)
	}
	return monitors, nil
}

// GetMonitor loads a monitor by id
func (s *Store) GetMonitor(ctx context.Context, id int) (*models.Monitor, error) {
	var m models.Monitor
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, wrap("get monitor", err)
	}
	return &m, nil
}

// CreateMonitor validates and inserts a monitor
func (s *Store) CreateMonitor(ctx context.Context, m *models.Monitor) error {
	if err := s.validateMonitor(ctx, m); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return wrap("create monitor", err)
	}
	return nil
}

// UpdateMonitor validates and saves every column of an existing monitor
func (s *Store) UpdateMonitor(ctx context.Context, m *models.Monitor) error {
	if _, err := s.GetMonitor(ctx, m.ID); err != nil {
		return err
	}
	if err := s.validateMonitor(ctx, m); err != nil {
		return err
	}
	m.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Save(m).Error; err != nil {
		return wrap("update monitor", err)
	}
	return nil
}

// DeleteMonitor removes a monitor together with its heartbeats, alert state
// and links. Children are detached.
func (s *Store) DeleteMonitor(ctx context.Context, id int) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.Monitor{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if err := tx.Model(&models.Monitor{}).Where("parent_id = ?", id).Update("parent_id", nil).Error; err != nil {
			return err
		}
		for _, model := range []any{&models.Heartbeat{}, &models.AlertState{}, &models.MonitorNotification{}, &models.StatusPageMonitor{}} {
			if err := tx.Where("monitor_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return wrap("delete monitor", err)
}

func (s *Store) validateMonitor(ctx context.Context, m *models.Monitor) error {
	if err := models.ValidateMonitor(m); err != nil {
		return err
	}
	if m.ParentID == nil {
		return nil
	}
	return s.checkParentChain(ctx, m.ID, *m.ParentID)
}

// checkParentChain walks up from parentID and rejects missing parents and
// chains that lead back to id.
func (s *Store) checkParentChain(ctx context.Context, id, parentID int) error {
	seen := map[int]bool{}
	current := parentID
	for {
		if id != 0 && current == id {
			return models.NewConfigurationError("parent_id", "parent chain forms a cycle")
		}
		if seen[current] {
			return models.NewConfigurationError("parent_id", "parent chain forms a cycle")
		}
		seen[current] = true

		var parent models.Monitor
		err := wrap("load parent", s.db.WithContext(ctx).Select("id", "parent_id").First(&parent, current).Error)
		switch {
		case err == ErrNotFound && current == parentID:
			return models.NewConfigurationError("parent_id", fmt.Sprintf("monitor %d does not exist", parentID))
		case err == ErrNotFound:
			return nil
		case err != nil:
			return err
		}
		if parent.ParentID == nil {
			return nil
		}
		current = *parent.ParentID
	}
}

// SetMonitorNotifications replaces the notification links of a monitor.
// useDefaults clears explicit links so default notifications apply.
func (s *Store) SetMonitorNotifications(ctx context.Context, monitorID int, notificationIDs []int, useDefaults bool) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("monitor_id = ?", monitorID).Delete(&models.MonitorNotification{}).Error; err != nil {
			return err
		}
		if !useDefaults {
			for _, nid := range notificationIDs {
				link := models.MonitorNotification{MonitorID: monitorID, NotificationID: nid}
				if err := tx.Create(&link).Error; err != nil {
					return err
				}
			}
		}
		return tx.Model(&models.Monitor{}).Where("id = ?", monitorID).
			Update("notifications_configured", !useDefaults).Error
	})
	return wrap("set monitor notifications", err)
}
