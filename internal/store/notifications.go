package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/fuomag9/inframirror/internal/models"
)

// ListNotifications returns every notification channel
func (s *Store) ListNotifications(ctx context.Context) ([]models.Notification, error) {
	var notifications []models.Notification
	if err := s.db.WithContext(ctx).Order("id").Find(&notifications).Error; err != nil {
		return nil, wrap("list notifications", err)
	}
	return notifications, nil
}

// GetNotification loads a notification by id
func (s *Store) GetNotification(ctx context.Context, id int) (*models.Notification, error) {
	var n models.Notification
	if err := s.db.WithContext(ctx).First(&n, id).Error; err != nil {
		return nil, wrap("get notification", err)
	}
	return &n, nil
}

// CreateNotification inserts a notification
func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	if err := models.ValidateStruct(n); err != nil {
		return err
	}
	return wrap("create notification", s.db.WithContext(ctx).Create(n).Error)
}

// UpdateNotification saves every column of an existing notification
func (s *Store) UpdateNotification(ctx context.Context, n *models.Notification) error {
	if _, err := s.GetNotification(ctx, n.ID); err != nil {
		return err
	}
	if err := models.ValidateStruct(n); err != nil {
		return err
	}
	n.UpdatedAt = time.Now().UTC()
	return wrap("update notification", s.db.WithContext(ctx).Save(n).Error)
}

// DeleteNotification removes a notification and its monitor links
func (s *Store) DeleteNotification(ctx context.Context, id int) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.Notification{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("notification_id = ?", id).Delete(&models.MonitorNotification{}).Error
	})
	return wrap("delete notification", err)
}

// MonitorNotifications returns the active notifications linked to a monitor
func (s *Store) MonitorNotifications(ctx context.Context, monitorID int) ([]models.Notification, error) {
	var notifications []models.Notification
	err := s.db.WithContext(ctx).
		Joins("INNER JOIN monitor_notifications mn ON mn.notification_id = notifications.id").
		Where("mn.monitor_id = ? AND notifications.active = ?", monitorID, true).
		Order("notifications.id").
		Find(&notifications).Error
	if err != nil {
		return nil, wrap("list monitor notifications", err)
	}
	return notifications, nil
}

// MonitorNotificationIDs returns the ids of every notification linked to a monitor
func (s *Store) MonitorNotificationIDs(ctx context.Context, monitorID int) ([]int, error) {
	var ids []int
	err := s.db.WithContext(ctx).Model(&models.MonitorNotification{}).
		Where("monitor_id = ?", monitorID).
		Order("notification_id").
		Pluck("notification_id", &ids).Error
	if err != nil {
		return nil, wrap("list monitor notification ids", err)
	}
	return ids, nil
}

// DefaultNotifications returns the active notifications flagged as default
func (s *Store) DefaultNotifications(ctx context.Context) ([]models.Notification, error) {
	var notifications []models.Notification
	err := s.db.WithContext(ctx).
		Where("is_default = ? AND active = ?", true, true).
		Order("id").
		Find(&notifications).Error
	if err != nil {
		return nil, wrap("list default notifications", err)
	}
	return notifications, nil
}
