package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/fuomag9/inframirror/internal/models"
)

// ListStatusPages returns every status page
func (s *Store) ListStatusPages(ctx context.Context) ([]models.StatusPage, error) {
	var pages []models.StatusPage
	if err := s.db.WithContext(ctx).Order("id").Find(&pages).Error; err != nil {
		return nil, wrap("list status pages", err)
	}
	return pages, nil
}

// GetStatusPage loads a status page by id
func (s *Store) GetStatusPage(ctx context.Context, id int) (*models.StatusPage, error) {
	var page models.StatusPage
	if err := s.db.WithContext(ctx).First(&page, id).Error; err != nil {
		return nil, wrap("get status page", err)
	}
	return &page, nil
}

// GetStatusPageBySlug loads a status page by its public slug
func (s *Store) GetStatusPageBySlug(ctx context.Context, slug string) (*models.StatusPage, error) {
	var page models.StatusPage
	if err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&page).Error; err != nil {
		return nil, wrap("get status page", err)
	}
	return &page, nil
}

// SaveStatusPage creates or updates a status page and replaces its monitor
// list. The slug must be unique and every monitor must exist.
func (s *Store) SaveStatusPage(ctx context.Context, page *models.StatusPage, monitorIDs []int) error {
	if err := models.ValidateStruct(page); err != nil {
		return err
	}

	var taken int64
	err := s.db.WithContext(ctx).Model(&models.StatusPage{}).
		Where("slug = ? AND id <> ?", page.Slug, page.ID).
		Count(&taken).Error
	if err != nil {
		return wrap("check slug", err)
	}
	if taken > 0 {
		return models.NewConfigurationError("slug", "already in use")
	}

	if len(monitorIDs) > 0 {
		var found int64
		err := s.db.WithContext(ctx).Model(&models.Monitor{}).Where("id IN ?", monitorIDs).Count(&found).Error
		if err != nil {
			return wrap("check monitors", err)
		}
		if int(found) != len(uniqueInts(monitorIDs)) {
			return models.NewConfigurationError("monitor_ids", "unknown monitor id")
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if page.ID == 0 {
			if err := tx.Create(page).Error; err != nil {
				return err
			}
		} else {
			res := tx.Model(&models.StatusPage{}).Where("id = ?", page.ID).Updates(map[string]any{
				"slug":        page.Slug,
				"title":       page.Title,
				"description": page.Description,
				"published":   page.Published,
				"updated_at":  time.Now().UTC(),
			})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return gorm.ErrRecordNotFound
			}
		}

		if err := tx.Where("status_page_id = ?", page.ID).Delete(&models.StatusPageMonitor{}).Error; err != nil {
			return err
		}
		for i, id := range uniqueInts(monitorIDs) {
			link := models.StatusPageMonitor{StatusPageID: page.ID, MonitorID: id, DisplayOrder: i}
			if err := tx.Create(&link).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return wrap("save status page", err)
}

// DeleteStatusPage removes a status page and its monitor list
func (s *Store) DeleteStatusPage(ctx context.Context, id int) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.StatusPage{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Where("status_page_id = ?", id).Delete(&models.StatusPageMonitor{}).Error
	})
	return wrap("delete status page", err)
}

// StatusPageMonitors returns the monitors of a page in display order
func (s *Store) StatusPageMonitors(ctx context.Context, pageID int) ([]models.Monitor, error) {
	var monitors []models.Monitor
	err := s.db.WithContext(ctx).
		Joins("INNER JOIN status_page_monitors spm ON spm.monitor_id = monitors.id").
		Where("spm.status_page_id = ?", pageID).
		Order("spm.display_order ASC").
		Find(&monitors).Error
	if err != nil {
		return nil, wrap("list status page monitors", err)
	}
	return monitors, nil
}

// IsPublicMonitor reports whether a monitor is shown on a published page
func (s *Store) IsPublicMonitor(ctx context.Context, monitorID int) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.StatusPageMonitor{}).
		Joins("INNER JOIN status_pages sp ON sp.id = status_page_monitors.status_page_id").
		Where("status_page_monitors.monitor_id = ? AND sp.published = ?", monitorID, true).
		Count(&count).Error
	if err != nil {
		return false, wrap("check public monitor", err)
	}
	return count > 0, nil
}

func uniqueInts(values []int) []int {
	seen := make(map[int]bool, len(values))
	out := make([]int, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
