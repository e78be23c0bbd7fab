package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/fuomag9/inframirror/internal/models"
)

// AdvanceFunc computes the next alert state from the previous one and the
// heartbeat that was just inserted (its ID is set).
type AdvanceFunc func(prev models.AlertState, hb *models.Heartbeat) models.AlertState

// AppendHeartbeat inserts a heartbeat and advances the monitor's alert state in
// the same transaction. The alert state row is guarded by its version; a
// concurrent writer makes the call fail with ErrStaleState and nothing is
// persisted. A deleted monitor yields ErrNotFound.
func (s *Store) AppendHeartbeat(ctx context.Context, hb *models.Heartbeat, advance AdvanceFunc) (prev, next models.AlertState, err error) {
	if hb.ID != 0 {
		return prev, next, models.NewConfigurationError("id", "heartbeats are immutable and cannot be rewritten")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&models.Monitor{}).Where("id = ?", hb.MonitorID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}

		if err := tx.Create(hb).Error; err != nil {
			return err
		}

		var current models.AlertState
		res := tx.Where("monitor_id = ?", hb.MonitorID).Limit(1).Find(&current)
		if res.Error != nil {
			return res.Error
		}
		found := res.RowsAffected > 0
		if !found {
			current = models.InitialAlertState(hb.MonitorID)
		}

		prev = current
		next = advance(current, hb)
		next.MonitorID = hb.MonitorID
		next.LastHeartbeatID = hb.ID
		executedAt := hb.ExecutedAt
		next.LastHeartbeatAt = &executedAt
		next.Version = current.Version + 1

		if !found {
			return tx.Create(&next).Error
		}

		res = tx.Model(&models.AlertState{}).
			Where("monitor_id = ? AND version = ?", hb.MonitorID, current.Version).
			Updates(alertStateColumns(next))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleState
		}
		return nil
	})

	if err != nil {
		hb.ID = 0
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStaleState) {
			return prev, next, err
		}
		return prev, next, wrap("append heartbeat", err)
	}
	return prev, next, nil
}

// ListHeartbeats returns one page of heartbeats matching the query, newest first by default
func (s *Store) ListHeartbeats(ctx context.Context, q Query) ([]models.Heartbeat, error) {
	var heartbeats []models.Heartbeat
	tx := applyFilters(s.db.WithContext(ctx).Model(&models.Heartbeat{}), q.Filters)
	tx = applySorts(tx, q.Sorts, "executed_at DESC, id DESC")
	if err := paginate(tx, q).Find(&heartbeats).Error; err != nil {
		return nil, wrap("list heartbeats", err)
	}
	return heartbeats, nil
}

// CountHeartbeats counts heartbeats matching the filters
func (s *Store) CountHeartbeats(ctx context.Context, filters []Filter) (int64, error) {
	var count int64
	tx := applyFilters(s.db.WithContext(ctx).Model(&models.Heartbeat{}), filters)
	if err := tx.Count(&count).Error; err != nil {
		return 0, wrap("count heartbeats", err)
	}
	return count, nil
}

// GetHeartbeat loads a heartbeat by id
func (s *Store) GetHeartbeat(ctx context.Context, id int) (*models.Heartbeat, error) {
	var hb models.Heartbeat
	if err := s.db.WithContext(ctx).First(&hb, id).Error; err != nil {
		return nil, wrap("get heartbeat", err)
	}
	return &hb, nil
}

// LastHeartbeat returns the most recent heartbeat of a monitor
func (s *Store) LastHeartbeat(ctx context.Context, monitorID int) (*models.Heartbeat, error) {
	var hb models.Heartbeat
	err := s.db.WithContext(ctx).
		Where("monitor_id = ?", monitorID).
		Order("executed_at DESC, id DESC").
		First(&hb).Error
	if err != nil {
		return nil, wrap("last heartbeat", err)
	}
	return &hb, nil
}

// LatestHeartbeats returns the newest heartbeat per monitor for the given ids
func (s *Store) LatestHeartbeats(ctx context.Context, monitorIDs []int) (map[int]models.Heartbeat, error) {
	result := make(map[int]models.Heartbeat, len(monitorIDs))
	if len(monitorIDs) == 0 {
		return result, nil
	}

	latestIDs := s.db.Model(&models.Heartbeat{}).
		Select("MAX(id)").
		Where("monitor_id IN ?", monitorIDs).
		Group("monitor_id")

	var latest []models.Heartbeat
	if err := s.db.WithContext(ctx).Where("id IN (?)", latestIDs).Find(&latest).Error; err != nil {
		return nil, wrap("latest heartbeats", err)
	}
	for _, hb := range latest {
		result[hb.MonitorID] = hb
	}
	return result, nil
}

// RecentHeartbeats returns up to limit of the newest heartbeats of a monitor,
// ordered oldest first so they can be replayed.
func (s *Store) RecentHeartbeats(ctx context.Context, monitorID, limit int) ([]models.Heartbeat, error) {
	var heartbeats []models.Heartbeat
	err := s.db.WithContext(ctx).
		Where("monitor_id = ?", monitorID).
		Order("executed_at DESC, id DESC").
		Limit(limit).
		Find(&heartbeats).Error
	if err != nil {
		return nil, wrap("recent heartbeats", err)
	}
	for i, j := 0, len(heartbeats)-1; i < j; i, j = i+1, j-1 {
		heartbeats[i], heartbeats[j] = heartbeats[j], heartbeats[i]
	}
	return heartbeats, nil
}

// HeartbeatsBetween returns a monitor's heartbeats in [from, to), oldest first
func (s *Store) HeartbeatsBetween(ctx context.Context, monitorID int, from, to time.Time) ([]models.Heartbeat, error) {
	var heartbeats []models.Heartbeat
	err := s.db.WithContext(ctx).
		Where("monitor_id = ? AND executed_at >= ? AND executed_at < ?", monitorID, from, to).
		Order("executed_at ASC, id ASC").
		Find(&heartbeats).Error
	if err != nil {
		return nil, wrap("heartbeats between", err)
	}
	return heartbeats, nil
}

// DeleteHeartbeatsBefore removes heartbeats older than cutoff. Retention is the
// only path that deletes heartbeats.
func (s *Store) DeleteHeartbeatsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("executed_at < ?", cutoff).Delete(&models.Heartbeat{})
	if res.Error != nil {
		return 0, wrap("delete old heartbeats", res.Error)
	}
	return res.RowsAffected, nil
}
