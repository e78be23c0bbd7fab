package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/fuomag9/inframirror/internal/models"
)

// GetAlertState returns the stored alert state, or the initial state when the
// monitor has none yet.
func (s *Store) GetAlertState(ctx context.Context, monitorID int) (models.AlertState, error) {
	var state models.AlertState
	err := s.db.WithContext(ctx).Where("monitor_id = ?", monitorID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.InitialAlertState(monitorID), nil
	}
	if err != nil {
		return state, wrap("get alert state", err)
	}
	return state, nil
}

// ListAlertStates returns all stored alert states keyed by monitor id
func (s *Store) ListAlertStates(ctx context.Context) (map[int]models.AlertState, error) {
	var states []models.AlertState
	if err := s.db.WithContext(ctx).Find(&states).Error; err != nil {
		return nil, wrap("list alert states", err)
	}
	result := make(map[int]models.AlertState, len(states))
	for _, st := range states {
		result[st.MonitorID] = st
	}
	return result, nil
}

// RepairAlertState overwrites an alert state that drifted from the heartbeat
// log. It only succeeds if the row is still at expectedVersion.
func (s *Store) RepairAlertState(ctx context.Context, state models.AlertState, expectedVersion int) error {
	state.Version = expectedVersion + 1
	res := s.db.WithContext(ctx).Model(&models.AlertState{}).
		Where("monitor_id = ? AND version = ?", state.MonitorID, expectedVersion).
		Updates(alertStateColumns(state))
	if res.Error != nil {
		return wrap("repair alert state", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

func alertStateColumns(st models.AlertState) map[string]any {
	return map[string]any{
		"status":                st.Status,
		"consecutive_failures":  st.ConsecutiveFailures,
		"consecutive_successes": st.ConsecutiveSuccesses,
		"down_notifications":    st.DownNotifications,
		"last_heartbeat_id":     st.LastHeartbeatID,
		"last_heartbeat_at":     st.LastHeartbeatAt,
		"last_changed_at":       st.LastChangedAt,
		"policy":                st.Policy,
		"policy_since":          st.PolicySince,
		"version":               st.Version,
	}
}
