package api

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/fuomag9/inframirror/internal/models"
	"github.com/fuomag9/inframirror/internal/notification"
	"github.com/fuomag9/inframirror/internal/store"
)

// HandleGetNotifications returns all notification channels
func HandleGetNotifications(s *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		notifications, err := s.ListNotifications(r.Context())
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, notifications)
	}
}

// HandleGetNotification returns a single notification by ID
func HandleGetNotification(s *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		n, err := s.GetNotification(r.Context(), id)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, n)
	}
}

// HandleCreateNotification creates a new notification channel
func HandleCreateNotification(s *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := models.Notification{Active: true}
		if err := decodeJSON(r, &n); err != nil {
			writeError(w, logger, err)
			return
		}
		n.ID = 0

		if err := notification.Validate(&n); err != nil {
			writeError(w, logger, err)
			return
		}
		if err := s.CreateNotification(r.Context(), &n); err != nil {
			writeError(w, logger, err)
			return
		}

		logger.Info("Notification created", zap.Int("notification_id", n.ID), zap.String("type", n.Type))
		w.Header().Set("Location", fmt.Sprintf("/api/notifications/%d", n.ID))
		writeJSON(w, http.StatusCreated, n)
	}
}

// HandleUpdateNotification replaces a notification channel
func HandleUpdateNotification(s *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		existing, err := s.GetNotification(r.Context(), id)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		n := models.Notification{Active: true}
		if err := decodeJSON(r, &n); err != nil {
			writeError(w, logger, err)
			return
		}
		n.ID = id
		n.CreatedAt = existing.CreatedAt

		if err := notification.Validate(&n); err != nil {
			writeError(w, logger, err)
			return
		}
		if err := s.UpdateNotification(r.Context(), &n); err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, n)
	}
}

// HandleDeleteNotification deletes a notification channel and its monitor links
func HandleDeleteNotification(s *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if err := s.DeleteNotification(r.Context(), id); err != nil {
			writeError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleTestNotification sends a test message through a saved channel
func HandleTestNotification(s *store.Store, dispatcher *notification.Dispatcher, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		n, err := s.GetNotification(r.Context(), id)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		if err := dispatcher.TestNotification(r.Context(), n); err != nil {
			logger.Warn("Test notification failed", zap.Int("notification_id", id), zap.Error(err))
			writeMessage(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "test notification sent"})
	}
}

// HandleGetNotificationProviders lists the supported channel types
func HandleGetNotificationProviders() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, notification.ProviderNames())
	}
}
