package api

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/fuomag9/inframirror/internal/models"
	"github.com/fuomag9/inframirror/internal/store"
)

var validScopes = []string{models.ScopeRead, models.ScopeWrite, models.ScopeAdmin}

// CreateAPIKeyRequest is the body of an API key create call
type CreateAPIKeyRequest struct {
	Name      string     `json:"name"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CreateAPIKeyResponse carries the clear key. It is never shown again.
type CreateAPIKeyResponse struct {
	models.APIKey
	Key string `json:"key"`
}

// HandleGetAPIKeys returns all API keys without their secrets
func HandleGetAPIKeys(s *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := s.ListAPIKeys(r.Context())
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, keys)
	}
}

// HandleCreateAPIKey creates a new API key
func HandleCreateAPIKey(s *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAPIKeyRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, logger, err)
			return
		}

		cfgErr := &models.ConfigurationError{}
		if req.Name == "" {
			cfgErr.Add("name", "is required")
		}
		if len(req.Scopes) == 0 {
			cfgErr.Add("scopes", "at least one scope is required")
		}
		for _, scope := range req.Scopes {
			if !slices.Contains(validScopes, scope) {
				cfgErr.Add("scopes", fmt.Sprintf("unknown scope %q", scope))
			}
		}
		if req.ExpiresAt != nil && req.ExpiresAt.Before(time.Now()) {
			cfgErr.Add("expires_at", "must be in the future")
		}
		if len(cfgErr.Fields) > 0 {
			writeError(w, logger, cfgErr)
			return
		}

		// 32 random bytes = 43 base64 chars
		keyBytes := make([]byte, 32)
		if _, err := rand.Read(keyBytes); err != nil {
			writeError(w, logger, fmt.Errorf("failed to generate key: %w", err))
			return
		}
		raw := base64.RawURLEncoding.EncodeToString(keyBytes)

		hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
		if err != nil {
			writeError(w, logger, fmt.Errorf("failed to hash key: %w", err))
			return
		}

		key := models.APIKey{
			Name:      req.Name,
			KeyHash:   string(hash),
			Prefix:    raw[:apiKeyPrefixLen],
			Scopes:    req.Scopes,
			ExpiresAt: req.ExpiresAt,
		}
		if err := s.CreateAPIKey(r.Context(), &key); err != nil {
			writeError(w, logger, err)
			return
		}

		logger.Info("API key created", zap.Int("key_id", key.ID), zap.Strings("scopes", req.Scopes))
		writeJSON(w, http.StatusCreated, CreateAPIKeyResponse{APIKey: key, Key: raw})
	}
}

// HandleDeleteAPIKey revokes an API key
func HandleDeleteAPIKey(s *store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if err := s.DeleteAPIKey(r.Context(), id); err != nil {
			writeError(w, logger, err)
			return
		}
		logger.Info("API key revoked", zap.Int("key_id", id))
		w.WriteHeader(http.StatusNoContent)
	}
}
