package store

import (
	"context"
	"time"

	"github.com/fuomag9/inframirror/internal/models"
)

// GetUserByUsername loads an operator account
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, wrap("get user", err)
	}
	return &user, nil
}

// GetUser loads an operator account by id
func (s *Store) GetUser(ctx context.Context, id int) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, wrap("get user", err)
	}
	return &user, nil
}

// EnsureUser creates the account when no user with that name exists yet.
// The password must already be hashed.
func (s *Store) EnsureUser(ctx context.Context, username, passwordHash string) (created bool, err error) {
	user := models.User{Username: username, Password: passwordHash, Active: true}
	res := s.db.WithContext(ctx).Where("username = ?", username).FirstOrCreate(&user)
	if res.Error != nil {
		return false, wrap("ensure user", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListAPIKeys returns every API key, newest first
func (s *Store) ListAPIKeys(ctx context.Context) ([]models.APIKey, error) {
	var keys []models.APIKey
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&keys).Error; err != nil {
		return nil, wrap("list api keys", err)
	}
	return keys, nil
}

// APIKeysByPrefix returns the keys sharing a display prefix
func (s *Store) APIKeysByPrefix(ctx context.Context, prefix string) ([]models.APIKey, error) {
	var keys []models.APIKey
	if err := s.db.WithContext(ctx).Where("prefix = ?", prefix).Find(&keys).Error; err != nil {
		return nil, wrap("find api keys", err)
	}
	return keys, nil
}

// CreateAPIKey inserts an API key. Only the hash is stored.
func (s *Store) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	return wrap("create api key", s.db.WithContext(ctx).Create(key).Error)
}

// TouchAPIKey records that a key was used
func (s *Store) TouchAPIKey(ctx context.Context, id int) error {
	err := s.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ?", id).
		Update("last_used_at", time.Now().UTC()).Error
	return wrap("touch api key", err)
}

// DeleteAPIKey removes an API key
func (s *Store) DeleteAPIKey(ctx context.Context, id int) error {
	res := s.db.WithContext(ctx).Delete(&models.APIKey{}, id)
	if res.Error != nil {
		return wrap("delete api key", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
