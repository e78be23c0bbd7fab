package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when the requested row does not exist
	ErrNotFound = errors.New("not found")
	// ErrStaleState is returned when the alert state changed concurrently
	ErrStaleState = errors.New("alert state version conflict")
)

// PersistenceError wraps a failed storage operation. The heartbeat writer
// retries these before dropping the heartbeat.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return &PersistenceError{Op: op, Err: err}
}

// Store is the GORM-backed repository for monitors, heartbeats and alert state
type Store struct {
	db *gorm.DB
}

// New creates a new store
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for packages that run their own queries
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Vacuum compacts a SQLite database. Other databases are left alone and
// report false.
func (s *Store) Vacuum(ctx context.Context) (bool, error) {
	if s.db.Dialector.Name() != "sqlite" {
		return false, nil
	}
	if err := s.db.WithContext(ctx).Exec("VACUUM").Error; err != nil {
		return false, wrap("vacuum", err)
	}
	return true, nil
}

func paginate(db *gorm.DB, q Query) *gorm.DB {
	size := q.Size
	if size <= 0 {
		size = defaultPageSize
	}
	return db.Offset(q.Page * size).Limit(size)
}
