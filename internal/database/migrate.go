package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	"github.com/fuomag9/inframirror/internal/config"
	"github.com/fuomag9/inframirror/internal/models"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// RunMigrations brings the schema up to date. Postgres uses the versioned SQL
// migrations; SQLite is schema-managed by GORM.
func RunMigrations(db *gorm.DB, cfg config.DatabaseConfig) error {
	switch cfg.Type {
	case "postgres":
		return migratePostgres(db)
	case "sqlite":
		return AutoMigrate(db)
	default:
		return fmt.Errorf("unsupported database type for migrations: %s", cfg.Type)
	}
}

func migratePostgres(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// AutoMigrate creates or updates every table from the GORM models
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Monitor{},
		&models.Heartbeat{},
		&models.AlertState{},
		&models.Notification{},
		&models.MonitorNotification{},
		&models.StatusPage{},
		&models.StatusPageMonitor{},
		&models.APIKey{},
		&models.StatHourly{},
		&models.StatDaily{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate schema: %w", err)
	}
	return nil
}
