package database

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gotest.tools/v3/assert"

	"github.com/fuomag9/inframirror/internal/config"
	"github.com/fuomag9/inframirror/internal/models"
)

func TestGormLogsThroughZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	db, err := Connect(config.DatabaseConfig{Type: "sqlite", DSN: ":memory:"}, zap.New(core))
	assert.NilError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	assert.NilError(t, AutoMigrate(db))

	var state models.AlertState
	err = db.Where("monitor_id = ?", 42).First(&state).Error
	assert.ErrorContains(t, err, "record not found")
	assert.Equal(t, logs.FilterLoggerName("gorm").Len(), 0)

	err = db.Exec("SELECT * FROM missing_table").Error
	assert.Assert(t, err != nil)
	failed := logs.FilterLoggerName("gorm").FilterMessage("Query failed").All()
	assert.Equal(t, len(failed), 1)
	assert.Equal(t, failed[0].Level, zapcore.ErrorLevel)
	assert.Equal(t, failed[0].ContextMap()["sql"], "SELECT * FROM missing_table")
}

func TestGormQueryLoggingIsDebug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	db, err := Connect(config.DatabaseConfig{Type: "sqlite", DSN: ":memory:", LogQueries: true}, zap.New(core))
	assert.NilError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	assert.NilError(t, db.Exec("SELECT 1").Error)
	queries := logs.FilterLoggerName("gorm").FilterMessage("Query").All()
	assert.Assert(t, len(queries) > 0)
	assert.Equal(t, queries[len(queries)-1].Level, zapcore.DebugLevel)
}
