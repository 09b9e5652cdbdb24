// Package testutil provides an in-memory SQLite store for package tests.
package testutil

import (
	"context"
	"sync"
	"testing"

	"labdesk-backend/internal/database"
	"labdesk-backend/internal/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a fresh migrated in-memory database. The pool is pinned to a
// single connection: every connection to ":memory:" would otherwise see its
// own empty database, and it also serializes concurrent transactions the
// way row locks do on Postgres.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func Logger() *zap.Logger {
	return zap.NewNop()
}

func SeedUser(t *testing.T, db *gorm.DB, name string) models.User {
	t.Helper()
	u := models.User{Name: name, Role: "student"}
	require.NoError(t, db.Create(&u).Error)
	return u
}

func SeedMaterial(t *testing.T, db *gorm.DB, name string, quantity int) models.Material {
	t.Helper()
	m := models.Material{Name: name, Quantity: quantity, Status: models.MaterialAvailable}
	require.NoError(t, db.Create(&m).Error)
	return m
}

func MaterialQuantity(t *testing.T, db *gorm.DB, id uint) int {
	t.Helper()
	var m models.Material
	require.NoError(t, db.First(&m, id).Error)
	return m.Quantity
}

// EventRecorder collects published events in memory.
type EventRecorder struct {
	mu     sync.Mutex
	Events []RecordedEvent
}

type RecordedEvent struct {
	Type    string
	Payload map[string]interface{}
}

func (r *EventRecorder) Publish(_ context.Context, eventType string, payload map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, RecordedEvent{Type: eventType, Payload: payload})
	return nil
}

func (r *EventRecorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.Events))
	for _, e := range r.Events {
		types = append(types, e.Type)
	}
	return types
}
