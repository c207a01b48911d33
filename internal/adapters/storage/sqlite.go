// Package storage persists alert history with GORM over SQLite.
package storage

import (
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
	"github.com/lcalzada-xor/wmesh/internal/core/ports"
)

// SQLiteAdapter implements ports.AlertRepository using GORM and SQLite.
type SQLiteAdapter struct {
	db *gorm.DB
}

var _ ports.AlertRepository = (*SQLiteAdapter)(nil)

// AlertModel is the GORM model for emitted alerts.
type AlertModel struct {
	ID        string `gorm:"primaryKey"`
	Key       string `gorm:"index"`
	Category  string
	Severity  string
	Message   string
	DeviceMAC string
	NodeID    string
	At        time.Time `gorm:"index"`
}

// NewSQLiteAdapter opens the database and migrates the schema.
func NewSQLiteAdapter(path string) (*SQLiteAdapter, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&AlertModel{}); err != nil {
		return nil, err
	}

	return &SQLiteAdapter{db: db}, nil
}

// Close releases the underlying database handle.
func (a *SQLiteAdapter) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveAlert appends one alert to the history.
func (a *SQLiteAdapter) SaveAlert(alert domain.Alert) error {
	return a.db.Create(&AlertModel{
		ID:        alert.ID,
		Key:       alert.Key,
		Category:  alert.Category,
		Severity:  string(alert.Severity),
		Message:   alert.Message,
		DeviceMAC: alert.DeviceMAC,
		NodeID:    alert.NodeID,
		At:        alert.At,
	}).Error
}

// ListAlerts returns the alerts emitted at or after the given time, newest
// first.
func (a *SQLiteAdapter) ListAlerts(since time.Time) ([]domain.Alert, error) {
	var models []AlertModel
	if err := a.db.Where("at >= ?", since).Order("at desc").Find(&models).Error; err != nil {
		return nil, err
	}
	alerts := make([]domain.Alert, 0, len(models))
	for _, m := range models {
		alerts = append(alerts, domain.Alert{
			ID:        m.ID,
			Key:       m.Key,
			Category:  m.Category,
			Severity:  domain.Severity(m.Severity),
			Message:   m.Message,
			DeviceMAC: m.DeviceMAC,
			NodeID:    m.NodeID,
			At:        m.At,
		})
	}
	return alerts, nil
}
