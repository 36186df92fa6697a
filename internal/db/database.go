package db

import (
	"fmt"
	"time"

	"github.com/Renetatomm/renetato-s-executor/internal/config"
	"github.com/Renetatomm/renetato-s-executor/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultEventLimit caps ListEvents when the caller asks for no limit.
const DefaultEventLimit = 100

// Service defines the audit trail operations.
// Decouples the key manager and admin handlers from gorm.
type Service interface {
	RecordEvent(event *model.AuditEvent) error
	ListEvents(limit int, eventType string) ([]model.AuditEvent, error)
	CountEventsByType() (map[string]int64, error)
	PurgeEventsBefore(cutoff time.Time) (int64, error)
	GetDB() *gorm.DB
	Close() error
}

type service struct {
	db *gorm.DB
}

// NewService opens the database described by cfg and migrates the audit schema.
func NewService(cfg config.DatabaseConfig) (Service, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Type == "sqlite" {
		// Every sqlite connection to an in-memory DSN is its own database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&model.AuditEvent{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	return &service{db: db}, nil
}

// RecordEvent appends an audit event.
func (s *service) RecordEvent(event *model.AuditEvent) error {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	if err := s.db.Create(event).Error; err != nil {
		return fmt.Errorf("failed to record %s event: %w", event.Type, err)
	}
	return nil
}

// ListEvents returns the most recent events, newest first, optionally filtered by type.
func (s *service) ListEvents(limit int, eventType string) ([]model.AuditEvent, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	query := s.db.Model(&model.AuditEvent{}).Order("at desc").Order("id desc").Limit(limit)
	if eventType != "" {
		query = query.Where("type = ?", eventType)
	}

	var events []model.AuditEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	return events, nil
}

// CountEventsByType returns the number of stored events per type.
func (s *service) CountEventsByType() (map[string]int64, error) {
	var rows []struct {
		Type  string
		Count int64
	}
	err := s.db.Model(&model.AuditEvent{}).
		Select("type, count(*) as count").
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Type] = row.Count
	}
	return counts, nil
}

// PurgeEventsBefore permanently deletes events older than cutoff.
func (s *service) PurgeEventsBefore(cutoff time.Time) (int64, error) {
	result := s.db.Unscoped().Where("at < ?", cutoff).Delete(&model.AuditEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge audit events: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// GetDB exposes the underlying gorm handle.
func (s *service) GetDB() *gorm.DB {
	return s.db
}

// Close releases the database connections.
func (s *service) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
