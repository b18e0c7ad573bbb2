// Package gormstore provides a MySQL-backed breaker.Store using GORM.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angeloszaimis/breakerd/internal/breaker"
)

// Model is the database row for one breaker record.
type Model struct {
	ServiceName      string     `gorm:"column:service_name;primaryKey;size:191"`
	State            string     `gorm:"column:state;size:16;not null"`
	FailureCount     int        `gorm:"column:failure_count;not null"`
	FailureThreshold int        `gorm:"column:failure_threshold;not null"`
	LastFailureAt    *time.Time `gorm:"column:last_failure_at"`
	ResetTimeoutMs   int64      `gorm:"column:reset_timeout_ms;not null"`
	UpdatedAt        time.Time  `gorm:"column:updated_at"`
}

func (Model) TableName() string {
	return "circuit_breakers"
}

func fromRecord(record breaker.Record) Model {
	return Model{
		ServiceName:      record.ServiceName,
		State:            record.State.String(),
		FailureCount:     record.FailureCount,
		FailureThreshold: record.FailureThreshold,
		LastFailureAt:    record.LastFailureAt,
		ResetTimeoutMs:   record.ResetTimeout.Milliseconds(),
	}
}

func toRecord(model Model) (breaker.Record, error) {
	state, err := breaker.ParseState(model.State)
	if err != nil {
		return breaker.Record{}, err
	}

	return breaker.Record{
		ServiceName:      model.ServiceName,
		State:            state,
		FailureCount:     model.FailureCount,
		FailureThreshold: model.FailureThreshold,
		LastFailureAt:    model.LastFailureAt,
		ResetTimeout:     time.Duration(model.ResetTimeoutMs) * time.Millisecond,
	}, nil
}

// Store persists breaker records as rows in MySQL through GORM.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Model{}); err != nil {
		return nil, fmt.Errorf("failed to migrate circuit_breakers table: %w", err)
	}
	return &Store{db: db}, nil
}

// Open connects to MySQL and configures the connection pool.
func Open(dsn string) (*gorm.DB, func(), error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	cleanup := func() {
		_ = sqlDB.Close()
	}

	return db, cleanup, nil
}

func (s *Store) Get(ctx context.Context, serviceName string) (breaker.Record, error) {
	var model Model
	err := s.db.WithContext(ctx).Where("service_name = ?", serviceName).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return breaker.Record{}, fmt.Errorf("%w: %s", breaker.ErrNotFound, serviceName)
	}
	if err != nil {
		return breaker.Record{}, fmt.Errorf("failed to get breaker record: %w", err)
	}

	return toRecord(model)
}

func (s *Store) Upsert(ctx context.Context, record breaker.Record) error {
	model := fromRecord(record)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("failed to upsert breaker record: %w", err)
	}
	return nil
}

func (s *Store) ListAll(ctx context.Context) ([]breaker.Record, error) {
	var models []Model
	if err := s.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list breaker records: %w", err)
	}

	records := make([]breaker.Record, 0, len(models))
	for _, model := range models {
		record, err := toRecord(model)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}
