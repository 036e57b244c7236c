// Package sqlite implements the audit store on gorm with a pure-Go sqlite driver.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/AltairaLabs/assistant-server/internal/storage"
)

type taskModel struct {
	ID        string `gorm:"primaryKey"`
	SessionID string `gorm:"index"`
	Kind      string
	Input     string
	Model     string
	StartedAt time.Time `gorm:"index"`
	EndedAt   *time.Time
	Outcome   string
	Error     string
}

func (taskModel) TableName() string { return "tasks" }

type fixModel struct {
	ID            string `gorm:"primaryKey"`
	SessionID     string
	SurfaceID     string `gorm:"index:idx_fix_component"`
	ComponentName string `gorm:"index:idx_fix_component"`
	ErrorType     string
	Attempt       int
	Outcome       string
	Error         string
	CreatedAt     time.Time
}

func (fixModel) TableName() string { return "fix_attempts" }

// AuditStore implements storage.AuditStore on a sqlite database
type AuditStore struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the audit tables
func Open(dsn string) (*AuditStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access audit database: %w", err)
	}
	// sqlite serializes writers; one connection also keeps :memory: databases coherent
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&taskModel{}, &fixModel{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate audit database: %w", err)
	}
	return &AuditStore{db: db}, nil
}

// RecordTaskStart stores a task in the running state
func (s *AuditStore) RecordTaskStart(ctx context.Context, rec *storage.TaskRecord) error {
	if rec == nil || rec.ID == "" {
		return errors.New("task record requires an ID")
	}
	m := taskModel{
		ID:        rec.ID,
		SessionID: rec.SessionID,
		Kind:      rec.Kind,
		Input:     rec.Input,
		Model:     rec.Model,
		StartedAt: rec.StartedAt,
		Outcome:   string(storage.TaskOutcomeRunning),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to record task %s: %w", rec.ID, err)
	}
	return nil
}

// RecordTaskEnd settles a running task
func (s *AuditStore) RecordTaskEnd(
	ctx context.Context,
	taskID string,
	outcome storage.TaskOutcome,
	errMsg string,
	endedAt time.Time,
) error {
	res := s.db.WithContext(ctx).
		Model(&taskModel{}).
		Where("id = ?", taskID).
		Updates(map[string]any{
			"outcome":  string(outcome),
			"error":    errMsg,
			"ended_at": endedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to settle task %s: %w", taskID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("task %s: %w", taskID, storage.ErrNotFound)
	}
	return nil
}

// GetTask retrieves a task by ID
func (s *AuditStore) GetTask(ctx context.Context, taskID string) (*storage.TaskRecord, error) {
	var m taskModel
	err := s.db.WithContext(ctx).Where("id = ?", taskID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("task %s: %w", taskID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", taskID, err)
	}
	return m.toRecord(), nil
}

// ListTasks returns the most recent tasks of a session, newest first
func (s *AuditStore) ListTasks(ctx context.Context, sessionID string, limit int) ([]*storage.TaskRecord, error) {
	q := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []taskModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	out := make([]*storage.TaskRecord, 0, len(models))
	for i := range models {
		out = append(out, models[i].toRecord())
	}
	return out, nil
}

// RecordFixAttempt appends an auto-fix attempt
func (s *AuditStore) RecordFixAttempt(ctx context.Context, rec *storage.FixRecord) error {
	if rec == nil || rec.ID == "" {
		return errors.New("fix record requires an ID")
	}
	m := fixModel{
		ID:            rec.ID,
		SessionID:     rec.SessionID,
		SurfaceID:     rec.SurfaceID,
		ComponentName: rec.ComponentName,
		ErrorType:     rec.ErrorType,
		Attempt:       rec.Attempt,
		Outcome:       string(rec.Outcome),
		Error:         rec.Error,
		CreatedAt:     rec.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to record fix attempt: %w", err)
	}
	return nil
}

// ListFixAttempts returns attempts for one component, oldest first
func (s *AuditStore) ListFixAttempts(ctx context.Context, surfaceID, componentName string) ([]*storage.FixRecord, error) {
	var models []fixModel
	err := s.db.WithContext(ctx).
		Where("surface_id = ? AND component_name = ?", surfaceID, componentName).
		Order("created_at ASC").
		Order("attempt ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list fix attempts: %w", err)
	}
	out := make([]*storage.FixRecord, 0, len(models))
	for _, m := range models {
		out = append(out, &storage.FixRecord{
			ID:            m.ID,
			SessionID:     m.SessionID,
			SurfaceID:     m.SurfaceID,
			ComponentName: m.ComponentName,
			ErrorType:     m.ErrorType,
			Attempt:       m.Attempt,
			Outcome:       storage.FixOutcome(m.Outcome),
			Error:         m.Error,
			CreatedAt:     m.CreatedAt,
		})
	}
	return out, nil
}

// Close closes the underlying database
func (s *AuditStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (m *taskModel) toRecord() *storage.TaskRecord {
	return &storage.TaskRecord{
		ID:        m.ID,
		SessionID: m.SessionID,
		Kind:      m.Kind,
		Input:     m.Input,
		Model:     m.Model,
		StartedAt: m.StartedAt,
		EndedAt:   m.EndedAt,
		Outcome:   storage.TaskOutcome(m.Outcome),
		Error:     m.Error,
	}
}
