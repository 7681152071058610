// Package store provides durable local persistence for messages, game
// sessions, patient cases, and the offline action queue.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/digitalopd/opd/internal/config"
	"github.com/digitalopd/opd/internal/models"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrUnavailable indicates the underlying database could not be reached.
// Callers treat write failures as non-fatal to in-memory state and surface
// them for retry.
var ErrUnavailable = errors.New("store: database unavailable")

// Store wraps the local database. It is a process-wide singleton; consumers
// share one instance rather than opening their own connections.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and runs migrations. Calling it
// against an already-migrated database is a no-op for the schema.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.Path)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w: %w", cfg.Driver, ErrUnavailable, err)
	}

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// AllModels returns every model registered for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.PatientCase{},
		&models.Message{},
		&models.GameSession{},
		&models.QueuedAction{},
	}
}

// Migrate creates or updates the schema. Idempotent: safe to call more than
// once without losing data.
func (s *Store) Migrate() error {
	if s == nil || s.db == nil {
		return ErrUnavailable
	}
	if err := s.db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return sqlDB.Close()
}

// SaveMessage upserts a message by id. In normal operation messages are
// append-only; the upsert only exists so redelivered writes are harmless.
func (s *Store) SaveMessage(msg *models.Message) error {
	if msg.ID == "" {
		return fmt.Errorf("store: message id is required")
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(msg).Error
	if err != nil {
		return fmt.Errorf("store: save message %s: %w", msg.ID, err)
	}
	return nil
}

// Messages returns a patient's transcript ordered oldest first.
func (s *Store) Messages(patientID string) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.Where("patient_id = ?", patientID).
		Order("timestamp ASC, id ASC").Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("store: messages for %s: %w", patientID, err)
	}
	return msgs, nil
}

// SaveSession upserts a game session by id.
func (s *Store) SaveSession(session *models.GameSession) error {
	if session.ID == "" {
		return fmt.Errorf("store: session id is required")
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(session).Error
	if err != nil {
		return fmt.Errorf("store: save session %s: %w", session.ID, err)
	}
	return nil
}

// SessionByPatient returns the session for a patient, or nil when none
// exists yet. A nil session is distinct from a zero-valued one: it tells the
// controller to create a fresh session lazily.
func (s *Store) SessionByPatient(patientID string) (*models.GameSession, error) {
	var session models.GameSession
	err := s.db.Where("patient_id = ?", patientID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: session for %s: %w", patientID, err)
	}
	return &session, nil
}

// SavePatientCase upserts reference case data.
func (s *Store) SavePatientCase(c *models.PatientCase) error {
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(c).Error
	if err != nil {
		return fmt.Errorf("store: save case %s: %w", c.ID, err)
	}
	return nil
}

// SeedCases inserts cases that are not already present. Existing rows are
// left untouched so reference data never mutates after first load.
func (s *Store) SeedCases(cases []models.PatientCase) error {
	if len(cases) == 0 {
		return nil
	}
	err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&cases).Error
	if err != nil {
		return fmt.Errorf("store: seed cases: %w", err)
	}
	return nil
}

// PatientCase returns one case by id, or nil when unknown.
func (s *Store) PatientCase(id string) (*models.PatientCase, error) {
	var c models.PatientCase
	err := s.db.Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: case %s: %w", id, err)
	}
	return &c, nil
}

// PatientCases returns all cases ordered by id.
func (s *Store) PatientCases() ([]models.PatientCase, error) {
	var cases []models.PatientCase
	if err := s.db.Order("id ASC").Find(&cases).Error; err != nil {
		return nil, fmt.Errorf("store: list cases: %w", err)
	}
	return cases, nil
}

// Enqueue persists an outbound event for later transmission.
func (s *Store) Enqueue(eventType string, eventData any) (*models.QueuedAction, error) {
	data, err := json.Marshal(eventData)
	if err != nil {
		return nil, fmt.Errorf("store: encode %s payload: %w", eventType, err)
	}
	action := models.QueuedAction{
		EventType: eventType,
		EventData: datatypes.JSON(data),
		Timestamp: time.Now(),
	}
	if err := s.db.Create(&action).Error; err != nil {
		return nil, fmt.Errorf("store: enqueue %s: %w", eventType, err)
	}
	return &action, nil
}

// PendingActions returns unsynced actions oldest first. Order is the replay
// order: draining must preserve the causal sequence of user actions.
func (s *Store) PendingActions() ([]models.QueuedAction, error) {
	var actions []models.QueuedAction
	err := s.db.Where("synced = ?", false).
		Order("timestamp ASC, id ASC").Find(&actions).Error
	if err != nil {
		return nil, fmt.Errorf("store: pending actions: %w", err)
	}
	return actions, nil
}

// PendingCount returns the number of unsynced actions.
func (s *Store) PendingCount() (int64, error) {
	var n int64
	err := s.db.Model(&models.QueuedAction{}).Where("synced = ?", false).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("store: pending count: %w", err)
	}
	return n, nil
}

// MarkSynced records that the remote peer received an action.
func (s *Store) MarkSynced(id uint) error {
	result := s.db.Model(&models.QueuedAction{}).Where("id = ?", id).
		Update("synced", true)
	if result.Error != nil {
		return fmt.Errorf("store: mark synced %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("store: queued action not found: %d", id)
	}
	return nil
}

// IncrementRetries bumps the retry counter on every pending action after a
// failed drain, so the failure count survives restarts and is visible to
// the UI.
func (s *Store) IncrementRetries() error {
	err := s.db.Model(&models.QueuedAction{}).Where("synced = ?", false).
		UpdateColumn("retry_count", gorm.Expr("retry_count + 1")).Error
	if err != nil {
		return fmt.Errorf("store: increment retries: %w", err)
	}
	return nil
}

// ClearSynced removes delivered actions from the queue.
func (s *Store) ClearSynced() error {
	if err := s.db.Where("synced = ?", true).Delete(&models.QueuedAction{}).Error; err != nil {
		return fmt.Errorf("store: clear synced: %w", err)
	}
	return nil
}

// ClearPatientData deletes one patient's transcript and session. The patient
// id is always bound as a parameter, never interpolated.
func (s *Store) ClearPatientData(patientID string) error {
	if err := s.db.Where("patient_id = ?", patientID).Delete(&models.Message{}).Error; err != nil {
		return fmt.Errorf("store: clear messages for %s: %w", patientID, err)
	}
	if err := s.db.Where("patient_id = ?", patientID).Delete(&models.GameSession{}).Error; err != nil {
		return fmt.Errorf("store: clear session for %s: %w", patientID, err)
	}
	return nil
}

// ResetGameData wipes transcripts, sessions, and the queue but keeps the
// seeded patient cases.
func (s *Store) ResetGameData() error {
	for _, model := range []interface{}{
		&models.Message{}, &models.GameSession{}, &models.QueuedAction{},
	} {
		if err := s.db.Where("1 = 1").Delete(model).Error; err != nil {
			return fmt.Errorf("store: reset game data: %w", err)
		}
	}
	return nil
}
