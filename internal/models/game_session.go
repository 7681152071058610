package models

import "time"

// GameSession is the mutable aggregate tracking one user's progress through
// a patient case. TotalPoints always equals LabTestPoints + DiagnosisPoints.
type GameSession struct {
	ID                string `gorm:"primaryKey;size:64"`
	PatientID         string `gorm:"size:32;not null;uniqueIndex"`
	UserID            string `gorm:"size:64;not null"`
	TestAttempts      int    `gorm:"default:0"`
	DiagnosisAttempts int    `gorm:"default:0"`
	LabTestPoints     int    `gorm:"default:0"`
	DiagnosisPoints   int    `gorm:"default:0"`
	TotalPoints       int    `gorm:"default:0"`
	IsCompleted       bool   `gorm:"default:false"`
	StartedAt         time.Time `gorm:"not null"`
	CompletedAt       *time.Time
}

// TestPassed reports whether the lab-test phase has already been scored.
func (s *GameSession) TestPassed() bool {
	return s.LabTestPoints > 0
}

// DiagnosisPassed reports whether the diagnosis phase has already been scored.
func (s *GameSession) DiagnosisPassed() bool {
	return s.DiagnosisPoints > 0
}
