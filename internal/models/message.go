package models

import "time"

// Message sender values.
const (
	SenderUser   = "user"
	SenderDoctor = "doctor"
	SenderSystem = "system"
)

// Message is one entry in a patient's conversation transcript. Messages are
// immutable once created and append-only per patient.
type Message struct {
	ID         string    `gorm:"primaryKey;size:64"`
	PatientID  string    `gorm:"size:32;not null;index:idx_patient_timestamp"`
	Sender     string    `gorm:"size:16;not null"`
	Content    string    `gorm:"type:text;not null"`
	Points     *int
	TestResult string    `gorm:"type:text"`
	Timestamp  time.Time `gorm:"not null;index:idx_patient_timestamp"`
}
