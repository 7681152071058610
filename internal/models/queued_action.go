package models

import (
	"time"

	"gorm.io/datatypes"
)

// QueuedAction is an outbound event that could not be transmitted when the
// user performed it. It stays queued until the drain confirms delivery;
// RetryCount records how many drain attempts have failed while it waited.
type QueuedAction struct {
	ID         uint           `gorm:"primaryKey;autoIncrement"`
	EventType  string         `gorm:"size:64;not null"`
	EventData  datatypes.JSON
	Timestamp  time.Time      `gorm:"not null;index"`
	Synced     bool           `gorm:"default:false;index"`
	RetryCount int            `gorm:"default:0"`
}
