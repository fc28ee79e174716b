package models

import "time"

// VerificationRecord is the terminal outcome of a captcha session. Live
// sessions and their timers are never persisted.
type VerificationRecord struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	GroupID     int64  `gorm:"index;not null"`
	UserID      int64  `gorm:"index;not null"`
	Kind        string `gorm:"size:16"`
	Outcome     string `gorm:"size:16"`
	Attempts    int
	StartedAt   time.Time
	CompletedAt time.Time
}
