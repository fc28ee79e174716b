package models

import "time"

// ModerationLog records one action the bot or an admin took in a group,
// along with the message text it was based on.
type ModerationLog struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	EventID         string `gorm:"size:36;index"`
	GroupID         int64  `gorm:"index;not null"`
	UserID          int64  `gorm:"index;not null"`
	ActorID         int64  `gorm:"not null"`
	Action          string `gorm:"size:32;index"`
	Reason          string `gorm:"type:text"`
	OriginalMessage string `gorm:"type:text"`
	EditedMessage   string `gorm:"type:text"`
	MessageID       int
	CreatedAt       time.Time `gorm:"index"`
}
