package models

import "time"

// WelcomeConfig holds the greeting and farewell templates for a group.
type WelcomeConfig struct {
	GroupID             int64  `gorm:"primaryKey;autoIncrement:false"`
	WelcomeEnabled      bool   `gorm:"not null"`
	WelcomeMessage      string `gorm:"type:text"`
	WelcomeDeleteAfter  int    `gorm:"not null"`
	FarewellEnabled     bool   `gorm:"not null"`
	FarewellMessage     string `gorm:"type:text"`
	FarewellDeleteAfter int    `gorm:"not null"`
	UpdatedAt           time.Time
}

const (
	DefaultWelcomeMessage  = "Welcome {mention} to {chat_title}!"
	DefaultFarewellMessage = "Goodbye {first_name}!"
)

// DefaultWelcomeConfig returns the templates used until an admin sets their own.
func DefaultWelcomeConfig(groupID int64) *WelcomeConfig {
	return &WelcomeConfig{
		GroupID:             groupID,
		WelcomeEnabled:      true,
		WelcomeMessage:      DefaultWelcomeMessage,
		FarewellEnabled:     false,
		FarewellMessage:     DefaultFarewellMessage,
		FarewellDeleteAfter: 30,
	}
}
