package models

import "time"

// PendingMessage is a bot message scheduled for deletion, kept so the
// deletion survives a restart.
type PendingMessage struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time

	ChatID    int64     `gorm:"index:idx_chat_message,unique"`
	MessageID int       `gorm:"index:idx_chat_message,unique"`
	DeleteAt  time.Time `gorm:"index"`
	Kind      string    `gorm:"size:32"`
}
