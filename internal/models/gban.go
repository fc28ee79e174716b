package models

import "time"

// GBanEntry is a ban that applies in every subscribed group.
type GBanEntry struct {
	UserID           int64      `gorm:"primaryKey;autoIncrement:false"`
	Username         string     `gorm:"size:64"`
	DisplayName      string     `gorm:"size:255"`
	Reason           string     `gorm:"type:text"`
	BannedBy         int64      `gorm:"index"`
	BannedByUsername string     `gorm:"size:64"`
	Evidence         string     `gorm:"type:text"`
	IsPermanent      bool       `gorm:"not null"`
	ExpiresAt        *time.Time `gorm:"index"`
	CreatedAt        time.Time
}

// GBanAdmin may issue and lift global bans.
type GBanAdmin struct {
	UserID    int64 `gorm:"primaryKey;autoIncrement:false"`
	AddedBy   int64
	CreatedAt time.Time
}

// GBanSubscription marks a group as enforcing the global ban list.
type GBanSubscription struct {
	GroupID      int64 `gorm:"primaryKey;autoIncrement:false"`
	SubscribedBy int64
	CreatedAt    time.Time
}
