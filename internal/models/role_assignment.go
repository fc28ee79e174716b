package models

import "time"

// RoleAssignment is an explicit role override for a member of a group.
// A nil ExpiresAt means the assignment is permanent.
type RoleAssignment struct {
	GroupID    int64 `gorm:"primaryKey;autoIncrement:false"`
	UserID     int64 `gorm:"primaryKey;autoIncrement:false"`
	Role       int   `gorm:"not null"`
	AssignedBy int64
	AssignedAt time.Time
	ExpiresAt  *time.Time `gorm:"index"`
	Reason     string     `gorm:"type:text"`
}

// PermissionOverride flips the default grant of a permission for one role
// in one group.
type PermissionOverride struct {
	GroupID    int64  `gorm:"primaryKey;autoIncrement:false"`
	Role       int    `gorm:"primaryKey;autoIncrement:false"`
	Permission string `gorm:"primaryKey;size:64"`
	Granted    bool
	UpdatedBy  int64
	UpdatedAt  time.Time
}
