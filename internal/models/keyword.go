package models

import "time"

// KeywordEntry is one filtered keyword. GroupID 0 is the global list.
type KeywordEntry struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	GroupID   int64  `gorm:"uniqueIndex:idx_group_category_keyword"`
	Category  string `gorm:"size:64;uniqueIndex:idx_group_category_keyword"`
	Keyword   string `gorm:"size:191;uniqueIndex:idx_group_category_keyword"`
	CreatedAt time.Time
}
