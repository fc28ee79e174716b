package models

import (
	"fmt"
	"html"
	"sync"
	"time"
)

// GroupSettings holds the per-group toggles and thresholds the moderation
// pipeline reads on every event.
type GroupSettings struct {
	GroupID             int64  `gorm:"primaryKey;autoIncrement:false"`
	GroupName           string `gorm:"size:255"`
	GroupLink           string `gorm:"size:255"`
	Language            string `gorm:"size:8;default:'en'"`
	FloodThreshold      int    `gorm:"not null"`
	AntiFlood           bool   `gorm:"not null"`
	TextFilter          bool   `gorm:"not null"`
	MediaFilter         bool   `gorm:"not null"`
	EditMonitor         bool   `gorm:"not null"`
	AutoDelete          bool   `gorm:"not null"`
	VerificationEnabled bool   `gorm:"not null"`
	CaptchaKind         string `gorm:"size:16;default:'button'"`
	Locked              bool   `gorm:"not null"`
	EnableNotification  bool   `gorm:"not null"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// DefaultGroupSettings returns the settings a group gets when first seen.
func DefaultGroupSettings(groupID int64) *GroupSettings {
	return &GroupSettings{
		GroupID:             groupID,
		Language:            LangEnglish,
		FloodThreshold:      5,
		AntiFlood:           true,
		TextFilter:          true,
		MediaFilter:         true,
		EditMonitor:         true,
		AutoDelete:          true,
		VerificationEnabled: true,
		CaptchaKind:         "button",
		EnableNotification:  true,
	}
}

func (g *GroupSettings) GetLinkedGroupName() string {
	if g.GroupLink == "" {
		return html.EscapeString(g.GroupName)
	}
	return fmt.Sprintf("<a href=\"%s\">%s</a>", g.GroupLink, html.EscapeString(g.GroupName))
}

// GroupSettingsManager caches settings by group ID.
type GroupSettingsManager struct {
	mu       sync.RWMutex
	settings map[int64]*GroupSettings
}

func NewGroupSettingsManager() *GroupSettingsManager {
	return &GroupSettingsManager{settings: make(map[int64]*GroupSettings)}
}

// Get returns a copy so callers cannot mutate the cached entry.
func (m *GroupSettingsManager) Get(groupID int64) (GroupSettings, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[groupID]
	if !ok {
		return GroupSettings{}, false
	}
	return *s, true
}

func (m *GroupSettingsManager) Put(s GroupSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[s.GroupID] = &s
}

func (m *GroupSettingsManager) Remove(groupID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.settings, groupID)
}

// GroupIDs lists cached groups.
func (m *GroupSettingsManager) GroupIDs() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int64, 0, len(m.settings))
	for id := range m.settings {
		ids = append(ids, id)
	}
	return ids
}
