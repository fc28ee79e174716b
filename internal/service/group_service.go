package service

import (
	"context"
	"fmt"

	"tg-guardian/internal/config"
	"tg-guardian/internal/logger"
	"tg-guardian/internal/models"
)

// SettingsStore persists group settings.
type SettingsStore interface {
	Get(ctx context.Context, groupID int64) (*models.GroupSettings, error)
	Save(ctx context.Context, s *models.GroupSettings) error
	All(ctx context.Context) ([]*models.GroupSettings, error)
}

// GroupService serves group settings from memory, falling back to the
// store and finally to defaults for groups seen for the first time.
type GroupService struct {
	cache *models.GroupSettingsManager
	store SettingsStore
	cfg   *config.Config
}

// NewGroupService builds a GroupService; store may be nil.
func NewGroupService(store SettingsStore, cfg *config.Config) *GroupService {
	return &GroupService{cache: models.NewGroupSettingsManager(), store: store, cfg: cfg}
}

// Load fills the cache from the store.
func (s *GroupService) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	groups, err := s.store.All(ctx)
	if err != nil {
		return fmt.Errorf("load group settings: %w", err)
	}
	for _, g := range groups {
		s.cache.Put(*g)
	}
	logger.Infof("Loaded %d groups from database into cache", len(groups))
	return nil
}

func (s *GroupService) defaults(groupID int64) *models.GroupSettings {
	g := models.DefaultGroupSettings(groupID)
	if s.cfg != nil {
		g.FloodThreshold = s.cfg.Moderation.FloodThreshold
		g.VerificationEnabled = s.cfg.Verification.Enabled
		g.CaptchaKind = s.cfg.Verification.Kind
	}
	return g
}

// Settings returns the settings of a group, creating and saving defaults
// when the group is new.
func (s *GroupService) Settings(ctx context.Context, groupID int64) models.GroupSettings {
	if g, ok := s.cache.Get(groupID); ok {
		return g
	}

	if s.store != nil {
		stored, err := s.store.Get(ctx, groupID)
		if err != nil {
			logger.Warningf("Error fetching settings of group %d from database: %v", groupID, err)
			return *s.defaults(groupID)
		}
		if stored != nil {
			s.cache.Put(*stored)
			return *stored
		}
	}

	logger.Infof("Creating default settings for group %d", groupID)
	g := s.defaults(groupID)
	s.cache.Put(*g)
	if s.store != nil {
		if err := s.store.Save(ctx, g); err != nil {
			logger.Warningf("Error saving settings of group %d: %v", groupID, err)
		}
	}
	return *g
}

// Update applies fn to a group's settings. The change is saved before it is
// cached; when saving fails the cached settings stay as they were.
func (s *GroupService) Update(ctx context.Context, groupID int64, fn func(*models.GroupSettings)) (models.GroupSettings, error) {
	g := s.Settings(ctx, groupID)
	fn(&g)
	g.GroupID = groupID
	if s.store != nil {
		if err := s.store.Save(ctx, &g); err != nil {
			return models.GroupSettings{}, fmt.Errorf("save settings of group %d: %w", groupID, err)
		}
	}
	s.cache.Put(g)
	return g, nil
}

// Touch records the group's current title and public link when they changed.
func (s *GroupService) Touch(ctx context.Context, groupID int64, title, username string) {
	g := s.Settings(ctx, groupID)
	link := GroupLink(groupID, username)
	if g.GroupName == title && g.GroupLink == link {
		return
	}
	if _, err := s.Update(ctx, groupID, func(g *models.GroupSettings) {
		g.GroupName = title
		g.GroupLink = link
	}); err != nil {
		logger.Warningf("Error updating name of group %d: %v", groupID, err)
	}
}

// GroupLink builds a t.me link for a chat: the public username when it has
// one, otherwise the internal link of a supergroup.
func GroupLink(chatID int64, username string) string {
	if username != "" {
		return fmt.Sprintf("https://t.me/%s", username)
	}
	id := chatID
	if id < -1000000000000 {
		// supergroup IDs carry a -100 prefix that t.me/c links omit
		id = -id - 1000000000000
	}
	return fmt.Sprintf("https://t.me/c/%d", id)
}

// Language returns the group's language, or English for unknown groups.
func (s *GroupService) Language(groupID int64) string {
	if g, ok := s.cache.Get(groupID); ok && g.Language != "" {
		return g.Language
	}
	return models.LangEnglish
}

// T translates key into the group's language.
func (s *GroupService) T(groupID int64, key string, args ...any) string {
	return models.Translate(s.Language(groupID), key, args...)
}

// GroupIDs lists every group with cached settings.
func (s *GroupService) GroupIDs() []int64 {
	return s.cache.GroupIDs()
}
