// Package welcome greets members joining a group and says goodbye to those
// leaving, using per-group templates.
package welcome

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	"tg-guardian/internal/gateway"
	"tg-guardian/internal/logger"
	"tg-guardian/internal/models"
)

type Store interface {
	// LoadWelcome returns nil when the group has no saved templates.
	LoadWelcome(ctx context.Context, groupID int64) (*models.WelcomeConfig, error)
	SaveWelcome(ctx context.Context, cfg *models.WelcomeConfig) error
}

type Sweeper interface {
	DeleteAfter(ctx context.Context, chatID int64, messageID int, delay time.Duration)
}

// Service caches the templates of every group it has seen.
type Service struct {
	gw      gateway.Gateway
	store   Store
	sweeper Sweeper

	mu    sync.Mutex
	cache map[int64]models.WelcomeConfig
}

// New builds a Service; store and sweeper may be nil.
func New(gw gateway.Gateway, store Store, sweeper Sweeper) *Service {
	return &Service{gw: gw, store: store, sweeper: sweeper, cache: make(map[int64]models.WelcomeConfig)}
}

// Render fills the placeholders {mention}, {first_name}, {last_name},
// {username}, {user_id} and {chat_title}. The template itself is escaped
// so the result is safe to send as HTML.
func Render(template string, user gateway.User, chatTitle string) string {
	firstName := user.FirstName
	if firstName == "" {
		firstName = "User"
	}
	username := ""
	if user.Username != "" {
		username = "@" + user.Username
	}
	r := strings.NewReplacer(
		"{mention}", user.Mention(),
		"{first_name}", html.EscapeString(firstName),
		"{last_name}", html.EscapeString(user.LastName),
		"{username}", html.EscapeString(username),
		"{user_id}", strconv.FormatInt(user.ID, 10),
		"{chat_title}", html.EscapeString(chatTitle),
	)
	return r.Replace(html.EscapeString(template))
}

// Get returns the group's templates, falling back to the defaults when none
// are stored or the store fails.
func (s *Service) Get(ctx context.Context, groupID int64) models.WelcomeConfig {
	s.mu.Lock()
	cfg, ok := s.cache[groupID]
	s.mu.Unlock()
	if ok {
		return cfg
	}

	cfg = *models.DefaultWelcomeConfig(groupID)
	if s.store != nil {
		stored, err := s.store.LoadWelcome(ctx, groupID)
		if err != nil {
			logger.Warningf("Failed to load welcome config of chat %d: %v", groupID, err)
			return cfg
		}
		if stored != nil {
			cfg = *stored
		}
	}
	s.mu.Lock()
	s.cache[groupID] = cfg
	s.mu.Unlock()
	return cfg
}

// Update applies fn to the group's templates and saves the result.
func (s *Service) Update(ctx context.Context, groupID int64, fn func(*models.WelcomeConfig)) (models.WelcomeConfig, error) {
	cfg := s.Get(ctx, groupID)
	fn(&cfg)
	cfg.GroupID = groupID
	if s.store != nil {
		if err := s.store.SaveWelcome(ctx, &cfg); err != nil {
			return models.WelcomeConfig{}, fmt.Errorf("save welcome config of chat %d: %w", groupID, err)
		}
	}
	s.mu.Lock()
	s.cache[groupID] = cfg
	s.mu.Unlock()
	logger.Infof("Welcome config updated for chat %d", groupID)
	return cfg, nil
}

// Greet posts the welcome message for user; it returns 0 when greetings are
// disabled.
func (s *Service) Greet(ctx context.Context, groupID int64, chatTitle string, user gateway.User) (int, error) {
	cfg := s.Get(ctx, groupID)
	if !cfg.WelcomeEnabled || cfg.WelcomeMessage == "" {
		return 0, nil
	}
	return s.post(ctx, groupID, Render(cfg.WelcomeMessage, user, chatTitle), cfg.WelcomeDeleteAfter)
}

// Farewell posts the goodbye message for user; it returns 0 when farewells
// are disabled.
func (s *Service) Farewell(ctx context.Context, groupID int64, chatTitle string, user gateway.User) (int, error) {
	cfg := s.Get(ctx, groupID)
	if !cfg.FarewellEnabled || cfg.FarewellMessage == "" {
		return 0, nil
	}
	return s.post(ctx, groupID, Render(cfg.FarewellMessage, user, chatTitle), cfg.FarewellDeleteAfter)
}

func (s *Service) post(ctx context.Context, groupID int64, text string, deleteAfter int) (int, error) {
	msgID, err := s.gw.SendMessage(ctx, gateway.Message{ChatID: groupID, Text: text, HTML: true})
	if err != nil {
		return 0, fmt.Errorf("send to chat %d: %w", groupID, err)
	}
	if deleteAfter > 0 && s.sweeper != nil {
		s.sweeper.DeleteAfter(ctx, groupID, msgID, time.Duration(deleteAfter)*time.Second)
	}
	return msgID, nil
}
