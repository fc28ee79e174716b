// Package admin is the request/response surface group administrators use to
// read and change moderation state: settings, roles, keywords, global bans
// and welcome templates. Every call checks the actor's rights first.
package admin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"tg-guardian/internal/behavior"
	"tg-guardian/internal/filter"
	"tg-guardian/internal/gateway"
	"tg-guardian/internal/gban"
	"tg-guardian/internal/logger"
	"tg-guardian/internal/models"
	"tg-guardian/internal/permission"
	"tg-guardian/internal/service"
	"tg-guardian/internal/verification"
	"tg-guardian/internal/welcome"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("not allowed")
)

// Toggle names accepted by SetToggle.
const (
	ToggleAntiFlood     = "anti_flood"
	ToggleTextFilter    = "text_filter"
	ToggleMediaFilter   = "media_filter"
	ToggleEditMonitor   = "edit_monitor"
	ToggleAutoDelete    = "auto_delete"
	ToggleVerification  = "verification"
	ToggleNotifications = "notifications"
)

var toggles = map[string]func(*models.GroupSettings, bool){
	ToggleAntiFlood:     func(g *models.GroupSettings, on bool) { g.AntiFlood = on },
	ToggleTextFilter:    func(g *models.GroupSettings, on bool) { g.TextFilter = on },
	ToggleMediaFilter:   func(g *models.GroupSettings, on bool) { g.MediaFilter = on },
	ToggleEditMonitor:   func(g *models.GroupSettings, on bool) { g.EditMonitor = on },
	ToggleAutoDelete:    func(g *models.GroupSettings, on bool) { g.AutoDelete = on },
	ToggleVerification:  func(g *models.GroupSettings, on bool) { g.VerificationEnabled = on },
	ToggleNotifications: func(g *models.GroupSettings, on bool) { g.EnableNotification = on },
}

// Toggles lists the toggle names in a stable order.
func Toggles() []string {
	names := make([]string, 0, len(toggles))
	for name := range toggles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToggleValue reads a named toggle from settings.
func ToggleValue(g models.GroupSettings, name string) bool {
	switch name {
	case ToggleAntiFlood:
		return g.AntiFlood
	case ToggleTextFilter:
		return g.TextFilter
	case ToggleMediaFilter:
		return g.MediaFilter
	case ToggleEditMonitor:
		return g.EditMonitor
	case ToggleAutoDelete:
		return g.AutoDelete
	case ToggleVerification:
		return g.VerificationEnabled
	case ToggleNotifications:
		return g.EnableNotification
	}
	return false
}

type Deps struct {
	Gateway  gateway.Gateway
	Settings *service.GroupService
	Roles    *permission.Authority
	Tracker  *behavior.Tracker
	Filter   *filter.Filter
	Bans     *gban.Registry
	Welcome  *welcome.Service
	Audit    *service.AuditLog
}

type Service struct {
	deps        Deps
	maxWarnings int
	now         func() time.Time
}

func New(deps Deps, maxWarnings int) *Service {
	if maxWarnings <= 0 {
		maxWarnings = 3
	}
	return &Service{deps: deps, maxWarnings: maxWarnings, now: time.Now}
}

func (s *Service) require(ctx context.Context, groupID, actor int64, p permission.Permission) error {
	if !s.deps.Roles.HasPermission(ctx, groupID, actor, p) {
		return fmt.Errorf("%w: %s required", ErrForbidden, p)
	}
	return nil
}

// requireOver also checks that actor outranks target.
func (s *Service) requireOver(ctx context.Context, groupID, actor, target int64, p permission.Permission) error {
	if err := s.require(ctx, groupID, actor, p); err != nil {
		return err
	}
	if !s.deps.Roles.CanModify(ctx, groupID, actor, target) {
		return permission.ErrCannotModify
	}
	return nil
}

func (s *Service) audit(ctx context.Context, e service.AuditEntry) {
	if s.deps.Audit != nil {
		s.deps.Audit.Record(ctx, e)
	}
}

// Settings returns a group's settings.
func (s *Service) Settings(ctx context.Context, groupID int64) models.GroupSettings {
	return s.deps.Settings.Settings(ctx, groupID)
}

func (s *Service) updateSettings(ctx context.Context, groupID, actor int64, fn func(*models.GroupSettings)) (models.GroupSettings, error) {
	if err := s.require(ctx, groupID, actor, permission.ManageSettings); err != nil {
		return models.GroupSettings{}, err
	}
	return s.deps.Settings.Update(ctx, groupID, fn)
}

// SetToggle switches a named feature on or off.
func (s *Service) SetToggle(ctx context.Context, groupID, actor int64, name string, on bool) (models.GroupSettings, error) {
	apply, ok := toggles[strings.ToLower(name)]
	if !ok {
		return models.GroupSettings{}, fmt.Errorf("%w: unknown setting %q", ErrInvalidInput, name)
	}
	return s.updateSettings(ctx, groupID, actor, func(g *models.GroupSettings) { apply(g, on) })
}

func (s *Service) SetFloodThreshold(ctx context.Context, groupID, actor int64, n int) (models.GroupSettings, error) {
	if n < 1 {
		return models.GroupSettings{}, fmt.Errorf("%w: flood threshold must be positive", ErrInvalidInput)
	}
	return s.updateSettings(ctx, groupID, actor, func(g *models.GroupSettings) { g.FloodThreshold = n })
}

func (s *Service) SetCaptchaKind(ctx context.Context, groupID, actor int64, kind string) (models.GroupSettings, error) {
	k, err := verification.ParseKind(kind)
	if err != nil {
		return models.GroupSettings{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.updateSettings(ctx, groupID, actor, func(g *models.GroupSettings) { g.CaptchaKind = string(k) })
}

func (s *Service) SetLanguage(ctx context.Context, groupID, actor int64, lang string) (models.GroupSettings, error) {
	if _, ok := models.Translations[lang]; !ok {
		return models.GroupSettings{}, fmt.Errorf("%w: unsupported language %q", ErrInvalidInput, lang)
	}
	return s.updateSettings(ctx, groupID, actor, func(g *models.GroupSettings) { g.Language = lang })
}

// SetLocked locks or unlocks the group; while locked only admins can post.
func (s *Service) SetLocked(ctx context.Context, groupID, actor int64, locked bool) error {
	if _, err := s.updateSettings(ctx, groupID, actor, func(g *models.GroupSettings) { g.Locked = locked }); err != nil {
		return err
	}
	action := service.ActionUnlock
	if locked {
		action = service.ActionLock
	}
	s.audit(ctx, service.AuditEntry{GroupID: groupID, ActorID: actor, Action: action})
	return nil
}

// WarnResult is the warning count after Warn; Banned is set when the
// warning hit the limit.
type WarnResult struct {
	Count  int
	Max    int
	Banned bool
}

func (s *Service) Warn(ctx context.Context, groupID, actor, target int64, reason string) (WarnResult, error) {
	if err := s.requireOver(ctx, groupID, actor, target, permission.WarnUsers); err != nil {
		return WarnResult{}, err
	}
	count := s.deps.Tracker.Warn(target)
	s.audit(ctx, service.AuditEntry{GroupID: groupID, UserID: target, ActorID: actor, Action: service.ActionWarn, Reason: reason})
	res := WarnResult{Count: count, Max: s.maxWarnings}
	if count >= s.maxWarnings {
		s.deps.Tracker.ResetWarnings(target)
		if err := s.deps.Gateway.BanMember(ctx, groupID, target); !gateway.Ignorable(err) {
			return res, fmt.Errorf("ban user %d: %w", target, err)
		}
		s.audit(ctx, service.AuditEntry{GroupID: groupID, UserID: target, ActorID: actor, Action: service.ActionBan, Reason: "warning limit reached"})
		res.Banned = true
	}
	return res, nil
}

func (s *Service) ClearWarnings(ctx context.Context, groupID, actor, target int64) error {
	if err := s.requireOver(ctx, groupID, actor, target, permission.WarnUsers); err != nil {
		return err
	}
	s.deps.Tracker.ResetWarnings(target)
	s.audit(ctx, service.AuditEntry{GroupID: groupID, UserID: target, ActorID: actor, Action: service.ActionUnwarn})
	return nil
}

// Mute silences target for the parsed duration. The role change is checked
// and saved before the platform restriction is applied.
func (s *Service) Mute(ctx context.Context, groupID, actor, target int64, duration, reason string) (time.Duration, error) {
	d, err := ParseDuration(duration)
	if err != nil {
		return 0, err
	}
	if err := s.require(ctx, groupID, actor, permission.MuteUsers); err != nil {
		return 0, err
	}
	if err := s.deps.Roles.Mute(ctx, groupID, target, actor, reason, d); err != nil {
		return 0, err
	}
	if err := s.deps.Gateway.RestrictMember(ctx, groupID, target, gateway.NoPermissions, s.now().Add(d)); !gateway.Ignorable(err) {
		logger.Warningf("Failed to restrict user %d in chat %d: %v", target, groupID, err)
	}
	s.audit(ctx, service.AuditEntry{GroupID: groupID, UserID: target, ActorID: actor, Action: service.ActionMute, Reason: reason})
	return d, nil
}

func (s *Service) Unmute(ctx context.Context, groupID, actor, target int64) error {
	if err := s.require(ctx, groupID, actor, permission.MuteUsers); err != nil {
		return err
	}
	if err := s.deps.Roles.Unmute(ctx, groupID, target, actor); err != nil {
		return err
	}
	if err := s.deps.Gateway.RestrictMember(ctx, groupID, target, gateway.SendPermissions, time.Time{}); !gateway.Ignorable(err) {
		logger.Warningf("Failed to lift restriction of user %d in chat %d: %v", target, groupID, err)
	}
	s.audit(ctx, service.AuditEntry{GroupID: groupID, UserID: target, ActorID: actor, Action: service.ActionUnmute})
	return nil
}

func (s *Service) Promote(ctx context.Context, groupID, actor, target int64) error {
	if err := s.require(ctx, groupID, actor, permission.PromoteUsers); err != nil {
		return err
	}
	if err := s.deps.Roles.Promote(ctx, groupID, target, actor, "promoted by admin"); err != nil {
		return err
	}
	s.audit(ctx, service.AuditEntry{GroupID: groupID, UserID: target, ActorID: actor, Action: service.ActionPromote})
	return nil
}

func (s *Service) Demote(ctx context.Context, groupID, actor, target int64) error {
	if err := s.require(ctx, groupID, actor, permission.PromoteUsers); err != nil {
		return err
	}
	if err := s.deps.Roles.Demote(ctx, groupID, target, actor, "demoted by admin"); err != nil {
		return err
	}
	s.audit(ctx, service.AuditEntry{GroupID: groupID, UserID: target, ActorID: actor, Action: service.ActionDemote})
	return nil
}

// RoleInfo describes target's role and effective permissions.
func (s *Service) RoleInfo(ctx context.Context, groupID, target int64) permission.Info {
	return s.deps.Roles.RoleInfo(ctx, groupID, target)
}

func parseOverride(roleName, permName string) (permission.Role, permission.Permission, error) {
	role, err := permission.ParseRole(roleName)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	p := permission.Permission(strings.ToLower(strings.TrimSpace(permName)))
	if !permission.Known(p) {
		return 0, "", fmt.Errorf("%w: unknown permission %q", ErrInvalidInput, permName)
	}
	return role, p, nil
}

// SetOverride grants or revokes a permission for a role in one group.
func (s *Service) SetOverride(ctx context.Context, groupID, actor int64, roleName, permName string, granted bool) error {
	role, p, err := parseOverride(roleName, permName)
	if err != nil {
		return err
	}
	if err := s.require(ctx, groupID, actor, permission.ManageRoles); err != nil {
		return err
	}
	return s.deps.Roles.SetOverride(ctx, groupID, role, p, granted, actor)
}

func (s *Service) ClearOverride(ctx context.Context, groupID, actor int64, roleName, permName string) error {
	role, p, err := parseOverride(roleName, permName)
	if err != nil {
		return err
	}
	if err := s.require(ctx, groupID, actor, permission.ManageRoles); err != nil {
		return err
	}
	return s.deps.Roles.ClearOverride(ctx, groupID, role, p)
}

func (s *Service) Overrides(groupID int64) []permission.Override {
	return s.deps.Roles.Overrides(groupID)
}

// keywordScope checks the actor may edit keywords of groupID; the global
// list is reserved to global ban admins.
func (s *Service) keywordScope(ctx context.Context, groupID, actor int64) error {
	if groupID == filter.Global {
		if !s.deps.Bans.IsAdmin(actor) {
			return fmt.Errorf("%w: global keywords are managed by global ban admins", ErrForbidden)
		}
		return nil
	}
	return s.require(ctx, groupID, actor, permission.ManageFilters)
}

func (s *Service) AddKeyword(ctx context.Context, groupID, actor int64, category, word string) (bool, error) {
	if strings.TrimSpace(category) == "" || strings.TrimSpace(word) == "" {
		return false, fmt.Errorf("%w: category and keyword are required", ErrInvalidInput)
	}
	if err := s.keywordScope(ctx, groupID, actor); err != nil {
		return false, err
	}
	return s.deps.Filter.AddKeyword(ctx, groupID, category, word)
}

func (s *Service) RemoveKeyword(ctx context.Context, groupID, actor int64, category, word string) (bool, error) {
	if err := s.keywordScope(ctx, groupID, actor); err != nil {
		return false, err
	}
	return s.deps.Filter.RemoveKeyword(ctx, groupID, category, word)
}

// Keywords returns the group's own keyword categories.
func (s *Service) Keywords(groupID int64) map[string][]string {
	return s.deps.Filter.Snapshot(groupID)
}

// GBan bans target globally. duration may be empty for a permanent ban.
func (s *Service) GBan(ctx context.Context, actor, target int64, reason, duration, evidence string) (gban.Report, error) {
	var d time.Duration
	if strings.TrimSpace(duration) != "" {
		parsed, err := ParseDuration(duration)
		if err != nil {
			return gban.Report{}, err
		}
		d = parsed
	}
	if strings.TrimSpace(reason) == "" {
		reason = "No reason provided"
	}
	report, err := s.deps.Bans.Ban(ctx, gban.BanRequest{UserID: target, Reason: reason, Actor: actor, Evidence: evidence, Duration: d})
	if err != nil {
		return report, err
	}
	s.audit(ctx, service.AuditEntry{UserID: target, ActorID: actor, Action: service.ActionGBan, Reason: reason})
	return report, nil
}

func (s *Service) UnGBan(ctx context.Context, actor, target int64) error {
	if err := s.deps.Bans.Unban(ctx, target, actor); err != nil {
		return err
	}
	s.audit(ctx, service.AuditEntry{UserID: target, ActorID: actor, Action: service.ActionUnGBan})
	return nil
}

func (s *Service) GBanStats() gban.Stats {
	return s.deps.Bans.Stats()
}

func (s *Service) SearchGBans(query string) []gban.Entry {
	return s.deps.Bans.Search(query)
}

// AddGBanAdmin and RemoveGBanAdmin are reserved to existing admins.
func (s *Service) AddGBanAdmin(ctx context.Context, actor, target int64) error {
	if !s.deps.Bans.IsAdmin(actor) {
		return gban.ErrNotAuthorized
	}
	return s.deps.Bans.AddAdmin(ctx, target, actor)
}

func (s *Service) RemoveGBanAdmin(ctx context.Context, actor, target int64) error {
	if !s.deps.Bans.IsAdmin(actor) {
		return gban.ErrNotAuthorized
	}
	return s.deps.Bans.RemoveAdmin(ctx, target)
}

// SetSubscribed makes a group enforce the global ban list or stop doing so.
func (s *Service) SetSubscribed(ctx context.Context, groupID, actor int64, on bool) error {
	if err := s.require(ctx, groupID, actor, permission.ManageSettings); err != nil {
		return err
	}
	if on {
		return s.deps.Bans.Subscribe(ctx, groupID, actor)
	}
	return s.deps.Bans.Unsubscribe(ctx, groupID)
}

func (s *Service) WelcomeConfig(ctx context.Context, groupID int64) models.WelcomeConfig {
	return s.deps.Welcome.Get(ctx, groupID)
}

func (s *Service) updateWelcome(ctx context.Context, groupID, actor int64, fn func(*models.WelcomeConfig)) (models.WelcomeConfig, error) {
	if err := s.require(ctx, groupID, actor, permission.ManageSettings); err != nil {
		return models.WelcomeConfig{}, err
	}
	return s.deps.Welcome.Update(ctx, groupID, fn)
}

// SetWelcome replaces the welcome template and enables greetings.
func (s *Service) SetWelcome(ctx context.Context, groupID, actor int64, template string) (models.WelcomeConfig, error) {
	if strings.TrimSpace(template) == "" {
		return models.WelcomeConfig{}, fmt.Errorf("%w: welcome message is empty", ErrInvalidInput)
	}
	return s.updateWelcome(ctx, groupID, actor, func(c *models.WelcomeConfig) {
		c.WelcomeMessage = template
		c.WelcomeEnabled = true
	})
}

func (s *Service) SetFarewell(ctx context.Context, groupID, actor int64, template string) (models.WelcomeConfig, error) {
	if strings.TrimSpace(template) == "" {
		return models.WelcomeConfig{}, fmt.Errorf("%w: farewell message is empty", ErrInvalidInput)
	}
	return s.updateWelcome(ctx, groupID, actor, func(c *models.WelcomeConfig) {
		c.FarewellMessage = template
		c.FarewellEnabled = true
	})
}

func (s *Service) SetGreetings(ctx context.Context, groupID, actor int64, welcomeOn, farewellOn bool) (models.WelcomeConfig, error) {
	return s.updateWelcome(ctx, groupID, actor, func(c *models.WelcomeConfig) {
		c.WelcomeEnabled = welcomeOn
		c.FarewellEnabled = farewellOn
	})
}

// SetWelcomeDeleteAfter sets how long greetings stay up; 0 keeps them.
func (s *Service) SetWelcomeDeleteAfter(ctx context.Context, groupID, actor int64, duration string) (models.WelcomeConfig, error) {
	secs := 0
	if strings.TrimSpace(duration) != "0" {
		d, err := ParseDuration(duration)
		if err != nil {
			return models.WelcomeConfig{}, err
		}
		secs = int(d / time.Second)
	}
	return s.updateWelcome(ctx, groupID, actor, func(c *models.WelcomeConfig) { c.WelcomeDeleteAfter = secs })
}
