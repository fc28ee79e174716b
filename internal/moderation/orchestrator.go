// Package moderation turns inbound chat events into at most one terminal
// moderation action, consulting the permission, ban, behavior and filter
// components in a fixed order.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"tg-guardian/internal/behavior"
	"tg-guardian/internal/filter"
	"tg-guardian/internal/gateway"
	"tg-guardian/internal/gban"
	"tg-guardian/internal/logger"
	"tg-guardian/internal/models"
	"tg-guardian/internal/permission"
	"tg-guardian/internal/service"
	"tg-guardian/internal/verification"
)

type Roles interface {
	ResolveRole(ctx context.Context, groupID, userID int64) permission.Role
	HasPermission(ctx context.Context, groupID, userID int64, p permission.Permission) bool
	Mute(ctx context.Context, groupID, userID, actor int64, reason string, duration time.Duration) error
	Invalidate(groupID, userID int64)
}

type Scorer interface {
	Analyze(msg behavior.Message) behavior.Detection
	MarkJoined(u gateway.User, at time.Time)
	HasIdentity(userID int64) bool
	SetIdentity(u gateway.User)
	Warn(userID int64) int
	ResetWarnings(userID int64)
}

type Verifier interface {
	Start(ctx context.Context, groupID int64, user gateway.User, kind verification.Kind) (verification.Session, error)
	SubmitAnswer(ctx context.Context, userID int64, answer string) verification.Result
	Session(userID int64) (verification.Session, bool)
	Cancel(ctx context.Context, groupID, userID int64) bool
}

type Bans interface {
	Check(ctx context.Context, userID int64) (gban.Entry, bool)
	Enforce(ctx context.Context, groupID int64, user gateway.User, e gban.Entry) bool
	OnMemberJoin(ctx context.Context, groupID int64, user gateway.User) bool
}

type ContentFilter interface {
	Check(groupID int64, text string) filter.Result
}

type Greeter interface {
	Greet(ctx context.Context, groupID int64, chatTitle string, user gateway.User) (int, error)
	Farewell(ctx context.Context, groupID int64, chatTitle string, user gateway.User) (int, error)
}

type Settings interface {
	Settings(ctx context.Context, groupID int64) models.GroupSettings
	T(groupID int64, key string, args ...any) string
}

type Auditor interface {
	Record(ctx context.Context, e service.AuditEntry) string
}

type Sweeper interface {
	DeleteAfter(ctx context.Context, chatID int64, messageID int, delay time.Duration)
}

// Components are the collaborators the orchestrator consults.
type Components struct {
	Roles    Roles
	Tracker  Scorer
	Verifier Verifier
	Bans     Bans
	Filter   ContentFilter
	Welcome  Greeter
	Settings Settings
	Audit    Auditor
	Sweeper  Sweeper
}

type Config struct {
	MaxWarnings     int
	MuteDuration    time.Duration
	NoticeTTL       time.Duration
	EditTrackerSize int
	EditTrackerTTL  time.Duration
	Now             func() time.Time
}

func (c *Config) setDefaults() {
	if c.MaxWarnings <= 0 {
		c.MaxWarnings = 3
	}
	if c.MuteDuration <= 0 {
		c.MuteDuration = time.Hour
	}
	if c.NoticeTTL <= 0 {
		c.NoticeTTL = 30 * time.Second
	}
	if c.EditTrackerSize <= 0 {
		c.EditTrackerSize = 1000
	}
	if c.EditTrackerTTL <= 0 {
		c.EditTrackerTTL = 24 * time.Hour
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

type messageKey struct {
	groupID   int64
	messageID int
}

type trackedMessage struct {
	userID int64
	text   string
}

type Orchestrator struct {
	gw  gateway.Gateway
	c   Components
	cfg Config

	edits *expirable.LRU[messageKey, trackedMessage]
}

func New(gw gateway.Gateway, c Components, cfg Config) *Orchestrator {
	cfg.setDefaults()
	return &Orchestrator{
		gw:    gw,
		c:     c,
		cfg:   cfg,
		edits: expirable.NewLRU[messageKey, trackedMessage](cfg.EditTrackerSize, nil, cfg.EditTrackerTTL),
	}
}

func observe(event string, start time.Time, v Verdict) Verdict {
	decisionsTotal.WithLabelValues(event, v.Decision.String()).Inc()
	handleDuration.WithLabelValues(event).Observe(time.Since(start).Seconds())
	return v
}

// HandleMessage runs one group message through lock, global ban, permission,
// spam and content checks; the first check that fires decides the outcome.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg Message) Verdict {
	start := time.Now()
	v := o.handleMessage(ctx, msg)
	return observe("message", start, v)
}

func (o *Orchestrator) handleMessage(ctx context.Context, msg Message) Verdict {
	g, user := msg.GroupID, msg.Sender
	settings := o.c.Settings.Settings(ctx, g)

	if settings.Locked && o.c.Roles.ResolveRole(ctx, g, user.ID).Rank() < permission.RoleAdmin.Rank() {
		o.deleteMessage(ctx, g, msg.MessageID)
		return Verdict{Decision: DecisionLocked}
	}

	if entry, banned := o.c.Bans.Check(ctx, user.ID); banned {
		o.c.Bans.Enforce(ctx, g, user, entry)
		o.deleteMessage(ctx, g, msg.MessageID)
		o.record(ctx, service.AuditEntry{
			GroupID: g, UserID: user.ID, Action: service.ActionGBanEnforce,
			Reason: entry.Reason, OriginalMessage: msg.Text, MessageID: msg.MessageID,
		})
		return Verdict{Decision: DecisionGBanned, Reasons: []string{entry.Reason}}
	}

	if need := msg.Kind.Permission(); !o.c.Roles.HasPermission(ctx, g, user.ID, need) {
		logger.Debugf("User %d lacks %s in chat %d, deleting message %d", user.ID, need, g, msg.MessageID)
		o.deleteMessage(ctx, g, msg.MessageID)
		return Verdict{Decision: DecisionNoPermission}
	}

	if settings.AntiFlood && (msg.Kind == ContentText || settings.MediaFilter) {
		if !o.c.Tracker.HasIdentity(user.ID) {
			o.c.Tracker.SetIdentity(o.identify(ctx, user))
		}
		det := o.c.Tracker.Analyze(behavior.Message{
			GroupID:        g,
			Sender:         user,
			Text:           msg.Text,
			IsMedia:        msg.Kind != ContentText,
			FloodThreshold: settings.FloodThreshold,
		})
		if det.IsSpam {
			action := o.sanction(ctx, settings, msg, det)
			return Verdict{Decision: DecisionSpam, Action: action, Reasons: det.Reasons}
		}
	}

	if settings.TextFilter && msg.Text != "" {
		if res := o.c.Filter.Check(g, msg.Text); res.Flagged {
			o.filtered(ctx, settings, g, msg.MessageID, user, msg.Text, res)
			return Verdict{Decision: DecisionFiltered, Categories: res.Categories}
		}
	}

	if msg.Text != "" {
		o.edits.Add(messageKey{g, msg.MessageID}, trackedMessage{userID: user.ID, text: msg.Text})
	}
	return Verdict{Decision: DecisionAllow}
}

// sanction deletes the message and applies the detection's action.
func (o *Orchestrator) sanction(ctx context.Context, settings models.GroupSettings, msg Message, det behavior.Detection) behavior.Action {
	g, user := msg.GroupID, msg.Sender
	o.deleteMessage(ctx, g, msg.MessageID)
	reason := strings.Join(det.Reasons, ", ")
	logger.Infof("Spam from user %d in chat %d (confidence %.2f, action %s): %s", user.ID, g, det.Confidence, det.Action, reason)

	action := det.Action
	switch action {
	case behavior.ActionBan:
		o.ban(ctx, g, user, reason, msg.Text)
		o.notice(ctx, settings, o.c.Settings.T(g, "spam_banned", user.Mention(), reason))
	case behavior.ActionMute:
		o.mute(ctx, settings, g, user, reason, msg.Text)
	default:
		action = o.warn(ctx, settings, g, user, reason, msg.Text)
	}
	sanctionsTotal.WithLabelValues(action.String()).Inc()
	return action
}

// warn adds a warning and bans the user once they reach MaxWarnings.
func (o *Orchestrator) warn(ctx context.Context, settings models.GroupSettings, g int64, user gateway.User, reason, text string) behavior.Action {
	count := o.c.Tracker.Warn(user.ID)
	o.record(ctx, service.AuditEntry{GroupID: g, UserID: user.ID, Action: service.ActionWarn, Reason: reason, OriginalMessage: text})
	if count >= o.cfg.MaxWarnings {
		o.c.Tracker.ResetWarnings(user.ID)
		o.ban(ctx, g, user, fmt.Sprintf("reached %d warnings", count), text)
		o.notice(ctx, settings, o.c.Settings.T(g, "warnings_exceeded", user.Mention(), o.cfg.MaxWarnings))
		return behavior.ActionBan
	}
	o.notice(ctx, settings, o.c.Settings.T(g, "spam_warning", user.Mention(), reason, count, o.cfg.MaxWarnings))
	return behavior.ActionWarn
}

func (o *Orchestrator) mute(ctx context.Context, settings models.GroupSettings, g int64, user gateway.User, reason, text string) {
	until := o.cfg.Now().Add(o.cfg.MuteDuration)
	if err := o.gw.RestrictMember(ctx, g, user.ID, gateway.NoPermissions, until); !gateway.Ignorable(err) {
		logger.Warningf("Failed to restrict user %d in chat %d: %v", user.ID, g, err)
	}
	if err := o.c.Roles.Mute(ctx, g, user.ID, permission.SystemActor, reason, o.cfg.MuteDuration); err != nil {
		logger.Warningf("Failed to record mute of user %d in chat %d: %v", user.ID, g, err)
	}
	o.record(ctx, service.AuditEntry{GroupID: g, UserID: user.ID, Action: service.ActionMute, Reason: reason, OriginalMessage: text})
	o.notice(ctx, settings, o.c.Settings.T(g, "spam_muted", user.Mention(), FormatDuration(o.cfg.MuteDuration), reason))
}

func (o *Orchestrator) ban(ctx context.Context, g int64, user gateway.User, reason, text string) {
	if err := o.gw.BanMember(ctx, g, user.ID); !gateway.Ignorable(err) {
		logger.Warningf("Failed to ban user %d in chat %d: %v", user.ID, g, err)
	}
	o.record(ctx, service.AuditEntry{GroupID: g, UserID: user.ID, Action: service.ActionBan, Reason: reason, OriginalMessage: text})
}

func (o *Orchestrator) filtered(ctx context.Context, settings models.GroupSettings, g int64, messageID int, user gateway.User, text string, res filter.Result) {
	o.deleteMessage(ctx, g, messageID)
	categories := strings.Join(res.Categories, ", ")
	o.record(ctx, service.AuditEntry{
		GroupID: g, UserID: user.ID, Action: service.ActionFilter,
		Reason: categories, OriginalMessage: text, MessageID: messageID,
	})
	o.notice(ctx, settings, o.c.Settings.T(g, "filter_warning", user.Mention(), categories))
}

// HandleEdit removes edits from non-admins when edit monitoring is on;
// otherwise the edited text goes through the content filter again.
func (o *Orchestrator) HandleEdit(ctx context.Context, e Edit) Verdict {
	start := time.Now()
	v := o.handleEdit(ctx, e)
	return observe("edit", start, v)
}

func (o *Orchestrator) handleEdit(ctx context.Context, e Edit) Verdict {
	g, user := e.GroupID, e.Sender
	settings := o.c.Settings.Settings(ctx, g)
	key := messageKey{g, e.MessageID}
	original, _ := o.edits.Get(key)

	if settings.EditMonitor && o.c.Roles.ResolveRole(ctx, g, user.ID).Rank() < permission.RoleAdmin.Rank() {
		o.deleteMessage(ctx, g, e.MessageID)
		o.edits.Remove(key)
		o.record(ctx, service.AuditEntry{
			GroupID: g, UserID: user.ID, Action: service.ActionEdit, Reason: "edited message",
			OriginalMessage: original.text, EditedMessage: e.Text, MessageID: e.MessageID,
		})
		o.notice(ctx, settings, o.c.Settings.T(g, "edit_removed", user.Mention()))
		return Verdict{Decision: DecisionEditRemoved}
	}

	if settings.TextFilter && e.Text != "" {
		if res := o.c.Filter.Check(g, e.Text); res.Flagged {
			o.edits.Remove(key)
			o.filtered(ctx, settings, g, e.MessageID, user, e.Text, res)
			return Verdict{Decision: DecisionFiltered, Categories: res.Categories}
		}
	}
	if e.Text != "" {
		o.edits.Add(key, trackedMessage{userID: user.ID, text: e.Text})
	}
	return Verdict{Decision: DecisionAllow}
}

// HandleMembership routes joins through the global ban list, then to
// verification or the welcome message; leaves cancel verification and post
// the farewell.
func (o *Orchestrator) HandleMembership(ctx context.Context, ev MembershipEvent) Verdict {
	start := time.Now()
	v := o.handleMembership(ctx, ev)
	return observe("membership_"+ev.Kind.String(), start, v)
}

func (o *Orchestrator) handleMembership(ctx context.Context, ev MembershipEvent) Verdict {
	g, user := ev.GroupID, ev.User
	o.c.Roles.Invalidate(g, user.ID)

	if ev.Kind == Left {
		if o.c.Verifier.Cancel(ctx, g, user.ID) {
			logger.Infof("User %d left chat %d during verification", user.ID, g)
		}
		if _, err := o.c.Welcome.Farewell(ctx, g, ev.ChatTitle, user); err != nil {
			logger.Warningf("Failed to send farewell in chat %d: %v", g, err)
		}
		return Verdict{Decision: DecisionIgnored}
	}

	if o.c.Bans.OnMemberJoin(ctx, g, user) {
		o.record(ctx, service.AuditEntry{GroupID: g, UserID: user.ID, Action: service.ActionGBanEnforce, Reason: "joined while globally banned"})
		return Verdict{Decision: DecisionGBanned}
	}
	if user.IsBot {
		return Verdict{Decision: DecisionIgnored}
	}
	user = o.identify(ctx, user)
	o.c.Tracker.MarkJoined(user, o.cfg.Now())

	settings := o.c.Settings.Settings(ctx, g)
	if settings.VerificationEnabled {
		kind, err := verification.ParseKind(settings.CaptchaKind)
		if err != nil {
			kind = verification.KindButton
		}
		session, err := o.c.Verifier.Start(ctx, g, user, kind)
		switch {
		case err == nil:
			return Verdict{Decision: DecisionVerifying}
		case errors.Is(err, verification.ErrAlreadyPending):
			if session.GroupID == g {
				return Verdict{Decision: DecisionVerifying}
			}
			// one session per user; the pending one in another group decides
			logger.Infof("User %d joined chat %d while verifying in chat %d", user.ID, g, session.GroupID)
		default:
			logger.Errorf("Failed to start verification of user %d in chat %d: %v", user.ID, g, err)
		}
	}

	o.greet(ctx, g, ev.ChatTitle, user)
	return Verdict{Decision: DecisionWelcomed}
}

// identify fills in avatar presence, which updates do not carry. The user is
// returned unchanged when the lookup fails.
func (o *Orchestrator) identify(ctx context.Context, user gateway.User) gateway.User {
	full, err := o.gw.GetUser(ctx, user.ID)
	if err != nil {
		logger.Debugf("Failed to look up user %d: %v", user.ID, err)
		return user
	}
	user.HasAvatar = full.HasAvatar
	return user
}

func (o *Orchestrator) greet(ctx context.Context, g int64, title string, user gateway.User) {
	if _, err := o.c.Welcome.Greet(ctx, g, title, user); err != nil {
		logger.Warningf("Failed to send welcome in chat %d: %v", g, err)
	}
}

// HandleAnswer submits a captcha answer; a verified user is then welcomed.
// An empty chatTitle is filled from the group settings.
func (o *Orchestrator) HandleAnswer(ctx context.Context, userID int64, answer, chatTitle string) verification.Result {
	session, ok := o.c.Verifier.Session(userID)
	res := o.c.Verifier.SubmitAnswer(ctx, userID, answer)
	switch res.Outcome {
	case verification.OutcomeVerified:
		decisionsTotal.WithLabelValues("answer", "verified").Inc()
		if ok {
			if chatTitle == "" {
				chatTitle = o.c.Settings.Settings(ctx, res.GroupID).GroupName
			}
			o.greet(ctx, res.GroupID, chatTitle, session.User)
		}
	case verification.OutcomeFailed:
		decisionsTotal.WithLabelValues("answer", "failed").Inc()
		o.record(ctx, service.AuditEntry{GroupID: res.GroupID, UserID: userID, Action: service.ActionBan, Reason: "failed verification"})
	}
	return res
}

// TrackedText returns the last seen text of a message, if it is tracked.
func (o *Orchestrator) TrackedText(groupID int64, messageID int) (string, bool) {
	m, ok := o.edits.Get(messageKey{groupID, messageID})
	return m.text, ok
}

func (o *Orchestrator) deleteMessage(ctx context.Context, chatID int64, messageID int) {
	if messageID == 0 {
		return
	}
	if err := o.gw.DeleteMessage(ctx, chatID, messageID); !gateway.Ignorable(err) {
		logger.Warningf("Failed to delete message %d in chat %d: %v", messageID, chatID, err)
	}
}

func (o *Orchestrator) notice(ctx context.Context, settings models.GroupSettings, text string) {
	if !settings.EnableNotification {
		return
	}
	id, err := o.gw.SendMessage(ctx, gateway.Message{ChatID: settings.GroupID, Text: text, HTML: true})
	if err != nil {
		logger.Warningf("Failed to send notice to chat %d: %v", settings.GroupID, err)
		return
	}
	if settings.AutoDelete && o.c.Sweeper != nil {
		o.c.Sweeper.DeleteAfter(ctx, settings.GroupID, id, o.cfg.NoticeTTL)
	}
}

func (o *Orchestrator) record(ctx context.Context, e service.AuditEntry) {
	if o.c.Audit != nil {
		o.c.Audit.Record(ctx, e)
	}
}

// FormatDuration renders d as the largest whole unit among days, hours and
// minutes, e.g. "2d" or "90m".
func FormatDuration(d time.Duration) string {
	switch {
	case d >= 24*time.Hour && d%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	default:
		return fmt.Sprintf("%dm", d/time.Minute)
	}
}
