package handler

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"

	"tg-guardian/internal/admin"
	"tg-guardian/internal/models"
	"tg-guardian/internal/moderation"
)

// commandFunc runs one command and returns the reply text.
type commandFunc func(ctx context.Context, h *Handler, m telego.Message, cmd command) string

type commandSpec struct {
	run       commandFunc
	groupOnly bool
}

var commands = map[string]commandSpec{
	"start":       {run: sendHelpMessage},
	"help":        {run: sendHelpMessage},
	"settings":    {run: handleSettingsCommand, groupOnly: true},
	"toggle":      {run: handleToggleCommand, groupOnly: true},
	"setflood":    {run: handleSetFloodCommand, groupOnly: true},
	"setcaptcha":  {run: handleSetCaptchaCommand, groupOnly: true},
	"setlang":     {run: handleLanguageCommand, groupOnly: true},
	"lock":        {run: handleLockCommand(true), groupOnly: true},
	"unlock":      {run: handleLockCommand(false), groupOnly: true},
	"warn":        {run: handleWarnCommand, groupOnly: true},
	"unwarn":      {run: handleUnwarnCommand, groupOnly: true},
	"mute":        {run: handleMuteCommand, groupOnly: true},
	"unmute":      {run: handleUnmuteCommand, groupOnly: true},
	"promote":     {run: handlePromoteCommand(true), groupOnly: true},
	"demote":      {run: handlePromoteCommand(false), groupOnly: true},
	"setwelcome":  {run: handleSetWelcomeCommand, groupOnly: true},
	"welcome":     {run: handleWelcomeCommand, groupOnly: true},
	"subscribe":   {run: handleSubscribeCommand(true), groupOnly: true},
	"unsubscribe": {run: handleSubscribeCommand(false), groupOnly: true},
	"addword":     {run: handleKeywordCommand(true), groupOnly: true},
	"delword":     {run: handleKeywordCommand(false), groupOnly: true},
	"keywords":    {run: handleKeywordsCommand, groupOnly: true},
	"gban":        {run: handleGBanCommand},
	"ungban":      {run: handleUnGBanCommand},
	"gbanstats":   {run: handleGBanStatsCommand},
}

// runCommand executes a known command and replies to it. Unknown commands
// are ignored.
func (h *Handler) runCommand(ctx context.Context, message telego.Message, cmd command) error {
	spec, ok := commands[cmd.name]
	if !ok {
		return nil
	}
	group := isGroup(message.Chat)
	chatID := message.Chat.ID
	if spec.groupOnly && !group {
		h.sendReply(ctx, chatID, message.MessageID, h.Groups.T(0, "group_only"), false)
		return nil
	}
	h.submit(ctx, groupOf(message), message.From.ID, func(ctx context.Context) {
		reply := spec.run(ctx, h, message, cmd)
		h.sendReply(ctx, chatID, message.MessageID, reply, group)
	})
	return nil
}

func groupOf(m telego.Message) int64 {
	if isGroup(m.Chat) {
		return m.Chat.ID
	}
	return 0
}

// sendHelpMessage lists the commands in the chat's language.
func sendHelpMessage(ctx context.Context, h *Handler, m telego.Message, _ command) string {
	g := groupOf(m)
	return fmt.Sprintf("<b>%s</b>\n\n%s\n\n%s",
		h.Groups.T(g, "help_title"),
		h.Groups.T(g, "help_description"),
		html.EscapeString(h.Groups.T(g, "help_commands")),
	)
}

func handleSettingsCommand(ctx context.Context, h *Handler, m telego.Message, _ command) string {
	g := m.Chat.ID
	s := h.Admin.Settings(ctx, g)
	lines := []string{h.Groups.T(g, "settings_title", s.GetLinkedGroupName())}
	for _, name := range admin.Toggles() {
		lines = append(lines, h.Groups.T(g, "settings_line", name, h.onOff(g, admin.ToggleValue(s, name))))
	}
	lines = append(lines,
		h.Groups.T(g, "settings_line", "flood_threshold", strconv.Itoa(s.FloodThreshold)),
		h.Groups.T(g, "settings_line", "captcha", s.CaptchaKind),
		h.Groups.T(g, "settings_line", "language", models.GetLanguageName(s.Language)),
		h.Groups.T(g, "settings_line", "locked", h.onOff(g, s.Locked)),
	)
	return strings.Join(lines, "\n")
}

func handleToggleCommand(ctx context.Context, h *Handler, m telego.Message, cmd command) string {
	g := m.Chat.ID
	usage := h.Groups.T(g, "toggle_usage", strings.Join(admin.Toggles(), ", "))
	if len(cmd.args) != 2 {
		return usage
	}
	on, ok := parseOnOff(cmd.args[1])
	if !ok {
		return usage
	}
	name := strings.ToLower(cmd.args[0])
	if _, err := h.Admin.SetToggle(ctx, g, m.From.ID, name, on); err != nil {
		return h.errorText(g, err)
	}
	return h.Groups.T(g, "toggle_set", name, h.onOff(g, on))
}

func handleSetFloodCommand(ctx context.Context, h *Handler, m telego.Message, cmd command) string {
	g := m.Chat.ID
	n := 0
	if len(cmd.args) > 0 {
		n, _ = strconv.Atoi(cmd.args[0])
	}
	s, err := h.Admin.SetFloodThreshold(ctx, g, m.From.ID, n)
	if err != nil {
		return h.errorText(g, err)
	}
	return h.Groups.T(g, "flood_set", s.FloodThreshold)
}

func handleSetCaptchaCommand(ctx context.Context, h *Handler, m telego.Message, cmd command) string {
	g := m.Chat.ID
	s, err := h.Admin.SetCaptchaKind(ctx, g, m.From.ID, cmd.rest)
	if err != nil {
		return h.errorText(g, err)
	}
	return h.Groups.T(g, "captcha_set", s.CaptchaKind)
}

func handleLanguageCommand(ctx context.Context, h *Handler, m telego.Message, cmd command) string {
	g := m.Chat.ID
	s, err := h.Admin.SetLanguage(ctx, g, m.From.ID, cmd.rest)
	if err != nil {
		return h.errorText(g, err)
	}
	return h.Groups.T(g, "language_set", models.GetLanguageName(s.Language))
}

func handleLockCommand(locked bool) commandFunc {
	return func(ctx context.Context, h *Handler, m telego.Message, _ command) string {
		g := m.Chat.ID
		if err := h.Admin.SetLocked(ctx, g, m.From.ID, locked); err != nil {
			return h.errorText(g, err)
		}
		if locked {
			return h.Groups.T(g, "group_locked")
		}
		return h.Groups.T(g, "group_unlocked")
	}
}

func handleWarnCommand(ctx context.Context, h *Handler, m telego.Message, cmd command) string {
	g := m.Chat.ID
	user, rest, ok := h.target(ctx, m, cmd.args)
	if !ok {
		return h.Groups.T(g, "reply_required")
	}
	res, err := h.Admin.Warn(ctx, g, m.From.ID, user.ID, strings.Join(rest, " "))
	if err != nil {
		return h.errorText(g, err)
	}
	if res.Banned {
		return h.Groups.T(g, "warnings_exceeded", user.Mention(), res.Max)
	}
	return h.Groups.T(g, "warned", user.Mention(), res.Count, res.Max)
}

func handleUnwarnCommand(ctx context.Context, h *Handler, m telego.Message, cmd command) string {
	g := m.Chat.ID
	user, _, ok := h.target(ctx, m, cmd.args)
	if !ok {
		return h.Groups.T(g, "reply_required")
	}
	if err := h.Admin.ClearWarnings(ctx, g, m.From.ID, user.ID); err != nil {
		return h.errorText(g, err)
	}
	return h.Groups.T(g, "warnings_cleared", user.Mention())
}

// handleMuteCommand reads "/mute [duration] [reason]".
func handleMuteCommand(ctx context.Context, h *Handler, m telego.Message, cmd command) string {
	g := m.Chat.ID
	user, rest, ok := h.target(ctx, m, cmd.args)
	if !ok {
		return h.Groups.T(g, "reply_required")
	}
	duration := ""
	if len(rest) > 0 {
		duration, rest = rest[0], rest[1:]
	}
	d, err := h.Admin.Mute(ctx, g, m.From.ID, user.ID, duration, strings.Join(rest, " "))
	if err != nil {
		return h.errorText(g, err)
	}
	return h.Groups.T(g, "muted", user.Mention(), moderation.FormatDuration(d))
}

func handleUnmuteCommand(ctx context.Context, h *Handler, m telego.Message, cmd command) string {
	g := m.Chat.ID
	user, _, ok := h.target(ctx, m, cmd.args)
	if !ok {
		return h.Groups.T(g, "reply_required")
	}
	if err := h.Admin.Unmute(ctx, g, m.From.ID, user.ID); err != nil {
		return h.errorText(g, err)
	}
	return h.Groups.T(g, "unmuted", user.Mention())
}

func handlePromoteCommand(promote bool) commandFunc {
	return func(ctx context.Context, h *Handler, m telego.Message, cmd command) string {
		g := m.Chat.ID
		user, _, ok := h.target(ctx, m, cmd.args)
		if !ok {
			return h.Groups.T(g, "reply_required")
		}
		if promote {
			if err := h.Admin.Promote(ctx, g, m.From.ID, user.ID); err != nil {
				return h.errorText(g, err)
			}
			return h.Groups.T(g, "promoted", user.Mention())
		}
		if err := h.Admin.Demote(ctx, g, m.From.ID, user.ID); err != nil {
			return h.errorText(g, err)
		}
		return h.Groups.T(g, "demoted", user.Mention())
	}
}

func handleSetWelcomeCommand(ctx context.Context, h *Handler, m telego.Message, cmd command) string {
	g := m.Chat.ID
	if _, err := h.Admin.SetWelcome(ctx, g, m.From.ID, cmd.rest); err != nil {
		return h.errorText(g, err)
	}
	return h.Groups.T(g, "welcome_set")
}

func handleWelcomeCommand(ctx context.Context, h *Handler, m telego.Message, _ command) string {
	g := m.Chat.ID
	c := h.Admin.WelcomeConfig(ctx, g)
	return h.Groups.T(g, "welcome_current", html.EscapeString(c.WelcomeMessage))
}

func handleSubscribeCommand(on bool) commandFunc {
	return func(ctx context.Context, h *Handler, m telego.Message, _ command) string {
		g := m.Chat.ID
		if err := h.Admin.SetSubscribed(ctx, g, m.From.ID, on); err != nil {
			return h.errorText(g, err)
		}
		if on {
			return h.Groups.T(g, "subscribed")
		}
		return h.Groups.T(g, "unsubscribed")
	}
}

// handleKeywordCommand reads "/addword <category> <word>".
func handleKeywordCommand(add bool) commandFunc {
	return func(ctx context.Context, h *Handler, m telego.Message, cmd command) string {
		g := m.Chat.ID
		if len(cmd.args) < 2 {
			return h.Groups.T(g, "invalid_input", "/"+cmd.name+" &lt;category&gt; &lt;word&gt;")
		}
		category := cmd.args[0]
		word := strings.Join(cmd.args[1:], " ")
		var changed bool
		var err error
		if add {
			changed, err = h.Admin.AddKeyword(ctx, g, m.From.ID, category, word)
		} else {
			changed, err = h.Admin.RemoveKeyword(ctx, g, m.From.ID, category, word)
		}
		if err != nil {
			return h.errorText(g, err)
		}
		word, category = html.EscapeString(word), html.EscapeString(category)
		switch {
		case add:
			return h.Groups.T(g, "keyword_added", word, category)
		case changed:
			return h.Groups.T(g, "keyword_removed", word, category)
		default:
			return h.Groups.T(g, "keyword_missing", word, category)
		}
	}
}

func handleKeywordsCommand(ctx context.Context, h *Handler, m telego.Message, _ command) string {
	g := m.Chat.ID
	keywords := h.Admin.Keywords(g)
	categories := make([]string, 0, len(keywords))
	for c := range keywords {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	lines := make([]string, 0, len(categories))
	for _, c := range categories {
		lines = append(lines, fmt.Sprintf("<b>%s</b>: %s", html.EscapeString(c), html.EscapeString(strings.Join(keywords[c], ", "))))
	}
	return h.Groups.T(g, "keyword_list", strings.Join(lines, "\n"))
}

// handleGBanCommand reads "/gban [user id] [duration] <reason>" where the
// user may also be given by replying. The replied message is kept as
// evidence.
func handleGBanCommand(ctx context.Context, h *Handler, m telego.Message, cmd command) string {
	g := groupOf(m)
	user, rest, ok := h.target(ctx, m, cmd.args)
	if !ok {
		return h.Groups.T(g, "reply_required")
	}
	duration := ""
	if len(rest) > 0 {
		if _, err := admin.ParseDuration(rest[0]); err == nil {
			duration, rest = rest[0], rest[1:]
		}
	}
	evidence := ""
	if m.ReplyToMessage != nil {
		evidence = messageText(*m.ReplyToMessage)
	}
	report, err := h.Admin.GBan(ctx, m.From.ID, user.ID, strings.Join(rest, " "), duration, evidence)
	if err != nil {
		return h.errorText(g, err)
	}
	return h.Groups.T(g, "gbanned", user.Mention(), report.Banned)
}

func handleUnGBanCommand(ctx context.Context, h *Handler, m telego.Message, cmd command) string {
	g := groupOf(m)
	user, _, ok := h.target(ctx, m, cmd.args)
	if !ok {
		return h.Groups.T(g, "reply_required")
	}
	if err := h.Admin.UnGBan(ctx, m.From.ID, user.ID); err != nil {
		return h.errorText(g, err)
	}
	return h.Groups.T(g, "ungbanned", user.Mention())
}

func handleGBanStatsCommand(ctx context.Context, h *Handler, m telego.Message, _ command) string {
	s := h.Admin.GBanStats()
	return h.Groups.T(groupOf(m), "gban_stats", s.Total, s.Permanent, s.Temporary, s.Subscribed, s.Enforced, s.Failed)
}
