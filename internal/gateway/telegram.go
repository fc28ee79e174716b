package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	"golang.org/x/time/rate"
)

// Telegram implements Gateway on top of a telego bot. Outbound calls share
// one token bucket so enforcement bursts stay under the Bot API limits.
type Telegram struct {
	bot     *telego.Bot
	limiter *rate.Limiter
}

// NewTelegram wraps bot; perSecond <= 0 disables rate limiting.
func NewTelegram(bot *telego.Bot, perSecond float64) *Telegram {
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &Telegram{bot: bot, limiter: rate.NewLimiter(limit, burst)}
}

func (t *Telegram) wait(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

func (t *Telegram) SendMessage(ctx context.Context, msg Message) (int, error) {
	if err := t.wait(ctx); err != nil {
		return 0, err
	}
	params := &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: msg.ChatID},
		Text:   msg.Text,
	}
	if msg.HTML {
		params.ParseMode = "HTML"
	}
	if msg.ReplyTo != 0 {
		params.ReplyParameters = &telego.ReplyParameters{MessageID: msg.ReplyTo, AllowSendingWithoutReply: true}
	}
	if len(msg.Buttons) > 0 {
		params.ReplyMarkup = keyboard(msg.Buttons)
	}
	sent, err := t.bot.SendMessage(ctx, params)
	if err != nil {
		return 0, classify(err)
	}
	return sent.MessageID, nil
}

func (t *Telegram) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := t.wait(ctx); err != nil {
		return err
	}
	err := t.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    telego.ChatID{ID: chatID},
		MessageID: messageID,
	})
	return classify(err)
}

func (t *Telegram) RestrictMember(ctx context.Context, chatID, userID int64, perms Permissions, until time.Time) error {
	if err := t.wait(ctx); err != nil {
		return err
	}
	params := &telego.RestrictChatMemberParams{
		ChatID:      telego.ChatID{ID: chatID},
		UserID:      userID,
		Permissions: chatPermissions(perms),
	}
	if !until.IsZero() {
		params.UntilDate = until.Unix()
	}
	return classify(t.bot.RestrictChatMember(ctx, params))
}

func (t *Telegram) BanMember(ctx context.Context, chatID, userID int64) error {
	if err := t.wait(ctx); err != nil {
		return err
	}
	err := t.bot.BanChatMember(ctx, &telego.BanChatMemberParams{
		ChatID:         telego.ChatID{ID: chatID},
		UserID:         userID,
		RevokeMessages: true,
	})
	return classify(err)
}

func (t *Telegram) UnbanMember(ctx context.Context, chatID, userID int64) error {
	if err := t.wait(ctx); err != nil {
		return err
	}
	err := t.bot.UnbanChatMember(ctx, &telego.UnbanChatMemberParams{
		ChatID:       telego.ChatID{ID: chatID},
		UserID:       userID,
		OnlyIfBanned: true,
	})
	return classify(err)
}

func (t *Telegram) MemberStatus(ctx context.Context, chatID, userID int64) (MemberStatus, error) {
	if err := t.wait(ctx); err != nil {
		return "", err
	}
	member, err := t.bot.GetChatMember(ctx, &telego.GetChatMemberParams{
		ChatID: telego.ChatID{ID: chatID},
		UserID: userID,
	})
	if err != nil {
		return "", classify(err)
	}
	return MemberStatus(member.MemberStatus()), nil
}

func (t *Telegram) GetUser(ctx context.Context, userID int64) (User, error) {
	if err := t.wait(ctx); err != nil {
		return User{}, err
	}
	info, err := t.bot.GetChat(ctx, &telego.GetChatParams{ChatID: telego.ChatID{ID: userID}})
	if err != nil {
		return User{}, classify(err)
	}
	return User{
		ID:        info.ID,
		FirstName: info.FirstName,
		LastName:  info.LastName,
		Username:  info.Username,
		HasAvatar: info.Photo != nil,
	}, nil
}

// FromTelego converts a telego user. Updates do not carry avatar presence, so
// HasAvatar is true until GetUser says otherwise.
func FromTelego(u telego.User) User {
	return User{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
		IsBot:     u.IsBot,
		IsPremium: u.IsPremium,
		HasAvatar: true,
	}
}

func keyboard(rows [][]Button) *telego.InlineKeyboardMarkup {
	markup := &telego.InlineKeyboardMarkup{InlineKeyboard: make([][]telego.InlineKeyboardButton, 0, len(rows))}
	for _, row := range rows {
		buttons := make([]telego.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, telego.InlineKeyboardButton{Text: b.Text, CallbackData: b.Data})
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard, buttons)
	}
	return markup
}

func chatPermissions(p Permissions) telego.ChatPermissions {
	return telego.ChatPermissions{
		CanSendMessages:       boolPtr(p.SendMessages),
		CanSendAudios:         boolPtr(p.SendMedia),
		CanSendDocuments:      boolPtr(p.SendMedia),
		CanSendPhotos:         boolPtr(p.SendMedia),
		CanSendVideos:         boolPtr(p.SendMedia),
		CanSendVideoNotes:     boolPtr(p.SendMedia),
		CanSendVoiceNotes:     boolPtr(p.SendMedia),
		CanSendPolls:          boolPtr(p.SendPolls),
		CanSendOtherMessages:  boolPtr(p.SendOther),
		CanAddWebPagePreviews: boolPtr(p.AddWebPreviews),
		CanInviteUsers:        boolPtr(p.InviteUsers),
	}
}

func boolPtr(b bool) *bool {
	return &b
}

var deniedMarkers = []string{
	"not enough rights",
	"chat_admin_required",
	"have no rights",
	"bot was kicked",
	"bot is not a member",
	"chat not found",
	"can't remove chat owner",
	"user is an administrator",
	"can't restrict self",
}

var notFoundMarkers = []string{
	"message to delete not found",
	"message can't be deleted",
	"user not found",
	"participant_id_invalid",
	"user_not_participant",
	"member not found",
}

// classify maps Bot API error descriptions onto the gateway error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *telegoapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	desc := strings.ToLower(apiErr.Description)
	for _, m := range notFoundMarkers {
		if strings.Contains(desc, m) {
			return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Description)
		}
	}
	for _, m := range deniedMarkers {
		if strings.Contains(desc, m) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, apiErr.Description)
		}
	}
	if apiErr.ErrorCode == 403 {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, apiErr.Description)
	}
	return err
}
