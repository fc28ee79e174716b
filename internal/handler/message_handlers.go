package handler

import (
	"context"

	"github.com/mymmrac/telego"

	"tg-guardian/internal/gateway"
	"tg-guardian/internal/logger"
	"tg-guardian/internal/moderation"
	"tg-guardian/internal/verification"
)

// handleMessage routes commands first, then private captcha answers, then
// group messages into the moderation pipeline.
func (h *Handler) handleMessage(ctx context.Context, message telego.Message) error {
	if message.From == nil || message.From.ID == h.BotID {
		return nil
	}
	incrementCounter(&totalMessagesProcessed)

	if cmd, ok := parseCommand(message.Text, h.BotUsername); ok {
		incrementCounter(&totalCommands)
		return h.runCommand(ctx, message, cmd)
	}

	if message.Chat.Type == telego.ChatTypePrivate {
		return h.handlePrivateMessage(ctx, message)
	}
	if !isGroup(message.Chat) || message.From.IsBot || isServiceMessage(message) {
		return nil
	}
	return h.handleGroupMessage(ctx, message)
}

func (h *Handler) handleGroupMessage(ctx context.Context, message telego.Message) error {
	h.Groups.Touch(ctx, message.Chat.ID, message.Chat.Title, message.Chat.Username)
	ev := messageEvent(message)
	h.submit(ctx, ev.GroupID, ev.Sender.ID, func(ctx context.Context) {
		v := h.Moderation.HandleMessage(ctx, ev)
		if v.Decision != moderation.DecisionAllow {
			logger.Infof("Message %d from user %d in chat %d: %s %v", ev.MessageID, ev.Sender.ID, ev.GroupID, v.Decision, v.Reasons)
		}
	})
	return nil
}

// handlePrivateMessage treats any non-command text as a captcha answer.
func (h *Handler) handlePrivateMessage(ctx context.Context, message telego.Message) error {
	if message.Text == "" {
		return nil
	}
	userID := message.From.ID
	h.submit(ctx, 0, userID, func(ctx context.Context) {
		res := h.Moderation.HandleAnswer(ctx, userID, message.Text, "")
		var text string
		switch res.Outcome {
		case verification.OutcomeNoSession:
			text = h.Groups.T(0, "private_hint")
		case verification.OutcomeRetry:
			text = h.Groups.T(res.GroupID, "captcha_retry", res.Remaining)
		case verification.OutcomeVerified:
			text = h.Groups.T(res.GroupID, "captcha_success", gateway.FromTelego(*message.From).Mention())
		case verification.OutcomeFailed:
			text = h.Groups.T(res.GroupID, "captcha_failed", gateway.FromTelego(*message.From).Mention())
		}
		h.sendReply(ctx, message.Chat.ID, message.MessageID, text, false)
	})
	return nil
}

func (h *Handler) handleEditedMessage(ctx context.Context, message telego.Message) error {
	if message.From == nil || message.From.IsBot || !isGroup(message.Chat) {
		return nil
	}
	incrementCounter(&totalEdits)
	ev := moderation.Edit{
		GroupID:   message.Chat.ID,
		MessageID: message.MessageID,
		Sender:    gateway.FromTelego(*message.From),
		Text:      messageText(message),
	}
	h.submit(ctx, ev.GroupID, ev.Sender.ID, func(ctx context.Context) {
		h.Moderation.HandleEdit(ctx, ev)
	})
	return nil
}

// handleChatMemberUpdate turns status transitions of other users into join
// and leave events.
func (h *Handler) handleChatMemberUpdate(ctx context.Context, update telego.ChatMemberUpdated) error {
	incrementCounter(&totalChatMemberUpdates)
	if update.NewChatMember.MemberUser().ID == h.BotID {
		return nil
	}
	ev, ok := membershipEvent(update)
	if !ok {
		return nil
	}
	logger.Infof("User %d %s chat %d", ev.User.ID, ev.Kind, ev.GroupID)
	h.submit(ctx, ev.GroupID, ev.User.ID, func(ctx context.Context) {
		h.Moderation.HandleMembership(ctx, ev)
	})
	return nil
}

// handleMyChatMemberUpdate records groups the bot is added to or removed from.
func (h *Handler) handleMyChatMemberUpdate(ctx context.Context, update telego.ChatMemberUpdated) error {
	if !isGroup(update.Chat) {
		return nil
	}
	status := update.NewChatMember.MemberStatus()
	switch status {
	case telego.MemberStatusAdministrator:
		logger.Infof("Bot was promoted to admin in chat %d by user %d", update.Chat.ID, update.From.ID)
		h.Groups.Touch(ctx, update.Chat.ID, update.Chat.Title, update.Chat.Username)
	case telego.MemberStatusMember:
		logger.Warningf("Bot is a plain member of chat %d; moderation needs admin rights", update.Chat.ID)
		h.Groups.Touch(ctx, update.Chat.ID, update.Chat.Title, update.Chat.Username)
	case telego.MemberStatusLeft, telego.MemberStatusBanned:
		logger.Infof("Bot was removed from chat %d by user %d", update.Chat.ID, update.From.ID)
	}
	return nil
}

// sendReply posts text; in groups with auto delete on the reply is swept
// after ReplyTTL.
func (h *Handler) sendReply(ctx context.Context, chatID int64, replyTo int, text string, group bool) {
	if text == "" {
		return
	}
	id, err := h.Gateway.SendMessage(ctx, gateway.Message{ChatID: chatID, Text: text, HTML: true, ReplyTo: replyTo})
	if err != nil {
		logger.Warningf("Failed to reply in chat %d: %v", chatID, err)
		return
	}
	if group && h.Sweeper != nil && h.Groups.Settings(ctx, chatID).AutoDelete {
		h.Sweeper.DeleteAfter(ctx, chatID, id, h.ReplyTTL)
	}
}
