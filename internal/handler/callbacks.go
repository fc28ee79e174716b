package handler

import (
	"context"
	"strings"

	"github.com/mymmrac/telego"

	"tg-guardian/internal/logger"
	"tg-guardian/internal/verification"
)

// handleCallbackQuery processes inline keyboard presses. Only captcha
// buttons exist; a press by anyone but the challenged user finds no session.
func (h *Handler) handleCallbackQuery(ctx context.Context, query telego.CallbackQuery) error {
	incrementCounter(&totalCallbackQueries)
	if !strings.HasPrefix(query.Data, verification.ButtonPrefix) {
		logger.Debugf("Ignoring callback query: %s", query.Data)
		return nil
	}
	answer := strings.TrimPrefix(query.Data, verification.ButtonPrefix)

	var chatID int64
	var title string
	if query.Message != nil {
		chat := query.Message.GetChat()
		chatID, title = chat.ID, chat.Title
	}
	userID := query.From.ID
	h.submit(ctx, chatID, userID, func(ctx context.Context) {
		res := h.Moderation.HandleAnswer(ctx, userID, answer, title)
		h.answerCallback(ctx, query.ID, h.callbackText(chatID, res), res.Outcome == verification.OutcomeNoSession)
	})
	return nil
}

func (h *Handler) callbackText(chatID int64, res verification.Result) string {
	switch res.Outcome {
	case verification.OutcomeRetry:
		return h.Groups.T(res.GroupID, "captcha_retry", res.Remaining)
	case verification.OutcomeVerified:
		return "✅"
	case verification.OutcomeFailed:
		return "⛔"
	default:
		return h.Groups.T(chatID, "captcha_none")
	}
}

func (h *Handler) answerCallback(ctx context.Context, id, text string, alert bool) {
	if h.Callbacks == nil {
		return
	}
	err := h.Callbacks.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: id,
		Text:            text,
		ShowAlert:       alert,
	})
	if err != nil {
		logger.Warningf("Error answering callback query: %v", err)
	}
}
