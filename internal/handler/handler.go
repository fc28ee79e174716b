// Package handler turns telego updates into moderation events and admin
// commands.
package handler

import (
	"context"
	"time"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"

	"tg-guardian/internal/admin"
	"tg-guardian/internal/gateway"
	"tg-guardian/internal/moderation"
	"tg-guardian/internal/service"
)

// CallbackAnswerer acknowledges inline button presses. *telego.Bot
// implements it.
type CallbackAnswerer interface {
	AnswerCallbackQuery(ctx context.Context, params *telego.AnswerCallbackQueryParams) error
}

// Deps are the components the handlers forward updates to.
type Deps struct {
	Gateway     gateway.Gateway
	Moderation  *moderation.Orchestrator
	Dispatcher  *moderation.Dispatcher
	Admin       *admin.Service
	Groups      *service.GroupService
	Sweeper     moderation.Sweeper
	Callbacks   CallbackAnswerer
	BotID       int64
	BotUsername string
	// ReplyTTL is how long command replies stay in groups with auto delete on.
	ReplyTTL time.Duration
}

type Handler struct {
	Deps
}

func New(deps Deps) *Handler {
	if deps.ReplyTTL <= 0 {
		deps.ReplyTTL = time.Minute
	}
	return &Handler{Deps: deps}
}

// Register wires every update type the bot listens to.
func (h *Handler) Register(bh *th.BotHandler) {
	bh.HandleMessage(func(ctx *th.Context, message telego.Message) error {
		return h.handleMessage(ctx.Context(), message)
	})

	bh.Handle(func(ctx *th.Context, update telego.Update) error {
		return h.handleEditedMessage(ctx.Context(), *update.EditedMessage)
	}, th.AnyEditedMessage())

	bh.Handle(func(ctx *th.Context, update telego.Update) error {
		return h.handleChatMemberUpdate(ctx.Context(), *update.ChatMember)
	}, th.AnyChatMember())

	bh.Handle(func(ctx *th.Context, update telego.Update) error {
		return h.handleMyChatMemberUpdate(ctx.Context(), *update.MyChatMember)
	}, th.AnyMyChatMember())

	bh.HandleCallbackQuery(func(ctx *th.Context, query telego.CallbackQuery) error {
		return h.handleCallbackQuery(ctx.Context(), query)
	})
}

// AllowedUpdates lists the update types Register handles.
func AllowedUpdates() []string {
	return []string{"message", "edited_message", "chat_member", "my_chat_member", "callback_query"}
}

// submit queues fn on the dispatcher so events of one user in one group run
// in arrival order. The work outlives the update's context.
func (h *Handler) submit(ctx context.Context, groupID, userID int64, fn func(ctx context.Context)) {
	detached := context.WithoutCancel(ctx)
	if !h.Dispatcher.Submit(groupID, userID, func() { fn(detached) }) {
		incrementCounter(&totalDropped)
	}
}
