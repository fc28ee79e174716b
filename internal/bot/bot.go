package bot

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"

	"tg-guardian/internal/config"
	"tg-guardian/internal/crash"
	"tg-guardian/internal/logger"
	"tg-guardian/internal/models"
)

// BotService represents the Telegram bot, its update handler and the HTTP
// server carrying the webhook, metrics and debug endpoints.
type BotService struct {
	Bot     *telego.Bot
	Self    *telego.User
	Handler *th.BotHandler
	// Server is nil when long polling without metrics.
	Server *WebhookServer
}

// Start serves HTTP and begins dispatching updates to handlers.
func (b *BotService) Start() {
	if b.Server != nil {
		crash.SafeGoroutine("http-server", func() {
			if err := b.Server.Start(); err != nil {
				logger.Errorf("HTTP server error: %v", err)
			}
		})
	}
	crash.SafeGoroutine("bot-handler", func() {
		b.Handler.Start()
	})
}

// Stop stops update dispatching and the HTTP server.
func (b *BotService) Stop(ctx context.Context) {
	b.Handler.Stop()
	if b.Server != nil {
		if err := b.Server.Shutdown(ctx); err != nil {
			logger.Warningf("HTTP server shutdown error: %v", err)
		}
	}
}

// Initialize connects to Telegram and wires the update source: a webhook
// when configured, long polling otherwise. allowed lists the update types
// the handlers consume.
func Initialize(ctx context.Context, cfg *config.Config, allowed []string) (*BotService, error) {
	if cfg.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	var opts []telego.BotOption
	if cfg.Bot.Debug {
		opts = append(opts, telego.WithDefaultDebugLogger())
	}
	bot, err := telego.NewBot(cfg.Bot.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize bot: %w", err)
	}

	botUser, err := bot.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get bot info: %w", err)
	}
	logger.Infof("Authorized on account %s", botUser.Username)

	setLocalizedCommands(ctx, bot)

	mux := newServeMux(cfg, bot)

	var updates <-chan telego.Update
	var server *WebhookServer
	if cfg.Bot.Webhook.Enabled {
		updates, err = SetupWebhook(ctx, bot, cfg.Bot.Webhook, secretToken(cfg), mux, allowed)
		if err != nil {
			return nil, fmt.Errorf("failed to setup webhook: %w", err)
		}
		server = newServer(cfg.Bot.Webhook, mux)
	} else {
		if err := bot.DeleteWebhook(ctx, &telego.DeleteWebhookParams{}); err != nil {
			return nil, fmt.Errorf("failed to delete existing webhook: %w", err)
		}
		updates, err = bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
			Timeout:        cfg.Bot.PollingTimeout,
			AllowedUpdates: allowed,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to start long polling: %w", err)
		}
		logger.Infof("Receiving updates via long polling (timeout %ds)", cfg.Bot.PollingTimeout)
		if cfg.Metrics.Enabled {
			// plain HTTP; only metrics and debug are served
			plain := cfg.Bot.Webhook
			plain.CertFile, plain.KeyFile = "", ""
			server = newServer(plain, mux)
		}
	}

	bh, err := th.NewBotHandler(bot, updates)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot handler: %w", err)
	}

	return &BotService{
		Bot:     bot,
		Self:    botUser,
		Handler: bh,
		Server:  server,
	}, nil
}

// secretToken returns the configured webhook secret or one derived from the
// bot token.
func secretToken(cfg *config.Config) string {
	if cfg.Bot.Webhook.Secret != "" {
		return cfg.Bot.Webhook.Secret
	}
	token := cfg.Bot.Token
	if len(token) > 6 {
		token = token[len(token)-6:]
	}
	return "guardian_webhook_" + token
}

var menuCommands = []struct {
	Command string
	DescKey string
}{
	{Command: "help", DescKey: "cmd_desc_help"},
	{Command: "settings", DescKey: "cmd_desc_settings"},
	{Command: "lock", DescKey: "cmd_desc_lock"},
	{Command: "unlock", DescKey: "cmd_desc_unlock"},
	{Command: "warn", DescKey: "cmd_desc_warn"},
	{Command: "mute", DescKey: "cmd_desc_mute"},
	{Command: "welcome", DescKey: "cmd_desc_welcome"},
	{Command: "gbanstats", DescKey: "cmd_desc_gbanstats"},
}

// commandList returns the command menu described in lang.
func commandList(lang string) []telego.BotCommand {
	commands := make([]telego.BotCommand, 0, len(menuCommands))
	for _, cmd := range menuCommands {
		commands = append(commands, telego.BotCommand{
			Command:     cmd.Command,
			Description: models.GetTranslation(lang, cmd.DescKey),
		})
	}
	return commands
}

// setLocalizedCommands sets the command menu for each supported language,
// with English as the default.
func setLocalizedCommands(ctx context.Context, bot *telego.Bot) {
	langCodes := map[string]string{
		models.LangEnglish:            "en",
		models.LangSimplifiedChinese:  "zh",
		models.LangTraditionalChinese: "zh-hant",
	}

	for lang, telegramLang := range langCodes {
		err := bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{
			Commands:     commandList(lang),
			LanguageCode: telegramLang,
		})
		if err != nil {
			logger.Warningf("Failed to set bot commands for %s: %v", lang, err)
		}
	}

	err := bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{
		Commands: commandList(models.LangEnglish),
	})
	if err != nil {
		logger.Warningf("Failed to set default bot commands: %v", err)
	}
}
