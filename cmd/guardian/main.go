package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tg-guardian/internal/bot"
	"tg-guardian/internal/config"
	"tg-guardian/internal/crash"
	"tg-guardian/internal/gateway"
	"tg-guardian/internal/handler"
	"tg-guardian/internal/logger"
	"tg-guardian/internal/scheduler"
	"tg-guardian/internal/storage"
)

func main() {
	defer crash.RecoverWithStackAndExit("main")

	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Setup(cfg); err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}
	defer logger.Sync()

	if err := storage.Initialize(cfg); err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	botService, err := bot.Initialize(ctx, cfg, handler.AllowedUpdates())
	if err != nil {
		logger.Fatalf("Failed to initialize bot: %v", err)
	}

	gw := gateway.NewTelegram(botService.Bot, cfg.Bot.RateLimit)
	a := newApp(cfg, gw, storage.GetDB(), scheduler.NewTimers(), time.Now)
	if err := a.load(ctx); err != nil {
		logger.Fatalf("Failed to load state: %v", err)
	}

	h := handler.New(handler.Deps{
		Gateway:     gw,
		Moderation:  a.orch,
		Dispatcher:  a.dispatcher,
		Admin:       a.admin,
		Groups:      a.groups,
		Sweeper:     a.janitor,
		Callbacks:   botService.Bot,
		BotID:       botService.Self.ID,
		BotUsername: botService.Self.Username,
	})
	h.Register(botService.Handler)
	botService.Start()
	logger.Info("Bot is running")

	crash.SafeGoroutine("maintenance", func() { a.maintain(ctx) })
	if cfg.Maintenance.StatsInterval > 0 {
		crash.SafeGoroutine("processing-stats", func() {
			handler.LogProcessingStats(ctx, cfg.Maintenance.StatsInterval)
		})
	}

	<-ctx.Done()
	logger.Info("Received shutdown signal, shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	botService.Stop(shutdownCtx)
	a.shutdown(shutdownCtx)
	logger.Info("Bot gracefully stopped")
}
