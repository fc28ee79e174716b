package main

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"tg-guardian/internal/admin"
	"tg-guardian/internal/behavior"
	"tg-guardian/internal/config"
	"tg-guardian/internal/filter"
	"tg-guardian/internal/gateway"
	"tg-guardian/internal/gban"
	"tg-guardian/internal/janitor"
	"tg-guardian/internal/logger"
	"tg-guardian/internal/moderation"
	"tg-guardian/internal/permission"
	"tg-guardian/internal/scheduler"
	"tg-guardian/internal/service"
	"tg-guardian/internal/storage"
	"tg-guardian/internal/verification"
	"tg-guardian/internal/welcome"
)

// app holds the moderation components of one running bot.
type app struct {
	cfg *config.Config

	sched      scheduler.Scheduler
	janitor    *janitor.Janitor
	persisted  bool
	groups     *service.GroupService
	roles      *permission.Authority
	tracker    *behavior.Tracker
	verifier   *verification.Machine
	bans       *gban.Registry
	filter     *filter.Filter
	welcome    *welcome.Service
	audit      *service.AuditLog
	modlog     *storage.ModerationLogRepository
	orch       *moderation.Orchestrator
	dispatcher *moderation.Dispatcher
	admin      *admin.Service
	now        func() time.Time
}

// stores are the persistence backends; all nil without a database.
type stores struct {
	settings service.SettingsStore
	welcome  welcome.Store
	roles    permission.Store
	gban     gban.Store
	verify   verification.Store
	pending  janitor.Store
	keywords filter.Store
	audit    service.LogStore
	modlog   *storage.ModerationLogRepository
}

func newStores(db *gorm.DB) stores {
	if db == nil {
		return stores{}
	}
	modlog := storage.NewModerationLogRepository(db)
	return stores{
		settings: storage.NewSettingsRepository(db),
		welcome:  storage.NewWelcomeRepository(db),
		roles:    storage.NewRoleRepository(db),
		gban:     storage.NewGBanRepository(db),
		verify:   storage.NewVerificationRepository(db),
		pending:  storage.NewPendingMsgRepository(db),
		keywords: storage.NewKeywordRepository(db),
		audit:    modlog,
		modlog:   modlog,
	}
}

// newApp builds every component on top of gw. sched drives timeouts and
// delayed deletions; now is the clock the components share.
func newApp(cfg *config.Config, gw gateway.Gateway, db *gorm.DB, sched scheduler.Scheduler, now func() time.Time) *app {
	st := newStores(db)
	mod := cfg.Moderation

	a := &app{cfg: cfg, sched: sched, now: now, modlog: st.modlog, persisted: st.pending != nil}
	a.janitor = janitor.New(gw, sched, st.pending, now)
	a.groups = service.NewGroupService(st.settings, cfg)
	a.roles = permission.NewAuthority(gw, st.roles, permission.Options{Now: now})
	a.tracker = behavior.NewTracker(behavior.Config{
		FloodThreshold: mod.FloodThreshold,
		FloodWindow:    mod.FloodWindow,
		LinkThreshold:  mod.LinkThreshold,
		SpamThreshold:  mod.SpamThreshold,
		NewAccountAge:  mod.NewAccountAge,
		Now:            now,
	})
	a.verifier = verification.NewMachine(gw, sched, st.verify, a.janitor, verification.Config{
		Timeout:          cfg.Verification.Timeout,
		RestrictDuration: cfg.Verification.RestrictDuration,
		MaxAttempts:      cfg.Verification.MaxAttempts,
		NoticeTTL:        mod.NoticeTTL,
		Now:              now,
		Texts:            a.groups,
	})
	a.bans = gban.NewRegistry(gw, st.gban, a.janitor, gban.Config{
		Admins:      cfg.GBan.Admins,
		Concurrency: cfg.GBan.Concurrency,
		NoticeTTL:   mod.NoticeTTL,
		Now:         now,
		Texts:       a.groups,
	})
	a.filter = filter.New(cfg.Filter.KeywordsFile, st.keywords)
	a.welcome = welcome.New(gw, st.welcome, a.janitor)
	a.audit = service.NewAuditLog(st.audit)

	a.orch = moderation.New(gw, moderation.Components{
		Roles:    a.roles,
		Tracker:  a.tracker,
		Verifier: a.verifier,
		Bans:     a.bans,
		Filter:   a.filter,
		Welcome:  a.welcome,
		Settings: a.groups,
		Audit:    a.audit,
		Sweeper:  a.janitor,
	}, moderation.Config{
		MaxWarnings:     mod.MaxWarnings,
		MuteDuration:    mod.MuteDuration,
		NoticeTTL:       mod.NoticeTTL,
		EditTrackerSize: mod.EditTrackerSize,
		Now:             now,
	})
	a.dispatcher = moderation.NewDispatcher(mod.DispatcherWorkers, 0)
	a.admin = admin.New(admin.Deps{
		Gateway:  gw,
		Settings: a.groups,
		Roles:    a.roles,
		Tracker:  a.tracker,
		Filter:   a.filter,
		Bans:     a.bans,
		Welcome:  a.welcome,
		Audit:    a.audit,
	}, mod.MaxWarnings)
	return a
}

// load restores persisted state into memory.
func (a *app) load(ctx context.Context) error {
	loaders := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"group settings", a.groups.Load},
		{"roles", a.roles.Load},
		{"global bans", a.bans.Load},
		{"keywords", a.filter.Load},
		{"pending deletions", a.janitor.Restore},
	}
	for _, l := range loaders {
		if err := l.fn(ctx); err != nil {
			return fmt.Errorf("load %s: %w", l.name, err)
		}
	}
	logger.Infof("Loaded state: %d global bans, %d subscribed groups", a.bans.Stats().Total, len(a.bans.Subscriptions()))
	return nil
}

// sweep runs one maintenance pass.
func (a *app) sweep(ctx context.Context) {
	roles := a.roles.CleanupExpired(ctx)
	sessions := a.verifier.CleanupExpired(ctx)
	bans := a.bans.CleanupExpired(ctx)
	a.tracker.Cleanup(a.now())
	if roles+sessions+bans > 0 {
		logger.Infof("Maintenance: expired %d roles, %d verification sessions, %d global bans", roles, sessions, bans)
	}

	if a.modlog != nil && a.cfg.Maintenance.LogRetention > 0 {
		n, err := a.modlog.Purge(ctx, a.now().Add(-a.cfg.Maintenance.LogRetention))
		if err != nil {
			logger.Warningf("Failed to purge moderation logs: %v", err)
		} else if n > 0 {
			logger.Infof("Maintenance: purged %d moderation log entries", n)
		}
	}
}

// maintain sweeps every cleanup interval until ctx is done.
func (a *app) maintain(ctx context.Context) {
	interval := a.cfg.Maintenance.CleanupInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep(ctx)
		}
	}
}

// shutdown drains queued events and settles pending deletions. Without a
// store they cannot survive a restart, so they run now.
func (a *app) shutdown(ctx context.Context) {
	a.dispatcher.Stop()
	if !a.persisted {
		a.janitor.Flush(ctx)
	}
	if t, ok := a.sched.(interface{ Stop() }); ok {
		t.Stop()
	}
}
