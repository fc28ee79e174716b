package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tg-guardian/internal/config"
	"tg-guardian/internal/filter"
	"tg-guardian/internal/gban"
	"tg-guardian/internal/janitor"
	"tg-guardian/internal/models"
	"tg-guardian/internal/permission"
	"tg-guardian/internal/verification"
)

var (
	_ permission.Store   = (*RoleRepository)(nil)
	_ gban.Store         = (*GBanRepository)(nil)
	_ verification.Store = (*VerificationRepository)(nil)
	_ janitor.Store      = (*PendingMsgRepository)(nil)
	_ filter.Store       = (*KeywordRepository)(nil)
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "guardian.db"),
	}, "error")
	require.NoError(t, err)
	require.NoError(t, MigrateAll(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"}, "info")
	assert.Error(t, err)
}

func TestSettingsRepository(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	repo := NewSettingsRepository(openTestDB(t))

	got, err := repo.Get(ctx, -100)
	require.NoError(t, err)
	assert.Nil(got)

	s := models.DefaultGroupSettings(-100)
	s.GroupName = "Gophers"
	s.AntiFlood = false
	require.NoError(t, repo.Save(ctx, s))

	s.Locked = true
	require.NoError(t, repo.Save(ctx, s))

	got, err = repo.Get(ctx, -100)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal("Gophers", got.GroupName)
	assert.False(got.AntiFlood, "false toggles survive the upsert")
	assert.True(got.Locked)

	all, err := repo.All(ctx)
	require.NoError(t, err)
	assert.Len(all, 1)

	require.NoError(t, repo.Delete(ctx, -100))
	got, err = repo.Get(ctx, -100)
	require.NoError(t, err)
	assert.Nil(got)
}

func TestRoleRepository(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	repo := NewRoleRepository(openTestDB(t))
	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.SaveAssignment(ctx, permission.Assignment{
		GroupID: -1, UserID: 5, Role: permission.RoleMuted, AssignedBy: 1, ExpiresAt: expires, Reason: "flood",
	}))
	require.NoError(t, repo.SaveAssignment(ctx, permission.Assignment{
		GroupID: -1, UserID: 5, Role: permission.RoleTrusted, AssignedBy: 2,
	}))
	require.NoError(t, repo.SaveAssignment(ctx, permission.Assignment{
		GroupID: -1, UserID: 6, Role: permission.RoleMuted, AssignedBy: 1, ExpiresAt: expires,
	}))

	list, err := repo.LoadAssignments(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	byUser := map[int64]permission.Assignment{}
	for _, a := range list {
		byUser[a.UserID] = a
	}
	assert.Equal(permission.RoleTrusted, byUser[5].Role)
	assert.True(byUser[5].ExpiresAt.IsZero())
	assert.Equal(permission.RoleMuted, byUser[6].Role)
	assert.True(expires.Equal(byUser[6].ExpiresAt))

	require.NoError(t, repo.DeleteAssignment(ctx, -1, 5))
	list, err = repo.LoadAssignments(ctx)
	require.NoError(t, err)
	assert.Len(list, 1)

	o := permission.Override{GroupID: -1, Role: permission.RoleMuted, Permission: permission.SendMessages, Granted: true, UpdatedBy: 9}
	require.NoError(t, repo.SaveOverride(ctx, o))
	o.Granted = false
	require.NoError(t, repo.SaveOverride(ctx, o))
	overrides, err := repo.LoadOverrides(ctx)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.False(overrides[0].Granted)

	require.NoError(t, repo.DeleteOverride(ctx, -1, permission.RoleMuted, permission.SendMessages))
	overrides, err = repo.LoadOverrides(ctx)
	require.NoError(t, err)
	assert.Empty(overrides)
}

func TestGBanRepository(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	repo := NewGBanRepository(openTestDB(t))
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	e := gban.Entry{UserID: 42, DisplayName: "Spammer", Reason: "raid", BannedBy: 1, IsPermanent: false, ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	require.NoError(t, repo.SaveEntry(ctx, e))
	assert.Error(repo.SaveEntry(ctx, e), "duplicate ban")

	entries, err := repo.LoadEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal("raid", entries[0].Reason)
	assert.False(entries[0].IsPermanent)
	assert.True(now.Add(time.Hour).Equal(entries[0].ExpiresAt))

	require.NoError(t, repo.DeleteExpiredEntry(ctx, 42, now.Add(30*time.Minute)))
	entries, err = repo.LoadEntries(ctx)
	require.NoError(t, err)
	assert.Len(entries, 1, "still running")

	require.NoError(t, repo.DeleteEntry(ctx, 42))
	entries, err = repo.LoadEntries(ctx)
	require.NoError(t, err)
	assert.Empty(entries)

	permanent := gban.Entry{UserID: 43, Reason: "scam", BannedBy: 1, IsPermanent: true, CreatedAt: now}
	require.NoError(t, repo.SaveEntry(ctx, permanent))
	require.NoError(t, repo.DeleteExpiredEntry(ctx, 43, now.Add(1000*time.Hour)))
	require.NoError(t, repo.SaveEntry(ctx, e))
	require.NoError(t, repo.DeleteExpiredEntry(ctx, 42, now.Add(2*time.Hour)))
	require.NoError(t, repo.SaveEntry(ctx, e), "expired row removed before a new ban")
	entries, err = repo.LoadEntries(ctx)
	require.NoError(t, err)
	assert.Len(entries, 2)
	require.NoError(t, repo.DeleteEntry(ctx, 42))
	require.NoError(t, repo.DeleteEntry(ctx, 43))

	require.NoError(t, repo.SaveAdmin(ctx, 7, 1))
	require.NoError(t, repo.SaveAdmin(ctx, 7, 2))
	admins, err := repo.LoadAdmins(ctx)
	require.NoError(t, err)
	assert.Equal([]int64{7}, admins)
	require.NoError(t, repo.DeleteAdmin(ctx, 7))

	require.NoError(t, repo.SaveSubscription(ctx, -10, 7))
	subs, err := repo.LoadSubscriptions(ctx)
	require.NoError(t, err)
	assert.Equal([]int64{-10}, subs)
	require.NoError(t, repo.DeleteSubscription(ctx, -10))
	subs, err = repo.LoadSubscriptions(ctx)
	require.NoError(t, err)
	assert.Empty(subs)
}

func TestPendingMsgRepository(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	repo := NewPendingMsgRepository(openTestDB(t))
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.SavePending(ctx, janitor.Deletion{ChatID: -1, MessageID: 2, DeleteAt: at.Add(time.Minute), Kind: "notice"}))
	require.NoError(t, repo.SavePending(ctx, janitor.Deletion{ChatID: -1, MessageID: 1, DeleteAt: at, Kind: "notice"}))
	require.NoError(t, repo.SavePending(ctx, janitor.Deletion{ChatID: -1, MessageID: 2, DeleteAt: at.Add(time.Hour), Kind: "welcome"}))

	pending, err := repo.LoadPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(1, pending[0].MessageID)
	assert.Equal("welcome", pending[1].Kind)

	require.NoError(t, repo.DeletePending(ctx, -1, 1))
	pending, err = repo.LoadPending(ctx)
	require.NoError(t, err)
	assert.Len(pending, 1)
}

func TestModerationLogRepository(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	repo := NewModerationLogRepository(openTestDB(t))
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, action := range []string{"warn", "warn", "mute", "ban"} {
		require.NoError(t, repo.Create(ctx, &models.ModerationLog{
			EventID: "e", GroupID: -1, UserID: 5, Action: action, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, repo.Create(ctx, &models.ModerationLog{GroupID: -2, UserID: 5, Action: "ban", CreatedAt: base}))

	recent, err := repo.Recent(ctx, -1, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal("ban", recent[0].Action)

	history, err := repo.ByUser(ctx, -1, 5)
	require.NoError(t, err)
	assert.Len(history, 4)

	counts, err := repo.CountByAction(ctx, -1, base)
	require.NoError(t, err)
	assert.Equal(map[string]int64{"warn": 2, "mute": 1, "ban": 1}, counts)

	removed, err := repo.Purge(ctx, base.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(int64(3), removed)
}

func TestKeywordAndWelcomeRepositories(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	db := openTestDB(t)

	keywords := NewKeywordRepository(db)
	k := filter.Keyword{GroupID: -1, Category: "promo", Word: "airdrop"}
	require.NoError(t, keywords.SaveKeyword(ctx, k))
	require.NoError(t, keywords.SaveKeyword(ctx, k))
	list, err := keywords.LoadKeywords(ctx)
	require.NoError(t, err)
	assert.Equal([]filter.Keyword{k}, list)
	require.NoError(t, keywords.DeleteKeyword(ctx, k))
	list, err = keywords.LoadKeywords(ctx)
	require.NoError(t, err)
	assert.Empty(list)

	welcome := NewWelcomeRepository(db)
	cfg, err := welcome.LoadWelcome(ctx, -1)
	require.NoError(t, err)
	assert.Nil(cfg)

	w := models.DefaultWelcomeConfig(-1)
	w.WelcomeEnabled = false
	w.FarewellDeleteAfter = 0
	require.NoError(t, welcome.SaveWelcome(ctx, w))
	cfg, err = welcome.LoadWelcome(ctx, -1)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.False(cfg.WelcomeEnabled)
	assert.Zero(cfg.FarewellDeleteAfter)
}

func TestVerificationRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewVerificationRepository(openTestDB(t))
	now := time.Now()

	require.NoError(t, repo.SaveRecord(ctx, verification.Record{
		GroupID: -1, UserID: 3, Kind: verification.KindButton, Outcome: verification.StateVerified,
		Attempts: 1, StartedAt: now.Add(-time.Minute), CompletedAt: now,
	}))
	rows, err := repo.Records(ctx, -1, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "verified", rows[0].Outcome)
	assert.Equal(t, "button", rows[0].Kind)
}

func TestRepositoryErrorsNameTheOperation(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewGBanRepository(db)
	e := gban.Entry{UserID: 9, Reason: "spam", IsPermanent: true, CreatedAt: time.Now()}
	require.NoError(t, repo.SaveEntry(ctx, e))

	err := repo.SaveEntry(ctx, e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gbanRepo.SaveEntry")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	_, err = repo.LoadAdmins(ctx)
	assert.ErrorContains(t, err, "gbanRepo.LoadAdmins")
}
