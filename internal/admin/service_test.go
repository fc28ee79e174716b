package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-guardian/internal/behavior"
	"tg-guardian/internal/filter"
	"tg-guardian/internal/gateway"
	"tg-guardian/internal/gateway/gatewaytest"
	"tg-guardian/internal/gban"
	"tg-guardian/internal/models"
	"tg-guardian/internal/permission"
	"tg-guardian/internal/service"
	"tg-guardian/internal/welcome"
)

const (
	group       int64 = -2001
	owner       int64 = 1
	moderator   int64 = 2
	member      int64 = 3
	other       int64 = 4
	globalAdmin int64 = 500
	trustedPeer int64 = 6
)

type fixture struct {
	svc     *Service
	gw      *gatewaytest.Recorder
	roles   *permission.Authority
	tracker *behavior.Tracker
	bans    *gban.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gw := gatewaytest.New()
	gw.SetStatus(group, owner, gateway.StatusOwner)
	gw.SetStatus(group, moderator, gateway.StatusAdmin)
	roles := permission.NewAuthority(gw, nil, permission.Options{})
	tracker := behavior.NewTracker(behavior.Config{})
	bans := gban.NewRegistry(gw, nil, nil, gban.Config{Admins: []int64{globalAdmin}})
	svc := New(Deps{
		Gateway:  gw,
		Settings: service.NewGroupService(nil, nil),
		Roles:    roles,
		Tracker:  tracker,
		Filter:   filter.New("", nil),
		Bans:     bans,
		Welcome:  welcome.New(gw, nil, nil),
		Audit:    service.NewAuditLog(nil),
	}, 3)
	return &fixture{svc: svc, gw: gw, roles: roles, tracker: tracker, bans: bans}
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Duration
		invalid bool
	}{
		{"", time.Hour, false},
		{"30m", 30 * time.Minute, false},
		{"12h", 12 * time.Hour, false},
		{"7D", 7 * 24 * time.Hour, false},
		{" 2h ", 2 * time.Hour, false},
		{"0h", 0, true},
		{"1w", 0, true},
		{"soon", 0, true},
		{"-5m", 0, true},
		{"106751d", 106751 * 24 * time.Hour, false},
		{"200000d", 0, true},
		{"99999999999999999999m", 0, true},
	}
	for _, c := range cases {
		got, err := ParseDuration(c.in)
		if c.invalid {
			assert.ErrorIs(t, err, ErrInvalidInput, c.in)
			continue
		}
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestTogglesRequireManageSettings(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SetToggle(ctx, group, member, ToggleAntiFlood, false)
	assert.ErrorIs(err, ErrForbidden)
	assert.True(f.svc.Settings(ctx, group).AntiFlood)

	g, err := f.svc.SetToggle(ctx, group, moderator, ToggleAntiFlood, false)
	require.NoError(t, err)
	assert.False(g.AntiFlood)
	assert.False(ToggleValue(f.svc.Settings(ctx, group), ToggleAntiFlood))

	_, err = f.svc.SetToggle(ctx, group, moderator, "nonsense", true)
	assert.ErrorIs(err, ErrInvalidInput)

	assert.Len(Toggles(), 7)
}

func TestThresholdKindAndLanguage(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SetFloodThreshold(ctx, group, moderator, 0)
	assert.ErrorIs(err, ErrInvalidInput)
	g, err := f.svc.SetFloodThreshold(ctx, group, moderator, 8)
	require.NoError(t, err)
	assert.Equal(8, g.FloodThreshold)

	_, err = f.svc.SetCaptchaKind(ctx, group, moderator, "riddle")
	assert.ErrorIs(err, ErrInvalidInput)
	g, err = f.svc.SetCaptchaKind(ctx, group, moderator, "MATH")
	require.NoError(t, err)
	assert.Equal("math", g.CaptchaKind)

	_, err = f.svc.SetLanguage(ctx, group, moderator, "xx")
	assert.ErrorIs(err, ErrInvalidInput)
	g, err = f.svc.SetLanguage(ctx, group, moderator, models.LangTraditionalChinese)
	require.NoError(t, err)
	assert.Equal(models.LangTraditionalChinese, g.Language)
}

func TestLockAndUnlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.SetLocked(ctx, group, member, true), ErrForbidden)
	require.NoError(t, f.svc.SetLocked(ctx, group, moderator, true))
	assert.True(t, f.svc.Settings(ctx, group).Locked)
	require.NoError(t, f.svc.SetLocked(ctx, group, moderator, false))
	assert.False(t, f.svc.Settings(ctx, group).Locked)
}

func TestWarnUpToBan(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Warn(ctx, group, member, other, "rude")
	assert.ErrorIs(err, ErrForbidden)
	_, err = f.svc.Warn(ctx, group, moderator, owner, "rude")
	assert.ErrorIs(err, permission.ErrCannotModify)

	for i := 1; i <= 2; i++ {
		res, err := f.svc.Warn(ctx, group, moderator, member, "rude")
		require.NoError(t, err)
		assert.Equal(i, res.Count)
		assert.False(res.Banned)
	}
	res, err := f.svc.Warn(ctx, group, moderator, member, "rude")
	require.NoError(t, err)
	assert.True(res.Banned)
	assert.Equal(1, f.gw.Count("ban"))
	assert.Zero(f.tracker.Warnings(member))

	_, err = f.svc.Warn(ctx, group, moderator, other, "spam")
	require.NoError(t, err)
	require.NoError(t, f.svc.ClearWarnings(ctx, group, moderator, other))
	assert.Zero(f.tracker.Warnings(other))
}

func TestMuteAndUnmute(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Mute(ctx, group, moderator, member, "forever", "")
	assert.ErrorIs(err, ErrInvalidInput)
	assert.Zero(f.gw.Count("restrict"))

	_, err = f.svc.Mute(ctx, group, member, other, "1h", "")
	assert.ErrorIs(err, ErrForbidden)

	d, err := f.svc.Mute(ctx, group, moderator, member, "2h", "spam")
	require.NoError(t, err)
	assert.Equal(2*time.Hour, d)
	assert.Equal(permission.RoleMuted, f.roles.ResolveRole(ctx, group, member))
	restrict, ok := f.gw.Last("restrict")
	require.True(t, ok)
	assert.Equal(gateway.NoPermissions, restrict.Perms)

	require.NoError(t, f.svc.Unmute(ctx, group, moderator, member))
	assert.Equal(permission.RoleMember, f.roles.ResolveRole(ctx, group, member))
	restrict, _ = f.gw.Last("restrict")
	assert.Equal(gateway.SendPermissions, restrict.Perms)

	assert.ErrorIs(f.svc.Unmute(ctx, group, moderator, member), permission.ErrIllegalTransition)
}

func TestPromoteDemote(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Promote(ctx, group, moderator, trustedPeer))
	assert.Equal(permission.RoleTrusted, f.svc.RoleInfo(ctx, group, trustedPeer).Role)
	assert.ErrorIs(f.svc.Promote(ctx, group, moderator, trustedPeer), permission.ErrIllegalTransition)
	assert.ErrorIs(f.svc.Promote(ctx, group, trustedPeer, member), ErrForbidden)

	require.NoError(t, f.svc.Demote(ctx, group, moderator, trustedPeer))
	assert.Equal(permission.RoleMember, f.svc.RoleInfo(ctx, group, trustedPeer).Role)
}

func TestOverrides(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(f.svc.SetOverride(ctx, group, moderator, "member", "send_polls", false), ErrForbidden)
	assert.ErrorIs(f.svc.SetOverride(ctx, group, owner, "wizard", "send_polls", false), ErrInvalidInput)
	assert.ErrorIs(f.svc.SetOverride(ctx, group, owner, "member", "fly", false), ErrInvalidInput)

	require.NoError(t, f.svc.SetOverride(ctx, group, owner, "Member", "send_polls", false))
	assert.False(f.roles.HasPermission(ctx, group, member, permission.SendPolls))
	require.Len(t, f.svc.Overrides(group), 1)

	require.NoError(t, f.svc.ClearOverride(ctx, group, owner, "member", "send_polls"))
	assert.True(f.roles.HasPermission(ctx, group, member, permission.SendPolls))
	assert.Empty(f.svc.Overrides(group))
}

func TestKeywordCRUD(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddKeyword(ctx, group, member, "promo", "airdrop")
	assert.ErrorIs(err, ErrForbidden)
	_, err = f.svc.AddKeyword(ctx, group, moderator, "", "airdrop")
	assert.ErrorIs(err, ErrInvalidInput)

	added, err := f.svc.AddKeyword(ctx, group, moderator, "promo", "airdrop")
	require.NoError(t, err)
	assert.True(added)
	assert.Equal(map[string][]string{"promo": {"airdrop"}}, f.svc.Keywords(group))

	removed, err := f.svc.RemoveKeyword(ctx, group, moderator, "promo", "airdrop")
	require.NoError(t, err)
	assert.True(removed)

	_, err = f.svc.AddKeyword(ctx, filter.Global, owner, "promo", "airdrop")
	assert.ErrorIs(err, ErrForbidden)
}

func TestGlobalBans(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GBan(ctx, moderator, member, "raid", "", "")
	assert.ErrorIs(err, gban.ErrNotAuthorized)

	_, err = f.svc.GBan(ctx, globalAdmin, member, "raid", "someday", "")
	assert.ErrorIs(err, ErrInvalidInput)

	require.NoError(t, f.svc.SetSubscribed(ctx, group, moderator, true))
	report, err := f.svc.GBan(ctx, globalAdmin, member, "", "1d", "")
	require.NoError(t, err)
	assert.Equal(1, report.Banned)

	stats := f.svc.GBanStats()
	assert.Equal(1, stats.Total)
	assert.Equal(1, stats.Temporary)
	hits := f.svc.SearchGBans("No reason")
	require.Len(t, hits, 1)
	assert.Equal(member, hits[0].UserID)

	require.NoError(t, f.svc.UnGBan(ctx, globalAdmin, member))
	assert.ErrorIs(f.svc.UnGBan(ctx, globalAdmin, member), gban.ErrNotBanned)

	assert.ErrorIs(f.svc.AddGBanAdmin(ctx, moderator, other), gban.ErrNotAuthorized)
	require.NoError(t, f.svc.AddGBanAdmin(ctx, globalAdmin, other))
	assert.True(f.bans.IsAdmin(other))
	require.NoError(t, f.svc.RemoveGBanAdmin(ctx, globalAdmin, other))
	assert.False(f.bans.IsAdmin(other))
}

func TestWelcomeTemplates(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SetWelcome(ctx, group, moderator, "  ")
	assert.ErrorIs(err, ErrInvalidInput)
	_, err = f.svc.SetWelcome(ctx, group, member, "Hi {first_name}")
	assert.ErrorIs(err, ErrForbidden)

	cfg, err := f.svc.SetWelcome(ctx, group, moderator, "Hi {first_name}")
	require.NoError(t, err)
	assert.Equal("Hi {first_name}", cfg.WelcomeMessage)

	cfg, err = f.svc.SetFarewell(ctx, group, moderator, "Bye {first_name}")
	require.NoError(t, err)
	assert.True(cfg.FarewellEnabled)

	cfg, err = f.svc.SetGreetings(ctx, group, moderator, false, false)
	require.NoError(t, err)
	assert.False(cfg.WelcomeEnabled)
	assert.False(cfg.FarewellEnabled)

	cfg, err = f.svc.SetWelcomeDeleteAfter(ctx, group, moderator, "5m")
	require.NoError(t, err)
	assert.Equal(300, cfg.WelcomeDeleteAfter)
	cfg, err = f.svc.SetWelcomeDeleteAfter(ctx, group, moderator, "0")
	require.NoError(t, err)
	assert.Zero(cfg.WelcomeDeleteAfter)

	assert.Equal("Bye {first_name}", f.svc.WelcomeConfig(ctx, group).FarewellMessage)
}

func TestErrorsWrapSentinels(t *testing.T) {
	_, err := ParseDuration("x")
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.False(t, errors.Is(err, ErrForbidden))
}
