package moderation

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
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
	"tg-guardian/internal/scheduler"
	"tg-guardian/internal/service"
	"tg-guardian/internal/verification"
	"tg-guardian/internal/welcome"
)

const group int64 = -1001

var alice = gateway.User{ID: 10, FirstName: "Alice", HasAvatar: true}

type memAudit struct {
	mu      sync.Mutex
	entries []service.AuditEntry
}

func (a *memAudit) Record(_ context.Context, e service.AuditEntry) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return "id"
}

func (a *memAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	o        *Orchestrator
	gw       *gatewaytest.Recorder
	clock    *scheduler.Manual
	roles    *permission.Authority
	tracker  *behavior.Tracker
	verifier *verification.Machine
	bans     *gban.Registry
	settings *service.GroupService
	audit    *memAudit
	nextMsg  int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gw := gatewaytest.New()
	clock := scheduler.NewManual(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))
	f := &fixture{
		gw:       gw,
		clock:    clock,
		roles:    permission.NewAuthority(gw, nil, permission.Options{Now: clock.Now}),
		tracker:  behavior.NewTracker(behavior.Config{Now: clock.Now}),
		verifier: verification.NewMachine(gw, clock, nil, nil, verification.Config{Now: clock.Now, Rand: rand.New(rand.NewPCG(3, 4))}),
		bans:     gban.NewRegistry(gw, nil, nil, gban.Config{Now: clock.Now}),
		settings: service.NewGroupService(nil, nil),
		audit:    &memAudit{},
	}
	f.o = New(gw, Components{
		Roles:    f.roles,
		Tracker:  f.tracker,
		Verifier: f.verifier,
		Bans:     f.bans,
		Filter:   filter.New("", nil),
		Welcome:  welcome.New(gw, nil, nil),
		Settings: f.settings,
		Audit:    f.audit,
	}, Config{Now: clock.Now})
	return f
}

func (f *fixture) say(user gateway.User, text string) Verdict {
	f.nextMsg++
	return f.o.HandleMessage(context.Background(), Message{
		GroupID: group, ChatTitle: "Gophers", MessageID: f.nextMsg, Sender: user, Text: text,
	})
}

func (f *fixture) update(t *testing.T, fn func(*models.GroupSettings)) {
	t.Helper()
	_, err := f.settings.Update(context.Background(), group, fn)
	require.NoError(t, err)
}

func TestCleanMessageIsAllowedAndTracked(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)

	v := f.say(alice, "hello everyone")
	assert.Equal(DecisionAllow, v.Decision)
	assert.Zero(f.gw.Count("delete"))

	text, ok := f.o.TrackedText(group, f.nextMsg)
	assert.True(ok)
	assert.Equal("hello everyone", text)
}

func TestLockedGroupOnlyAdminsSpeak(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	f.update(t, func(g *models.GroupSettings) { g.Locked = true })
	admin := gateway.User{ID: 11, FirstName: "Root", HasAvatar: true}
	f.gw.SetStatus(group, admin.ID, gateway.StatusAdmin)

	assert.Equal(DecisionLocked, f.say(alice, "hello").Decision)
	assert.Equal(1, f.gw.Count("delete"))
	assert.Equal(DecisionAllow, f.say(admin, "hello").Decision)
	assert.Equal(1, f.gw.Count("delete"))
}

func TestLockTakesPrecedenceOverGlobalBan(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	_, err := f.bans.Ban(context.Background(), gban.BanRequest{UserID: alice.ID, Reason: "raid", Actor: gban.SystemActor})
	require.NoError(t, err)
	f.update(t, func(g *models.GroupSettings) { g.Locked = true })

	assert.Equal(DecisionLocked, f.say(alice, "hello").Decision)
	assert.Zero(f.gw.Count("ban"))
}

func TestGloballyBannedSenderIsRemoved(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	_, err := f.bans.Ban(context.Background(), gban.BanRequest{UserID: alice.ID, Reason: "raid", Actor: gban.SystemActor})
	require.NoError(t, err)

	v := f.say(alice, "hello")
	assert.Equal(DecisionGBanned, v.Decision)
	ban, ok := f.gw.Last("ban")
	require.True(t, ok)
	assert.Equal(group, ban.ChatID)
	assert.Equal(alice.ID, ban.UserID)
	assert.Equal(1, f.gw.Count("delete"))
	assert.Equal([]string{service.ActionGBanEnforce}, f.audit.actions())
}

func TestMutedMemberCannotSend(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	require.NoError(t, f.roles.Mute(context.Background(), group, alice.ID, permission.SystemActor, "test", 0))

	assert.Equal(DecisionNoPermission, f.say(alice, "hello").Decision)
	assert.Equal(1, f.gw.Count("delete"))

	f.nextMsg++
	v := f.o.HandleMessage(context.Background(), Message{GroupID: group, MessageID: f.nextMsg, Sender: alice, Kind: ContentSticker})
	assert.Equal(DecisionNoPermission, v.Decision)
}

func TestContentKindPermissions(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(permission.SendMessages, ContentText.Permission())
	assert.Equal(permission.SendMedia, ContentMedia.Permission())
	assert.Equal(permission.SendStickers, ContentSticker.Permission())
	assert.Equal(permission.SendPolls, ContentPoll.Permission())
}

func TestFloodMutesSender(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)

	for i := 0; i < 4; i++ {
		require.Equal(t, DecisionAllow, f.say(alice, "msg "+string(rune('a'+i))).Decision)
	}
	v := f.say(alice, "msg e")
	assert.Equal(DecisionSpam, v.Decision)
	assert.Equal(behavior.ActionMute, v.Action)
	assert.Contains(v.Reasons, "Flood detected")

	restrict, ok := f.gw.Last("restrict")
	require.True(t, ok)
	assert.Equal(gateway.NoPermissions, restrict.Perms)
	assert.True(f.clock.Now().Add(time.Hour).Equal(restrict.Until))
	assert.Equal(permission.RoleMuted, f.roles.ResolveRole(context.Background(), group, alice.ID))

	assert.Equal(DecisionNoPermission, f.say(alice, "msg f").Decision)

	f.clock.Advance(time.Hour + time.Second)
	assert.Equal(permission.RoleMember, f.roles.ResolveRole(context.Background(), group, alice.ID))
}

func TestFloodThresholdFollowsGroupSettings(t *testing.T) {
	f := newFixture(t)
	f.update(t, func(g *models.GroupSettings) { g.FloodThreshold = 2 })

	require.Equal(t, DecisionAllow, f.say(alice, "one").Decision)
	assert.Equal(t, DecisionSpam, f.say(alice, "two").Decision)
}

func TestRepeatedContentWarnsThenBans(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	const text = "buy cheap followers now"

	require.Equal(t, DecisionAllow, f.say(alice, text).Decision)
	for want := 1; want <= 2; want++ {
		f.clock.Advance(61 * time.Second)
		v := f.say(alice, text)
		require.Equal(t, DecisionSpam, v.Decision)
		assert.Equal(behavior.ActionWarn, v.Action)
		assert.Equal(want, f.tracker.Warnings(alice.ID))
		last, _ := f.gw.Last("send")
		assert.Contains(last.Text, "Warnings: ")
	}

	f.clock.Advance(61 * time.Second)
	v := f.say(alice, text)
	assert.Equal(behavior.ActionBan, v.Action)
	assert.Equal(1, f.gw.Count("ban"))
	assert.Zero(f.tracker.Warnings(alice.ID))
	assert.Equal([]string{service.ActionWarn, service.ActionWarn, service.ActionWarn, service.ActionBan}, f.audit.actions())
}

func TestPhishingLinkBans(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)

	v := f.say(alice, "claim here https://bit.ly/free")
	assert.Equal(DecisionSpam, v.Decision)
	assert.Equal(behavior.ActionBan, v.Action)
	assert.Equal(1, f.gw.Count("ban"))
	assert.Equal(1, f.gw.Count("delete"))
}

func TestAntiFloodDisabledSkipsScoring(t *testing.T) {
	f := newFixture(t)
	f.update(t, func(g *models.GroupSettings) { g.AntiFlood = false })

	assert.Equal(t, DecisionAllow, f.say(alice, "claim here https://bit.ly/free").Decision)
}

func TestFilteredKeywordIsRemoved(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)

	v := f.say(alice, "selling cocaine cheap")
	assert.Equal(DecisionFiltered, v.Decision)
	assert.Equal([]string{"drugs"}, v.Categories)
	assert.Equal(1, f.gw.Count("delete"))
	last, ok := f.gw.Last("send")
	require.True(t, ok)
	assert.Contains(last.Text, "prohibited content (drugs)")
	_, tracked := f.o.TrackedText(group, f.nextMsg)
	assert.False(tracked)

	f.update(t, func(g *models.GroupSettings) { g.TextFilter = false })
	assert.Equal(DecisionAllow, f.say(alice, "more cocaine talk").Decision)
}

func TestGatewayFailureDoesNotAbortSiblingSteps(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	f.gw.FailWith("delete", group, gateway.ErrPermissionDenied)

	v := f.say(alice, "selling cocaine cheap")
	assert.Equal(DecisionFiltered, v.Decision)
	assert.Equal(1, f.gw.Count("send"))
	assert.Equal([]string{service.ActionFilter}, f.audit.actions())
}

func TestNotificationsCanBeSilenced(t *testing.T) {
	f := newFixture(t)
	f.update(t, func(g *models.GroupSettings) { g.EnableNotification = false })

	assert.Equal(t, DecisionFiltered, f.say(alice, "selling cocaine cheap").Decision)
	assert.Zero(t, f.gw.Count("send"))
}

func TestEditsByMembersAreRemoved(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	require.Equal(t, DecisionAllow, f.say(alice, "original text").Decision)
	id := f.nextMsg

	v := f.o.HandleEdit(context.Background(), Edit{GroupID: group, MessageID: id, Sender: alice, Text: "edited text"})
	assert.Equal(DecisionEditRemoved, v.Decision)
	assert.Equal(1, f.gw.Count("delete"))
	require.Len(t, f.audit.entries, 1)
	assert.Equal("original text", f.audit.entries[0].OriginalMessage)
	assert.Equal("edited text", f.audit.entries[0].EditedMessage)
}

func TestAdminEditsAreFiltered(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	admin := gateway.User{ID: 12, FirstName: "Root", HasAvatar: true}
	f.gw.SetStatus(group, admin.ID, gateway.StatusAdmin)

	v := f.o.HandleEdit(context.Background(), Edit{GroupID: group, MessageID: 5, Sender: admin, Text: "fixed typo"})
	assert.Equal(DecisionAllow, v.Decision)
	text, ok := f.o.TrackedText(group, 5)
	assert.True(ok)
	assert.Equal("fixed typo", text)

	v = f.o.HandleEdit(context.Background(), Edit{GroupID: group, MessageID: 5, Sender: admin, Text: "now with porn"})
	assert.Equal(DecisionFiltered, v.Decision)
}

func TestEditMonitorDisabledRunsFilter(t *testing.T) {
	f := newFixture(t)
	f.update(t, func(g *models.GroupSettings) { g.EditMonitor = false })

	v := f.o.HandleEdit(context.Background(), Edit{GroupID: group, MessageID: 9, Sender: alice, Text: "harmless"})
	assert.Equal(t, DecisionAllow, v.Decision)
	v = f.o.HandleEdit(context.Background(), Edit{GroupID: group, MessageID: 9, Sender: alice, Text: "a nazi slogan"})
	assert.Equal(t, DecisionFiltered, v.Decision)
}

func join(f *fixture, u gateway.User) Verdict {
	return f.o.HandleMembership(context.Background(), MembershipEvent{GroupID: group, ChatTitle: "Gophers", User: u, Kind: Joined})
}

func TestJoinStartsVerification(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)

	assert.Equal(DecisionVerifying, join(f, alice).Decision)
	assert.True(f.verifier.IsPending(alice.ID))
	restrict, ok := f.gw.Last("restrict")
	require.True(t, ok)
	assert.Equal(gateway.NoPermissions, restrict.Perms)

	assert.Equal(DecisionVerifying, join(f, alice).Decision)
	assert.Equal(1, f.gw.Count("restrict"))
}

func TestJoinWithoutVerificationIsWelcomed(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	f.update(t, func(g *models.GroupSettings) { g.VerificationEnabled = false })

	assert.Equal(DecisionWelcomed, join(f, alice).Decision)
	last, ok := f.gw.Last("send")
	require.True(t, ok)
	assert.Contains(last.Text, "Welcome")
	assert.Contains(last.Text, "Gophers")
	assert.Zero(f.gw.Count("restrict"))
}

func TestGloballyBannedJoinSkipsVerification(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.bans.Subscribe(ctx, group, gban.SystemActor))
	_, err := f.bans.Ban(ctx, gban.BanRequest{UserID: alice.ID, Reason: "raid", Actor: gban.SystemActor})
	require.NoError(t, err)
	f.gw.Reset()

	assert.Equal(DecisionGBanned, join(f, alice).Decision)
	assert.Equal(1, f.gw.Count("ban"))
	assert.False(f.verifier.IsPending(alice.ID))
}

func TestBotsAreNotVerified(t *testing.T) {
	f := newFixture(t)
	bot := gateway.User{ID: 99, FirstName: "helper_bot", IsBot: true}

	assert.Equal(t, DecisionIgnored, join(f, bot).Decision)
	assert.Zero(t, f.gw.Count("restrict"))
}

func TestLeaveCancelsVerification(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	require.Equal(t, DecisionVerifying, join(f, alice).Decision)

	v := f.o.HandleMembership(context.Background(), MembershipEvent{GroupID: group, User: alice, Kind: Left})
	assert.Equal(DecisionIgnored, v.Decision)
	assert.False(f.verifier.IsPending(alice.ID))

	f.clock.Advance(10 * time.Minute)
	assert.Zero(f.gw.Count("ban"))
}

func TestLeavingAnotherGroupKeepsVerification(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	require.Equal(t, DecisionVerifying, join(f, alice).Decision)

	f.o.HandleMembership(context.Background(), MembershipEvent{GroupID: -2002, User: alice, Kind: Left})
	assert.True(f.verifier.IsPending(alice.ID))
	assert.Zero(f.gw.Count("delete"))

	f.clock.Advance(10 * time.Minute)
	assert.False(f.verifier.IsPending(alice.ID))
	ban, ok := f.gw.Last("ban")
	require.True(t, ok)
	assert.Equal(group, ban.ChatID)
}

func TestJoinElsewhereWhileVerifyingIsWelcomed(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	require.Equal(t, DecisionVerifying, join(f, alice).Decision)

	v := f.o.HandleMembership(context.Background(), MembershipEvent{GroupID: -2002, ChatTitle: "Rustaceans", User: alice, Kind: Joined})
	assert.Equal(DecisionWelcomed, v.Decision)
	assert.Equal(1, f.gw.Count("restrict"))
	session, ok := f.verifier.Session(alice.ID)
	require.True(t, ok)
	assert.Equal(group, session.GroupID)
}

func TestJoinLooksUpAvatar(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	f.update(t, func(g *models.GroupSettings) { g.VerificationEnabled = false })
	faceless := gateway.User{ID: 30, FirstName: "Bob", Username: "bob_123456", HasAvatar: true}
	f.gw.SetUser(gateway.User{ID: faceless.ID, FirstName: "Bob", Username: "bob_123456", HasAvatar: false})

	join(f, faceless)
	assert.Equal(1, f.gw.Count("user"))
	v := f.say(faceless, "hello")
	assert.Equal(DecisionSpam, v.Decision)
	require.NotEmpty(t, v.Reasons)
	assert.Contains(v.Reasons[0], "no profile photo")
	assert.Contains(v.Reasons[0], "numeric-heavy username")
}

func TestAvatarLookedUpOnceForExistingMembers(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	f.gw.SetUser(gateway.User{ID: alice.ID, FirstName: "Alice", HasAvatar: false})

	assert.Equal(DecisionAllow, f.say(alice, "hi").Decision)
	assert.Equal(DecisionAllow, f.say(alice, "how are you").Decision)
	assert.Equal(1, f.gw.Count("user"))
	p, ok := f.tracker.Profile(alice.ID)
	require.True(t, ok)
	require.NotNil(t, p.Identity)
	assert.False(p.Identity.HasAvatar)
}

func TestCorrectAnswerWelcomesUser(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ctx := context.Background()
	require.Equal(t, DecisionVerifying, join(f, alice).Decision)
	session, ok := f.verifier.Session(alice.ID)
	require.True(t, ok)

	res := f.o.HandleAnswer(ctx, alice.ID, strings.ToLower(session.Answer), "Gophers")
	assert.Equal(verification.OutcomeVerified, res.Outcome)
	restrict, _ := f.gw.Last("restrict")
	assert.Equal(gateway.SendPermissions, restrict.Perms)
	last, _ := f.gw.Last("send")
	assert.Contains(last.Text, "Welcome")
}

func TestThreeWrongAnswersBan(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)
	ctx := context.Background()
	require.Equal(t, DecisionVerifying, join(f, alice).Decision)

	for i := 0; i < 2; i++ {
		assert.Equal(verification.OutcomeRetry, f.o.HandleAnswer(ctx, alice.ID, "wrong", "").Outcome)
	}
	assert.Equal(verification.OutcomeFailed, f.o.HandleAnswer(ctx, alice.ID, "wrong", "").Outcome)
	assert.Equal(1, f.gw.Count("ban"))
	assert.Equal([]string{service.ActionBan}, f.audit.actions())
	assert.Equal(verification.OutcomeNoSession, f.o.HandleAnswer(ctx, alice.ID, "wrong", "").Outcome)
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{time.Hour, "1h"},
		{48 * time.Hour, "2d"},
		{90 * time.Minute, "90m"},
		{30 * time.Minute, "30m"},
		{36 * time.Hour, "36h"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, FormatDuration(c.in), c.in.String())
	}
}
