package permission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-guardian/internal/gateway"
	"tg-guardian/internal/gateway/gatewaytest"
	"tg-guardian/internal/scheduler"
)

const (
	group   int64 = -100
	owner   int64 = 1
	admin   int64 = 2
	trusted int64 = 3
	member  int64 = 4
	other   int64 = 5
)

type memStore struct {
	mu          sync.Mutex
	assignments map[memberKey]Assignment
	overrides   map[overrideKey]Override
	deleted     []memberKey
	failSave    error
}

func newMemStore() *memStore {
	return &memStore{assignments: map[memberKey]Assignment{}, overrides: map[overrideKey]Override{}}
}

func (s *memStore) LoadAssignments(context.Context) ([]Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Assignment
	for _, a := range s.assignments {
		out = append(out, a)
	}
	return out, nil
}

func (s *memStore) SaveAssignment(_ context.Context, a Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return s.failSave
	}
	s.assignments[memberKey{a.GroupID, a.UserID}] = a
	return nil
}

func (s *memStore) DeleteAssignment(_ context.Context, g, u int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assignments, memberKey{g, u})
	s.deleted = append(s.deleted, memberKey{g, u})
	return nil
}

func (s *memStore) LoadOverrides(context.Context) ([]Override, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Override
	for _, o := range s.overrides {
		out = append(out, o)
	}
	return out, nil
}

func (s *memStore) SaveOverride(_ context.Context, o Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[overrideKey{o.GroupID, o.Role, o.Permission}] = o
	return nil
}

func (s *memStore) DeleteOverride(_ context.Context, g int64, r Role, p Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, overrideKey{g, r, p})
	return nil
}

func setup(t *testing.T) (*Authority, *gatewaytest.Recorder, *memStore, *scheduler.Manual) {
	t.Helper()
	gw := gatewaytest.New()
	gw.SetStatus(group, owner, gateway.StatusOwner)
	gw.SetStatus(group, admin, gateway.StatusAdmin)
	gw.SetStatus(group, member, gateway.StatusMember)
	gw.SetStatus(group, other, gateway.StatusMember)
	store := newMemStore()
	clock := scheduler.NewManual(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	a := NewAuthority(gw, store, Options{Now: clock.Now})
	require.NoError(t, a.SetRole(context.Background(), group, trusted, RoleTrusted, SystemActor, "seed", 0))
	return a, gw, store, clock
}

func TestDerive(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(RoleOwner, Derive(gateway.StatusOwner))
	assert.Equal(RoleAdmin, Derive(gateway.StatusAdmin))
	assert.Equal(RoleMuted, Derive(gateway.StatusRestricted))
	assert.Equal(RoleBanned, Derive(gateway.StatusBanned))
	assert.Equal(RoleMember, Derive(gateway.StatusMember))
	assert.Equal(RoleMember, Derive(gateway.StatusLeft))
}

func TestRoleOrdering(t *testing.T) {
	assert := assert.New(t)
	assert.True(RoleOwner.Outranks(RoleAdmin))
	assert.True(RoleMember.Outranks(RoleMuted))
	assert.True(RoleMuted.Outranks(RoleBanned))
	assert.False(RoleTrusted.Outranks(RoleTrusted))

	r, err := ParseRole(" Admin ")
	assert.NoError(err)
	assert.Equal(RoleAdmin, r)
	_, err = ParseRole("emperor")
	assert.Error(err)
	assert.Equal("role(9)", Role(9).String())
}

func TestResolveRoleCachesDerivedRole(t *testing.T) {
	assert := assert.New(t)
	a, gw, _, _ := setup(t)
	ctx := context.Background()

	assert.Equal(RoleAdmin, a.ResolveRole(ctx, group, admin))
	assert.Equal(RoleAdmin, a.ResolveRole(ctx, group, admin))
	assert.Equal(1, gw.Count("status"))

	a.Invalidate(group, admin)
	gw.SetStatus(group, admin, gateway.StatusMember)
	assert.Equal(RoleMember, a.ResolveRole(ctx, group, admin))
	assert.Equal(2, gw.Count("status"))
}

func TestResolveRoleFallsBackToMemberOnGatewayError(t *testing.T) {
	a, gw, _, _ := setup(t)
	gw.FailWith("status", group, errors.New("timeout"))
	assert.Equal(t, RoleMember, a.ResolveRole(context.Background(), group, other))
}

func TestExpiredAssignmentIsNeverReturned(t *testing.T) {
	assert := assert.New(t)
	a, _, store, clock := setup(t)
	ctx := context.Background()

	require.NoError(t, a.Mute(ctx, group, member, SystemActor, "flood", time.Hour))
	assert.Equal(RoleMuted, a.ResolveRole(ctx, group, member))

	clock.Advance(time.Hour + time.Second)
	assert.Equal(RoleMember, a.ResolveRole(ctx, group, member))
	assert.Contains(store.deleted, memberKey{group, member})
	assert.Empty(a.UsersByRole(group, RoleMuted))
}

func TestExpiryExactlyAtDeadline(t *testing.T) {
	a, _, _, clock := setup(t)
	ctx := context.Background()

	require.NoError(t, a.Mute(ctx, group, member, SystemActor, "", time.Minute))
	clock.Advance(time.Minute)
	assert.Equal(t, RoleMember, a.ResolveRole(ctx, group, member))
}

func TestCanModify(t *testing.T) {
	assert := assert.New(t)
	a, _, _, _ := setup(t)
	ctx := context.Background()

	assert.True(a.CanModify(ctx, group, owner, admin))
	assert.True(a.CanModify(ctx, group, admin, trusted))
	assert.True(a.CanModify(ctx, group, trusted, member))
	assert.False(a.CanModify(ctx, group, trusted, admin))
	assert.False(a.CanModify(ctx, group, member, other))
	assert.False(a.CanModify(ctx, group, admin, admin))
	assert.True(a.CanModify(ctx, group, SystemActor, owner))

	require.NoError(t, a.SetRole(ctx, group, other, RoleTrusted, owner, "", 0))
	assert.False(a.CanModify(ctx, group, trusted, other))
}

func TestSetRoleHierarchy(t *testing.T) {
	assert := assert.New(t)
	a, _, _, _ := setup(t)
	ctx := context.Background()

	err := a.SetRole(ctx, group, member, RoleOwner, admin, "", 0)
	assert.ErrorIs(err, ErrCannotModify)

	err = a.Mute(ctx, group, owner, admin, "", 0)
	assert.ErrorIs(err, ErrCannotModify)

	err = a.SetRole(ctx, group, admin, RoleMember, trusted, "", 0)
	assert.ErrorIs(err, ErrCannotModify)

	err = a.SetRole(ctx, group, member, RoleTrusted, member, "", 0)
	assert.ErrorIs(err, ErrCannotModify)

	assert.ErrorIs(a.SetRole(ctx, group, member, Role(7), owner, "", 0), ErrInvalidRole)

	assert.NoError(a.Mute(ctx, group, member, trusted, "spam", 0))
	assert.Equal(RoleMuted, a.ResolveRole(ctx, group, member))
}

func TestRestoringToMemberSkipsHierarchy(t *testing.T) {
	a, gw, _, _ := setup(t)
	ctx := context.Background()
	gw.SetStatus(group, other, gateway.StatusRestricted)

	require.NoError(t, a.Mute(ctx, group, member, SystemActor, "", 0))
	// a muted actor cannot normally modify anyone, but restoring is allowed
	assert.NoError(t, a.SetRole(ctx, group, other, RoleMember, member, "", 0))
	assert.Equal(t, RoleMember, a.ResolveRole(ctx, group, other))
}

func TestPromoteDemoteTransitions(t *testing.T) {
	assert := assert.New(t)
	a, _, _, _ := setup(t)
	ctx := context.Background()

	assert.NoError(a.Promote(ctx, group, member, admin, "helpful"))
	assert.Equal(RoleTrusted, a.ResolveRole(ctx, group, member))
	assert.ErrorIs(a.Promote(ctx, group, member, admin, ""), ErrIllegalTransition)

	assert.NoError(a.Demote(ctx, group, member, admin, ""))
	assert.Equal(RoleMember, a.ResolveRole(ctx, group, member))
	assert.ErrorIs(a.Demote(ctx, group, member, admin, ""), ErrIllegalTransition)

	assert.ErrorIs(a.Demote(ctx, group, admin, trusted, ""), ErrCannotModify)
	assert.NoError(a.Demote(ctx, group, admin, owner, ""))
	assert.Equal(RoleMember, a.ResolveRole(ctx, group, admin))

	assert.ErrorIs(a.Unmute(ctx, group, other, admin), ErrIllegalTransition)
}

func TestMuteUnmute(t *testing.T) {
	assert := assert.New(t)
	a, _, store, _ := setup(t)
	ctx := context.Background()

	assert.NoError(a.Mute(ctx, group, other, admin, "rude", 2*time.Hour))
	assert.Equal([]int64{other}, a.UsersByRole(group, RoleMuted))
	info := a.RoleInfo(ctx, group, other)
	assert.True(info.Explicit)
	assert.Equal("rude", info.Assignment.Reason)
	assert.Empty(info.Permissions)

	assert.NoError(a.Unmute(ctx, group, other, admin))
	assert.Equal(RoleMember, a.ResolveRole(ctx, group, other))
	_, persisted := store.assignments[memberKey{group, other}]
	assert.False(persisted)
}

func TestSetRolePersistFailureLeavesStateUnchanged(t *testing.T) {
	a, _, store, _ := setup(t)
	ctx := context.Background()
	store.failSave = errors.New("db down")

	err := a.SetRole(ctx, group, member, RoleTrusted, admin, "", 0)
	assert.Error(t, err)
	assert.Equal(t, RoleMember, a.ResolveRole(ctx, group, member))
}

func TestHasPermission(t *testing.T) {
	assert := assert.New(t)
	a, _, _, _ := setup(t)
	ctx := context.Background()

	assert.True(a.HasPermission(ctx, group, member, SendMessages))
	assert.False(a.HasPermission(ctx, group, member, DeleteMessages))
	assert.True(a.HasPermission(ctx, group, admin, DeleteMessages))
	assert.False(a.HasPermission(ctx, group, admin, GlobalBan))
	assert.True(a.HasPermission(ctx, group, owner, GlobalBan))
	assert.True(a.HasPermission(ctx, group, trusted, InviteUsers))
	assert.False(a.HasPermission(ctx, group, member, InviteUsers))
	assert.False(a.HasPermission(ctx, group, owner, Permission("fly")))

	require.NoError(t, a.Mute(ctx, group, other, SystemActor, "", 0))
	assert.False(a.HasPermission(ctx, group, other, SendMessages))
}

func TestOverrides(t *testing.T) {
	assert := assert.New(t)
	a, _, store, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, a.SetOverride(ctx, group, RoleMember, SendMedia, false, owner))
	require.NoError(t, a.SetOverride(ctx, group, RoleTrusted, PinMessages, true, owner))
	// an override equal to the default changes nothing
	require.NoError(t, a.SetOverride(ctx, group, RoleAdmin, BanUsers, true, owner))

	assert.False(a.HasPermission(ctx, group, member, SendMedia))
	assert.True(a.HasPermission(ctx, group, member, SendMessages))
	assert.True(a.HasPermission(ctx, group, trusted, PinMessages))
	assert.True(a.HasPermission(ctx, group, admin, BanUsers))
	assert.True(a.HasPermission(ctx, -200, member, SendMedia))
	assert.Len(a.Overrides(group), 3)
	assert.Len(store.overrides, 3)

	perms := a.RolePermissions(group, RoleMember)
	assert.False(perms[SendMedia])
	assert.True(perms[SendStickers])

	require.NoError(t, a.ClearOverride(ctx, group, RoleMember, SendMedia))
	assert.True(a.HasPermission(ctx, group, member, SendMedia))

	assert.ErrorIs(a.SetOverride(ctx, group, RoleMember, Permission("fly"), true, owner), ErrUnknownPermission)
	assert.ErrorIs(a.ClearOverride(ctx, group, RoleMember, Permission("fly")), ErrUnknownPermission)
}

func TestLoadDropsExpiredAssignments(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	store.assignments[memberKey{group, member}] = Assignment{GroupID: group, UserID: member, Role: RoleMuted, ExpiresAt: start.Add(-time.Minute)}
	store.assignments[memberKey{group, other}] = Assignment{GroupID: group, UserID: other, Role: RoleTrusted}
	store.overrides[overrideKey{group, RoleMember, SendPolls}] = Override{GroupID: group, Role: RoleMember, Permission: SendPolls}

	a := NewAuthority(gatewaytest.New(), store, Options{Now: func() time.Time { return start }})
	require.NoError(t, a.Load(ctx))

	assert.Equal(RoleMember, a.ResolveRole(ctx, group, member))
	assert.Equal(RoleTrusted, a.ResolveRole(ctx, group, other))
	assert.False(a.HasPermission(ctx, group, member, SendPolls))
	assert.Contains(store.deleted, memberKey{group, member})
}

func TestCleanupExpired(t *testing.T) {
	assert := assert.New(t)
	a, _, _, clock := setup(t)
	ctx := context.Background()

	require.NoError(t, a.Mute(ctx, group, member, SystemActor, "", time.Minute))
	require.NoError(t, a.Mute(ctx, group, other, SystemActor, "", time.Hour))

	clock.Advance(2 * time.Minute)
	assert.Equal(1, a.CleanupExpired(ctx))
	assert.Equal([]int64{other}, a.UsersByRole(group, RoleMuted))
	assert.Equal(0, a.CleanupExpired(ctx))
}

func TestConcurrentResolveAndCleanup(t *testing.T) {
	a, _, _, clock := setup(t)
	ctx := context.Background()
	require.NoError(t, a.Mute(ctx, group, member, SystemActor, "", time.Second))
	clock.Advance(2 * time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.Equal(t, RoleMember, a.ResolveRole(ctx, group, member))
		}()
		go func() {
			defer wg.Done()
			a.CleanupExpired(ctx)
		}()
	}
	wg.Wait()
}
