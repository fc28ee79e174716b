// Package permission resolves a member's role in a group and answers
// capability checks against a static catalog plus per-group overrides.
package permission

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"tg-guardian/internal/gateway"
	"tg-guardian/internal/logger"
)

var (
	ErrCannotModify      = errors.New("actor does not outrank target")
	ErrIllegalTransition = errors.New("illegal role transition")
	ErrUnknownPermission = errors.New("unknown permission")
	ErrInvalidRole       = errors.New("invalid role")
)

// SystemActor is the actor ID used for automatic actions; it bypasses the
// hierarchy check.
const SystemActor int64 = 0

// Assignment is an explicit role for a member. A zero ExpiresAt never expires.
type Assignment struct {
	GroupID    int64
	UserID     int64
	Role       Role
	AssignedBy int64
	AssignedAt time.Time
	ExpiresAt  time.Time
	Reason     string
}

// Expired reports whether the assignment is no longer in force at now.
func (a Assignment) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && !now.Before(a.ExpiresAt)
}

// Override replaces the default grant of Permission for Role in a group.
type Override struct {
	GroupID    int64
	Role       Role
	Permission Permission
	Granted    bool
	UpdatedBy  int64
}

// Store persists assignments and overrides.
type Store interface {
	LoadAssignments(ctx context.Context) ([]Assignment, error)
	SaveAssignment(ctx context.Context, a Assignment) error
	DeleteAssignment(ctx context.Context, groupID, userID int64) error
	LoadOverrides(ctx context.Context) ([]Override, error)
	SaveOverride(ctx context.Context, o Override) error
	DeleteOverride(ctx context.Context, groupID int64, role Role, p Permission) error
}

// MemberSource reports platform membership status.
type MemberSource interface {
	MemberStatus(ctx context.Context, chatID, userID int64) (gateway.MemberStatus, error)
}

type Options struct {
	// DerivedTTL bounds how long a role derived from membership status is cached.
	DerivedTTL  time.Duration
	DerivedSize int
	Now         func() time.Time
}

type memberKey struct {
	group int64
	user  int64
}

type overrideKey struct {
	group int64
	role  Role
	perm  Permission
}

// Authority owns role assignments, the derived-role cache and permission
// overrides. Explicit assignments always win over derived roles.
type Authority struct {
	members MemberSource
	store   Store
	now     func() time.Time

	mu          sync.Mutex
	assignments map[memberKey]Assignment
	overrides   map[overrideKey]Override
	derived     *expirable.LRU[memberKey, Role]
}

func NewAuthority(members MemberSource, store Store, opts Options) *Authority {
	if opts.DerivedTTL <= 0 {
		opts.DerivedTTL = 10 * time.Minute
	}
	if opts.DerivedSize <= 0 {
		opts.DerivedSize = 10000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Authority{
		members:     members,
		store:       store,
		now:         opts.Now,
		assignments: make(map[memberKey]Assignment),
		overrides:   make(map[overrideKey]Override),
		derived:     expirable.NewLRU[memberKey, Role](opts.DerivedSize, nil, opts.DerivedTTL),
	}
}

// Load restores assignments and overrides from the store, dropping
// assignments that expired while the process was down.
func (a *Authority) Load(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	assignments, err := a.store.LoadAssignments(ctx)
	if err != nil {
		return fmt.Errorf("load role assignments: %w", err)
	}
	overrides, err := a.store.LoadOverrides(ctx)
	if err != nil {
		return fmt.Errorf("load permission overrides: %w", err)
	}

	now := a.now()
	var stale []Assignment
	a.mu.Lock()
	for _, asg := range assignments {
		if asg.Expired(now) {
			stale = append(stale, asg)
			continue
		}
		a.assignments[memberKey{asg.GroupID, asg.UserID}] = asg
	}
	for _, o := range overrides {
		a.overrides[overrideKey{o.GroupID, o.Role, o.Permission}] = o
	}
	a.mu.Unlock()

	for _, asg := range stale {
		a.forget(ctx, memberKey{asg.GroupID, asg.UserID})
	}
	logger.Infof("Loaded %d role assignments and %d permission overrides", len(assignments)-len(stale), len(overrides))
	return nil
}

// Derive maps a platform member status to a role.
func Derive(status gateway.MemberStatus) Role {
	switch status {
	case gateway.StatusOwner:
		return RoleOwner
	case gateway.StatusAdmin:
		return RoleAdmin
	case gateway.StatusRestricted:
		return RoleMuted
	case gateway.StatusBanned:
		return RoleBanned
	default:
		return RoleMember
	}
}

// ResolveRole returns the member's effective role. An expired assignment is
// purged before the lookup, so it is never returned.
func (a *Authority) ResolveRole(ctx context.Context, groupID, userID int64) Role {
	k := memberKey{groupID, userID}
	if role, ok := a.lookup(ctx, k); ok {
		return role
	}
	if a.members == nil {
		return RoleMember
	}

	status, err := a.members.MemberStatus(ctx, groupID, userID)
	if err != nil {
		logger.Warningf("Error getting member status of user %d in chat %d: %v", userID, groupID, err)
		return RoleMember
	}
	role := Derive(status)

	a.mu.Lock()
	defer a.mu.Unlock()
	// an assignment may have been written while the status call was in flight
	if asg, ok := a.assignments[k]; ok && !asg.Expired(a.now()) {
		return asg.Role
	}
	a.derived.Add(k, role)
	return role
}

func (a *Authority) lookup(ctx context.Context, k memberKey) (Role, bool) {
	a.mu.Lock()
	asg, ok := a.assignments[k]
	expired := ok && asg.Expired(a.now())
	if expired {
		delete(a.assignments, k)
		a.derived.Remove(k)
	} else if ok {
		a.mu.Unlock()
		return asg.Role, true
	}
	role, cached := a.derived.Get(k)
	a.mu.Unlock()

	if expired {
		logger.Infof("Role %s of user %d in chat %d expired", asg.Role, k.user, k.group)
		a.forget(ctx, k)
	}
	return role, cached
}

func (a *Authority) forget(ctx context.Context, k memberKey) {
	if a.store == nil {
		return
	}
	if err := a.store.DeleteAssignment(ctx, k.group, k.user); err != nil {
		logger.Warningf("Failed to delete expired role assignment of user %d in chat %d: %v", k.user, k.group, err)
	}
}

// Invalidate drops the cached derived role, e.g. after a membership change.
func (a *Authority) Invalidate(groupID, userID int64) {
	a.derived.Remove(memberKey{groupID, userID})
}

// CanModify reports whether actor strictly outranks target.
func (a *Authority) CanModify(ctx context.Context, groupID, actor, target int64) bool {
	if actor == SystemActor {
		return true
	}
	if actor == target {
		return false
	}
	return a.ResolveRole(ctx, groupID, actor).Outranks(a.ResolveRole(ctx, groupID, target))
}

// SetRole writes an explicit assignment. Unless actor is SystemActor it must
// outrank both the target's current role and the role being granted; lifting
// a member below Member back to Member only needs the permission check done
// by the caller. A positive duration makes the assignment expire.
func (a *Authority) SetRole(ctx context.Context, groupID, userID int64, role Role, actor int64, reason string, duration time.Duration) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidRole, int(role))
	}
	if actor != SystemActor {
		if actor == userID {
			return ErrCannotModify
		}
		actorRole := a.ResolveRole(ctx, groupID, actor)
		current := a.ResolveRole(ctx, groupID, userID)
		restoring := role == RoleMember && current.Rank() < RoleMember.Rank()
		if !restoring && (!actorRole.Outranks(current) || !actorRole.Outranks(role)) {
			return fmt.Errorf("%w: %s cannot set %s on %s", ErrCannotModify, actorRole, role, current)
		}
	}

	now := a.now()
	asg := Assignment{
		GroupID:    groupID,
		UserID:     userID,
		Role:       role,
		AssignedBy: actor,
		AssignedAt: now,
		Reason:     reason,
	}
	if duration > 0 {
		asg.ExpiresAt = now.Add(duration)
	}

	if a.store != nil {
		if err := a.store.SaveAssignment(ctx, asg); err != nil {
			return fmt.Errorf("persist role assignment: %w", err)
		}
	}

	k := memberKey{groupID, userID}
	a.mu.Lock()
	a.assignments[k] = asg
	a.derived.Remove(k)
	a.mu.Unlock()

	logger.Infof("User %d set role of user %d in chat %d to %s (expires: %v, reason: %q)",
		actor, userID, groupID, role, asg.ExpiresAt, reason)
	return nil
}

// RemoveRole deletes an explicit assignment so the role derives from status again.
func (a *Authority) RemoveRole(ctx context.Context, groupID, userID, actor int64) error {
	if !a.CanModify(ctx, groupID, actor, userID) {
		return ErrCannotModify
	}
	k := memberKey{groupID, userID}
	if a.store != nil {
		if err := a.store.DeleteAssignment(ctx, groupID, userID); err != nil {
			return fmt.Errorf("delete role assignment: %w", err)
		}
	}
	a.mu.Lock()
	delete(a.assignments, k)
	a.derived.Remove(k)
	a.mu.Unlock()
	return nil
}

// Promote moves a Member to Trusted.
func (a *Authority) Promote(ctx context.Context, groupID, userID, actor int64, reason string) error {
	if current := a.ResolveRole(ctx, groupID, userID); current != RoleMember {
		return fmt.Errorf("%w: cannot promote %s", ErrIllegalTransition, current)
	}
	return a.SetRole(ctx, groupID, userID, RoleTrusted, actor, reason, 0)
}

// Demote moves a Trusted or Admin member back to Member.
func (a *Authority) Demote(ctx context.Context, groupID, userID, actor int64, reason string) error {
	current := a.ResolveRole(ctx, groupID, userID)
	if current != RoleTrusted && current != RoleAdmin {
		return fmt.Errorf("%w: cannot demote %s", ErrIllegalTransition, current)
	}
	return a.SetRole(ctx, groupID, userID, RoleMember, actor, reason, 0)
}

// Mute assigns Muted, optionally for a limited duration.
func (a *Authority) Mute(ctx context.Context, groupID, userID, actor int64, reason string, duration time.Duration) error {
	return a.SetRole(ctx, groupID, userID, RoleMuted, actor, reason, duration)
}

// Unmute removes a Muted assignment.
func (a *Authority) Unmute(ctx context.Context, groupID, userID, actor int64) error {
	if current := a.ResolveRole(ctx, groupID, userID); current != RoleMuted {
		return fmt.Errorf("%w: %s is not muted", ErrIllegalTransition, current)
	}
	return a.RemoveRole(ctx, groupID, userID, actor)
}

// HasPermission resolves the member's role and checks p against the
// group's override for that role, or the catalog default when none is set.
func (a *Authority) HasPermission(ctx context.Context, groupID, userID int64, p Permission) bool {
	if !Known(p) {
		return false
	}
	role := a.ResolveRole(ctx, groupID, userID)
	return a.granted(groupID, role, p)
}

func (a *Authority) granted(groupID int64, role Role, p Permission) bool {
	a.mu.Lock()
	o, ok := a.overrides[overrideKey{groupID, role, p}]
	a.mu.Unlock()
	if ok {
		return o.Granted
	}
	return DefaultGrant(p, role)
}

// SetOverride stores a per-group override for (role, p).
func (a *Authority) SetOverride(ctx context.Context, groupID int64, role Role, p Permission, granted bool, actor int64) error {
	if !Known(p) {
		return fmt.Errorf("%w: %s", ErrUnknownPermission, p)
	}
	if !role.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidRole, int(role))
	}
	o := Override{GroupID: groupID, Role: role, Permission: p, Granted: granted, UpdatedBy: actor}
	if a.store != nil {
		if err := a.store.SaveOverride(ctx, o); err != nil {
			return fmt.Errorf("persist permission override: %w", err)
		}
	}
	a.mu.Lock()
	a.overrides[overrideKey{groupID, role, p}] = o
	a.mu.Unlock()
	logger.Infof("User %d set %s for %s in chat %d to %v", actor, p, role, groupID, granted)
	return nil
}

// ClearOverride restores the catalog default for (role, p).
func (a *Authority) ClearOverride(ctx context.Context, groupID int64, role Role, p Permission) error {
	if !Known(p) {
		return fmt.Errorf("%w: %s", ErrUnknownPermission, p)
	}
	if a.store != nil {
		if err := a.store.DeleteOverride(ctx, groupID, role, p); err != nil {
			return fmt.Errorf("delete permission override: %w", err)
		}
	}
	a.mu.Lock()
	delete(a.overrides, overrideKey{groupID, role, p})
	a.mu.Unlock()
	return nil
}

// Overrides lists a group's overrides.
func (a *Authority) Overrides(groupID int64) []Override {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Override
	for k, o := range a.overrides {
		if k.group == groupID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Role != out[j].Role {
			return out[i].Role > out[j].Role
		}
		return out[i].Permission < out[j].Permission
	})
	return out
}

// RolePermissions is the effective permission table for role in a group.
func (a *Authority) RolePermissions(groupID int64, role Role) map[Permission]bool {
	out := make(map[Permission]bool, len(catalog))
	for p := range catalog {
		out[p] = a.granted(groupID, role, p)
	}
	return out
}

// UsersByRole lists users with an active explicit assignment of role.
func (a *Authority) UsersByRole(groupID int64, role Role) []int64 {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	var users []int64
	for k, asg := range a.assignments {
		if k.group == groupID && asg.Role == role && !asg.Expired(now) {
			users = append(users, k.user)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// Info describes a member's role and where it came from.
type Info struct {
	Role        Role
	Explicit    bool
	Assignment  Assignment
	Permissions []Permission
}

func (a *Authority) RoleInfo(ctx context.Context, groupID, userID int64) Info {
	role := a.ResolveRole(ctx, groupID, userID)
	info := Info{Role: role}

	a.mu.Lock()
	if asg, ok := a.assignments[memberKey{groupID, userID}]; ok && asg.Role == role {
		info.Explicit = true
		info.Assignment = asg
	}
	a.mu.Unlock()

	for p, ok := range a.RolePermissions(groupID, role) {
		if ok {
			info.Permissions = append(info.Permissions, p)
		}
	}
	sort.Slice(info.Permissions, func(i, j int) bool { return info.Permissions[i] < info.Permissions[j] })
	return info
}

// CleanupExpired purges every expired assignment and returns how many were removed.
func (a *Authority) CleanupExpired(ctx context.Context) int {
	now := a.now()
	var expired []memberKey
	a.mu.Lock()
	for k, asg := range a.assignments {
		if asg.Expired(now) {
			delete(a.assignments, k)
			a.derived.Remove(k)
			expired = append(expired, k)
		}
	}
	a.mu.Unlock()

	for _, k := range expired {
		a.forget(ctx, k)
	}
	if len(expired) > 0 {
		logger.Infof("Removed %d expired role assignments", len(expired))
	}
	return len(expired)
}
