package permission

import (
	"fmt"
	"sort"
	"strings"
)

// Role is a member's standing in a group. Roles are totally ordered by rank.
type Role int

const (
	RoleBanned  Role = -1
	RoleMuted   Role = 0
	RoleMember  Role = 1
	RoleTrusted Role = 2
	RoleAdmin   Role = 3
	RoleOwner   Role = 4
)

var roleNames = map[Role]string{
	RoleBanned:  "banned",
	RoleMuted:   "muted",
	RoleMember:  "member",
	RoleTrusted: "trusted",
	RoleAdmin:   "admin",
	RoleOwner:   "owner",
}

// Rank is the role's position in the hierarchy.
func (r Role) Rank() int { return int(r) }

// Outranks reports whether r sits strictly above other.
func (r Role) Outranks(other Role) bool { return r.Rank() > other.Rank() }

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", int(r))
}

func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for r, name := range roleNames {
		if name == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// Permission is a named capability.
type Permission string

const (
	SendMessages   Permission = "send_messages"
	SendMedia      Permission = "send_media"
	SendStickers   Permission = "send_stickers"
	SendPolls      Permission = "send_polls"
	AddWebPreviews Permission = "add_web_previews"
	DeleteMessages Permission = "delete_messages"
	BanUsers       Permission = "ban_users"
	MuteUsers      Permission = "mute_users"
	WarnUsers      Permission = "warn_users"
	PromoteUsers   Permission = "promote_users"
	ChangeInfo     Permission = "change_info"
	InviteUsers    Permission = "invite_users"
	PinMessages    Permission = "pin_messages"
	ManageSettings Permission = "manage_settings"
	ViewLogs       Permission = "view_logs"
	ManageFilters  Permission = "manage_filters"
	GlobalBan      Permission = "global_ban"
	ManageRoles    Permission = "manage_roles"
)

type roleSet map[Role]struct{}

func setOf(roles ...Role) roleSet {
	s := make(roleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

func (s roleSet) has(r Role) bool {
	_, ok := s[r]
	return ok
}

type catalogEntry struct {
	description string
	roles       roleSet
}

var (
	everyone  = []Role{RoleOwner, RoleAdmin, RoleTrusted, RoleMember}
	staff     = []Role{RoleOwner, RoleAdmin}
	ownerOnly = []Role{RoleOwner}
)

// catalog maps each permission to the roles holding it by default.
var catalog = map[Permission]catalogEntry{
	SendMessages:   {"Send text messages", setOf(everyone...)},
	SendMedia:      {"Send photos, videos and files", setOf(everyone...)},
	SendStickers:   {"Send stickers and GIFs", setOf(everyone...)},
	SendPolls:      {"Send polls", setOf(everyone...)},
	AddWebPreviews: {"Add web page previews", setOf(everyone...)},
	DeleteMessages: {"Delete messages from others", setOf(staff...)},
	BanUsers:       {"Ban users from the group", setOf(staff...)},
	MuteUsers:      {"Mute users", setOf(staff...)},
	WarnUsers:      {"Warn users", setOf(staff...)},
	PromoteUsers:   {"Promote and demote users", setOf(staff...)},
	ChangeInfo:     {"Change group information", setOf(staff...)},
	InviteUsers:    {"Invite new users", setOf(RoleOwner, RoleAdmin, RoleTrusted)},
	PinMessages:    {"Pin messages", setOf(staff...)},
	ManageSettings: {"Change bot settings", setOf(staff...)},
	ViewLogs:       {"View moderation logs", setOf(staff...)},
	ManageFilters:  {"Manage content filters", setOf(staff...)},
	GlobalBan:      {"Issue global bans", setOf(ownerOnly...)},
	ManageRoles:    {"Manage roles and permission overrides", setOf(ownerOnly...)},
}

// Known reports whether p is in the catalog.
func Known(p Permission) bool {
	_, ok := catalog[p]
	return ok
}

// Describe returns the human readable description of p.
func Describe(p Permission) string {
	return catalog[p].description
}

// DefaultGrant reports whether role holds p when no override exists.
func DefaultGrant(p Permission, role Role) bool {
	entry, ok := catalog[p]
	return ok && entry.roles.has(role)
}

// All lists the catalog in name order.
func All() []Permission {
	out := make([]Permission, 0, len(catalog))
	for p := range catalog {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
