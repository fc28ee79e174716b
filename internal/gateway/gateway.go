// Package gateway describes the chat platform operations the moderation
// components rely on, independent of the Telegram client library.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"
)

var (
	// ErrPermissionDenied means the platform refused the action because the bot lacks rights.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotFound means the target user, chat or message no longer exists.
	ErrNotFound = errors.New("not found")
)

// MemberStatus mirrors the platform's chat member status strings.
type MemberStatus string

const (
	StatusOwner      MemberStatus = "creator"
	StatusAdmin      MemberStatus = "administrator"
	StatusMember     MemberStatus = "member"
	StatusRestricted MemberStatus = "restricted"
	StatusLeft       MemberStatus = "left"
	StatusBanned     MemberStatus = "kicked"
)

// Present reports whether a member with this status is currently in the chat.
func (s MemberStatus) Present() bool {
	switch s {
	case StatusOwner, StatusAdmin, StatusMember, StatusRestricted:
		return true
	}
	return false
}

// User holds the identity fields moderation decisions look at.
type User struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
	HasAvatar bool
	IsBot     bool
	IsPremium bool
}

// DisplayName is the first and last name joined, or the username.
func (u User) DisplayName() string {
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	if name == "" {
		name = u.Username
	}
	return name
}

// Mention renders an HTML link to the user.
func (u User) Mention() string {
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, u.ID, html.EscapeString(u.DisplayName()))
}

// Permissions is the subset of member send rights the bot toggles.
// SendMedia covers photos, videos, audio, documents and voice/video notes;
// SendOther covers stickers and animations.
type Permissions struct {
	SendMessages   bool
	SendMedia      bool
	SendPolls      bool
	SendOther      bool
	AddWebPreviews bool
	InviteUsers    bool
}

// NoPermissions silences a member completely.
var NoPermissions = Permissions{}

// SendPermissions restores the ordinary member send rights.
var SendPermissions = Permissions{
	SendMessages:   true,
	SendMedia:      true,
	SendPolls:      true,
	SendOther:      true,
	AddWebPreviews: true,
	InviteUsers:    true,
}

// Button is one inline keyboard button.
type Button struct {
	Text string
	Data string
}

// Message is an outbound message.
type Message struct {
	ChatID  int64
	Text    string
	HTML    bool
	ReplyTo int
	Buttons [][]Button
}

// Gateway is the set of platform primitives used by the moderation components.
type Gateway interface {
	SendMessage(ctx context.Context, msg Message) (int, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	// RestrictMember applies perms until the given time; zero means indefinitely.
	RestrictMember(ctx context.Context, chatID, userID int64, perms Permissions, until time.Time) error
	BanMember(ctx context.Context, chatID, userID int64) error
	UnbanMember(ctx context.Context, chatID, userID int64) error
	MemberStatus(ctx context.Context, chatID, userID int64) (MemberStatus, error)
	GetUser(ctx context.Context, userID int64) (User, error)
}

// Ignorable reports whether err is nil or a NotFound, which callers treat as success.
func Ignorable(err error) bool {
	return err == nil || errors.Is(err, ErrNotFound)
}
