package moderation

import (
	"tg-guardian/internal/behavior"
	"tg-guardian/internal/gateway"
	"tg-guardian/internal/permission"
)

// ContentKind is what a message carries; it decides the permission a sender
// needs to post it.
type ContentKind int

const (
	ContentText ContentKind = iota
	ContentMedia
	ContentSticker
	ContentPoll
)

func (k ContentKind) Permission() permission.Permission {
	switch k {
	case ContentMedia:
		return permission.SendMedia
	case ContentSticker:
		return permission.SendStickers
	case ContentPoll:
		return permission.SendPolls
	default:
		return permission.SendMessages
	}
}

// Message is an inbound group message.
type Message struct {
	GroupID   int64
	ChatTitle string
	MessageID int
	Sender    gateway.User
	Text      string
	Kind      ContentKind
}

// Edit is an edited group message.
type Edit struct {
	GroupID   int64
	MessageID int
	Sender    gateway.User
	Text      string
}

type MembershipKind int

const (
	Joined MembershipKind = iota
	Left
)

func (k MembershipKind) String() string {
	if k == Left {
		return "left"
	}
	return "joined"
}

// MembershipEvent is a join or a leave, whichever platform update it came from.
type MembershipEvent struct {
	GroupID   int64
	ChatTitle string
	User      gateway.User
	Kind      MembershipKind
}

// Decision is the terminal outcome of one event.
type Decision int

const (
	DecisionAllow Decision = iota
	DecisionLocked
	DecisionGBanned
	DecisionNoPermission
	DecisionSpam
	DecisionFiltered
	DecisionEditRemoved
	DecisionVerifying
	DecisionWelcomed
	DecisionIgnored
)

var decisionNames = map[Decision]string{
	DecisionAllow:        "allow",
	DecisionLocked:       "locked",
	DecisionGBanned:      "gbanned",
	DecisionNoPermission: "no_permission",
	DecisionSpam:         "spam",
	DecisionFiltered:     "filtered",
	DecisionEditRemoved:  "edit_removed",
	DecisionVerifying:    "verifying",
	DecisionWelcomed:     "welcomed",
	DecisionIgnored:      "ignored",
}

func (d Decision) String() string {
	return decisionNames[d]
}

// Verdict reports what the orchestrator did with an event.
type Verdict struct {
	Decision Decision
	// Action is the sanction applied for DecisionSpam.
	Action     behavior.Action
	Reasons    []string
	Categories []string
}
