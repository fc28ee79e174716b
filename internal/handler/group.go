package handler

import (
	"github.com/mymmrac/telego"

	"tg-guardian/internal/gateway"
	"tg-guardian/internal/moderation"
)

func isGroup(chat telego.Chat) bool {
	return chat.Type == telego.ChatTypeGroup || chat.Type == telego.ChatTypeSupergroup
}

func messageText(m telego.Message) string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

// contentKind maps a message onto the permission class needed to post it.
func contentKind(m telego.Message) moderation.ContentKind {
	switch {
	case m.Poll != nil:
		return moderation.ContentPoll
	case m.Sticker != nil, m.Animation != nil, m.Dice != nil:
		return moderation.ContentSticker
	case len(m.Photo) > 0, m.Video != nil, m.Document != nil, m.Audio != nil, m.Voice != nil, m.VideoNote != nil:
		return moderation.ContentMedia
	default:
		return moderation.ContentText
	}
}

func messageEvent(m telego.Message) moderation.Message {
	return moderation.Message{
		GroupID:   m.Chat.ID,
		ChatTitle: m.Chat.Title,
		MessageID: m.MessageID,
		Sender:    gateway.FromTelego(*m.From),
		Text:      messageText(m),
		Kind:      contentKind(m),
	}
}

// isServiceMessage reports join, leave and other chat notices; membership
// arrives separately as chat_member updates.
func isServiceMessage(m telego.Message) bool {
	return len(m.NewChatMembers) > 0 || m.LeftChatMember != nil ||
		m.NewChatTitle != "" || len(m.NewChatPhoto) > 0 || m.PinnedMessage != nil
}

// membershipEvent reports a join or a leave; status changes between two
// present states (member to admin, member to restricted) are not events.
func membershipEvent(u telego.ChatMemberUpdated) (moderation.MembershipEvent, bool) {
	was := u.OldChatMember.MemberIsMember()
	now := u.NewChatMember.MemberIsMember()
	ev := moderation.MembershipEvent{
		GroupID:   u.Chat.ID,
		ChatTitle: u.Chat.Title,
		User:      gateway.FromTelego(u.NewChatMember.MemberUser()),
	}
	switch {
	case !was && now:
		ev.Kind = moderation.Joined
	case was && !now:
		ev.Kind = moderation.Left
	default:
		return ev, false
	}
	return ev, true
}
