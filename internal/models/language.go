package models

import "fmt"

// Language constants
const (
	LangSimplifiedChinese  = "zh_CN"
	LangTraditionalChinese = "zh_TW"
	LangEnglish            = "en"
)

// Translation is a map of message keys to translated text
type Translation map[string]string

// Translations stores all language translations
var Translations = map[string]Translation{
	LangEnglish: {
		"help_title":       "TG-Guardian Bot Help",
		"help_description": "This bot moderates the group: spam and flood detection, join verification and a shared global ban list.",
		"help_commands": "/settings - show group settings\n" +
			"/lock, /unlock - lock or unlock the group\n" +
			"/warn, /unwarn - add or clear warnings (reply)\n" +
			"/mute [1h|2d], /unmute - mute or unmute (reply)\n" +
			"/promote, /demote - change trusted status (reply)\n" +
			"/setwelcome <text>, /welcome - manage the welcome message\n" +
			"/subscribe, /unsubscribe - join or leave the global ban list\n" +
			"/gban <reason>, /ungban, /gbanstats - global bans (global ban admins only)",

		"cmd_desc_help":     "Show help",
		"cmd_desc_settings": "Show group settings",
		"cmd_desc_lock":     "Lock the group",
		"cmd_desc_unlock":   "Unlock the group",

		"spam_warning":      "⚠️ %s, your message was removed: %s. Warnings: %d/%d",
		"spam_muted":        "🔇 %s has been muted for %s: %s",
		"spam_banned":       "🚫 %s has been banned: %s",
		"warnings_exceeded": "🚫 %s has been banned after reaching %d warnings.",
		"filter_warning":    "⚠️ %s, your message contained prohibited content (%s) and was removed.",
		"edit_removed":      "✏️ An edited message from %s was removed.",
		"gban_notice":       "🌐 %s is on the global ban list and has been removed. Reason: %s",

		"captcha_text":    "🔐 %s, unscramble this word to verify you are human: <b>%s</b>\nSend the answer to me in a private chat within %d minutes.",
		"captcha_math":    "🔐 %s, solve <b>%s</b> to verify you are human.\nSend the answer to me in a private chat within %d minutes.",
		"captcha_button":  "🔐 %s, tap <b>%s</b> to verify you are human. You have %d minutes.",
		"captcha_retry":   "❌ Incorrect answer. You have %d attempts remaining.",
		"captcha_success": "✅ %s has been verified. Welcome!",
		"captcha_failed":  "⛔ %s failed verification and has been removed.",
		"captcha_timeout": "⏰ %s did not complete verification in time and has been removed.",
		"captcha_none":    "You have no pending verification.",

		"group_locked":       "🔒 The group is locked. Only admins can send messages.",
		"group_unlocked":     "🔓 The group is unlocked.",
		"no_permission":      "You don't have permission to do that.",
		"invalid_input":      "Invalid input: %s",
		"reply_required":     "Reply to a message from the user you want to act on.",
		"promoted":           "⭐ %s is now trusted.",
		"demoted":            "%s is now a regular member.",
		"muted":              "🔇 %s has been muted for %s.",
		"unmuted":            "🔊 %s has been unmuted.",
		"warned":             "⚠️ %s has been warned (%d/%d).",
		"warnings_cleared":   "Warnings for %s have been cleared.",
		"gbanned":            "🌐 %s has been globally banned. Removed from %d groups.",
		"ungbanned":          "%s has been removed from the global ban list.",
		"gban_stats":         "🌐 Global bans: %d (%d permanent, %d temporary). Subscribed groups: %d. Enforcements: %d ok, %d failed.",
		"subscribed":         "This group now enforces the global ban list.",
		"unsubscribed":       "This group no longer enforces the global ban list.",
		"welcome_set":        "Welcome message updated.",
		"welcome_current":    "Current welcome message:\n%s",
		"operation_failed":   "The operation failed: %s",
		"settings_title":     "⚙️ Settings for %s",
		"settings_line":      "%s: %s",
		"status_on":          "on",
		"status_off":         "off",
		"toggle_usage":       "Usage: /toggle <name> on|off. Names: %s",
		"toggle_set":         "%s is now %s.",
		"flood_set":          "Flood threshold set to %d messages per minute.",
		"captcha_set":        "Verification challenge set to %s.",
		"language_set":       "Language set to %s.",
		"group_only":         "This command only works in groups.",
		"keyword_added":      "Keyword %q added to %s.",
		"keyword_removed":    "Keyword %q removed from %s.",
		"keyword_missing":    "Keyword %q is not in %s.",
		"keyword_list":       "Keywords:\n%s",
		"private_hint":       "Send /help to see what I can do. Captcha answers can be sent here.",
		"cmd_desc_warn":      "Warn a user (reply)",
		"cmd_desc_mute":      "Mute a user (reply)",
		"cmd_desc_welcome":   "Show the welcome message",
		"cmd_desc_gbanstats": "Show global ban statistics",
	},
	LangSimplifiedChinese: {
		"help_title":       "TG-Guardian 机器人帮助",
		"help_description": "此机器人负责管理群组：垃圾消息和刷屏检测、入群验证以及共享的全局封禁列表。",

		"spam_warning":      "⚠️ %s，您的消息已被删除：%s。警告次数：%d/%d",
		"spam_muted":        "🔇 %s 已被禁言 %s：%s",
		"spam_banned":       "🚫 %s 已被封禁：%s",
		"warnings_exceeded": "🚫 %s 已达到 %d 次警告，已被封禁。",
		"filter_warning":    "⚠️ %s，您的消息包含违禁内容（%s），已被删除。",
		"edit_removed":      "✏️ 来自 %s 的编辑消息已被删除。",
		"gban_notice":       "🌐 %s 在全局封禁列表中，已被移出。原因：%s",

		"captcha_text":    "🔐 %s，请还原这个单词以证明您是真人：<b>%s</b>\n请在 %d 分钟内私聊我发送答案。",
		"captcha_math":    "🔐 %s，请计算 <b>%s</b> 以证明您是真人。\n请在 %d 分钟内私聊我发送答案。",
		"captcha_button":  "🔐 %s，请点击 <b>%s</b> 以证明您是真人。您有 %d 分钟时间。",
		"captcha_retry":   "❌ 答案错误。您还有 %d 次机会。",
		"captcha_success": "✅ %s 已通过验证，欢迎！",
		"captcha_failed":  "⛔ %s 未通过验证，已被移出。",
		"captcha_timeout": "⏰ %s 未在规定时间内完成验证，已被移出。",

		"group_locked":   "🔒 群组已锁定，仅管理员可以发言。",
		"group_unlocked": "🔓 群组已解锁。",
		"no_permission":  "您没有权限执行此操作。",
		"invalid_input":  "输入无效：%s",
		"reply_required": "请回复您要操作的用户的消息。",
		"group_only":     "此命令只能在群组中使用。",
		"muted":          "🔇 %s 已被禁言 %s。",
		"unmuted":        "🔊 %s 已被解除禁言。",
		"warned":         "⚠️ %s 已被警告（%d/%d）。",
		"private_hint":   "发送 /help 查看使用帮助。验证答案也可以发送到这里。",
	},
	LangTraditionalChinese: {
		"help_title": "TG-Guardian 機器人幫助",

		"spam_warning":    "⚠️ %s，您的訊息已被刪除：%s。警告次數：%d/%d",
		"captcha_retry":   "❌ 答案錯誤。您還有 %d 次機會。",
		"captcha_success": "✅ %s 已通過驗證，歡迎！",
		"captcha_failed":  "⛔ %s 未通過驗證，已被移出。",
		"group_locked":    "🔒 群組已鎖定，僅管理員可以發言。",
		"group_unlocked":  "🔓 群組已解鎖。",
		"no_permission":   "您沒有權限執行此操作。",
	},
}

// GetTranslation returns the translation for key, falling back to English
// and finally to the key itself.
func GetTranslation(lang, key string) string {
	if t, ok := Translations[lang]; ok {
		if translation, ok := t[key]; ok {
			return translation
		}
	}
	if translation, ok := Translations[LangEnglish][key]; ok {
		return translation
	}
	return key
}

// Translate formats the translation for key with args.
func Translate(lang, key string, args ...any) string {
	text := GetTranslation(lang, key)
	if len(args) == 0 {
		return text
	}
	return fmt.Sprintf(text, args...)
}

// GetLanguageName returns the localized name of a language code
func GetLanguageName(langCode string) string {
	switch langCode {
	case LangSimplifiedChinese:
		return "简体中文"
	case LangTraditionalChinese:
		return "繁體中文"
	case LangEnglish:
		return "English"
	default:
		return langCode
	}
}

// Translator resolves messages in a group's language.
type Translator interface {
	T(groupID int64, key string, args ...any) string
}

// StaticTranslator translates everything into one language.
type StaticTranslator string

func (s StaticTranslator) T(_ int64, key string, args ...any) string {
	return Translate(string(s), key, args...)
}
