package handler

import (
	"context"
	"errors"
	"html"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"

	"tg-guardian/internal/admin"
	"tg-guardian/internal/gateway"
	"tg-guardian/internal/gban"
	"tg-guardian/internal/logger"
	"tg-guardian/internal/permission"
)

// command is a parsed "/name@bot arg1 arg2" message.
type command struct {
	name string
	args []string
	// rest is the text after the command name, whitespace preserved.
	rest string
}

// parseCommand reads a bot command. Commands addressed to another bot are
// not ours.
func parseCommand(text, botUsername string) (command, bool) {
	if !strings.HasPrefix(text, "/") {
		return command{}, false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	name, target, addressed := strings.Cut(head, "@")
	if addressed && !strings.EqualFold(target, botUsername) {
		return command{}, false
	}
	if name == "" {
		return command{}, false
	}
	rest = strings.TrimSpace(rest)
	return command{name: strings.ToLower(name), args: strings.Fields(rest), rest: rest}, true
}

// parseUserID accepts a positive numeric user ID.
func parseUserID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// target resolves who a command acts on: the author of the replied message,
// or a user ID given as the first argument. The remaining arguments are
// returned.
func (h *Handler) target(ctx context.Context, message telego.Message, args []string) (gateway.User, []string, bool) {
	if r := message.ReplyToMessage; r != nil && r.From != nil {
		return gateway.FromTelego(*r.From), args, true
	}
	if len(args) == 0 {
		return gateway.User{}, args, false
	}
	id, ok := parseUserID(args[0])
	if !ok {
		return gateway.User{}, args, false
	}
	user, err := h.Gateway.GetUser(ctx, id)
	if err != nil {
		logger.Debugf("Error getting user %d: %v", id, err)
		user = gateway.User{ID: id, FirstName: args[0]}
	}
	return user, args[1:], true
}

// errorText translates an admin error into a reply.
func (h *Handler) errorText(groupID int64, err error) string {
	switch {
	case errors.Is(err, admin.ErrForbidden),
		errors.Is(err, permission.ErrCannotModify),
		errors.Is(err, gban.ErrNotAuthorized):
		return h.Groups.T(groupID, "no_permission")
	case errors.Is(err, admin.ErrInvalidInput),
		errors.Is(err, permission.ErrIllegalTransition),
		errors.Is(err, permission.ErrUnknownPermission),
		errors.Is(err, gban.ErrAlreadyBanned),
		errors.Is(err, gban.ErrNotBanned):
		return h.Groups.T(groupID, "invalid_input", html.EscapeString(err.Error()))
	default:
		logger.Warningf("Command failed in chat %d: %v", groupID, err)
		return h.Groups.T(groupID, "operation_failed", html.EscapeString(err.Error()))
	}
}

func (h *Handler) onOff(groupID int64, on bool) string {
	if on {
		return h.Groups.T(groupID, "status_on")
	}
	return h.Groups.T(groupID, "status_off")
}

func parseOnOff(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "on", "true", "yes", "1", "enable":
		return true, true
	case "off", "false", "no", "0", "disable":
		return false, true
	}
	return false, false
}
