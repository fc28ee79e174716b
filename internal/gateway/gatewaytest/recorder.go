// Package gatewaytest provides an in-memory gateway that records every call.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tg-guardian/internal/gateway"
)

// Call is one recorded gateway invocation.
type Call struct {
	Op        string
	ChatID    int64
	UserID    int64
	MessageID int
	Text      string
	Perms     gateway.Permissions
	Until     time.Time
	Buttons   [][]gateway.Button
}

// Recorder is a goroutine-safe fake Gateway. Member statuses default to
// member; errors can be injected per operation and chat.
type Recorder struct {
	mu       sync.Mutex
	calls    []Call
	statuses map[[2]int64]gateway.MemberStatus
	users    map[int64]gateway.User
	errs     map[string]error
	nextID   int
}

var _ gateway.Gateway = (*Recorder)(nil)

func New() *Recorder {
	return &Recorder{
		statuses: make(map[[2]int64]gateway.MemberStatus),
		users:    make(map[int64]gateway.User),
		errs:     make(map[string]error),
		nextID:   1000,
	}
}

// SetStatus fixes the member status reported for (chat, user).
func (r *Recorder) SetStatus(chatID, userID int64, status gateway.MemberStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[[2]int64{chatID, userID}] = status
}

// SetUser fixes the identity returned by GetUser.
func (r *Recorder) SetUser(u gateway.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
}

// FailWith makes op fail with err for chatID; chatID 0 matches every chat.
func (r *Recorder) FailWith(op string, chatID int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[errKey(op, chatID)] = err
}

func errKey(op string, chatID int64) string {
	return fmt.Sprintf("%s/%d", op, chatID)
}

func (r *Recorder) injected(op string, chatID int64) error {
	if err, ok := r.errs[errKey(op, chatID)]; ok {
		return err
	}
	return r.errs[errKey(op, 0)]
}

func (r *Recorder) record(c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	return r.injected(c.Op, c.ChatID)
}

// Calls returns recorded calls, optionally filtered by operation name.
func (r *Recorder) Calls(op string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, 0, len(r.calls))
	for _, c := range r.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Count is len(Calls(op)).
func (r *Recorder) Count(op string) int {
	return len(r.Calls(op))
}

// Last returns the most recent call for op.
func (r *Recorder) Last(op string) (Call, bool) {
	calls := r.Calls(op)
	if len(calls) == 0 {
		return Call{}, false
	}
	return calls[len(calls)-1], true
}

// Reset forgets recorded calls but keeps statuses and injected errors.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *Recorder) SendMessage(_ context.Context, msg gateway.Message) (int, error) {
	if err := r.record(Call{Op: "send", ChatID: msg.ChatID, Text: msg.Text, Buttons: msg.Buttons}); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return r.nextID, nil
}

func (r *Recorder) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	return r.record(Call{Op: "delete", ChatID: chatID, MessageID: messageID})
}

func (r *Recorder) RestrictMember(_ context.Context, chatID, userID int64, perms gateway.Permissions, until time.Time) error {
	err := r.record(Call{Op: "restrict", ChatID: chatID, UserID: userID, Perms: perms, Until: until})
	if err == nil {
		r.mu.Lock()
		if perms == gateway.NoPermissions {
			r.statuses[[2]int64{chatID, userID}] = gateway.StatusRestricted
		} else if r.statuses[[2]int64{chatID, userID}] == gateway.StatusRestricted {
			r.statuses[[2]int64{chatID, userID}] = gateway.StatusMember
		}
		r.mu.Unlock()
	}
	return err
}

func (r *Recorder) BanMember(_ context.Context, chatID, userID int64) error {
	err := r.record(Call{Op: "ban", ChatID: chatID, UserID: userID})
	if err == nil {
		r.SetStatus(chatID, userID, gateway.StatusBanned)
	}
	return err
}

func (r *Recorder) UnbanMember(_ context.Context, chatID, userID int64) error {
	err := r.record(Call{Op: "unban", ChatID: chatID, UserID: userID})
	if err == nil {
		r.SetStatus(chatID, userID, gateway.StatusLeft)
	}
	return err
}

func (r *Recorder) MemberStatus(_ context.Context, chatID, userID int64) (gateway.MemberStatus, error) {
	if err := r.record(Call{Op: "status", ChatID: chatID, UserID: userID}); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.statuses[[2]int64{chatID, userID}]; ok {
		return s, nil
	}
	return gateway.StatusMember, nil
}

func (r *Recorder) GetUser(_ context.Context, userID int64) (gateway.User, error) {
	if err := r.record(Call{Op: "user", UserID: userID}); err != nil {
		return gateway.User{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		return u, nil
	}
	return gateway.User{ID: userID, FirstName: fmt.Sprintf("user%d", userID), HasAvatar: true}, nil
}
