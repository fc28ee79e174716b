// Package verification runs captcha challenges for users joining a group.
// A session moves NONE -> PENDING -> VERIFIED or FAILED; both outcomes are
// terminal and release the session's timer and challenge message.
package verification

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"tg-guardian/internal/gateway"
	"tg-guardian/internal/logger"
	"tg-guardian/internal/models"
	"tg-guardian/internal/scheduler"
)

// ErrAlreadyPending is returned by Start when the user already has a session.
var ErrAlreadyPending = errors.New("verification already pending")

type State int

const (
	StateNone State = iota
	StatePending
	StateVerified
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateVerified:
		return "verified"
	case StateFailed:
		return "failed"
	default:
		return "none"
	}
}

// Session is a pending challenge.
type Session struct {
	GroupID            int64
	User               gateway.User
	Kind               Kind
	Question           string
	Answer             string
	Options            []string
	Attempts           int
	MaxAttempts        int
	CreatedAt          time.Time
	TimeoutAt          time.Time
	ChallengeMessageID int
}

// Record is the persisted terminal outcome of a session.
type Record struct {
	GroupID     int64
	UserID      int64
	Kind        Kind
	Outcome     State
	Attempts    int
	StartedAt   time.Time
	CompletedAt time.Time
}

type Store interface {
	SaveRecord(ctx context.Context, r Record) error
}

// Sweeper deletes bot notices after a delay.
type Sweeper interface {
	DeleteAfter(ctx context.Context, chatID int64, messageID int, delay time.Duration)
}

type Outcome int

const (
	OutcomeNoSession Outcome = iota
	OutcomeRetry
	OutcomeVerified
	OutcomeFailed
)

// Result is what SubmitAnswer did.
type Result struct {
	Outcome   Outcome
	GroupID   int64
	Remaining int
}

type Config struct {
	Timeout          time.Duration
	RestrictDuration time.Duration
	MaxAttempts      int
	NoticeTTL        time.Duration
	Now              func() time.Time
	Rand             *rand.Rand
	Texts            models.Translator
}

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 300 * time.Second
	}
	if c.RestrictDuration <= 0 {
		c.RestrictDuration = 10 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.NoticeTTL <= 0 {
		c.NoticeTTL = 30 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if c.Texts == nil {
		c.Texts = models.StaticTranslator(models.LangEnglish)
	}
}

// Machine owns the pending sessions, keyed by user: a user has at most one
// pending session across all groups.
type Machine struct {
	gw      gateway.Gateway
	sched   scheduler.Scheduler
	store   Store
	sweeper Sweeper
	cfg     Config

	rngMu sync.Mutex

	mu       sync.Mutex
	sessions map[int64]*Session
	outcomes *expirable.LRU[int64, State]
}

func NewMachine(gw gateway.Gateway, sched scheduler.Scheduler, store Store, sweeper Sweeper, cfg Config) *Machine {
	cfg.setDefaults()
	return &Machine{
		gw:       gw,
		sched:    sched,
		store:    store,
		sweeper:  sweeper,
		cfg:      cfg,
		sessions: make(map[int64]*Session),
		outcomes: expirable.NewLRU[int64, State](10000, nil, time.Hour),
	}
}

func timerKey(userID int64) string {
	return fmt.Sprintf("verify:%d", userID)
}

func (m *Machine) challenge(kind Kind) Challenge {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return NewChallenge(kind, m.cfg.Rand)
}

// Start restricts the user and posts a challenge. A second Start for a user
// with a pending session returns that session and ErrAlreadyPending without
// touching its timer.
func (m *Machine) Start(ctx context.Context, groupID int64, user gateway.User, kind Kind) (Session, error) {
	ch := m.challenge(kind)
	now := m.cfg.Now()
	s := &Session{
		GroupID:     groupID,
		User:        user,
		Kind:        ch.Kind,
		Question:    ch.Question,
		Answer:      ch.Answer,
		Options:     ch.Options,
		MaxAttempts: m.cfg.MaxAttempts,
		CreatedAt:   now,
		TimeoutAt:   now.Add(m.cfg.Timeout),
	}

	m.mu.Lock()
	if existing, ok := m.sessions[user.ID]; ok {
		m.mu.Unlock()
		return *existing, ErrAlreadyPending
	}
	m.sessions[user.ID] = s
	m.outcomes.Remove(user.ID)
	pendingSessions.Inc()
	m.mu.Unlock()

	if err := m.gw.RestrictMember(ctx, groupID, user.ID, gateway.NoPermissions, now.Add(m.cfg.RestrictDuration)); err != nil {
		m.drop(user.ID, s)
		return Session{}, fmt.Errorf("restrict user %d in chat %d: %w", user.ID, groupID, err)
	}

	msgID, err := m.gw.SendMessage(ctx, gateway.Message{
		ChatID:  groupID,
		Text:    m.prompt(s),
		HTML:    true,
		Buttons: buttons(ch.Options),
	})
	if err != nil {
		m.drop(user.ID, s)
		if uerr := m.gw.RestrictMember(ctx, groupID, user.ID, gateway.SendPermissions, time.Time{}); !gateway.Ignorable(uerr) {
			logger.Warningf("Failed to lift restriction of user %d in chat %d: %v", user.ID, groupID, uerr)
		}
		return Session{}, fmt.Errorf("send challenge to chat %d: %w", groupID, err)
	}

	m.mu.Lock()
	if m.sessions[user.ID] != s {
		// answered or cancelled while the challenge was being sent
		m.mu.Unlock()
		m.deleteChallenge(ctx, groupID, msgID)
		return *s, nil
	}
	s.ChallengeMessageID = msgID
	m.sched.Schedule(timerKey(user.ID), m.cfg.Timeout, func() { m.expire(user.ID, s) })
	snapshot := *s
	m.mu.Unlock()

	sessionsStarted.WithLabelValues(string(s.Kind)).Inc()
	logger.Infof("Started %s verification for user %d in chat %d", s.Kind, user.ID, groupID)
	return snapshot, nil
}

func (m *Machine) drop(userID int64, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[userID] == s {
		delete(m.sessions, userID)
		pendingSessions.Dec()
	}
}

func (m *Machine) prompt(s *Session) string {
	minutes := int(m.cfg.Timeout.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	key := "captcha_" + string(s.Kind)
	return m.cfg.Texts.T(s.GroupID, key, s.User.Mention(), s.Question, minutes)
}

func buttons(options []string) [][]gateway.Button {
	if len(options) == 0 {
		return nil
	}
	var rows [][]gateway.Button
	for i := 0; i < len(options); i += 3 {
		end := min(i+3, len(options))
		row := make([]gateway.Button, 0, end-i)
		for _, opt := range options[i:end] {
			row = append(row, gateway.Button{Text: opt, Data: ButtonPrefix + opt})
		}
		rows = append(rows, row)
	}
	return rows
}

// SubmitAnswer checks answer against the user's pending session. Matching is
// case-insensitive and ignores surrounding whitespace.
func (m *Machine) SubmitAnswer(ctx context.Context, userID int64, answer string) Result {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	if !ok {
		m.mu.Unlock()
		return Result{Outcome: OutcomeNoSession}
	}
	s.Attempts++
	if strings.EqualFold(strings.TrimSpace(answer), s.Answer) {
		done := m.release(userID)
		m.mu.Unlock()
		m.finish(ctx, done, StateVerified, "captcha_success")
		return Result{Outcome: OutcomeVerified, GroupID: done.GroupID}
	}
	if s.Attempts >= s.MaxAttempts {
		done := m.release(userID)
		m.mu.Unlock()
		m.finish(ctx, done, StateFailed, "captcha_failed")
		return Result{Outcome: OutcomeFailed, GroupID: done.GroupID}
	}
	remaining := s.MaxAttempts - s.Attempts
	groupID := s.GroupID
	m.mu.Unlock()

	m.notice(ctx, groupID, m.cfg.Texts.T(groupID, "captcha_retry", remaining))
	return Result{Outcome: OutcomeRetry, GroupID: groupID, Remaining: remaining}
}

// release removes the session and its timer; m.mu must be held.
func (m *Machine) release(userID int64) Session {
	s := m.sessions[userID]
	delete(m.sessions, userID)
	m.sched.Cancel(timerKey(userID))
	pendingSessions.Dec()
	return *s
}

func (m *Machine) expire(userID int64, token *Session) {
	m.mu.Lock()
	if m.sessions[userID] != token {
		m.mu.Unlock()
		return
	}
	done := m.release(userID)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Infof("Verification of user %d in chat %d timed out", userID, done.GroupID)
	m.finish(ctx, done, StateFailed, "captcha_timeout")
}

// finish applies the terminal transition. Each gateway step is independent:
// a failure is logged and the remaining steps still run.
func (m *Machine) finish(ctx context.Context, s Session, outcome State, noticeKey string) {
	m.outcomes.Add(s.User.ID, outcome)
	sessionOutcomes.WithLabelValues(string(s.Kind), outcome.String()).Inc()

	m.deleteChallenge(ctx, s.GroupID, s.ChallengeMessageID)

	switch outcome {
	case StateVerified:
		if err := m.gw.RestrictMember(ctx, s.GroupID, s.User.ID, gateway.SendPermissions, time.Time{}); !gateway.Ignorable(err) {
			logger.Errorf("Failed to restore permissions of verified user %d in chat %d: %v", s.User.ID, s.GroupID, err)
		}
		logger.Infof("User %d verified in chat %d after %d attempts", s.User.ID, s.GroupID, s.Attempts)
	case StateFailed:
		if err := m.gw.BanMember(ctx, s.GroupID, s.User.ID); !gateway.Ignorable(err) {
			logger.Errorf("Failed to ban user %d in chat %d after failed verification: %v", s.User.ID, s.GroupID, err)
		}
		logger.Infof("User %d failed verification in chat %d (%s)", s.User.ID, s.GroupID, noticeKey)
	}

	m.notice(ctx, s.GroupID, m.cfg.Texts.T(s.GroupID, noticeKey, s.User.Mention()))

	if m.store != nil {
		rec := Record{
			GroupID:     s.GroupID,
			UserID:      s.User.ID,
			Kind:        s.Kind,
			Outcome:     outcome,
			Attempts:    s.Attempts,
			StartedAt:   s.CreatedAt,
			CompletedAt: m.cfg.Now(),
		}
		if err := m.store.SaveRecord(ctx, rec); err != nil {
			logger.Warningf("Failed to save verification record for user %d in chat %d: %v", s.User.ID, s.GroupID, err)
		}
	}
}

func (m *Machine) deleteChallenge(ctx context.Context, chatID int64, messageID int) {
	if messageID == 0 {
		return
	}
	if err := m.gw.DeleteMessage(ctx, chatID, messageID); !gateway.Ignorable(err) {
		logger.Warningf("Failed to delete challenge message %d in chat %d: %v", messageID, chatID, err)
	}
}

func (m *Machine) notice(ctx context.Context, chatID int64, text string) {
	msgID, err := m.gw.SendMessage(ctx, gateway.Message{ChatID: chatID, Text: text, HTML: true})
	if err != nil {
		logger.Warningf("Failed to send verification notice to chat %d: %v", chatID, err)
		return
	}
	if m.sweeper != nil {
		m.sweeper.DeleteAfter(ctx, chatID, msgID, m.cfg.NoticeTTL)
	}
}

// Cancel removes the user's pending session in groupID without banning and
// deletes its challenge. A session in another group is left alone.
func (m *Machine) Cancel(ctx context.Context, groupID, userID int64) bool {
	m.mu.Lock()
	if s, ok := m.sessions[userID]; !ok || s.GroupID != groupID {
		m.mu.Unlock()
		return false
	}
	s := m.release(userID)
	m.mu.Unlock()

	m.deleteChallenge(ctx, s.GroupID, s.ChallengeMessageID)
	logger.Infof("Verification of user %d in chat %d cancelled", userID, s.GroupID)
	return true
}

// IsPending reports whether the user has a pending session.
func (m *Machine) IsPending(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[userID]
	return ok
}

// Session returns a copy of the user's pending session.
func (m *Machine) Session(userID int64) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// State is PENDING for a live session, otherwise the most recent outcome
// within the last hour, otherwise NONE.
func (m *Machine) State(userID int64) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[userID]; ok {
		return StatePending
	}
	if st, ok := m.outcomes.Get(userID); ok {
		return st
	}
	return StateNone
}

// PendingCount is the number of pending sessions in a group.
func (m *Machine) PendingCount(groupID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.GroupID == groupID {
			n++
		}
	}
	return n
}

// CleanupExpired fails sessions whose deadline has passed. The deadline
// timer normally does this; the sweep covers timers lost to a panic.
func (m *Machine) CleanupExpired(ctx context.Context) int {
	now := m.cfg.Now()
	var expired []Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if !now.Before(s.TimeoutAt) {
			expired = append(expired, m.release(id))
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		m.finish(ctx, s, StateFailed, "captcha_timeout")
	}
	return len(expired)
}
