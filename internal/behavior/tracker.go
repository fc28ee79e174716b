// Package behavior keeps a rolling activity profile per user and scores
// messages for spam.
package behavior

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/spaolacci/murmur3"

	"tg-guardian/internal/gateway"
	"tg-guardian/internal/logger"
)

// Action is the sanction a detection asks for, ordered by severity.
type Action int

const (
	ActionNone Action = iota
	ActionWarn
	ActionMute
	ActionBan
)

func (a Action) String() string {
	switch a {
	case ActionWarn:
		return "warn"
	case ActionMute:
		return "mute"
	case ActionBan:
		return "ban"
	default:
		return "none"
	}
}

// Detection is the result of scoring one message.
type Detection struct {
	IsSpam     bool
	Confidence float64
	Reasons    []string
	Action     Action
}

// Profile is a user's recent activity.
type Profile struct {
	UserID       int64
	MessageCount int
	WindowStart  time.Time
	LastSeen     time.Time
	LinkCount    int
	MediaCount   int
	JoinTime     time.Time
	Warnings     int
	Identity     *gateway.User
}

// Message is the input to Score.
type Message struct {
	GroupID int64
	Sender  gateway.User
	Text    string
	IsMedia bool
	// FloodThreshold overrides the tracker default when positive.
	FloodThreshold int
}

// signal weights
const (
	weightFlood       = 0.8
	weightRepetition  = 0.6
	weightNewAccount  = 0.5
	weightIdentity    = 0.7
	weightUsername    = 0.4
	minRepeatLength   = 10
	minIdentitySignal = 2
)

type Config struct {
	FloodThreshold       int
	FloodWindow          time.Duration
	LinkThreshold        int
	SpamThreshold        float64
	NewAccountAge        time.Duration
	InactiveAfter        time.Duration
	FingerprintCap       int
	FingerprintHardCap   int
	FingerprintCompactTo int
	Now                  func() time.Time
}

func (c *Config) setDefaults() {
	if c.FloodThreshold <= 0 {
		c.FloodThreshold = 5
	}
	if c.FloodWindow <= 0 {
		c.FloodWindow = time.Minute
	}
	if c.LinkThreshold <= 0 {
		c.LinkThreshold = 2
	}
	if c.SpamThreshold <= 0 {
		c.SpamThreshold = 0.6
	}
	if c.NewAccountAge <= 0 {
		c.NewAccountAge = 24 * time.Hour
	}
	if c.InactiveAfter <= 0 {
		c.InactiveAfter = 24 * time.Hour
	}
	if c.FingerprintCap <= 0 {
		c.FingerprintCap = 100
	}
	if c.FingerprintHardCap <= 0 {
		c.FingerprintHardCap = 1000
	}
	if c.FingerprintCompactTo <= 0 {
		c.FingerprintCompactTo = 500
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Tracker owns user profiles and per-group fingerprint sets.
type Tracker struct {
	cfg Config

	mu           sync.Mutex
	profiles     map[int64]*Profile
	fingerprints map[int64]*fingerprintSet
	whitelist    map[int64]struct{}
}

func NewTracker(cfg Config) *Tracker {
	cfg.setDefaults()
	return &Tracker{
		cfg:          cfg,
		profiles:     make(map[int64]*Profile),
		fingerprints: make(map[int64]*fingerprintSet),
		whitelist:    make(map[int64]struct{}),
	}
}

func (t *Tracker) profile(userID int64, now time.Time) *Profile {
	p, ok := t.profiles[userID]
	if !ok {
		p = &Profile{UserID: userID, JoinTime: now, WindowStart: now, LastSeen: now}
		t.profiles[userID] = p
	}
	return p
}

// RecordMessage adds a message to the user's profile. The flood window
// restarts when more than FloodWindow has passed since it began.
func (t *Tracker) RecordMessage(userID int64, links int, isMedia bool, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, existed := t.profiles[userID]
	if !existed {
		p = t.profile(userID, now)
	}
	if !existed || p.MessageCount == 0 || now.Sub(p.WindowStart) > t.cfg.FloodWindow {
		p.MessageCount = 1
		p.WindowStart = now
	} else {
		p.MessageCount++
	}
	p.LinkCount += links
	if isMedia {
		p.MediaCount++
	}
	p.LastSeen = now
}

// MarkJoined records when a user joined and, when known, their full identity.
func (t *Tracker) MarkJoined(u gateway.User, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.profile(u.ID, at)
	p.JoinTime = at
	p.LastSeen = at
	identity := u
	p.Identity = &identity
}

// HasIdentity reports whether the user's full identity is on record.
func (t *Tracker) HasIdentity(userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.profiles[userID]
	return ok && p.Identity != nil
}

// SetIdentity stores the user's full identity without touching join time.
func (t *Tracker) SetIdentity(u gateway.User) {
	t.mu.Lock()
	defer t.mu.Unlock()
	identity := u
	t.profile(u.ID, t.cfg.Now()).Identity = &identity
}

// Analyze records the message and scores it.
func (t *Tracker) Analyze(msg Message) Detection {
	now := t.cfg.Now()
	links := len(ExtractURLs(msg.Text))
	t.RecordMessage(msg.Sender.ID, links, msg.IsMedia, now)
	return t.Score(msg)
}

// Score evaluates every signal independently against the current profile.
// Confidences are summed without capping; the message is spam when the sum
// reaches SpamThreshold and the action is the most severe one triggered.
func (t *Tracker) Score(msg Message) Detection {
	now := t.cfg.Now()
	det := Detection{}
	var actions []Action
	add := func(weight float64, action Action, reason string) {
		det.Confidence += weight
		det.Reasons = append(det.Reasons, reason)
		actions = append(actions, action)
	}

	t.mu.Lock()
	if _, ok := t.whitelist[msg.Sender.ID]; ok {
		t.mu.Unlock()
		return det
	}
	p := *t.profile(msg.Sender.ID, now)
	repeated := t.checkRepetition(msg.GroupID, msg.Text)
	t.mu.Unlock()

	threshold := t.cfg.FloodThreshold
	if msg.FloodThreshold > 0 {
		threshold = msg.FloodThreshold
	}
	if p.MessageCount >= threshold {
		add(weightFlood, ActionMute, "Flood detected")
	}

	if repeated {
		add(weightRepetition, ActionWarn, "Repetitive content")
	}

	if rep := analyzeLinks(msg.Text, t.cfg.LinkThreshold); rep.weight > linkBanThreshold {
		add(rep.weight, ActionBan, "Suspicious links: "+strings.Join(rep.reasons, "; "))
	}

	if now.Sub(p.JoinTime) < t.cfg.NewAccountAge &&
		(p.LinkCount > 0 || p.MessageCount > 10 || p.MediaCount > 5) {
		add(weightNewAccount, ActionWarn, "Suspicious new user behavior")
	}

	identity := msg.Sender
	if p.Identity != nil {
		identity = *p.Identity
	}
	if found := identityIndicators(identity); len(found) >= minIdentitySignal {
		add(weightIdentity, ActionBan, "Fake user indicators: "+strings.Join(found, ", "))
	}

	if SuspiciousUsername(identity.Username) {
		add(weightUsername, ActionWarn, "Suspicious username pattern")
	}

	det.IsSpam = det.Confidence >= t.cfg.SpamThreshold
	if det.IsSpam {
		for _, a := range actions {
			if a > det.Action {
				det.Action = a
			}
		}
	}
	return det
}

// checkRepetition must be called with t.mu held.
func (t *Tracker) checkRepetition(groupID int64, text string) bool {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minRepeatLength {
		return false
	}
	set, ok := t.fingerprints[groupID]
	if !ok {
		set = newFingerprintSet()
		t.fingerprints[groupID] = set
	}
	return !set.insert(Fingerprint(text), t.cfg.FingerprintCap)
}

// Fingerprint is the content hash used for repetition detection.
func Fingerprint(text string) string {
	return fmt.Sprintf("%016x", murmur3.Sum64([]byte(text)))
}

// Warn adds a warning and returns the new total.
func (t *Tracker) Warn(userID int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.profile(userID, t.cfg.Now())
	p.Warnings++
	return p.Warnings
}

func (t *Tracker) Warnings(userID int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.profiles[userID]; ok {
		return p.Warnings
	}
	return 0
}

func (t *Tracker) ResetWarnings(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.profiles[userID]; ok {
		p.Warnings = 0
	}
}

// Whitelist exempts a user from scoring and clears their warnings.
func (t *Tracker) Whitelist(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.whitelist[userID] = struct{}{}
	if p, ok := t.profiles[userID]; ok {
		p.Warnings = 0
	}
}

func (t *Tracker) Unwhitelist(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.whitelist, userID)
}

// Blacklist sets the user's warnings to at least n so their next warning bans.
func (t *Tracker) Blacklist(userID int64, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.whitelist, userID)
	p := t.profile(userID, t.cfg.Now())
	if p.Warnings < n {
		p.Warnings = n
	}
}

// Profile returns a copy of the user's profile.
func (t *Tracker) Profile(userID int64) (Profile, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.profiles[userID]
	if !ok {
		return Profile{}, false
	}
	return *p, true
}

// SpamScore is a 0..1 reputation figure derived from warnings and activity.
func (t *Tracker) SpamScore(userID int64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.profiles[userID]
	if !ok {
		return 0
	}
	score := float64(p.Warnings) * 0.2
	if p.MessageCount >= t.cfg.FloodThreshold {
		score += 0.3
	}
	if p.LinkCount > 5 {
		score += 0.2
	}
	if t.cfg.Now().Sub(p.JoinTime) < t.cfg.NewAccountAge {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

// CleanupStats reports what a cleanup pass removed.
type CleanupStats struct {
	Profiles  int
	Compacted int
}

// Cleanup drops profiles idle for InactiveAfter and compacts oversized
// fingerprint sets.
func (t *Tracker) Cleanup(now time.Time) CleanupStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var stats CleanupStats
	for id, p := range t.profiles {
		if now.Sub(p.LastSeen) >= t.cfg.InactiveAfter {
			delete(t.profiles, id)
			stats.Profiles++
		}
	}
	for _, set := range t.fingerprints {
		if set.compact(t.cfg.FingerprintHardCap, t.cfg.FingerprintCompactTo) {
			stats.Compacted++
		}
	}
	if stats.Profiles > 0 || stats.Compacted > 0 {
		logger.Infof("Behavior cleanup: removed %d profiles, compacted %d fingerprint sets", stats.Profiles, stats.Compacted)
	}
	return stats
}

// ProfileCount is the number of tracked users.
func (t *Tracker) ProfileCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.profiles)
}

// FingerprintCount is the number of live fingerprints for a group.
func (t *Tracker) FingerprintCount(groupID int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if set, ok := t.fingerprints[groupID]; ok {
		return set.len()
	}
	return 0
}
