// Package gban keeps the global ban list and enforces it in every group that
// subscribed to it.
package gban

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"tg-guardian/internal/gateway"
	"tg-guardian/internal/logger"
	"tg-guardian/internal/models"
)

var (
	ErrAlreadyBanned = errors.New("user is already globally banned")
	ErrNotBanned     = errors.New("user is not globally banned")
	ErrNotAuthorized = errors.New("actor is not a global ban admin")
)

// SystemActor issues automatic removals, such as expiry.
const SystemActor int64 = 0

const searchLimit = 10

// Entry is one globally banned identity.
type Entry struct {
	UserID           int64
	Username         string
	DisplayName      string
	Reason           string
	BannedBy         int64
	BannedByUsername string
	Evidence         string
	IsPermanent      bool
	ExpiresAt        time.Time
	CreatedAt        time.Time
}

// Expired reports whether a temporary ban has run out at now.
func (e Entry) Expired(now time.Time) bool {
	return !e.IsPermanent && !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

func (e Entry) user() gateway.User {
	return gateway.User{ID: e.UserID, FirstName: e.DisplayName, Username: e.Username}
}

type Store interface {
	LoadEntries(ctx context.Context) ([]Entry, error)
	SaveEntry(ctx context.Context, e Entry) error
	DeleteEntry(ctx context.Context, userID int64) error
	// DeleteExpiredEntry removes the user's ban only if it is temporary and
	// expired at now.
	DeleteExpiredEntry(ctx context.Context, userID int64, now time.Time) error
	LoadAdmins(ctx context.Context) ([]int64, error)
	SaveAdmin(ctx context.Context, userID, addedBy int64) error
	DeleteAdmin(ctx context.Context, userID int64) error
	LoadSubscriptions(ctx context.Context) ([]int64, error)
	SaveSubscription(ctx context.Context, groupID, subscribedBy int64) error
	DeleteSubscription(ctx context.Context, groupID int64) error
}

// Sweeper deletes bot notices after a delay.
type Sweeper interface {
	DeleteAfter(ctx context.Context, chatID int64, messageID int, delay time.Duration)
}

type Config struct {
	// Admins are always allowed to issue global bans, on top of stored admins.
	Admins      []int64
	Concurrency int
	NoticeTTL   time.Duration
	Now         func() time.Time
	Texts       models.Translator
}

// BanRequest describes a new global ban. A zero Duration bans permanently.
type BanRequest struct {
	UserID   int64
	Reason   string
	Actor    int64
	Evidence string
	Duration time.Duration
}

// Report summarizes one enforcement pass over the subscribed groups.
type Report struct {
	Groups       int
	Banned       int
	Skipped      int
	Failed       int
	Unsubscribed []int64
}

type Stats struct {
	Total      int
	Permanent  int
	Temporary  int
	Subscribed int
	Admins     int
	Enforced   int64
	Failed     int64
}

// Registry owns the ban list, the admin set and the subscriptions.
type Registry struct {
	gw      gateway.Gateway
	store   Store
	sweeper Sweeper
	cfg     Config

	mu        sync.Mutex
	entries   map[int64]Entry
	reserved  map[int64]struct{}
	admins    map[int64]struct{}
	seeded    map[int64]struct{}
	subscribe map[int64]struct{}

	enforced atomic.Int64
	failed   atomic.Int64
}

// NewRegistry builds a Registry; store and sweeper may be nil.
func NewRegistry(gw gateway.Gateway, store Store, sweeper Sweeper, cfg Config) *Registry {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.NoticeTTL <= 0 {
		cfg.NoticeTTL = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Texts == nil {
		cfg.Texts = models.StaticTranslator(models.LangEnglish)
	}
	r := &Registry{
		gw:        gw,
		store:     store,
		sweeper:   sweeper,
		cfg:       cfg,
		entries:   make(map[int64]Entry),
		reserved:  make(map[int64]struct{}),
		admins:    make(map[int64]struct{}),
		seeded:    make(map[int64]struct{}),
		subscribe: make(map[int64]struct{}),
	}
	for _, id := range cfg.Admins {
		r.admins[id] = struct{}{}
		r.seeded[id] = struct{}{}
	}
	return r
}

// Load reads bans, admins and subscriptions from the store. Bans that
// expired while the process was down are purged.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	entries, err := r.store.LoadEntries(ctx)
	if err != nil {
		return fmt.Errorf("load gban entries: %w", err)
	}
	admins, err := r.store.LoadAdmins(ctx)
	if err != nil {
		return fmt.Errorf("load gban admins: %w", err)
	}
	subs, err := r.store.LoadSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("load gban subscriptions: %w", err)
	}

	now := r.cfg.Now()
	var stale []Entry
	r.mu.Lock()
	for _, e := range entries {
		if e.Expired(now) {
			stale = append(stale, e)
			continue
		}
		r.entries[e.UserID] = e
	}
	for _, id := range admins {
		r.admins[id] = struct{}{}
	}
	for _, id := range subs {
		r.subscribe[id] = struct{}{}
	}
	activeEntries.Set(float64(len(r.entries)))
	r.mu.Unlock()

	for _, e := range stale {
		r.forget(ctx, e, now)
	}
	logger.Infof("Loaded %d global bans, %d admins and %d subscribed groups", len(entries)-len(stale), len(admins), len(subs))
	return nil
}

func (r *Registry) authorized(actor int64) bool {
	if actor == SystemActor {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.admins[actor]
	return ok
}

// Ban adds a global ban and enforces it in every subscribed group the user
// is a member of. The entry is persisted before it becomes visible; if the
// write fails nothing changes.
func (r *Registry) Ban(ctx context.Context, req BanRequest) (Report, error) {
	if !r.authorized(req.Actor) {
		return Report{}, ErrNotAuthorized
	}
	now := r.cfg.Now()

	r.mu.Lock()
	if e, ok := r.entries[req.UserID]; ok && !e.Expired(now) {
		r.mu.Unlock()
		return Report{}, ErrAlreadyBanned
	}
	if _, busy := r.reserved[req.UserID]; busy {
		r.mu.Unlock()
		return Report{}, ErrAlreadyBanned
	}
	r.reserved[req.UserID] = struct{}{}
	r.mu.Unlock()

	entry := Entry{
		UserID:      req.UserID,
		DisplayName: "Unknown",
		Reason:      req.Reason,
		BannedBy:    req.Actor,
		Evidence:    req.Evidence,
		IsPermanent: req.Duration <= 0,
		CreatedAt:   now,
	}
	if !entry.IsPermanent {
		entry.ExpiresAt = now.Add(req.Duration)
	}
	if u, err := r.gw.GetUser(ctx, req.UserID); err == nil {
		entry.Username = u.Username
		if name := u.DisplayName(); name != "" {
			entry.DisplayName = name
		}
	}
	if req.Actor != SystemActor {
		if u, err := r.gw.GetUser(ctx, req.Actor); err == nil {
			entry.BannedByUsername = u.Username
		}
	}

	if r.store != nil {
		err := r.store.DeleteExpiredEntry(ctx, req.UserID, now)
		if err == nil {
			err = r.store.SaveEntry(ctx, entry)
		}
		if err != nil {
			r.mu.Lock()
			delete(r.reserved, req.UserID)
			r.mu.Unlock()
			return Report{}, fmt.Errorf("save gban entry for user %d: %w", req.UserID, err)
		}
	}

	r.mu.Lock()
	delete(r.reserved, req.UserID)
	r.entries[req.UserID] = entry
	activeEntries.Set(float64(len(r.entries)))
	r.mu.Unlock()

	logger.Infof("User %d globally banned by %d: %s", req.UserID, req.Actor, req.Reason)
	report := r.enforceAll(ctx, entry)
	logger.Infof("Global ban of user %d enforced in %d of %d groups (%d failed)", req.UserID, report.Banned, report.Groups, report.Failed)
	return report, nil
}

// Unban lifts a global ban. Members already removed from groups stay removed.
func (r *Registry) Unban(ctx context.Context, userID, actor int64) error {
	if !r.authorized(actor) {
		return ErrNotAuthorized
	}
	r.mu.Lock()
	_, ok := r.entries[userID]
	r.mu.Unlock()
	if !ok {
		return ErrNotBanned
	}
	if r.store != nil {
		if err := r.store.DeleteEntry(ctx, userID); err != nil {
			return fmt.Errorf("delete gban entry for user %d: %w", userID, err)
		}
	}
	r.mu.Lock()
	delete(r.entries, userID)
	activeEntries.Set(float64(len(r.entries)))
	r.mu.Unlock()
	logger.Infof("User %d globally unbanned by %d", userID, actor)
	return nil
}

// Check returns the active ban for userID. An expired temporary ban is
// removed and reported as absent.
func (r *Registry) Check(ctx context.Context, userID int64) (Entry, bool) {
	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok {
		r.mu.Unlock()
		return Entry{}, false
	}
	now := r.cfg.Now()
	if !e.Expired(now) {
		r.mu.Unlock()
		return e, true
	}
	delete(r.entries, userID)
	activeEntries.Set(float64(len(r.entries)))
	r.mu.Unlock()

	logger.Infof("Global ban of user %d expired", userID)
	r.deleteStored(ctx, userID, now)
	return Entry{}, false
}

// forget drops an expired entry unless a newer ban replaced it meanwhile.
func (r *Registry) forget(ctx context.Context, stale Entry, now time.Time) {
	r.mu.Lock()
	if cur, ok := r.entries[stale.UserID]; ok && cur.CreatedAt.Equal(stale.CreatedAt) && cur.Expired(now) {
		delete(r.entries, stale.UserID)
		activeEntries.Set(float64(len(r.entries)))
	}
	r.mu.Unlock()
	r.deleteStored(ctx, stale.UserID, now)
}

func (r *Registry) deleteStored(ctx context.Context, userID int64, now time.Time) {
	if r.store == nil {
		return
	}
	if err := r.store.DeleteExpiredEntry(ctx, userID, now); err != nil {
		logger.Warningf("Failed to delete expired gban entry of user %d: %v", userID, err)
	}
}

// OnMemberJoin bans a joining user from a subscribed group if they are
// globally banned, and reports whether it did.
func (r *Registry) OnMemberJoin(ctx context.Context, groupID int64, user gateway.User) bool {
	if !r.IsSubscribed(groupID) {
		return false
	}
	e, ok := r.Check(ctx, user.ID)
	if !ok {
		return false
	}
	return r.Enforce(ctx, groupID, user, e)
}

// Enforce bans user from one group for entry and posts a notice. A user who
// is already gone counts as enforced.
func (r *Registry) Enforce(ctx context.Context, groupID int64, user gateway.User, e Entry) bool {
	err := r.gw.BanMember(ctx, groupID, user.ID)
	switch {
	case err == nil:
	case errors.Is(err, gateway.ErrNotFound):
		enforcements.WithLabelValues("skipped").Inc()
		return true
	default:
		r.failed.Add(1)
		enforcements.WithLabelValues("failed").Inc()
		logger.Errorf("Failed to enforce global ban of user %d in chat %d: %v", user.ID, groupID, err)
		if errors.Is(err, gateway.ErrPermissionDenied) {
			r.dropSubscription(ctx, groupID)
		}
		return false
	}
	r.enforced.Add(1)
	enforcements.WithLabelValues("banned").Inc()
	if user.DisplayName() == "" {
		user = e.user()
	}
	r.notice(ctx, groupID, r.cfg.Texts.T(groupID, "gban_notice", user.Mention(), e.Reason))
	return true
}

func (r *Registry) enforceAll(ctx context.Context, e Entry) Report {
	groups := r.Subscriptions()
	report := Report{Groups: len(groups)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for _, groupID := range groups {
		g.Go(func() error {
			outcome := r.enforceIn(ctx, groupID, e)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeBanned:
				report.Banned++
			case outcomeSkipped:
				report.Skipped++
			case outcomeDenied:
				report.Failed++
				report.Unsubscribed = append(report.Unsubscribed, groupID)
			default:
				report.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(report.Unsubscribed, func(i, j int) bool { return report.Unsubscribed[i] < report.Unsubscribed[j] })
	return report
}

type outcome int

const (
	outcomeBanned outcome = iota
	outcomeSkipped
	outcomeFailed
	outcomeDenied
)

func (r *Registry) enforceIn(ctx context.Context, groupID int64, e Entry) outcome {
	status, err := r.gw.MemberStatus(ctx, groupID, e.UserID)
	if err != nil {
		if errors.Is(err, gateway.ErrPermissionDenied) {
			r.failed.Add(1)
			enforcements.WithLabelValues("failed").Inc()
			logger.Warningf("Cannot check user %d in chat %d, removing subscription: %v", e.UserID, groupID, err)
			r.dropSubscription(ctx, groupID)
			return outcomeDenied
		}
		enforcements.WithLabelValues("skipped").Inc()
		return outcomeSkipped
	}
	if !status.Present() {
		enforcements.WithLabelValues("skipped").Inc()
		return outcomeSkipped
	}

	err = r.gw.BanMember(ctx, groupID, e.UserID)
	switch {
	case err == nil:
		r.enforced.Add(1)
		enforcements.WithLabelValues("banned").Inc()
		r.notice(ctx, groupID, r.cfg.Texts.T(groupID, "gban_notice", e.user().Mention(), e.Reason))
		return outcomeBanned
	case errors.Is(err, gateway.ErrNotFound):
		enforcements.WithLabelValues("skipped").Inc()
		return outcomeSkipped
	case errors.Is(err, gateway.ErrPermissionDenied):
		r.failed.Add(1)
		enforcements.WithLabelValues("failed").Inc()
		logger.Warningf("No rights to ban user %d in chat %d, removing subscription: %v", e.UserID, groupID, err)
		r.dropSubscription(ctx, groupID)
		return outcomeDenied
	default:
		r.failed.Add(1)
		enforcements.WithLabelValues("failed").Inc()
		logger.Errorf("Failed to enforce global ban of user %d in chat %d: %v", e.UserID, groupID, err)
		return outcomeFailed
	}
}

func (r *Registry) notice(ctx context.Context, chatID int64, text string) {
	msgID, err := r.gw.SendMessage(ctx, gateway.Message{ChatID: chatID, Text: text, HTML: true})
	if err != nil {
		logger.Warningf("Failed to send global ban notice to chat %d: %v", chatID, err)
		return
	}
	if r.sweeper != nil {
		r.sweeper.DeleteAfter(ctx, chatID, msgID, r.cfg.NoticeTTL)
	}
}

func (r *Registry) dropSubscription(ctx context.Context, groupID int64) {
	r.mu.Lock()
	_, ok := r.subscribe[groupID]
	delete(r.subscribe, groupID)
	r.mu.Unlock()
	if !ok || r.store == nil {
		return
	}
	if err := r.store.DeleteSubscription(ctx, groupID); err != nil {
		logger.Warningf("Failed to delete gban subscription of chat %d: %v", groupID, err)
	}
}

// Subscribe makes a group enforce the global ban list.
func (r *Registry) Subscribe(ctx context.Context, groupID, actor int64) error {
	if r.store != nil {
		if err := r.store.SaveSubscription(ctx, groupID, actor); err != nil {
			return fmt.Errorf("save gban subscription of chat %d: %w", groupID, err)
		}
	}
	r.mu.Lock()
	r.subscribe[groupID] = struct{}{}
	r.mu.Unlock()
	logger.Infof("Chat %d subscribed to global bans by %d", groupID, actor)
	return nil
}

func (r *Registry) Unsubscribe(ctx context.Context, groupID int64) error {
	if r.store != nil {
		if err := r.store.DeleteSubscription(ctx, groupID); err != nil {
			return fmt.Errorf("delete gban subscription of chat %d: %w", groupID, err)
		}
	}
	r.mu.Lock()
	delete(r.subscribe, groupID)
	r.mu.Unlock()
	logger.Infof("Chat %d unsubscribed from global bans", groupID)
	return nil
}

func (r *Registry) IsSubscribed(groupID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subscribe[groupID]
	return ok
}

// Subscriptions returns the subscribed groups in ascending order.
func (r *Registry) Subscriptions() []int64 {
	r.mu.Lock()
	out := make([]int64, 0, len(r.subscribe))
	for id := range r.subscribe {
		out = append(out, id)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) AddAdmin(ctx context.Context, userID, addedBy int64) error {
	if r.store != nil {
		if err := r.store.SaveAdmin(ctx, userID, addedBy); err != nil {
			return fmt.Errorf("save gban admin %d: %w", userID, err)
		}
	}
	r.mu.Lock()
	r.admins[userID] = struct{}{}
	r.mu.Unlock()
	logger.Infof("User %d added as global ban admin by %d", userID, addedBy)
	return nil
}

// RemoveAdmin revokes a stored admin. Admins seeded from configuration
// cannot be removed at runtime.
func (r *Registry) RemoveAdmin(ctx context.Context, userID int64) error {
	r.mu.Lock()
	_, seeded := r.seeded[userID]
	r.mu.Unlock()
	if seeded {
		return fmt.Errorf("user %d is a configured admin: %w", userID, ErrNotAuthorized)
	}
	if r.store != nil {
		if err := r.store.DeleteAdmin(ctx, userID); err != nil {
			return fmt.Errorf("delete gban admin %d: %w", userID, err)
		}
	}
	r.mu.Lock()
	delete(r.admins, userID)
	r.mu.Unlock()
	logger.Infof("User %d removed from global ban admins", userID)
	return nil
}

func (r *Registry) IsAdmin(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.admins[userID]
	return ok
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Stats{
		Total:      len(r.entries),
		Subscribed: len(r.subscribe),
		Admins:     len(r.admins),
		Enforced:   r.enforced.Load(),
		Failed:     r.failed.Load(),
	}
	for _, e := range r.entries {
		if e.IsPermanent {
			s.Permanent++
		}
	}
	s.Temporary = s.Total - s.Permanent
	return s
}

// List returns every entry, oldest first.
func (r *Registry) List() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Search matches query case-insensitively against username, name and
// reason, returning at most ten entries.
func (r *Registry) Search(query string) []Entry {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []Entry
	for _, e := range r.List() {
		if strings.Contains(strings.ToLower(e.Username), q) ||
			strings.Contains(strings.ToLower(e.DisplayName), q) ||
			strings.Contains(strings.ToLower(e.Reason), q) {
			out = append(out, e)
			if len(out) == searchLimit {
				break
			}
		}
	}
	return out
}

type exported struct {
	UserID      int64      `json:"user_id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"first_name"`
	Reason      string     `json:"reason"`
	BannedBy    int64      `json:"banned_by"`
	Timestamp   time.Time  `json:"timestamp"`
	IsPermanent bool       `json:"is_permanent"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Export renders the ban list as indented JSON.
func (r *Registry) Export() ([]byte, error) {
	entries := r.List()
	out := make([]exported, 0, len(entries))
	for _, e := range entries {
		x := exported{
			UserID:      e.UserID,
			Username:    e.Username,
			DisplayName: e.DisplayName,
			Reason:      e.Reason,
			BannedBy:    e.BannedBy,
			Timestamp:   e.CreatedAt.UTC(),
			IsPermanent: e.IsPermanent,
		}
		if !e.IsPermanent {
			at := e.ExpiresAt.UTC()
			x.ExpiresAt = &at
		}
		out = append(out, x)
	}
	return json.MarshalIndent(out, "", "  ")
}

// CleanupExpired removes temporary bans that have run out.
func (r *Registry) CleanupExpired(ctx context.Context) int {
	now := r.cfg.Now()
	var expired []Entry
	r.mu.Lock()
	for _, e := range r.entries {
		if e.Expired(now) {
			expired = append(expired, e)
		}
	}
	r.mu.Unlock()

	for _, e := range expired {
		r.forget(ctx, e, now)
	}
	if len(expired) > 0 {
		logger.Infof("Cleaned up %d expired global bans", len(expired))
	}
	return len(expired)
}
