// Package janitor deletes bot notices after a delay. Pending deletions are
// persisted when a store is configured so they survive a restart.
package janitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tg-guardian/internal/gateway"
	"tg-guardian/internal/logger"
	"tg-guardian/internal/scheduler"
)

// Deletion is one scheduled message deletion.
type Deletion struct {
	ChatID    int64
	MessageID int
	DeleteAt  time.Time
	Kind      string
}

type Store interface {
	SavePending(ctx context.Context, d Deletion) error
	DeletePending(ctx context.Context, chatID int64, messageID int) error
	LoadPending(ctx context.Context) ([]Deletion, error)
}

type Janitor struct {
	gw    gateway.Gateway
	sched scheduler.Scheduler
	store Store
	now   func() time.Time

	mu      sync.Mutex
	pending map[string]Deletion
}

// New builds a Janitor; store may be nil, in which case pending deletions
// only live in memory and are flushed on shutdown.
func New(gw gateway.Gateway, sched scheduler.Scheduler, store Store, now func() time.Time) *Janitor {
	if now == nil {
		now = time.Now
	}
	return &Janitor{gw: gw, sched: sched, store: store, now: now, pending: make(map[string]Deletion)}
}

func key(chatID int64, messageID int) string {
	return fmt.Sprintf("delete:%d:%d", chatID, messageID)
}

// DeleteAfter schedules messageID in chatID for deletion after delay.
func (j *Janitor) DeleteAfter(ctx context.Context, chatID int64, messageID int, delay time.Duration) {
	j.schedule(ctx, Deletion{ChatID: chatID, MessageID: messageID, DeleteAt: j.now().Add(delay), Kind: "notice"}, true)
}

func (j *Janitor) schedule(ctx context.Context, d Deletion, persist bool) {
	if d.MessageID == 0 {
		return
	}
	k := key(d.ChatID, d.MessageID)
	j.mu.Lock()
	j.pending[k] = d
	j.mu.Unlock()

	if persist && j.store != nil {
		if err := j.store.SavePending(ctx, d); err != nil {
			logger.Warningf("Failed to persist pending deletion of message %d in chat %d: %v", d.MessageID, d.ChatID, err)
		}
	}

	delay := d.DeleteAt.Sub(j.now())
	if delay < 0 {
		delay = 0
	}
	j.sched.Schedule(k, delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		j.delete(ctx, d)
	})
}

func (j *Janitor) delete(ctx context.Context, d Deletion) {
	k := key(d.ChatID, d.MessageID)
	j.mu.Lock()
	_, ok := j.pending[k]
	delete(j.pending, k)
	j.mu.Unlock()
	if !ok {
		return
	}

	if err := j.gw.DeleteMessage(ctx, d.ChatID, d.MessageID); !gateway.Ignorable(err) {
		logger.Warningf("Failed to delete message %d in chat %d: %v", d.MessageID, d.ChatID, err)
	}
	if j.store != nil {
		if err := j.store.DeletePending(ctx, d.ChatID, d.MessageID); err != nil {
			logger.Warningf("Failed to remove pending deletion record for message %d in chat %d: %v", d.MessageID, d.ChatID, err)
		}
	}
}

// Cancel drops a scheduled deletion without deleting the message.
func (j *Janitor) Cancel(ctx context.Context, chatID int64, messageID int) bool {
	k := key(chatID, messageID)
	j.mu.Lock()
	_, ok := j.pending[k]
	delete(j.pending, k)
	j.mu.Unlock()
	j.sched.Cancel(k)
	if ok && j.store != nil {
		if err := j.store.DeletePending(ctx, chatID, messageID); err != nil {
			logger.Warningf("Failed to remove pending deletion record for message %d in chat %d: %v", messageID, chatID, err)
		}
	}
	return ok
}

// Restore reschedules deletions persisted by a previous run; overdue ones
// run immediately.
func (j *Janitor) Restore(ctx context.Context) error {
	if j.store == nil {
		return nil
	}
	items, err := j.store.LoadPending(ctx)
	if err != nil {
		return fmt.Errorf("load pending deletions: %w", err)
	}
	for _, d := range items {
		j.schedule(ctx, d, false)
	}
	if len(items) > 0 {
		logger.Infof("Restored %d pending message deletions", len(items))
	}
	return nil
}

// Flush deletes every pending message now. It is called on shutdown when
// there is no store to carry the deletions over.
func (j *Janitor) Flush(ctx context.Context) int {
	j.mu.Lock()
	items := make([]Deletion, 0, len(j.pending))
	for _, d := range j.pending {
		items = append(items, d)
	}
	j.mu.Unlock()

	for _, d := range items {
		j.sched.Cancel(key(d.ChatID, d.MessageID))
		j.delete(ctx, d)
	}
	if len(items) > 0 {
		logger.Infof("Deleted %d pending messages during shutdown", len(items))
	}
	return len(items)
}

// Len is the number of scheduled deletions.
func (j *Janitor) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}
