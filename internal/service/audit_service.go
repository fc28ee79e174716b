package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tg-guardian/internal/logger"
	"tg-guardian/internal/models"
)

// LogStore persists moderation log entries.
type LogStore interface {
	Create(ctx context.Context, record *models.ModerationLog) error
}

// Action names stored in the moderation log.
const (
	ActionDelete      = "delete"
	ActionWarn        = "warn"
	ActionMute        = "mute"
	ActionUnmute      = "unmute"
	ActionBan         = "ban"
	ActionGBan        = "gban"
	ActionUnGBan      = "ungban"
	ActionGBanEnforce = "gban_enforce"
	ActionFilter      = "filter"
	ActionEdit        = "edit"
	ActionLock        = "lock"
	ActionUnlock      = "unlock"
	ActionPromote     = "promote"
	ActionDemote      = "demote"
	ActionUnwarn      = "unwarn"
)

// AuditEntry describes one action to log.
type AuditEntry struct {
	GroupID         int64
	UserID          int64
	ActorID         int64
	Action          string
	Reason          string
	OriginalMessage string
	EditedMessage   string
	MessageID       int
}

// AuditLog writes moderation actions to the log file and, when a store is
// configured, to the moderation_logs table.
type AuditLog struct {
	store LogStore
	now   func() time.Time
}

func NewAuditLog(store LogStore) *AuditLog {
	return &AuditLog{store: store, now: time.Now}
}

// Record logs e and returns its event ID. A failed database write is
// logged and otherwise ignored.
func (a *AuditLog) Record(ctx context.Context, e AuditEntry) string {
	id := uuid.NewString()
	logger.Infof("[%s] %s user=%d group=%d actor=%d reason=%q", id, e.Action, e.UserID, e.GroupID, e.ActorID, e.Reason)
	if a.store == nil {
		return id
	}
	record := &models.ModerationLog{
		EventID:         id,
		GroupID:         e.GroupID,
		UserID:          e.UserID,
		ActorID:         e.ActorID,
		Action:          e.Action,
		Reason:          e.Reason,
		OriginalMessage: e.OriginalMessage,
		EditedMessage:   e.EditedMessage,
		MessageID:       e.MessageID,
		CreatedAt:       a.now(),
	}
	if err := a.store.Create(ctx, record); err != nil {
		logger.Warningf("Error saving moderation log %s: %v", id, err)
	}
	return id
}
