package storage

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tg-guardian/internal/janitor"
	"tg-guardian/internal/models"
)

// PendingMsgRepository keeps scheduled message deletions across restarts.
type PendingMsgRepository struct {
	db *gorm.DB
}

func NewPendingMsgRepository(db *gorm.DB) *PendingMsgRepository {
	return &PendingMsgRepository{db: db}
}

// MigrateTable ensures the PendingMessage table exists
func (r *PendingMsgRepository) MigrateTable() error {
	return r.db.AutoMigrate(&models.PendingMessage{})
}

// SavePending records a deletion, replacing an earlier one for the same message.
func (r *PendingMsgRepository) SavePending(ctx context.Context, d janitor.Deletion) error {
	pm := models.PendingMessage{ChatID: d.ChatID, MessageID: d.MessageID, DeleteAt: d.DeleteAt, Kind: d.Kind}
	return errors.Wrap(r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}, {Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"delete_at", "kind"}),
	}).Create(&pm).Error, "pendingMsgRepo.SavePending")
}

func (r *PendingMsgRepository) DeletePending(ctx context.Context, chatID int64, messageID int) error {
	return errors.Wrap(r.db.WithContext(ctx).Where("chat_id = ? AND message_id = ?", chatID, messageID).Delete(&models.PendingMessage{}).Error, "pendingMsgRepo.DeletePending")
}

func (r *PendingMsgRepository) LoadPending(ctx context.Context) ([]janitor.Deletion, error) {
	var msgs []models.PendingMessage
	if err := r.db.WithContext(ctx).Order("delete_at").Find(&msgs).Error; err != nil {
		return nil, errors.Wrap(err, "pendingMsgRepo.LoadPending")
	}
	out := make([]janitor.Deletion, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, janitor.Deletion{ChatID: m.ChatID, MessageID: m.MessageID, DeleteAt: m.DeleteAt, Kind: m.Kind})
	}
	return out, nil
}
