package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"tg-guardian/internal/models"
)

// ModerationLogRepository handles database operations for ModerationLog
type ModerationLogRepository struct {
	db *gorm.DB
}

func NewModerationLogRepository(db *gorm.DB) *ModerationLogRepository {
	return &ModerationLogRepository{db: db}
}

// MigrateTable ensures the ModerationLog table exists
func (r *ModerationLogRepository) MigrateTable() error {
	return r.db.AutoMigrate(&models.ModerationLog{})
}

func (r *ModerationLogRepository) Create(ctx context.Context, record *models.ModerationLog) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(record).Error, "moderationLogRepo.Create")
}

// Recent returns the newest entries of a group, newest first.
func (r *ModerationLogRepository) Recent(ctx context.Context, groupID int64, limit int) ([]models.ModerationLog, error) {
	var records []models.ModerationLog
	err := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&records).Error
	return records, errors.Wrap(err, "moderationLogRepo.Recent")
}

// ByUser returns every entry about a user in a group, oldest first.
func (r *ModerationLogRepository) ByUser(ctx context.Context, groupID, userID int64) ([]models.ModerationLog, error) {
	var records []models.ModerationLog
	err := r.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Order("created_at, id").
		Find(&records).Error
	return records, errors.Wrap(err, "moderationLogRepo.ByUser")
}

type actionCount struct {
	Action string
	Count  int64
}

// CountByAction tallies a group's entries since the given time.
func (r *ModerationLogRepository) CountByAction(ctx context.Context, groupID int64, since time.Time) (map[string]int64, error) {
	var rows []actionCount
	err := r.db.WithContext(ctx).Model(&models.ModerationLog{}).
		Select("action, count(*) AS count").
		Where("group_id = ? AND created_at >= ?", groupID, since).
		Group("action").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "moderationLogRepo.CountByAction")
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Action] = row.Count
	}
	return out, nil
}

// Purge deletes entries older than before and returns how many were removed.
func (r *ModerationLogRepository) Purge(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.ModerationLog{})
	return res.RowsAffected, errors.Wrap(res.Error, "moderationLogRepo.Purge")
}
