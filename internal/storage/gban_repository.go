package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tg-guardian/internal/gban"
	"tg-guardian/internal/models"
)

// GBanRepository persists the global ban list, its admins and the
// subscribed groups.
type GBanRepository struct {
	db *gorm.DB
}

func NewGBanRepository(db *gorm.DB) *GBanRepository {
	return &GBanRepository{db: db}
}

func (r *GBanRepository) MigrateTable() error {
	return r.db.AutoMigrate(&models.GBanEntry{}, &models.GBanAdmin{}, &models.GBanSubscription{})
}

func (r *GBanRepository) LoadEntries(ctx context.Context) ([]gban.Entry, error) {
	var rows []models.GBanEntry
	if err := r.db.WithContext(ctx).Order("created_at").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "gbanRepo.LoadEntries")
	}
	out := make([]gban.Entry, 0, len(rows))
	for _, row := range rows {
		e := gban.Entry{
			UserID:           row.UserID,
			Username:         row.Username,
			DisplayName:      row.DisplayName,
			Reason:           row.Reason,
			BannedBy:         row.BannedBy,
			BannedByUsername: row.BannedByUsername,
			Evidence:         row.Evidence,
			IsPermanent:      row.IsPermanent,
			CreatedAt:        row.CreatedAt,
		}
		if row.ExpiresAt != nil {
			e.ExpiresAt = *row.ExpiresAt
		}
		out = append(out, e)
	}
	return out, nil
}

// SaveEntry inserts a new ban; a second ban of the same user is a
// primary key violation.
func (r *GBanRepository) SaveEntry(ctx context.Context, e gban.Entry) error {
	row := models.GBanEntry{
		UserID:           e.UserID,
		Username:         e.Username,
		DisplayName:      e.DisplayName,
		Reason:           e.Reason,
		BannedBy:         e.BannedBy,
		BannedByUsername: e.BannedByUsername,
		Evidence:         e.Evidence,
		IsPermanent:      e.IsPermanent,
		CreatedAt:        e.CreatedAt,
	}
	if !e.ExpiresAt.IsZero() {
		at := e.ExpiresAt
		row.ExpiresAt = &at
	}
	return errors.Wrap(r.db.WithContext(ctx).Create(&row).Error, "gbanRepo.SaveEntry")
}

func (r *GBanRepository) DeleteEntry(ctx context.Context, userID int64) error {
	return errors.Wrap(r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.GBanEntry{}).Error, "gbanRepo.DeleteEntry")
}

// DeleteExpiredEntry leaves permanent bans and bans still running at now.
func (r *GBanRepository) DeleteExpiredEntry(ctx context.Context, userID int64, now time.Time) error {
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_permanent = ? AND expires_at IS NOT NULL AND expires_at < ?", userID, false, now).
		Delete(&models.GBanEntry{}).Error
	return errors.Wrap(err, "gbanRepo.DeleteExpiredEntry")
}

func (r *GBanRepository) LoadAdmins(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&models.GBanAdmin{}).Pluck("user_id", &ids).Error
	return ids, errors.Wrap(err, "gbanRepo.LoadAdmins")
}

func (r *GBanRepository) SaveAdmin(ctx context.Context, userID, addedBy int64) error {
	row := models.GBanAdmin{UserID: userID, AddedBy: addedBy, CreatedAt: time.Now()}
	return errors.Wrap(r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error, "gbanRepo.SaveAdmin")
}

func (r *GBanRepository) DeleteAdmin(ctx context.Context, userID int64) error {
	return errors.Wrap(r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.GBanAdmin{}).Error, "gbanRepo.DeleteAdmin")
}

func (r *GBanRepository) LoadSubscriptions(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).Model(&models.GBanSubscription{}).Pluck("group_id", &ids).Error
	return ids, errors.Wrap(err, "gbanRepo.LoadSubscriptions")
}

func (r *GBanRepository) SaveSubscription(ctx context.Context, groupID, subscribedBy int64) error {
	row := models.GBanSubscription{GroupID: groupID, SubscribedBy: subscribedBy, CreatedAt: time.Now()}
	return errors.Wrap(r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error, "gbanRepo.SaveSubscription")
}

func (r *GBanRepository) DeleteSubscription(ctx context.Context, groupID int64) error {
	return errors.Wrap(r.db.WithContext(ctx).Where("group_id = ?", groupID).Delete(&models.GBanSubscription{}).Error, "gbanRepo.DeleteSubscription")
}
