package storage

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"tg-guardian/internal/models"
	"tg-guardian/internal/verification"
)

// VerificationRepository stores the terminal outcome of captcha sessions.
type VerificationRepository struct {
	db *gorm.DB
}

func NewVerificationRepository(db *gorm.DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

func (r *VerificationRepository) MigrateTable() error {
	return r.db.AutoMigrate(&models.VerificationRecord{})
}

func (r *VerificationRepository) SaveRecord(ctx context.Context, rec verification.Record) error {
	row := models.VerificationRecord{
		GroupID:     rec.GroupID,
		UserID:      rec.UserID,
		Kind:        string(rec.Kind),
		Outcome:     rec.Outcome.String(),
		Attempts:    rec.Attempts,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}
	return errors.Wrap(r.db.WithContext(ctx).Create(&row).Error, "verificationRepo.SaveRecord")
}

// Records returns a group's records, newest first.
func (r *VerificationRepository) Records(ctx context.Context, groupID int64, limit int) ([]models.VerificationRecord, error) {
	var rows []models.VerificationRecord
	err := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("completed_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, errors.Wrap(err, "verificationRepo.Records")
}
