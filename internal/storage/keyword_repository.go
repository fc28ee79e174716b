package storage

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tg-guardian/internal/filter"
	"tg-guardian/internal/models"
)

// KeywordRepository stores group-scoped filter keywords.
type KeywordRepository struct {
	db *gorm.DB
}

func NewKeywordRepository(db *gorm.DB) *KeywordRepository {
	return &KeywordRepository{db: db}
}

func (r *KeywordRepository) MigrateTable() error {
	return r.db.AutoMigrate(&models.KeywordEntry{})
}

func (r *KeywordRepository) LoadKeywords(ctx context.Context) ([]filter.Keyword, error) {
	var rows []models.KeywordEntry
	if err := r.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "keywordRepo.LoadKeywords")
	}
	out := make([]filter.Keyword, 0, len(rows))
	for _, row := range rows {
		out = append(out, filter.Keyword{GroupID: row.GroupID, Category: row.Category, Word: row.Keyword})
	}
	return out, nil
}

func (r *KeywordRepository) SaveKeyword(ctx context.Context, k filter.Keyword) error {
	row := models.KeywordEntry{GroupID: k.GroupID, Category: k.Category, Keyword: k.Word}
	return errors.Wrap(r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error, "keywordRepo.SaveKeyword")
}

func (r *KeywordRepository) DeleteKeyword(ctx context.Context, k filter.Keyword) error {
	return errors.Wrap(r.db.WithContext(ctx).
		Where("group_id = ? AND category = ? AND keyword = ?", k.GroupID, k.Category, k.Word).
		Delete(&models.KeywordEntry{}).Error, "keywordRepo.DeleteKeyword")
}
