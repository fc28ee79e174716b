package storage

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tg-guardian/internal/models"
)

// SettingsRepository handles database operations for GroupSettings
type SettingsRepository struct {
	db *gorm.DB
}

func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// MigrateTable ensures the GroupSettings table exists with the right schema
func (r *SettingsRepository) MigrateTable() error {
	if err := r.db.AutoMigrate(&models.GroupSettings{}); err != nil {
		return err
	}
	// rows created before the language column existed
	return r.db.Model(&models.GroupSettings{}).
		Where("language = ? OR language IS NULL", "").
		Update("language", models.LangEnglish).Error
}

// Get returns nil when the group has no stored settings.
func (r *SettingsRepository) Get(ctx context.Context, groupID int64) (*models.GroupSettings, error) {
	var s models.GroupSettings
	err := r.db.WithContext(ctx).Where("group_id = ?", groupID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "settingsRepo.Get")
	}
	return &s, nil
}

// Save creates or replaces the settings of a group.
func (r *SettingsRepository) Save(ctx context.Context, s *models.GroupSettings) error {
	return errors.Wrap(r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(s).Error, "settingsRepo.Save")
}

func (r *SettingsRepository) All(ctx context.Context) ([]*models.GroupSettings, error) {
	var groups []*models.GroupSettings
	err := r.db.WithContext(ctx).Find(&groups).Error
	return groups, errors.Wrap(err, "settingsRepo.All")
}

func (r *SettingsRepository) Delete(ctx context.Context, groupID int64) error {
	return errors.Wrap(r.db.WithContext(ctx).Where("group_id = ?", groupID).Delete(&models.GroupSettings{}).Error, "settingsRepo.Delete")
}

// WelcomeRepository stores welcome and farewell templates.
type WelcomeRepository struct {
	db *gorm.DB
}

func NewWelcomeRepository(db *gorm.DB) *WelcomeRepository {
	return &WelcomeRepository{db: db}
}

func (r *WelcomeRepository) MigrateTable() error {
	return r.db.AutoMigrate(&models.WelcomeConfig{})
}

func (r *WelcomeRepository) LoadWelcome(ctx context.Context, groupID int64) (*models.WelcomeConfig, error) {
	var cfg models.WelcomeConfig
	err := r.db.WithContext(ctx).Where("group_id = ?", groupID).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "welcomeRepo.LoadWelcome")
	}
	return &cfg, nil
}

func (r *WelcomeRepository) SaveWelcome(ctx context.Context, cfg *models.WelcomeConfig) error {
	return errors.Wrap(r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(cfg).Error, "welcomeRepo.SaveWelcome")
}
