package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tg-guardian/internal/models"
	"tg-guardian/internal/permission"
)

// RoleRepository persists role assignments and permission overrides.
type RoleRepository struct {
	db *gorm.DB
}

func NewRoleRepository(db *gorm.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

func (r *RoleRepository) MigrateTable() error {
	return r.db.AutoMigrate(&models.RoleAssignment{}, &models.PermissionOverride{})
}

func (r *RoleRepository) LoadAssignments(ctx context.Context) ([]permission.Assignment, error) {
	var rows []models.RoleAssignment
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "roleRepo.LoadAssignments")
	}
	out := make([]permission.Assignment, 0, len(rows))
	for _, row := range rows {
		a := permission.Assignment{
			GroupID:    row.GroupID,
			UserID:     row.UserID,
			Role:       permission.Role(row.Role),
			AssignedBy: row.AssignedBy,
			AssignedAt: row.AssignedAt,
			Reason:     row.Reason,
		}
		if row.ExpiresAt != nil {
			a.ExpiresAt = *row.ExpiresAt
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *RoleRepository) SaveAssignment(ctx context.Context, a permission.Assignment) error {
	row := models.RoleAssignment{
		GroupID:    a.GroupID,
		UserID:     a.UserID,
		Role:       int(a.Role),
		AssignedBy: a.AssignedBy,
		AssignedAt: a.AssignedAt,
		Reason:     a.Reason,
	}
	if !a.ExpiresAt.IsZero() {
		at := a.ExpiresAt
		row.ExpiresAt = &at
	}
	return errors.Wrap(r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error, "roleRepo.SaveAssignment")
}

func (r *RoleRepository) DeleteAssignment(ctx context.Context, groupID, userID int64) error {
	return errors.Wrap(r.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Delete(&models.RoleAssignment{}).Error, "roleRepo.DeleteAssignment")
}

func (r *RoleRepository) LoadOverrides(ctx context.Context) ([]permission.Override, error) {
	var rows []models.PermissionOverride
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "roleRepo.LoadOverrides")
	}
	out := make([]permission.Override, 0, len(rows))
	for _, row := range rows {
		out = append(out, permission.Override{
			GroupID:    row.GroupID,
			Role:       permission.Role(row.Role),
			Permission: permission.Permission(row.Permission),
			Granted:    row.Granted,
			UpdatedBy:  row.UpdatedBy,
		})
	}
	return out, nil
}

func (r *RoleRepository) SaveOverride(ctx context.Context, o permission.Override) error {
	row := models.PermissionOverride{
		GroupID:    o.GroupID,
		Role:       int(o.Role),
		Permission: string(o.Permission),
		Granted:    o.Granted,
		UpdatedBy:  o.UpdatedBy,
		UpdatedAt:  time.Now(),
	}
	return errors.Wrap(r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error, "roleRepo.SaveOverride")
}

func (r *RoleRepository) DeleteOverride(ctx context.Context, groupID int64, role permission.Role, p permission.Permission) error {
	return errors.Wrap(r.db.WithContext(ctx).
		Where("group_id = ? AND role = ? AND permission = ?", groupID, int(role), string(p)).
		Delete(&models.PermissionOverride{}).Error, "roleRepo.DeleteOverride")
}
