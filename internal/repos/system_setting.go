package repos

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/padhaihub/padhai-backend/internal/platform/logger"
	"github.com/padhaihub/padhai-backend/internal/types"
)

type SystemSettingRepo interface {
	// GetBool reads the flag fresh from storage on every call. Callers must
	// not cache the result across operations.
	GetBool(ctx context.Context, tx *gorm.DB, key string) (bool, error)
	SetBool(ctx context.Context, tx *gorm.DB, key string, value bool) error
}

type systemSettingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSystemSettingRepo(db *gorm.DB, baseLog *logger.Logger) SystemSettingRepo {
	return &systemSettingRepo{
		db:  db,
		log: baseLog.With("repo", "SystemSettingRepo"),
	}
}

func (r *systemSettingRepo) GetBool(ctx context.Context, tx *gorm.DB, key string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if key == "" {
		return false, nil
	}
	var row types.SystemSetting
	err := transaction.WithContext(ctx).
		Where("key = ?", key).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(row.Value)) {
	case "1", "true", "yes", "on":
		return true, nil
	default:
		return false, nil
	}
}

func (r *systemSettingRepo) SetBool(ctx context.Context, tx *gorm.DB, key string, value bool) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if key == "" {
		return nil
	}
	val := "false"
	if value {
		val = "true"
	}
	row := &types.SystemSetting{Key: key, Value: val, UpdatedAt: time.Now()}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(row).Error
}
