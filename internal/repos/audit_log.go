package repos

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/padhaihub/padhai-backend/internal/platform/logger"
	"github.com/padhaihub/padhai-backend/internal/types"
)

type AuditLogRepo interface {
	Append(ctx context.Context, tx *gorm.DB, actorID, action, entityType, entityID string, metadata map[string]any) error
}

type auditLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAuditLogRepo(db *gorm.DB, baseLog *logger.Logger) AuditLogRepo {
	return &auditLogRepo{
		db:  db,
		log: baseLog.With("repo", "AuditLogRepo"),
	}
}

func (r *auditLogRepo) Append(ctx context.Context, tx *gorm.DB, actorID, action, entityType, entityID string, metadata map[string]any) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var meta datatypes.JSON
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		meta = datatypes.JSON(b)
	}
	row := &types.AuditLog{
		ID:         uuid.New(),
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   meta,
	}
	return transaction.WithContext(ctx).Create(row).Error
}
