package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/padhaihub/padhai-backend/internal/platform/logger"
	"github.com/padhaihub/padhai-backend/internal/types"
)

type OutboxRepo interface {
	Create(ctx context.Context, tx *gorm.DB, msg *types.OutboxMessage) (*types.OutboxMessage, error)
	ClaimUndispatched(ctx context.Context, tx *gorm.DB, limit int) ([]*types.OutboxMessage, error)
	MarkDispatched(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	RecordAttempt(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type outboxRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOutboxRepo(db *gorm.DB, baseLog *logger.Logger) OutboxRepo {
	return &outboxRepo{
		db:  db,
		log: baseLog.With("repo", "OutboxRepo"),
	}
}

func (r *outboxRepo) Create(ctx context.Context, tx *gorm.DB, msg *types.OutboxMessage) (*types.OutboxMessage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if msg == nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, err
	}
	return msg, nil
}

// ClaimUndispatched locks a batch of pending rows so concurrent dispatcher
// sweeps never publish the same message twice within a transaction.
func (r *outboxRepo) ClaimUndispatched(ctx context.Context, tx *gorm.DB, limit int) ([]*types.OutboxMessage, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 50
	}
	var out []*types.OutboxMessage
	err := transaction.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("dispatched_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *outboxRepo) MarkDispatched(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.OutboxMessage{}).
		Where("id = ? AND dispatched_at IS NULL", id).
		Updates(map[string]interface{}{
			"dispatched_at": now,
			"attempts":      gorm.Expr("attempts + 1"),
		}).Error
}

func (r *outboxRepo) RecordAttempt(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.OutboxMessage{}).
		Where("id = ?", id).
		Update("attempts", gorm.Expr("attempts + 1")).Error
}
