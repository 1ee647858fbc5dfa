package repos

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/padhaihub/padhai-backend/internal/platform/logger"
	"github.com/padhaihub/padhai-backend/internal/types"
)

type WorkerLifecycleRepo interface {
	Register(ctx context.Context, tx *gorm.DB, row *types.WorkerLifecycle) (*types.WorkerLifecycle, error)
	Heartbeat(ctx context.Context, tx *gorm.DB, workerID string) error
	ListStale(ctx context.Context, tx *gorm.DB, olderThan time.Time) ([]*types.WorkerLifecycle, error)
	MarkFailed(ctx context.Context, tx *gorm.DB, workerID string) (previousStatus string, err error)
	MarkStopped(ctx context.Context, tx *gorm.DB, workerID string) error
}

type workerLifecycleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWorkerLifecycleRepo(db *gorm.DB, baseLog *logger.Logger) WorkerLifecycleRepo {
	return &workerLifecycleRepo{
		db:  db,
		log: baseLog.With("repo", "WorkerLifecycleRepo"),
	}
}

func (r *workerLifecycleRepo) Register(ctx context.Context, tx *gorm.DB, row *types.WorkerLifecycle) (*types.WorkerLifecycle, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if row == nil {
		return nil, nil
	}
	// A restarted process reuses its worker_id; the old row is revived rather
	// than duplicated.
	err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "worker_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"hostname", "pid", "status", "last_heartbeat_at", "started_at", "stopped_at", "updated_at",
			}),
		}).
		Create(row).Error
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (r *workerLifecycleRepo) Heartbeat(ctx context.Context, tx *gorm.DB, workerID string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if workerID == "" {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.WorkerLifecycle{}).
		Where("worker_id = ? AND status = ?", workerID, types.WorkerStatusRunning).
		Updates(map[string]interface{}{
			"last_heartbeat_at": now,
			"updated_at":        now,
		}).Error
}

func (r *workerLifecycleRepo) ListStale(ctx context.Context, tx *gorm.DB, olderThan time.Time) ([]*types.WorkerLifecycle, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.WorkerLifecycle
	err := transaction.WithContext(ctx).
		Where("last_heartbeat_at < ?", olderThan).
		Where("status NOT IN ?", []string{types.WorkerStatusFailed, types.WorkerStatusStopped}).
		Order("last_heartbeat_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkFailed flips one worker to FAILED and returns the status it held before,
// so the caller can audit the transition.
func (r *workerLifecycleRepo) MarkFailed(ctx context.Context, tx *gorm.DB, workerID string) (string, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if workerID == "" {
		return "", nil
	}
	var previous string
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var row types.WorkerLifecycle
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("worker_id = ?", workerID).
			First(&row).Error
		if qErr != nil {
			return qErr
		}
		previous = row.Status
		if row.Status == types.WorkerStatusFailed {
			return nil
		}
		now := time.Now()
		return txx.Model(&types.WorkerLifecycle{}).
			Where("worker_id = ?", workerID).
			Updates(map[string]interface{}{
				"status":     types.WorkerStatusFailed,
				"stopped_at": now,
				"updated_at": now,
			}).Error
	})
	if err != nil {
		return "", err
	}
	return previous, nil
}

func (r *workerLifecycleRepo) MarkStopped(ctx context.Context, tx *gorm.DB, workerID string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if workerID == "" {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.WorkerLifecycle{}).
		Where("worker_id = ? AND status <> ?", workerID, types.WorkerStatusFailed).
		Updates(map[string]interface{}{
			"status":     types.WorkerStatusStopped,
			"stopped_at": now,
			"updated_at": now,
		}).Error
}
