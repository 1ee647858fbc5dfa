package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/padhaihub/padhai-backend/internal/platform/logger"
	"github.com/padhaihub/padhai-backend/internal/types"
)

// ErrDuplicateInflight is returned by Create when the partial unique index
// rejects a second non-terminal job for the same (job_type, scope, language,
// difficulty) tuple.
var ErrDuplicateInflight = errors.New("duplicate in-flight hydration job")

// LevelCounts summarizes the children of a root at one hierarchy level.
type LevelCounts struct {
	Total     int64
	Terminal  int64
	Completed int64
}

type JobFilter struct {
	Status    string
	JobType   string
	SubjectID *uuid.UUID
	RootJobID *uuid.UUID
	Limit     int
}

type HydrationJobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, job *types.HydrationJob) (*types.HydrationJob, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.HydrationJob, error)
	List(ctx context.Context, tx *gorm.DB, filter JobFilter) ([]*types.HydrationJob, error)
	FindInflight(ctx context.Context, tx *gorm.DB, jobType string, subjectID uuid.UUID, chapterID, topicID *uuid.UUID, language, difficulty string) (*types.HydrationJob, error)
	ListByRootAndLevel(ctx context.Context, tx *gorm.DB, rootJobID uuid.UUID, level types.HierarchyLevel) ([]*types.HydrationJob, error)
	CountByRootAndLevel(ctx context.Context, tx *gorm.DB, rootJobID uuid.UUID, level types.HierarchyLevel) (LevelCounts, error)
	ListActiveRoots(ctx context.Context, tx *gorm.DB, limit int) ([]*types.HydrationJob, error)
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, staleRunning time.Duration) (*types.HydrationJob, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type hydrationJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewHydrationJobRepo(db *gorm.DB, baseLog *logger.Logger) HydrationJobRepo {
	return &hydrationJobRepo{
		db:  db,
		log: baseLog.With("repo", "HydrationJobRepo"),
	}
}

func (r *hydrationJobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.HydrationJob) (*types.HydrationJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if job == nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).Create(job).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateInflight
		}
		return nil, err
	}
	return job, nil
}

func (r *hydrationJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.HydrationJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.HydrationJob
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *hydrationJobRepo) List(ctx context.Context, tx *gorm.DB, filter JobFilter) ([]*types.HydrationJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Model(&types.HydrationJob{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.JobType != "" {
		q = q.Where("job_type = ?", filter.JobType)
	}
	if filter.SubjectID != nil {
		q = q.Where("subject_id = ?", *filter.SubjectID)
	}
	if filter.RootJobID != nil {
		q = q.Where("root_job_id = ?", *filter.RootJobID)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []*types.HydrationJob
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *hydrationJobRepo) FindInflight(ctx context.Context, tx *gorm.DB, jobType string, subjectID uuid.UUID, chapterID, topicID *uuid.UUID, language, difficulty string) (*types.HydrationJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if jobType == "" || subjectID == uuid.Nil {
		return nil, nil
	}
	q := transaction.WithContext(ctx).
		Where("job_type = ? AND subject_id = ? AND language = ? AND difficulty = ?", jobType, subjectID, language, difficulty).
		Where("status IN ?", []string{types.JobStatusPending, types.JobStatusRunning})
	if chapterID != nil {
		q = q.Where("chapter_id = ?", *chapterID)
	} else {
		q = q.Where("chapter_id IS NULL")
	}
	if topicID != nil {
		q = q.Where("topic_id = ?", *topicID)
	} else {
		q = q.Where("topic_id IS NULL")
	}
	var job types.HydrationJob
	err := q.Order("created_at ASC").Limit(1).Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *hydrationJobRepo) ListByRootAndLevel(ctx context.Context, tx *gorm.DB, rootJobID uuid.UUID, level types.HierarchyLevel) ([]*types.HydrationJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.HydrationJob
	if rootJobID == uuid.Nil {
		return out, nil
	}
	err := transaction.WithContext(ctx).
		Where("root_job_id = ? AND hierarchy_level = ?", rootJobID, level).
		Where("id <> ?", rootJobID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *hydrationJobRepo) CountByRootAndLevel(ctx context.Context, tx *gorm.DB, rootJobID uuid.UUID, level types.HierarchyLevel) (LevelCounts, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var counts LevelCounts
	if rootJobID == uuid.Nil {
		return counts, nil
	}
	base := transaction.WithContext(ctx).Model(&types.HydrationJob{}).
		Where("root_job_id = ? AND hierarchy_level = ?", rootJobID, level).
		Where("id <> ?", rootJobID)
	if err := base.Session(&gorm.Session{}).Count(&counts.Total).Error; err != nil {
		return counts, err
	}
	terminal := []string{types.JobStatusCompleted, types.JobStatusFailed, types.JobStatusCancelled}
	if err := base.Session(&gorm.Session{}).Where("status IN ?", terminal).Count(&counts.Terminal).Error; err != nil {
		return counts, err
	}
	if err := base.Session(&gorm.Session{}).Where("status = ?", types.JobStatusCompleted).Count(&counts.Completed).Error; err != nil {
		return counts, err
	}
	return counts, nil
}

// ListActiveRoots returns root jobs whose cascade is still open: the root row
// itself is past pending but content_ready has not been set by the rollup.
func (r *hydrationJobRepo) ListActiveRoots(ctx context.Context, tx *gorm.DB, limit int) ([]*types.HydrationJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 100
	}
	var out []*types.HydrationJob
	err := transaction.WithContext(ctx).
		Where("root_job_id = id").
		Where("hierarchy_level = ?", types.LevelSyllabus).
		Where("status = ?", types.JobStatusRunning).
		Where("content_ready = ?", false).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ClaimNextRunnable picks one runnable job and marks it running under SKIP
// LOCKED so concurrent workers never double-claim. Runnable means pending, or
// running with a stale heartbeat (crashed worker) and attempts left. Failed
// jobs are not runnable; operator retry resets them to pending.
func (r *hydrationJobRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, staleRunning time.Duration) (*types.HydrationJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	staleCutoff := now.Add(-staleRunning)
	var claimed *types.HydrationJob
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var job types.HydrationJob
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
				(
					status = ?
					OR (
						status = ?
						AND attempts < ?
						AND heartbeat_at IS NOT NULL
						AND heartbeat_at < ?
					)
				)
			`, types.JobStatusPending, types.JobStatusRunning, maxAttempts, staleCutoff).
			Order("created_at ASC")
		qErr := q.First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.HydrationJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       types.JobStatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *hydrationJobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.HydrationJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateFieldsUnlessStatus applies updates only when the row is not in one of
// the disallowed statuses, and reports whether a row was touched. Used to keep
// workers from overwriting cancelled jobs.
func (r *hydrationJobRepo) UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	q := transaction.WithContext(ctx).
		Model(&types.HydrationJob{}).
		Where("id = ?", id)
	if len(disallowedStatuses) > 0 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *hydrationJobRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.HydrationJob{}).
		Where("id = ? AND status = ?", id, types.JobStatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}
