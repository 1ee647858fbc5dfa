package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/padhaihub/padhai-backend/internal/platform/logger"
	"github.com/padhaihub/padhai-backend/internal/repos"
	"github.com/padhaihub/padhai-backend/internal/types"
)

var (
	ErrJobNotFound      = errors.New("hydration job not found")
	ErrJobNotRetryable  = errors.New("only failed jobs can be retried")
	ErrJobNotCancelable = errors.New("only pending jobs can be cancelled")
)

// HydrateAllResult reports the per-subject outcome of a bulk submission.
type HydrateAllResult struct {
	SubjectsScanned int             `json:"subjects_scanned"`
	Enqueued        []EnqueueResult `json:"enqueued"`
	Skipped         int             `json:"skipped"`
}

// JobAdminService backs the operator API: job inspection, retry, cancel, the
// pause switch, and the hydrate-all bulk submission.
type JobAdminService struct {
	db        *gorm.DB
	log       *logger.Logger
	jobs      repos.HydrationJobRepo
	taxonomy  repos.TaxonomyRepo
	settings  repos.SystemSettingRepo
	audit     repos.AuditLogRepo
	hydration *HydrationService
}

func NewJobAdminService(
	db *gorm.DB,
	baseLog *logger.Logger,
	jobs repos.HydrationJobRepo,
	taxonomy repos.TaxonomyRepo,
	settings repos.SystemSettingRepo,
	audit repos.AuditLogRepo,
	hydration *HydrationService,
) *JobAdminService {
	return &JobAdminService{
		db:        db,
		log:       baseLog.With("service", "JobAdminService"),
		jobs:      jobs,
		taxonomy:  taxonomy,
		settings:  settings,
		audit:     audit,
		hydration: hydration,
	}
}

func (s *JobAdminService) Get(ctx context.Context, id uuid.UUID) (*types.HydrationJob, error) {
	job, err := s.jobs.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (s *JobAdminService) List(ctx context.Context, filter repos.JobFilter) ([]*types.HydrationJob, error) {
	return s.jobs.List(ctx, nil, filter)
}

// Retry resets a failed job to pending with a clean attempt budget. The
// status guard makes concurrent retries and worker races safe: whoever loses
// sees ErrJobNotRetryable.
func (s *JobAdminService) Retry(ctx context.Context, id uuid.UUID, actor string) (*types.HydrationJob, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != types.JobStatusFailed {
		return nil, fmt.Errorf("%w: job %s is %s", ErrJobNotRetryable, id, job.Status)
	}
	ok, err := s.jobs.UpdateFieldsUnlessStatus(ctx, nil, id,
		[]string{types.JobStatusPending, types.JobStatusRunning, types.JobStatusCompleted, types.JobStatusCancelled},
		map[string]interface{}{
			"status":       types.JobStatusPending,
			"attempts":     0,
			"error":        "",
			"locked_at":    nil,
			"heartbeat_at": nil,
		})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: job %s changed state", ErrJobNotRetryable, id)
	}
	s.appendAudit(ctx, actor, "hydration.job_retried", id, map[string]any{"job_type": job.JobType})
	return s.Get(ctx, id)
}

// Cancel is legal only from pending. Running jobs are left to finish; their
// terminal write is guarded against overwriting the cancellation anyway.
func (s *JobAdminService) Cancel(ctx context.Context, id uuid.UUID, actor string) (*types.HydrationJob, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != types.JobStatusPending {
		return nil, fmt.Errorf("%w: job %s is %s", ErrJobNotCancelable, id, job.Status)
	}
	ok, err := s.jobs.UpdateFieldsUnlessStatus(ctx, nil, id,
		[]string{types.JobStatusRunning, types.JobStatusCompleted, types.JobStatusFailed, types.JobStatusCancelled},
		map[string]interface{}{
			"status": types.JobStatusCancelled,
		})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: job %s changed state", ErrJobNotCancelable, id)
	}
	s.appendAudit(ctx, actor, "hydration.job_cancelled", id, map[string]any{"job_type": job.JobType})
	return s.Get(ctx, id)
}

func (s *JobAdminService) Paused(ctx context.Context) (bool, error) {
	return s.settings.GetBool(ctx, nil, types.SettingHydrationPaused)
}

func (s *JobAdminService) SetPaused(ctx context.Context, paused bool, actor string) error {
	if err := s.settings.SetBool(ctx, nil, types.SettingHydrationPaused, paused); err != nil {
		return err
	}
	action := "hydration.resumed"
	if paused {
		action = "hydration.paused"
	}
	s.log.Info("Hydration pause flag changed", "paused", paused, "actor", actor)
	if err := s.audit.Append(ctx, nil, actor, action, "system_setting", types.SettingHydrationPaused, nil); err != nil {
		s.log.Warn("Audit append failed", "action", action, "error", err)
	}
	return nil
}

// HydrateAll submits a syllabus root for every approved subject. Per-subject
// idempotency results are returned as data; only storage errors abort.
func (s *JobAdminService) HydrateAll(ctx context.Context, language, actor string) (HydrateAllResult, error) {
	var result HydrateAllResult
	subjects, err := s.taxonomy.ListSubjects(ctx, nil, types.ContentStatusApproved)
	if err != nil {
		return result, fmt.Errorf("list subjects: %w", err)
	}
	result.SubjectsScanned = len(subjects)
	for _, subject := range subjects {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		res, err := s.hydration.EnqueueSyllabus(ctx, subject.ID, language)
		if err != nil {
			return result, fmt.Errorf("enqueue syllabus for %s: %w", subject.ID, err)
		}
		if res.Created {
			result.Enqueued = append(result.Enqueued, res)
		} else {
			result.Skipped++
		}
	}
	s.appendAudit(ctx, actor, "hydration.hydrate_all", uuid.Nil, map[string]any{
		"subjects_scanned": result.SubjectsScanned,
		"enqueued":         len(result.Enqueued),
		"skipped":          result.Skipped,
	})
	return result, nil
}

func (s *JobAdminService) appendAudit(ctx context.Context, actor, action string, entityID uuid.UUID, metadata map[string]any) {
	id := ""
	if entityID != uuid.Nil {
		id = entityID.String()
	}
	if err := s.audit.Append(ctx, nil, actor, action, "hydration_job", id, metadata); err != nil {
		s.log.Warn("Audit append failed", "action", action, "error", err)
	}
}
