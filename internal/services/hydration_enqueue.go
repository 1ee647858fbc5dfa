package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/padhaihub/padhai-backend/internal/platform/logger"
	"github.com/padhaihub/padhai-backend/internal/repos"
	"github.com/padhaihub/padhai-backend/internal/types"
)

// Enqueue result reasons. Expected business conditions are returned as
// values, never as errors.
const (
	ReasonHydrationPaused = "hydration_paused"
	ReasonResolveNotFound = "resolve_not_found"
	ReasonContentExists   = "content_exists"
	ReasonJobQueued       = "job_already_queued"
	ReasonInvalidScope    = "invalid_scope"
)

const (
	DefaultLanguage   = "en"
	DefaultDifficulty = "medium"
)

// Queue names handed to the outbox dispatcher.
const (
	QueueSyllabus  = "hydration.syllabus"
	QueueNotes     = "hydration.notes"
	QueueQuestions = "hydration.questions"
	QueueTests     = "hydration.tests"
)

var difficulties = map[string]bool{"easy": true, "medium": true, "hard": true}

// Difficulties lists the fan-out tiers for question generation, in order.
var Difficulties = []string{"easy", "medium", "hard"}

type EnqueueResult struct {
	Created  bool      `json:"created"`
	Reason   string    `json:"reason,omitempty"`
	JobID    uuid.UUID `json:"job_id,omitempty"`
	OutboxID uuid.UUID `json:"outbox_id,omitempty"`
}

// EnqueueOptions carries cascade linkage when the reconciler fans out a
// level. Nil for direct API submissions, which start their own tree.
type EnqueueOptions struct {
	RootJobID   uuid.UUID
	ParentJobID *uuid.UUID
	Level       types.HierarchyLevel
}

// HydrationService owns job submission. It performs zero AI calls: content
// generation happens strictly inside worker execution.
type HydrationService struct {
	db       *gorm.DB
	log      *logger.Logger
	jobs     repos.HydrationJobRepo
	outbox   repos.OutboxRepo
	taxonomy repos.TaxonomyRepo
	content  repos.ContentRepo
	settings repos.SystemSettingRepo
}

func NewHydrationService(
	db *gorm.DB,
	baseLog *logger.Logger,
	jobs repos.HydrationJobRepo,
	outbox repos.OutboxRepo,
	taxonomy repos.TaxonomyRepo,
	content repos.ContentRepo,
	settings repos.SystemSettingRepo,
) *HydrationService {
	return &HydrationService{
		db:       db,
		log:      baseLog.With("service", "HydrationService"),
		jobs:     jobs,
		outbox:   outbox,
		taxonomy: taxonomy,
		content:  content,
		settings: settings,
	}
}

func NormalizeLanguage(language string) string {
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		return DefaultLanguage
	}
	return language
}

func NormalizeDifficulty(difficulty string) (string, bool) {
	difficulty = strings.ToLower(strings.TrimSpace(difficulty))
	if difficulty == "" {
		return DefaultDifficulty, true
	}
	return difficulty, difficulties[difficulty]
}

func QueueForJobType(jobType string) string {
	switch jobType {
	case types.JobTypeSyllabus:
		return QueueSyllabus
	case types.JobTypeNotes:
		return QueueNotes
	case types.JobTypeQuestions:
		return QueueQuestions
	case types.JobTypeTests:
		return QueueTests
	default:
		return "hydration.default"
	}
}

// EnqueueSyllabus submits the subject-scoped root job of a hydrate-all
// cascade. The created job is its own root (root_job_id == id).
func (s *HydrationService) EnqueueSyllabus(ctx context.Context, subjectID uuid.UUID, language string) (EnqueueResult, error) {
	language = NormalizeLanguage(language)

	if paused, err := s.paused(ctx); err != nil {
		return EnqueueResult{}, err
	} else if paused {
		return EnqueueResult{Created: false, Reason: ReasonHydrationPaused}, nil
	}

	if subjectID == uuid.Nil {
		return EnqueueResult{Created: false, Reason: ReasonInvalidScope}, nil
	}
	subject, err := s.taxonomy.ResolveSubject(ctx, nil, subjectID)
	if err != nil {
		return EnqueueResult{}, err
	}
	if subject == nil {
		return EnqueueResult{Created: false, Reason: ReasonResolveNotFound}, nil
	}

	// Existing chapters mean the syllabus has already been generated; the
	// admin must clear or approve the draft taxonomy instead of regenerating
	// over it.
	chapters, err := s.taxonomy.ListChaptersBySubject(ctx, nil, subjectID)
	if err != nil {
		return EnqueueResult{}, err
	}
	if len(chapters) > 0 {
		return EnqueueResult{Created: false, Reason: ReasonContentExists}, nil
	}

	if res, done, err := s.inflightGuard(ctx, types.JobTypeSyllabus, subjectID, nil, nil, language, ""); done || err != nil {
		return res, err
	}

	id := uuid.New()
	job := &types.HydrationJob{
		ID:             id,
		RootJobID:      id,
		HierarchyLevel: types.LevelSyllabus,
		JobType:        types.JobTypeSyllabus,
		Status:         types.JobStatusPending,
		Board:          subject.Board,
		Grade:          subject.Grade,
		Subject:        subject.Name,
		SubjectID:      subject.ID,
		Language:       language,
		Difficulty:     "",
	}
	return s.createWithOutbox(ctx, job)
}

// EnqueueNotes submits a topic-scoped notes job. Difficulty does not apply to
// notes and is stored empty.
func (s *HydrationService) EnqueueNotes(ctx context.Context, topicID uuid.UUID, language string, opts *EnqueueOptions) (EnqueueResult, error) {
	language = NormalizeLanguage(language)

	if paused, err := s.paused(ctx); err != nil {
		return EnqueueResult{}, err
	} else if paused {
		return EnqueueResult{Created: false, Reason: ReasonHydrationPaused}, nil
	}

	scope, res, err := s.resolveTopicScope(ctx, topicID)
	if scope == nil {
		return res, err
	}

	exists, err := s.content.ApprovedNoteExists(ctx, nil, topicID, language)
	if err != nil {
		return EnqueueResult{}, err
	}
	if exists {
		return EnqueueResult{Created: false, Reason: ReasonContentExists}, nil
	}

	// The guard tuple must mirror newTopicJob exactly, chapter included, or
	// the in-flight lookup never matches the rows it is guarding against.
	if res, done, err := s.inflightGuard(ctx, types.JobTypeNotes, scope.Subject.ID, &scope.Chapter.ID, &topicID, language, ""); done || err != nil {
		return res, err
	}

	job := s.newTopicJob(types.JobTypeNotes, types.LevelTopicNotes, scope, language, "", opts)
	return s.createWithOutbox(ctx, job)
}

// EnqueueQuestions submits a topic+difficulty questions job.
func (s *HydrationService) EnqueueQuestions(ctx context.Context, topicID uuid.UUID, language, difficulty string, opts *EnqueueOptions) (EnqueueResult, error) {
	return s.enqueueTopicDifficulty(ctx, types.JobTypeQuestions, topicID, language, difficulty, opts)
}

// EnqueueTests submits a topic+difficulty test-assembly job.
func (s *HydrationService) EnqueueTests(ctx context.Context, topicID uuid.UUID, language, difficulty string, opts *EnqueueOptions) (EnqueueResult, error) {
	return s.enqueueTopicDifficulty(ctx, types.JobTypeTests, topicID, language, difficulty, opts)
}

func (s *HydrationService) enqueueTopicDifficulty(ctx context.Context, jobType string, topicID uuid.UUID, language, difficulty string, opts *EnqueueOptions) (EnqueueResult, error) {
	language = NormalizeLanguage(language)
	difficulty, ok := NormalizeDifficulty(difficulty)
	if !ok {
		return EnqueueResult{Created: false, Reason: ReasonInvalidScope}, nil
	}

	if paused, err := s.paused(ctx); err != nil {
		return EnqueueResult{}, err
	} else if paused {
		return EnqueueResult{Created: false, Reason: ReasonHydrationPaused}, nil
	}

	scope, res, err := s.resolveTopicScope(ctx, topicID)
	if scope == nil {
		return res, err
	}

	var exists bool
	if jobType == types.JobTypeQuestions {
		exists, err = s.content.ApprovedQuestionsExist(ctx, nil, topicID, language, difficulty)
	} else {
		exists, err = s.content.ApprovedTestExists(ctx, nil, topicID, language, difficulty)
	}
	if err != nil {
		return EnqueueResult{}, err
	}
	if exists {
		return EnqueueResult{Created: false, Reason: ReasonContentExists}, nil
	}

	if res, done, err := s.inflightGuard(ctx, jobType, scope.Subject.ID, &scope.Chapter.ID, &topicID, language, difficulty); done || err != nil {
		return res, err
	}

	job := s.newTopicJob(jobType, types.LevelQuestions, scope, language, difficulty, opts)
	return s.createWithOutbox(ctx, job)
}

// EnqueueChapterExpansion creates the level-2 placeholder job the reconciler
// fans out per chapter once the syllabus level completes. Chapter-scoped:
// topic_id stays NULL until level 3.
func (s *HydrationService) EnqueueChapterExpansion(ctx context.Context, root *types.HydrationJob, chapter *types.Chapter, language string) (EnqueueResult, error) {
	language = NormalizeLanguage(language)
	if root == nil || chapter == nil {
		return EnqueueResult{Created: false, Reason: ReasonInvalidScope}, nil
	}

	if paused, err := s.paused(ctx); err != nil {
		return EnqueueResult{}, err
	} else if paused {
		return EnqueueResult{Created: false, Reason: ReasonHydrationPaused}, nil
	}

	chapterID := chapter.ID
	if res, done, err := s.inflightGuard(ctx, types.JobTypeNotes, root.SubjectID, &chapterID, nil, language, ""); done || err != nil {
		return res, err
	}

	rootID := root.ID
	job := &types.HydrationJob{
		ID:             uuid.New(),
		RootJobID:      root.RootJobID,
		ParentJobID:    &rootID,
		HierarchyLevel: types.LevelChapterExpansion,
		JobType:        types.JobTypeNotes,
		Status:         types.JobStatusPending,
		Board:          root.Board,
		Grade:          root.Grade,
		Subject:        root.Subject,
		SubjectID:      root.SubjectID,
		ChapterID:      &chapterID,
		Language:       language,
		Difficulty:     "",
	}
	return s.createWithOutbox(ctx, job)
}

// -------------------- shared steps --------------------

func (s *HydrationService) paused(ctx context.Context) (bool, error) {
	return s.settings.GetBool(ctx, nil, types.SettingHydrationPaused)
}

func (s *HydrationService) resolveTopicScope(ctx context.Context, topicID uuid.UUID) (*types.TopicScope, EnqueueResult, error) {
	if topicID == uuid.Nil {
		return nil, EnqueueResult{Created: false, Reason: ReasonInvalidScope}, nil
	}
	scope, err := s.taxonomy.ResolveTopic(ctx, nil, topicID)
	if err != nil {
		return nil, EnqueueResult{}, err
	}
	if scope == nil {
		return nil, EnqueueResult{Created: false, Reason: ReasonResolveNotFound}, nil
	}
	return scope, EnqueueResult{}, nil
}

func (s *HydrationService) inflightGuard(ctx context.Context, jobType string, subjectID uuid.UUID, chapterID, topicID *uuid.UUID, language, difficulty string) (EnqueueResult, bool, error) {
	existing, err := s.jobs.FindInflight(ctx, nil, jobType, subjectID, chapterID, topicID, language, difficulty)
	if err != nil {
		return EnqueueResult{}, true, err
	}
	if existing != nil {
		return EnqueueResult{Created: false, Reason: ReasonJobQueued, JobID: existing.ID}, true, nil
	}
	return EnqueueResult{}, false, nil
}

func (s *HydrationService) newTopicJob(jobType string, level types.HierarchyLevel, scope *types.TopicScope, language, difficulty string, opts *EnqueueOptions) *types.HydrationJob {
	id := uuid.New()
	topicID := scope.Topic.ID
	chapterID := scope.Chapter.ID
	job := &types.HydrationJob{
		ID:             id,
		RootJobID:      id,
		HierarchyLevel: level,
		JobType:        jobType,
		Status:         types.JobStatusPending,
		Board:          scope.Subject.Board,
		Grade:          scope.Subject.Grade,
		Subject:        scope.Subject.Name,
		SubjectID:      scope.Subject.ID,
		ChapterID:      &chapterID,
		TopicID:        &topicID,
		Language:       language,
		Difficulty:     difficulty,
	}
	if opts != nil {
		if opts.RootJobID != uuid.Nil {
			job.RootJobID = opts.RootJobID
		}
		job.ParentJobID = opts.ParentJobID
		if opts.Level.Valid() {
			job.HierarchyLevel = opts.Level
		}
	}
	return job
}

// createWithOutbox inserts the job row and its outbox entry in one
// transaction. An outbox write failure downgrades to created-without-outbox:
// the job exists and the dispatcher's re-scan will pick it up.
func (s *HydrationService) createWithOutbox(ctx context.Context, job *types.HydrationJob) (EnqueueResult, error) {
	var outboxID uuid.UUID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.jobs.Create(ctx, tx, job); err != nil {
			return err
		}
		msg, err := s.buildOutboxMessage(job)
		if err != nil {
			return err
		}
		if _, err := s.outbox.Create(ctx, tx, msg); err != nil {
			// The job must survive an outbox failure; re-run creation without
			// the outbox row.
			return &outboxWriteError{cause: err}
		}
		outboxID = msg.ID
		return nil
	})
	if err != nil {
		var obErr *outboxWriteError
		if errors.As(err, &obErr) {
			s.log.Warn("Outbox write failed, creating job without outbox row",
				"job_id", job.ID, "job_type", job.JobType, "error", obErr.cause)
			if _, cErr := s.jobs.Create(ctx, nil, job); cErr != nil {
				return s.translateCreateErr(ctx, job, cErr)
			}
			return EnqueueResult{Created: true, JobID: job.ID}, nil
		}
		return s.translateCreateErr(ctx, job, err)
	}
	return EnqueueResult{Created: true, JobID: job.ID, OutboxID: outboxID}, nil
}

// translateCreateErr maps the unique-index rejection onto the same
// job_already_queued result the in-flight check produces, so concurrent
// racers see a coherent answer.
func (s *HydrationService) translateCreateErr(ctx context.Context, job *types.HydrationJob, err error) (EnqueueResult, error) {
	if !errors.Is(err, repos.ErrDuplicateInflight) {
		return EnqueueResult{}, err
	}
	existing, findErr := s.jobs.FindInflight(ctx, nil, job.JobType, job.SubjectID, job.ChapterID, job.TopicID, job.Language, job.Difficulty)
	if findErr != nil {
		return EnqueueResult{}, findErr
	}
	res := EnqueueResult{Created: false, Reason: ReasonJobQueued}
	if existing != nil {
		res.JobID = existing.ID
	}
	return res, nil
}

func (s *HydrationService) buildOutboxMessage(job *types.HydrationJob) (*types.OutboxMessage, error) {
	payload := map[string]any{
		"job_id":          job.ID,
		"job_type":        job.JobType,
		"hierarchy_level": job.HierarchyLevel,
		"subject_id":      job.SubjectID,
		"language":        job.Language,
	}
	if job.TopicID != nil {
		payload["topic_id"] = *job.TopicID
	}
	if job.ChapterID != nil {
		payload["chapter_id"] = *job.ChapterID
	}
	if job.Difficulty != "" {
		payload["difficulty"] = job.Difficulty
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal outbox payload: %w", err)
	}
	meta, err := json.Marshal(map[string]any{"enqueued_at": time.Now().UTC()})
	if err != nil {
		return nil, fmt.Errorf("marshal outbox meta: %w", err)
	}
	return &types.OutboxMessage{
		ID:      uuid.New(),
		JobID:   job.ID,
		Queue:   QueueForJobType(job.JobType),
		Payload: datatypes.JSON(b),
		Meta:    datatypes.JSON(meta),
	}, nil
}

type outboxWriteError struct{ cause error }

func (e *outboxWriteError) Error() string { return "outbox write failed: " + e.cause.Error() }
func (e *outboxWriteError) Unwrap() error { return e.cause }
