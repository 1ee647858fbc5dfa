package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/padhaihub/padhai-backend/internal/platform/logger"
	"github.com/padhaihub/padhai-backend/internal/repos"
	"github.com/padhaihub/padhai-backend/internal/types"
)

// ReconcileStats summarizes one sweep for logging and tests.
type ReconcileStats struct {
	RootsScanned   int
	JobsEnqueued   int
	RootsCompleted int
	RootsSkipped   int
	Errors         int
}

// Reconciler advances hydrate-all cascades. Each sweep it loads the open
// roots and, per root, checks whether the current hierarchy level has fully
// drained; when it has, the next level is fanned out from the taxonomy rows
// the previous level produced. Fan-out is resumable: every sweep re-derives
// the missing targets, so a crash mid-fan-out just means the next sweep
// finishes the job.
type Reconciler struct {
	db        *gorm.DB
	log       *logger.Logger
	jobs      repos.HydrationJobRepo
	taxonomy  repos.TaxonomyRepo
	content   repos.ContentRepo
	audit     repos.AuditLogRepo
	hydration *HydrationService
	rootLimit int
}

func NewReconciler(
	db *gorm.DB,
	baseLog *logger.Logger,
	jobs repos.HydrationJobRepo,
	taxonomy repos.TaxonomyRepo,
	content repos.ContentRepo,
	audit repos.AuditLogRepo,
	hydration *HydrationService,
) *Reconciler {
	return &Reconciler{
		db:        db,
		log:       baseLog.With("service", "Reconciler"),
		jobs:      jobs,
		taxonomy:  taxonomy,
		content:   content,
		audit:     audit,
		hydration: hydration,
		rootLimit: 100,
	}
}

// RunOnce performs a single reconcile sweep. Per-root failures are isolated:
// one broken cascade never blocks the others.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileStats, error) {
	var stats ReconcileStats
	roots, err := r.jobs.ListActiveRoots(ctx, nil, r.rootLimit)
	if err != nil {
		return stats, fmt.Errorf("list active roots: %w", err)
	}
	stats.RootsScanned = len(roots)
	for _, root := range roots {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if err := r.reconcileRoot(ctx, root, &stats); err != nil {
			stats.Errors++
			r.log.Error("Reconcile root failed",
				"root_job_id", root.ID, "subject_id", root.SubjectID, "error", err)
		}
	}
	return stats, nil
}

func (r *Reconciler) reconcileRoot(ctx context.Context, root *types.HydrationJob, stats *ReconcileStats) error {
	// Level 1: the root's own syllabus work. The worker records completion as
	// a completed level-1 child, so a missing or non-terminal level means the
	// syllabus is still being generated.
	l1, err := r.jobs.CountByRootAndLevel(ctx, nil, root.ID, types.LevelSyllabus)
	if err != nil {
		return err
	}
	if l1.Total == 0 || l1.Terminal < l1.Total {
		stats.RootsSkipped++
		return nil
	}
	if l1.Completed == 0 {
		// Syllabus never produced chapters; nothing deeper can run.
		return r.failRoot(ctx, root, "syllabus generation failed")
	}

	chapters, err := r.taxonomy.ListChaptersBySubject(ctx, nil, root.SubjectID)
	if err != nil {
		return err
	}
	if len(chapters) == 0 {
		return r.failRoot(ctx, root, "syllabus completed without chapters")
	}

	done, err := r.advanceChapterLevel(ctx, root, chapters, stats)
	if err != nil || !done {
		if !done {
			stats.RootsSkipped++
		}
		return err
	}

	topics, err := r.taxonomy.ListTopicsBySubject(ctx, nil, root.SubjectID)
	if err != nil {
		return err
	}

	done, err = r.advanceNotesLevel(ctx, root, topics, stats)
	if err != nil || !done {
		if !done {
			stats.RootsSkipped++
		}
		return err
	}

	done, err = r.advanceLeafLevel(ctx, root, topics, stats)
	if err != nil || !done {
		if !done {
			stats.RootsSkipped++
		}
		return err
	}

	return r.rollup(ctx, root, len(chapters), len(topics), stats)
}

// advanceChapterLevel ensures one level-2 expansion job per chapter and
// reports whether the level has fully drained.
func (r *Reconciler) advanceChapterLevel(ctx context.Context, root *types.HydrationJob, chapters []*types.Chapter, stats *ReconcileStats) (bool, error) {
	existing, err := r.jobs.ListByRootAndLevel(ctx, nil, root.ID, types.LevelChapterExpansion)
	if err != nil {
		return false, err
	}
	byChapter := map[uuid.UUID]*types.HydrationJob{}
	for _, j := range existing {
		if j.ChapterID != nil {
			byChapter[*j.ChapterID] = j
		}
	}

	complete := true
	for _, ch := range chapters {
		if job, ok := byChapter[ch.ID]; ok {
			if !job.Terminal() {
				complete = false
			}
			continue
		}
		res, err := r.hydration.EnqueueChapterExpansion(ctx, root, ch, root.Language)
		if err != nil {
			return false, err
		}
		switch {
		case res.Created:
			stats.JobsEnqueued++
			complete = false
		case res.Reason == ReasonHydrationPaused:
			return false, nil
		case res.Reason == ReasonJobQueued:
			complete = false
		}
	}
	return complete, nil
}

// advanceNotesLevel ensures one level-3 notes job per topic. A topic whose
// note is already approved counts as satisfied without a job.
func (r *Reconciler) advanceNotesLevel(ctx context.Context, root *types.HydrationJob, topics []*types.Topic, stats *ReconcileStats) (bool, error) {
	existing, err := r.jobs.ListByRootAndLevel(ctx, nil, root.ID, types.LevelTopicNotes)
	if err != nil {
		return false, err
	}
	byTopic := map[uuid.UUID]*types.HydrationJob{}
	for _, j := range existing {
		if j.TopicID != nil {
			byTopic[*j.TopicID] = j
		}
	}

	complete := true
	for _, t := range topics {
		if job, ok := byTopic[t.ID]; ok {
			if !job.Terminal() {
				complete = false
			}
			continue
		}
		res, err := r.hydration.EnqueueNotes(ctx, t.ID, root.Language, &EnqueueOptions{
			RootJobID:   root.RootJobID,
			ParentJobID: &root.ID,
			Level:       types.LevelTopicNotes,
		})
		if err != nil {
			return false, err
		}
		switch {
		case res.Created:
			stats.JobsEnqueued++
			complete = false
		case res.Reason == ReasonHydrationPaused:
			return false, nil
		case res.Reason == ReasonJobQueued:
			complete = false
		case res.Reason == ReasonContentExists:
			// approved note already present, nothing to do
		case res.Reason == ReasonResolveNotFound:
			r.log.Warn("Topic vanished during fan-out", "root_job_id", root.ID, "topic_id", t.ID)
		}
	}
	return complete, nil
}

// advanceLeafLevel runs level 4: questions per topic and difficulty, then a
// test per topic and difficulty once that tier's questions job has completed.
func (r *Reconciler) advanceLeafLevel(ctx context.Context, root *types.HydrationJob, topics []*types.Topic, stats *ReconcileStats) (bool, error) {
	existing, err := r.jobs.ListByRootAndLevel(ctx, nil, root.ID, types.LevelQuestions)
	if err != nil {
		return false, err
	}
	type key struct {
		jobType    string
		topicID    uuid.UUID
		difficulty string
	}
	byKey := map[key]*types.HydrationJob{}
	for _, j := range existing {
		if j.TopicID != nil {
			byKey[key{j.JobType, *j.TopicID, j.Difficulty}] = j
		}
	}

	opts := func() *EnqueueOptions {
		return &EnqueueOptions{
			RootJobID:   root.RootJobID,
			ParentJobID: &root.ID,
			Level:       types.LevelQuestions,
		}
	}

	complete := true
	for _, t := range topics {
		for _, difficulty := range Difficulties {
			qKey := key{types.JobTypeQuestions, t.ID, difficulty}
			qJob, qExists := byKey[qKey]
			questionsDone := false
			switch {
			case qExists && qJob.Status == types.JobStatusCompleted:
				questionsDone = true
			case qExists:
				if !qJob.Terminal() {
					complete = false
				}
			default:
				res, err := r.hydration.EnqueueQuestions(ctx, t.ID, root.Language, difficulty, opts())
				if err != nil {
					return false, err
				}
				switch {
				case res.Created:
					stats.JobsEnqueued++
					complete = false
				case res.Reason == ReasonHydrationPaused:
					return false, nil
				case res.Reason == ReasonJobQueued:
					complete = false
				case res.Reason == ReasonContentExists:
					questionsDone = true
				}
			}

			// Tests assemble from the tier's questions, so they wait for the
			// questions job to finish.
			if !questionsDone {
				if qExists && qJob.Terminal() && qJob.Status != types.JobStatusCompleted {
					// questions failed; no test can be assembled for this tier
					continue
				}
				continue
			}
			tKey := key{types.JobTypeTests, t.ID, difficulty}
			if tJob, ok := byKey[tKey]; ok {
				if !tJob.Terminal() {
					complete = false
				}
				continue
			}
			res, err := r.hydration.EnqueueTests(ctx, t.ID, root.Language, difficulty, opts())
			if err != nil {
				return false, err
			}
			switch {
			case res.Created:
				stats.JobsEnqueued++
				complete = false
			case res.Reason == ReasonHydrationPaused:
				return false, nil
			case res.Reason == ReasonJobQueued:
				complete = false
			}
		}
	}
	return complete, nil
}

// rollup closes out a drained cascade: snapshot the produced content onto the
// root's counters, flip content_ready, and complete the root. Guarded so an
// operator cancellation between sweeps is never overwritten.
func (r *Reconciler) rollup(ctx context.Context, root *types.HydrationJob, chapterCount, topicCount int, stats *ReconcileStats) error {
	counts, err := r.content.CountBySubject(ctx, nil, root.SubjectID, root.Language)
	if err != nil {
		return err
	}
	now := time.Now()
	updated, err := r.jobs.UpdateFieldsUnlessStatus(ctx, nil, root.ID,
		[]string{types.JobStatusCancelled, types.JobStatusCompleted, types.JobStatusFailed},
		map[string]interface{}{
			"status":              types.JobStatusCompleted,
			"chapters_expected":   chapterCount,
			"chapters_completed":  counts.Chapters,
			"topics_expected":     topicCount,
			"topics_completed":    counts.Topics,
			"notes_expected":      topicCount,
			"notes_completed":     counts.Notes,
			"questions_expected":  topicCount * len(Difficulties),
			"questions_completed": counts.QuestionSets,
			"content_ready":       true,
			"completed_at":        now,
		})
	if err != nil {
		return err
	}
	if !updated {
		return nil
	}
	stats.RootsCompleted++
	r.log.Info("Cascade complete",
		"root_job_id", root.ID,
		"subject_id", root.SubjectID,
		"chapters", counts.Chapters,
		"topics", counts.Topics,
		"notes", counts.Notes,
		"questions", counts.Questions,
		"question_sets", counts.QuestionSets,
	)
	if err := r.audit.Append(ctx, nil, "system", "hydration.cascade_completed", "hydration_job", root.ID.String(), map[string]any{
		"subject_id":    root.SubjectID,
		"chapters":      counts.Chapters,
		"topics":        counts.Topics,
		"notes":         counts.Notes,
		"questions":     counts.Questions,
		"question_sets": counts.QuestionSets,
	}); err != nil {
		r.log.Warn("Audit append failed", "root_job_id", root.ID, "error", err)
	}
	return nil
}

func (r *Reconciler) failRoot(ctx context.Context, root *types.HydrationJob, reason string) error {
	now := time.Now()
	updated, err := r.jobs.UpdateFieldsUnlessStatus(ctx, nil, root.ID,
		[]string{types.JobStatusCancelled, types.JobStatusCompleted, types.JobStatusFailed},
		map[string]interface{}{
			"status":        types.JobStatusFailed,
			"error":         reason,
			"last_error_at": now,
		})
	if err != nil {
		return err
	}
	if updated {
		r.log.Warn("Cascade failed", "root_job_id", root.ID, "subject_id", root.SubjectID, "reason", reason)
	}
	return nil
}
