package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/padhaihub/padhai-backend/internal/jobs/runtime"
	"github.com/padhaihub/padhai-backend/internal/platform/logger"
	"github.com/padhaihub/padhai-backend/internal/repos"
	"github.com/padhaihub/padhai-backend/internal/services"
	"github.com/padhaihub/padhai-backend/internal/types"
)

// SyllabusPipeline generates the chapter list for a subject. It runs the
// level-1 root job of a hydrate-all cascade: on success it writes draft
// chapters, records a completed level-1 marker child, and parks the root in
// running with its lock cleared so the reconciler owns it from then on.
type SyllabusPipeline struct {
	db       *gorm.DB
	log      *logger.Logger
	jobs     repos.HydrationJobRepo
	taxonomy repos.TaxonomyRepo
	gen      *services.GenerationService
}

func NewSyllabusPipeline(db *gorm.DB, baseLog *logger.Logger, jobs repos.HydrationJobRepo, taxonomy repos.TaxonomyRepo, gen *services.GenerationService) *SyllabusPipeline {
	return &SyllabusPipeline{
		db:       db,
		log:      baseLog.With("job", "syllabus"),
		jobs:     jobs,
		taxonomy: taxonomy,
		gen:      gen,
	}
}

func (p *SyllabusPipeline) Type() string { return types.JobTypeSyllabus }

type syllabusOutput struct {
	Chapters []struct {
		Name string `json:"name"`
	} `json:"chapters"`
}

var syllabusSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"chapters": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{"type": "string"},
				},
				"required":             []string{"name"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"chapters"},
	"additionalProperties": false,
}

func (p *SyllabusPipeline) Run(jc *runtime.Context) error {
	job := jc.Job
	if job == nil {
		return nil
	}
	if !job.IsRoot() || job.HierarchyLevel != types.LevelSyllabus {
		return fmt.Errorf("syllabus job %s is not a level-1 root", job.ID)
	}

	subject, err := p.taxonomy.ResolveSubject(jc.Ctx, nil, job.SubjectID)
	if err != nil {
		return fmt.Errorf("resolve subject: %w", err)
	}
	if subject == nil {
		return fmt.Errorf("subject %s not found", job.SubjectID)
	}

	system := "You are a curriculum designer for school subjects. Produce exhaustive, exam-board-accurate chapter lists."
	user := fmt.Sprintf(
		"List every chapter of the official %s syllabus for %s, grade %s, in teaching order. Respond in %s.",
		subject.Board, subject.Name, subject.Grade, job.Language,
	)

	var out syllabusOutput
	jobID := job.ID
	if err := p.gen.GenerateJSON(jc.Ctx, &jobID, services.PromptTypeSyllabus, system, user, "syllabus", syllabusSchema, &out); err != nil {
		return err
	}

	chapters := make([]*types.Chapter, 0, len(out.Chapters))
	for i, ch := range out.Chapters {
		name := strings.TrimSpace(ch.Name)
		if name == "" {
			continue
		}
		chapters = append(chapters, &types.Chapter{
			ID:        uuid.New(),
			SubjectID: subject.ID,
			Name:      name,
			Position:  i + 1,
			Status:    types.ContentStatusDraft,
		})
	}
	if len(chapters) == 0 {
		return fmt.Errorf("syllabus generation produced no chapters")
	}

	now := time.Now()
	err = p.db.WithContext(jc.Ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := p.taxonomy.CreateChapters(jc.Ctx, tx, chapters); err != nil {
			return fmt.Errorf("create chapters: %w", err)
		}
		// completed level-1 marker child: lets the reconciler treat every
		// level uniformly as "all children terminal"
		marker := &types.HydrationJob{
			ID:             uuid.New(),
			RootJobID:      job.RootJobID,
			ParentJobID:    &jobID,
			HierarchyLevel: types.LevelSyllabus,
			JobType:        types.JobTypeSyllabus,
			Status:         types.JobStatusCompleted,
			Board:          job.Board,
			Grade:          job.Grade,
			Subject:        job.Subject,
			SubjectID:      job.SubjectID,
			Language:       job.Language,
			CompletedAt:    &now,
		}
		if _, err := p.jobs.Create(jc.Ctx, tx, marker); err != nil {
			return fmt.Errorf("create level marker: %w", err)
		}
		// the root stays running with its lock cleared; only the reconciler
		// rollup may complete it
		ok, err := p.jobs.UpdateFieldsUnlessStatus(jc.Ctx, tx, job.ID,
			[]string{types.JobStatusCancelled}, map[string]interface{}{
				"status":            types.JobStatusRunning,
				"chapters_expected": len(chapters),
				"locked_at":         nil,
				"heartbeat_at":      nil,
			})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("root %s was cancelled during syllabus generation", job.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	p.log.Info("Syllabus generated",
		"job_id", job.ID,
		"subject_id", subject.ID,
		"chapters", len(chapters),
	)
	return nil
}
