package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/padhaihub/padhai-backend/internal/jobs/runtime"
	"github.com/padhaihub/padhai-backend/internal/platform/envutil"
	"github.com/padhaihub/padhai-backend/internal/platform/logger"
	"github.com/padhaihub/padhai-backend/internal/repos"
	"github.com/padhaihub/padhai-backend/internal/types"
)

// TestsPipeline assembles a draft test for one topic and difficulty from the
// question bank. No model call: assembly is a selection over existing rows.
// Approved questions are preferred; freshly generated drafts are the fallback
// so a cascade can produce tests before review happens.
type TestsPipeline struct {
	db      *gorm.DB
	log     *logger.Logger
	content repos.ContentRepo
	size    int
}

func NewTestsPipeline(db *gorm.DB, baseLog *logger.Logger, content repos.ContentRepo) *TestsPipeline {
	return &TestsPipeline{
		db:      db,
		log:     baseLog.With("job", "tests"),
		content: content,
		size:    envutil.Int("TEST_QUESTION_COUNT", 10),
	}
}

func (p *TestsPipeline) Type() string { return types.JobTypeTests }

func (p *TestsPipeline) Run(jc *runtime.Context) error {
	job := jc.Job
	if job == nil {
		return nil
	}
	if job.TopicID == nil {
		return fmt.Errorf("tests job %s missing topic scope", job.ID)
	}
	topicID := *job.TopicID

	questions, err := p.content.ListApprovedQuestions(jc.Ctx, nil, topicID, job.Language, job.Difficulty, p.size)
	if err != nil {
		return fmt.Errorf("list approved questions: %w", err)
	}
	if len(questions) == 0 {
		questions, err = p.content.ListQuestions(jc.Ctx, nil, topicID, job.Language, job.Difficulty, p.size)
		if err != nil {
			return fmt.Errorf("list questions: %w", err)
		}
	}
	if len(questions) == 0 {
		return fmt.Errorf("no questions available for topic %s difficulty %s", topicID, job.Difficulty)
	}

	ids := make([]uuid.UUID, 0, len(questions))
	for _, q := range questions {
		ids = append(ids, q.ID)
	}
	raw, err := json.Marshal(map[string]any{"question_ids": ids})
	if err != nil {
		return fmt.Errorf("marshal test questions: %w", err)
	}

	jobID := job.ID
	test := &types.GeneratedTest{
		ID:         uuid.New(),
		TopicID:    topicID,
		Language:   job.Language,
		Difficulty: job.Difficulty,
		Status:     types.ContentStatusDraft,
		Questions:  datatypes.JSON(raw),
		JobID:      &jobID,
	}
	if _, err := p.content.CreateTest(jc.Ctx, nil, test); err != nil {
		return fmt.Errorf("create test: %w", err)
	}

	p.log.Info("Test assembled",
		"job_id", job.ID,
		"topic_id", topicID,
		"difficulty", job.Difficulty,
		"questions", len(ids),
	)
	return jc.Complete(map[string]any{"test_id": test.ID, "questions": len(ids)})
}
