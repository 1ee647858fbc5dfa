package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/padhaihub/padhai-backend/internal/jobs/runtime"
	"github.com/padhaihub/padhai-backend/internal/platform/envutil"
	"github.com/padhaihub/padhai-backend/internal/platform/logger"
	"github.com/padhaihub/padhai-backend/internal/repos"
	"github.com/padhaihub/padhai-backend/internal/services"
	"github.com/padhaihub/padhai-backend/internal/types"
)

// QuestionsPipeline generates a batch of draft practice questions for one
// topic and difficulty tier.
type QuestionsPipeline struct {
	db       *gorm.DB
	log      *logger.Logger
	taxonomy repos.TaxonomyRepo
	content  repos.ContentRepo
	gen      *services.GenerationService
	perJob   int
}

func NewQuestionsPipeline(db *gorm.DB, baseLog *logger.Logger, taxonomy repos.TaxonomyRepo, content repos.ContentRepo, gen *services.GenerationService) *QuestionsPipeline {
	return &QuestionsPipeline{
		db:       db,
		log:      baseLog.With("job", "questions"),
		taxonomy: taxonomy,
		content:  content,
		gen:      gen,
		perJob:   envutil.Int("QUESTIONS_PER_JOB", 10),
	}
}

func (p *QuestionsPipeline) Type() string { return types.JobTypeQuestions }

type questionItem struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	AnswerIndex int      `json:"answer_index"`
	Explanation string   `json:"explanation"`
}

type questionsOutput struct {
	Questions []questionItem `json:"questions"`
}

var questionsSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"questions": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"question":     map[string]any{"type": "string"},
					"options":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"answer_index": map[string]any{"type": "integer"},
					"explanation":  map[string]any{"type": "string"},
				},
				"required":             []string{"question", "options", "answer_index", "explanation"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"questions"},
	"additionalProperties": false,
}

func (p *QuestionsPipeline) Run(jc *runtime.Context) error {
	job := jc.Job
	if job == nil {
		return nil
	}
	if job.TopicID == nil {
		return fmt.Errorf("questions job %s missing topic scope", job.ID)
	}
	topicID := *job.TopicID

	scope, err := p.taxonomy.ResolveTopic(jc.Ctx, nil, topicID)
	if err != nil {
		return fmt.Errorf("resolve topic: %w", err)
	}
	if scope == nil {
		return fmt.Errorf("topic %s not found", topicID)
	}

	system := "You are an examiner writing multiple-choice practice questions. Each question has exactly four options and one correct answer."
	user := fmt.Sprintf(
		"Write %d %s-difficulty multiple-choice questions on the topic %q (chapter %q, %s %s, grade %s). Respond in %s.",
		p.perJob, job.Difficulty, scope.Topic.Name, scope.Chapter.Name, job.Board, job.Subject, job.Grade, job.Language,
	)

	var out questionsOutput
	jobID := job.ID
	if err := p.gen.GenerateJSON(jc.Ctx, &jobID, services.PromptTypeQuestions, system, user, "practice_questions", questionsSchema, &out); err != nil {
		return err
	}

	rows := make([]*types.GeneratedQuestion, 0, len(out.Questions))
	for _, q := range out.Questions {
		if strings.TrimSpace(q.Question) == "" || len(q.Options) < 2 {
			continue
		}
		if q.AnswerIndex < 0 || q.AnswerIndex >= len(q.Options) {
			continue
		}
		payload, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("marshal question payload: %w", err)
		}
		rows = append(rows, &types.GeneratedQuestion{
			ID:         uuid.New(),
			TopicID:    topicID,
			Language:   job.Language,
			Difficulty: job.Difficulty,
			Status:     types.ContentStatusDraft,
			Payload:    datatypes.JSON(payload),
			JobID:      &jobID,
		})
	}
	if len(rows) == 0 {
		return fmt.Errorf("question generation produced no usable questions")
	}
	if _, err := p.content.CreateQuestions(jc.Ctx, nil, rows); err != nil {
		return fmt.Errorf("create questions: %w", err)
	}

	p.log.Info("Questions generated",
		"job_id", job.ID,
		"topic_id", topicID,
		"difficulty", job.Difficulty,
		"count", len(rows),
	)
	return jc.Complete(map[string]any{"questions": len(rows)})
}
