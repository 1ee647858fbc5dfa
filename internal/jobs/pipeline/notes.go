package pipeline

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/padhaihub/padhai-backend/internal/jobs/runtime"
	"github.com/padhaihub/padhai-backend/internal/platform/logger"
	"github.com/padhaihub/padhai-backend/internal/repos"
	"github.com/padhaihub/padhai-backend/internal/services"
	"github.com/padhaihub/padhai-backend/internal/types"
)

// NotesPipeline handles the notes job type at both of its levels: a
// chapter-scoped level-2 job expands the chapter into draft topics, and a
// topic-scoped level-3 job writes the study note for one topic.
type NotesPipeline struct {
	db       *gorm.DB
	log      *logger.Logger
	taxonomy repos.TaxonomyRepo
	content  repos.ContentRepo
	gen      *services.GenerationService
}

func NewNotesPipeline(db *gorm.DB, baseLog *logger.Logger, taxonomy repos.TaxonomyRepo, content repos.ContentRepo, gen *services.GenerationService) *NotesPipeline {
	return &NotesPipeline{
		db:       db,
		log:      baseLog.With("job", "notes"),
		taxonomy: taxonomy,
		content:  content,
		gen:      gen,
	}
}

func (p *NotesPipeline) Type() string { return types.JobTypeNotes }

func (p *NotesPipeline) Run(jc *runtime.Context) error {
	job := jc.Job
	if job == nil {
		return nil
	}
	if job.TopicID != nil {
		return p.runTopicNote(jc)
	}
	if job.ChapterID != nil {
		return p.runChapterExpansion(jc)
	}
	return fmt.Errorf("notes job %s has neither topic nor chapter scope", job.ID)
}

type topicsOutput struct {
	Topics []struct {
		Name string `json:"name"`
	} `json:"topics"`
}

var topicsSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"topics": map[string]any{
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
	"required":             []string{"topics"},
	"additionalProperties": false,
}

func (p *NotesPipeline) runChapterExpansion(jc *runtime.Context) error {
	job := jc.Job
	chapterID := *job.ChapterID

	// re-expansion after a retry must not duplicate topics
	existing, err := p.taxonomy.ListTopicsByChapter(jc.Ctx, nil, chapterID)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}
	if len(existing) > 0 {
		return jc.Complete(map[string]any{"topics": len(existing), "skipped": "topics already exist"})
	}

	chapters, err := p.taxonomy.ListChaptersBySubject(jc.Ctx, nil, job.SubjectID)
	if err != nil {
		return fmt.Errorf("list chapters: %w", err)
	}
	var chapter *types.Chapter
	for _, ch := range chapters {
		if ch.ID == chapterID {
			chapter = ch
			break
		}
	}
	if chapter == nil {
		return fmt.Errorf("chapter %s not found", chapterID)
	}

	system := "You are a curriculum designer. Break chapters into the topics a student must master, in teaching order."
	user := fmt.Sprintf(
		"List the topics of the chapter %q from the %s %s syllabus for grade %s. Respond in %s.",
		chapter.Name, job.Board, job.Subject, job.Grade, job.Language,
	)

	var out topicsOutput
	jobID := job.ID
	if err := p.gen.GenerateJSON(jc.Ctx, &jobID, services.PromptTypeChapter, system, user, "chapter_topics", topicsSchema, &out); err != nil {
		return err
	}

	topics := make([]*types.Topic, 0, len(out.Topics))
	for i, t := range out.Topics {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			continue
		}
		topics = append(topics, &types.Topic{
			ID:        uuid.New(),
			ChapterID: chapterID,
			Name:      name,
			Position:  i + 1,
			Status:    types.ContentStatusDraft,
		})
	}
	if len(topics) == 0 {
		return fmt.Errorf("chapter expansion produced no topics")
	}
	if _, err := p.taxonomy.CreateTopics(jc.Ctx, nil, topics); err != nil {
		return fmt.Errorf("create topics: %w", err)
	}

	p.log.Info("Chapter expanded", "job_id", job.ID, "chapter_id", chapterID, "topics", len(topics))
	return jc.Complete(map[string]any{"topics": len(topics)})
}

func (p *NotesPipeline) runTopicNote(jc *runtime.Context) error {
	job := jc.Job
	topicID := *job.TopicID

	scope, err := p.taxonomy.ResolveTopic(jc.Ctx, nil, topicID)
	if err != nil {
		return fmt.Errorf("resolve topic: %w", err)
	}
	if scope == nil {
		return fmt.Errorf("topic %s not found", topicID)
	}

	system := "You are an experienced teacher writing revision notes. Use clear markdown with headings, worked examples, and key definitions."
	user := fmt.Sprintf(
		"Write complete study notes for the topic %q (chapter %q, %s %s, grade %s). Respond in %s.",
		scope.Topic.Name, scope.Chapter.Name, job.Board, job.Subject, job.Grade, job.Language,
	)

	var out struct {
		ContentMD string `json:"content_md"`
	}
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content_md": map[string]any{"type": "string"},
		},
		"required":             []string{"content_md"},
		"additionalProperties": false,
	}
	jobID := job.ID
	if err := p.gen.GenerateJSON(jc.Ctx, &jobID, services.PromptTypeNotes, system, user, "topic_note", schema, &out); err != nil {
		return err
	}
	if strings.TrimSpace(out.ContentMD) == "" {
		return fmt.Errorf("note generation produced empty content")
	}

	note := &types.TopicNote{
		ID:        uuid.New(),
		TopicID:   topicID,
		Language:  job.Language,
		Status:    types.ContentStatusDraft,
		ContentMD: out.ContentMD,
		JobID:     &jobID,
	}
	if _, err := p.content.CreateNote(jc.Ctx, nil, note); err != nil {
		return fmt.Errorf("create note: %w", err)
	}

	p.log.Info("Topic note generated", "job_id", job.ID, "topic_id", topicID, "chars", len(out.ContentMD))
	return jc.Complete(map[string]any{"note_id": note.ID, "chars": len(out.ContentMD)})
}
