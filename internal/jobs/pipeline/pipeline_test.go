package pipeline_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/padhaihub/padhai-backend/internal/jobs/pipeline"
	"github.com/padhaihub/padhai-backend/internal/jobs/runtime"
	"github.com/padhaihub/padhai-backend/internal/platform/openai"
	"github.com/padhaihub/padhai-backend/internal/repos"
	"github.com/padhaihub/padhai-backend/internal/repos/testutil"
	"github.com/padhaihub/padhai-backend/internal/services"
	"github.com/padhaihub/padhai-backend/internal/types"
)

type scriptedAIClient struct {
	response json.RawMessage
	err      error
}

func (c *scriptedAIClient) GenerateJSON(context.Context, string, string, string, string, map[string]any) (json.RawMessage, openai.Usage, error) {
	if c.err != nil {
		return nil, openai.Usage{}, c.err
	}
	return c.response, openai.Usage{TotalTokens: 10}, nil
}

func (c *scriptedAIClient) GenerateText(context.Context, string, string, string) (string, openai.Usage, error) {
	return string(c.response), openai.Usage{}, c.err
}

type pipelineFixture struct {
	ctx      context.Context
	tx       *gorm.DB
	jobs     repos.HydrationJobRepo
	taxonomy repos.TaxonomyRepo
	content  repos.ContentRepo
	gen      *services.GenerationService
	client   *scriptedAIClient
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	client := &scriptedAIClient{}
	f := &pipelineFixture{
		ctx:      context.Background(),
		tx:       tx,
		jobs:     repos.NewHydrationJobRepo(tx, log),
		taxonomy: repos.NewTaxonomyRepo(tx, log),
		content:  repos.NewContentRepo(tx, log),
		client:   client,
	}
	f.gen = services.NewGenerationService(log, client, repos.NewAICallLogRepo(tx, log), services.GenerationConfig{
		SmallModel:  "small",
		MediumModel: "medium",
		LargeModel:  "large",
		CallTimeout: time.Second,
	})
	return f
}

// claimedJob plants a job in the state the worker hands to a handler: running
// with a fresh lock and heartbeat.
func (f *pipelineFixture) claimedJob(t *testing.T, subject *types.Subject, jobType string, level types.HierarchyLevel, chapterID, topicID *uuid.UUID, difficulty string) *types.HydrationJob {
	t.Helper()
	now := time.Now()
	id := uuid.New()
	job := &types.HydrationJob{
		ID:             id,
		RootJobID:      id,
		HierarchyLevel: level,
		JobType:        jobType,
		Status:         types.JobStatusRunning,
		Board:          subject.Board,
		Grade:          subject.Grade,
		Subject:        subject.Name,
		SubjectID:      subject.ID,
		ChapterID:      chapterID,
		TopicID:        topicID,
		Language:       "en",
		Difficulty:     difficulty,
		Attempts:       1,
		LockedAt:       &now,
		HeartbeatAt:    &now,
	}
	if _, err := f.jobs.Create(f.ctx, nil, job); err != nil {
		t.Fatalf("seed claimed job: %v", err)
	}
	return job
}

func (f *pipelineFixture) run(t *testing.T, h runtime.Handler, job *types.HydrationJob) error {
	t.Helper()
	return h.Run(runtime.NewContext(f.ctx, f.tx, job, f.jobs))
}

func TestSyllabusPipelineParksRootAndCreatesChapters(t *testing.T) {
	f := newPipelineFixture(t)
	subject := testutil.SeedSubject(t, f.ctx, f.tx, "CBSE", "10", "Mathematics")
	root := f.claimedJob(t, subject, types.JobTypeSyllabus, types.LevelSyllabus, nil, nil, "")
	f.client.response = json.RawMessage(`{"chapters":[{"name":"Algebra"},{"name":"Geometry"},{"name":"  "}]}`)

	p := pipeline.NewSyllabusPipeline(f.tx, testutil.Logger(t), f.jobs, f.taxonomy, f.gen)
	if err := f.run(t, p, root); err != nil {
		t.Fatalf("run: %v", err)
	}

	chapters, err := f.taxonomy.ListChaptersBySubject(f.ctx, nil, subject.ID)
	if err != nil {
		t.Fatalf("list chapters: %v", err)
	}
	if len(chapters) != 2 {
		t.Fatalf("chapters = %d, want 2 (blank name dropped)", len(chapters))
	}
	if chapters[0].Status != types.ContentStatusDraft {
		t.Fatalf("chapter status = %q, want draft", chapters[0].Status)
	}

	reloaded, err := f.jobs.GetByID(f.ctx, nil, root.ID)
	if err != nil || reloaded == nil {
		t.Fatalf("reload root: %v", err)
	}
	// the root stays running for the reconciler; only the lock is released
	if reloaded.Status != types.JobStatusRunning {
		t.Fatalf("root status = %q, want running", reloaded.Status)
	}
	if reloaded.LockedAt != nil || reloaded.HeartbeatAt != nil {
		t.Fatal("root lock columns must be cleared")
	}
	if reloaded.ChaptersExpected != 2 {
		t.Fatalf("chapters_expected = %d, want 2", reloaded.ChaptersExpected)
	}

	counts, err := f.jobs.CountByRootAndLevel(f.ctx, nil, root.ID, types.LevelSyllabus)
	if err != nil {
		t.Fatalf("count level 1: %v", err)
	}
	if counts.Total != 1 || counts.Completed != 1 {
		t.Fatalf("level-1 marker counts = %+v, want one completed child", counts)
	}
}

func TestSyllabusPipelineRejectsNonRootJob(t *testing.T) {
	f := newPipelineFixture(t)
	subject := testutil.SeedSubject(t, f.ctx, f.tx, "CBSE", "10", "Physics")
	chapter := testutil.SeedChapter(t, f.ctx, f.tx, subject.ID, "Optics", 1)
	job := f.claimedJob(t, subject, types.JobTypeNotes, types.LevelChapterExpansion, &chapter.ID, nil, "")

	p := pipeline.NewSyllabusPipeline(f.tx, testutil.Logger(t), f.jobs, f.taxonomy, f.gen)
	if err := f.run(t, p, job); err == nil {
		t.Fatal("expected an error for a non-level-1 job")
	}
}

func TestNotesPipelineExpandsChapter(t *testing.T) {
	f := newPipelineFixture(t)
	subject := testutil.SeedSubject(t, f.ctx, f.tx, "CBSE", "9", "Chemistry")
	chapter := testutil.SeedChapter(t, f.ctx, f.tx, subject.ID, "Atoms", 1)
	job := f.claimedJob(t, subject, types.JobTypeNotes, types.LevelChapterExpansion, &chapter.ID, nil, "")
	f.client.response = json.RawMessage(`{"topics":[{"name":"Structure"},{"name":"Bonding"}]}`)

	p := pipeline.NewNotesPipeline(f.tx, testutil.Logger(t), f.taxonomy, f.content, f.gen)
	if err := f.run(t, p, job); err != nil {
		t.Fatalf("run: %v", err)
	}

	topics, err := f.taxonomy.ListTopicsByChapter(f.ctx, nil, chapter.ID)
	if err != nil {
		t.Fatalf("list topics: %v", err)
	}
	if len(topics) != 2 {
		t.Fatalf("topics = %d, want 2", len(topics))
	}

	reloaded, err := f.jobs.GetByID(f.ctx, nil, job.ID)
	if err != nil || reloaded == nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != types.JobStatusCompleted {
		t.Fatalf("job status = %q, want completed", reloaded.Status)
	}
}

func TestNotesPipelineExpansionIsIdempotent(t *testing.T) {
	f := newPipelineFixture(t)
	subject := testutil.SeedSubject(t, f.ctx, f.tx, "CBSE", "9", "Biology")
	chapter := testutil.SeedChapter(t, f.ctx, f.tx, subject.ID, "Cells", 1)
	testutil.SeedTopic(t, f.ctx, f.tx, chapter.ID, "Mitosis", 1)
	job := f.claimedJob(t, subject, types.JobTypeNotes, types.LevelChapterExpansion, &chapter.ID, nil, "")

	// no scripted response: the model must not be called when topics exist
	p := pipeline.NewNotesPipeline(f.tx, testutil.Logger(t), f.taxonomy, f.content, f.gen)
	if err := f.run(t, p, job); err != nil {
		t.Fatalf("run: %v", err)
	}

	topics, err := f.taxonomy.ListTopicsByChapter(f.ctx, nil, chapter.ID)
	if err != nil {
		t.Fatalf("list topics: %v", err)
	}
	if len(topics) != 1 {
		t.Fatalf("topics = %d, a retry must not duplicate", len(topics))
	}

	reloaded, err := f.jobs.GetByID(f.ctx, nil, job.ID)
	if err != nil || reloaded == nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != types.JobStatusCompleted {
		t.Fatalf("job status = %q, want completed", reloaded.Status)
	}
}

func TestNotesPipelineWritesTopicNote(t *testing.T) {
	f := newPipelineFixture(t)
	subject := testutil.SeedSubject(t, f.ctx, f.tx, "CBSE", "10", "History")
	chapter := testutil.SeedChapter(t, f.ctx, f.tx, subject.ID, "Revolts", 1)
	topic := testutil.SeedTopic(t, f.ctx, f.tx, chapter.ID, "1857", 1)
	job := f.claimedJob(t, subject, types.JobTypeNotes, types.LevelTopicNotes, &chapter.ID, &topic.ID, "")
	f.client.response = json.RawMessage(`{"content_md":"# The Revolt of 1857\n\nCauses..."}`)

	p := pipeline.NewNotesPipeline(f.tx, testutil.Logger(t), f.taxonomy, f.content, f.gen)
	if err := f.run(t, p, job); err != nil {
		t.Fatalf("run: %v", err)
	}

	var notes []types.TopicNote
	if err := f.tx.WithContext(f.ctx).Where("topic_id = ?", topic.ID).Find(&notes).Error; err != nil {
		t.Fatalf("load notes: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("notes = %d, want 1", len(notes))
	}
	if notes[0].Status != types.ContentStatusDraft {
		t.Fatalf("note status = %q, want draft", notes[0].Status)
	}
	if notes[0].JobID == nil || *notes[0].JobID != job.ID {
		t.Fatal("note must link back to its job")
	}
}

func TestQuestionsPipelineValidatesItems(t *testing.T) {
	f := newPipelineFixture(t)
	subject := testutil.SeedSubject(t, f.ctx, f.tx, "CBSE", "10", "Geography")
	chapter := testutil.SeedChapter(t, f.ctx, f.tx, subject.ID, "Rivers", 1)
	topic := testutil.SeedTopic(t, f.ctx, f.tx, chapter.ID, "Ganga", 1)
	job := f.claimedJob(t, subject, types.JobTypeQuestions, types.LevelQuestions, &chapter.ID, &topic.ID, "easy")

	// one valid, one with a bad answer index, one with too few options
	f.client.response = json.RawMessage(`{"questions":[
		{"question":"Where does the Ganga rise?","options":["Gangotri","Yamunotri","Kedarnath","Badrinath"],"answer_index":0,"explanation":"Gangotri glacier."},
		{"question":"Bad index","options":["a","b"],"answer_index":5,"explanation":"x"},
		{"question":"One option","options":["only"],"answer_index":0,"explanation":"x"}
	]}`)

	p := pipeline.NewQuestionsPipeline(f.tx, testutil.Logger(t), f.taxonomy, f.content, f.gen)
	if err := f.run(t, p, job); err != nil {
		t.Fatalf("run: %v", err)
	}

	questions, err := f.content.ListQuestions(f.ctx, nil, topic.ID, "en", "easy", 50)
	if err != nil {
		t.Fatalf("list questions: %v", err)
	}
	if len(questions) != 1 {
		t.Fatalf("questions = %d, invalid items must be dropped", len(questions))
	}
	if questions[0].Status != types.ContentStatusDraft {
		t.Fatalf("question status = %q, want draft", questions[0].Status)
	}
}

func TestQuestionsPipelineFailsWhenNothingUsable(t *testing.T) {
	f := newPipelineFixture(t)
	subject := testutil.SeedSubject(t, f.ctx, f.tx, "CBSE", "10", "Economics")
	chapter := testutil.SeedChapter(t, f.ctx, f.tx, subject.ID, "Markets", 1)
	topic := testutil.SeedTopic(t, f.ctx, f.tx, chapter.ID, "Demand", 1)
	job := f.claimedJob(t, subject, types.JobTypeQuestions, types.LevelQuestions, &chapter.ID, &topic.ID, "hard")
	f.client.response = json.RawMessage(`{"questions":[]}`)

	p := pipeline.NewQuestionsPipeline(f.tx, testutil.Logger(t), f.taxonomy, f.content, f.gen)
	if err := f.run(t, p, job); err == nil {
		t.Fatal("expected an error for an empty question batch")
	}
}

func TestTestsPipelineAssemblesFromDrafts(t *testing.T) {
	f := newPipelineFixture(t)
	subject := testutil.SeedSubject(t, f.ctx, f.tx, "CBSE", "10", "English")
	chapter := testutil.SeedChapter(t, f.ctx, f.tx, subject.ID, "Poetry", 1)
	topic := testutil.SeedTopic(t, f.ctx, f.tx, chapter.ID, "Sonnets", 1)
	job := f.claimedJob(t, subject, types.JobTypeTests, types.LevelQuestions, &chapter.ID, &topic.ID, "medium")

	// only draft questions exist: the pipeline falls back to them
	drafts := []*types.GeneratedQuestion{}
	for i := 0; i < 3; i++ {
		drafts = append(drafts, &types.GeneratedQuestion{
			ID:         uuid.New(),
			TopicID:    topic.ID,
			Language:   "en",
			Difficulty: "medium",
			Status:     types.ContentStatusDraft,
			Payload:    datatypes.JSON([]byte(`{"question":"q"}`)),
		})
	}
	if _, err := f.content.CreateQuestions(f.ctx, nil, drafts); err != nil {
		t.Fatalf("seed questions: %v", err)
	}

	p := pipeline.NewTestsPipeline(f.tx, testutil.Logger(t), f.content)
	if err := f.run(t, p, job); err != nil {
		t.Fatalf("run: %v", err)
	}

	var tests []types.GeneratedTest
	if err := f.tx.WithContext(f.ctx).Where("topic_id = ?", topic.ID).Find(&tests).Error; err != nil {
		t.Fatalf("load tests: %v", err)
	}
	if len(tests) != 1 {
		t.Fatalf("tests = %d, want 1", len(tests))
	}
	var sel struct {
		QuestionIDs []uuid.UUID `json:"question_ids"`
	}
	if err := json.Unmarshal(tests[0].Questions, &sel); err != nil {
		t.Fatalf("decode selection: %v", err)
	}
	if len(sel.QuestionIDs) != 3 {
		t.Fatalf("selected questions = %d, want 3", len(sel.QuestionIDs))
	}
}

func TestTestsPipelineFailsWithoutQuestions(t *testing.T) {
	f := newPipelineFixture(t)
	subject := testutil.SeedSubject(t, f.ctx, f.tx, "CBSE", "10", "Sanskrit")
	chapter := testutil.SeedChapter(t, f.ctx, f.tx, subject.ID, "Grammar", 1)
	topic := testutil.SeedTopic(t, f.ctx, f.tx, chapter.ID, "Sandhi", 1)
	job := f.claimedJob(t, subject, types.JobTypeTests, types.LevelQuestions, &chapter.ID, &topic.ID, "easy")

	p := pipeline.NewTestsPipeline(f.tx, testutil.Logger(t), f.content)
	if err := f.run(t, p, job); err == nil {
		t.Fatal("expected an error when the question bank is empty")
	}
}
