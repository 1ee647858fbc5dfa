package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/padhaihub/padhai-backend/internal/platform/logger"
	"github.com/padhaihub/padhai-backend/internal/types"
)

// ContentCounts is the rollup snapshot written onto a root job when its
// cascade finishes. Questions counts individual rows; QuestionSets counts
// distinct (topic, difficulty) tuples that have at least one question, which
// is the unit the cascade fans out in (one questions job per tuple).
type ContentCounts struct {
	Chapters     int64
	Topics       int64
	Notes        int64
	Questions    int64
	QuestionSets int64
}

type ContentRepo interface {
	ApprovedNoteExists(ctx context.Context, tx *gorm.DB, topicID uuid.UUID, language string) (bool, error)
	ApprovedQuestionsExist(ctx context.Context, tx *gorm.DB, topicID uuid.UUID, language, difficulty string) (bool, error)
	ApprovedTestExists(ctx context.Context, tx *gorm.DB, topicID uuid.UUID, language, difficulty string) (bool, error)
	CreateNote(ctx context.Context, tx *gorm.DB, note *types.TopicNote) (*types.TopicNote, error)
	CreateQuestions(ctx context.Context, tx *gorm.DB, questions []*types.GeneratedQuestion) ([]*types.GeneratedQuestion, error)
	CreateTest(ctx context.Context, tx *gorm.DB, test *types.GeneratedTest) (*types.GeneratedTest, error)
	ListApprovedQuestions(ctx context.Context, tx *gorm.DB, topicID uuid.UUID, language, difficulty string, limit int) ([]*types.GeneratedQuestion, error)
	ListQuestions(ctx context.Context, tx *gorm.DB, topicID uuid.UUID, language, difficulty string, limit int) ([]*types.GeneratedQuestion, error)
	CountBySubject(ctx context.Context, tx *gorm.DB, subjectID uuid.UUID, language string) (ContentCounts, error)
}

type contentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewContentRepo(db *gorm.DB, baseLog *logger.Logger) ContentRepo {
	return &contentRepo{
		db:  db,
		log: baseLog.With("repo", "ContentRepo"),
	}
}

func (r *contentRepo) ApprovedNoteExists(ctx context.Context, tx *gorm.DB, topicID uuid.UUID, language string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if topicID == uuid.Nil {
		return false, nil
	}
	var n int64
	err := transaction.WithContext(ctx).Model(&types.TopicNote{}).
		Where("topic_id = ? AND language = ? AND status = ?", topicID, language, types.ContentStatusApproved).
		Count(&n).Error
	return n > 0, err
}

func (r *contentRepo) ApprovedQuestionsExist(ctx context.Context, tx *gorm.DB, topicID uuid.UUID, language, difficulty string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if topicID == uuid.Nil {
		return false, nil
	}
	var n int64
	err := transaction.WithContext(ctx).Model(&types.GeneratedQuestion{}).
		Where("topic_id = ? AND language = ? AND difficulty = ? AND status = ?", topicID, language, difficulty, types.ContentStatusApproved).
		Count(&n).Error
	return n > 0, err
}

func (r *contentRepo) ApprovedTestExists(ctx context.Context, tx *gorm.DB, topicID uuid.UUID, language, difficulty string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if topicID == uuid.Nil {
		return false, nil
	}
	var n int64
	err := transaction.WithContext(ctx).Model(&types.GeneratedTest{}).
		Where("topic_id = ? AND language = ? AND difficulty = ? AND status = ?", topicID, language, difficulty, types.ContentStatusApproved).
		Count(&n).Error
	return n > 0, err
}

func (r *contentRepo) CreateNote(ctx context.Context, tx *gorm.DB, note *types.TopicNote) (*types.TopicNote, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if note == nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).Create(note).Error; err != nil {
		return nil, err
	}
	return note, nil
}

func (r *contentRepo) CreateQuestions(ctx context.Context, tx *gorm.DB, questions []*types.GeneratedQuestion) ([]*types.GeneratedQuestion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(questions) == 0 {
		return []*types.GeneratedQuestion{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}

func (r *contentRepo) CreateTest(ctx context.Context, tx *gorm.DB, test *types.GeneratedTest) (*types.GeneratedTest, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if test == nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).Create(test).Error; err != nil {
		return nil, err
	}
	return test, nil
}

func (r *contentRepo) ListApprovedQuestions(ctx context.Context, tx *gorm.DB, topicID uuid.UUID, language, difficulty string, limit int) ([]*types.GeneratedQuestion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.GeneratedQuestion
	if topicID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 {
		limit = 20
	}
	err := transaction.WithContext(ctx).
		Where("topic_id = ? AND language = ? AND difficulty = ? AND status = ?", topicID, language, difficulty, types.ContentStatusApproved).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListQuestions is status-agnostic: test assembly can fall back to drafts
// when nothing has been approved yet.
func (r *contentRepo) ListQuestions(ctx context.Context, tx *gorm.DB, topicID uuid.UUID, language, difficulty string, limit int) ([]*types.GeneratedQuestion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.GeneratedQuestion
	if topicID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 {
		limit = 20
	}
	err := transaction.WithContext(ctx).
		Where("topic_id = ? AND language = ? AND difficulty = ?", topicID, language, difficulty).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *contentRepo) CountBySubject(ctx context.Context, tx *gorm.DB, subjectID uuid.UUID, language string) (ContentCounts, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var counts ContentCounts
	if subjectID == uuid.Nil {
		return counts, nil
	}
	if err := transaction.WithContext(ctx).Model(&types.Chapter{}).
		Where("subject_id = ?", subjectID).
		Count(&counts.Chapters).Error; err != nil {
		return counts, err
	}
	if err := transaction.WithContext(ctx).Model(&types.Topic{}).
		Joins("JOIN chapter ON chapter.id = topic.chapter_id").
		Where("chapter.subject_id = ? AND chapter.deleted_at IS NULL", subjectID).
		Count(&counts.Topics).Error; err != nil {
		return counts, err
	}
	if err := transaction.WithContext(ctx).Model(&types.TopicNote{}).
		Joins("JOIN topic ON topic.id = topic_note.topic_id").
		Joins("JOIN chapter ON chapter.id = topic.chapter_id").
		Where("chapter.subject_id = ? AND topic_note.language = ?", subjectID, language).
		Where("topic.deleted_at IS NULL AND chapter.deleted_at IS NULL").
		Count(&counts.Notes).Error; err != nil {
		return counts, err
	}
	if err := transaction.WithContext(ctx).Model(&types.GeneratedQuestion{}).
		Joins("JOIN topic ON topic.id = generated_question.topic_id").
		Joins("JOIN chapter ON chapter.id = topic.chapter_id").
		Where("chapter.subject_id = ? AND generated_question.language = ?", subjectID, language).
		Where("topic.deleted_at IS NULL AND chapter.deleted_at IS NULL").
		Count(&counts.Questions).Error; err != nil {
		return counts, err
	}
	if err := transaction.WithContext(ctx).Model(&types.GeneratedQuestion{}).
		Select("COUNT(DISTINCT (generated_question.topic_id, generated_question.difficulty))").
		Joins("JOIN topic ON topic.id = generated_question.topic_id").
		Joins("JOIN chapter ON chapter.id = topic.chapter_id").
		Where("chapter.subject_id = ? AND generated_question.language = ?", subjectID, language).
		Where("topic.deleted_at IS NULL AND chapter.deleted_at IS NULL").
		Scan(&counts.QuestionSets).Error; err != nil {
		return counts, err
	}
	return counts, nil
}
