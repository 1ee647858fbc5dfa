package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/padhaihub/padhai-backend/internal/platform/logger"
	"github.com/padhaihub/padhai-backend/internal/types"
)

type TaxonomyRepo interface {
	// ResolveTopic loads a topic with its chapter and subject so callers can
	// denormalize ancestor names onto job rows. Returns nil when any link in
	// the chain is missing.
	ResolveTopic(ctx context.Context, tx *gorm.DB, topicID uuid.UUID) (*types.TopicScope, error)
	ResolveSubject(ctx context.Context, tx *gorm.DB, subjectID uuid.UUID) (*types.Subject, error)
	ListSubjects(ctx context.Context, tx *gorm.DB, status string) ([]*types.Subject, error)
	CreateChapters(ctx context.Context, tx *gorm.DB, chapters []*types.Chapter) ([]*types.Chapter, error)
	CreateTopics(ctx context.Context, tx *gorm.DB, topics []*types.Topic) ([]*types.Topic, error)
	ListChaptersBySubject(ctx context.Context, tx *gorm.DB, subjectID uuid.UUID) ([]*types.Chapter, error)
	ListTopicsByChapter(ctx context.Context, tx *gorm.DB, chapterID uuid.UUID) ([]*types.Topic, error)
	ListTopicsBySubject(ctx context.Context, tx *gorm.DB, subjectID uuid.UUID) ([]*types.Topic, error)
}

type taxonomyRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaxonomyRepo(db *gorm.DB, baseLog *logger.Logger) TaxonomyRepo {
	return &taxonomyRepo{
		db:  db,
		log: baseLog.With("repo", "TaxonomyRepo"),
	}
}

func (r *taxonomyRepo) ResolveTopic(ctx context.Context, tx *gorm.DB, topicID uuid.UUID) (*types.TopicScope, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if topicID == uuid.Nil {
		return nil, nil
	}
	var topic types.Topic
	if err := transaction.WithContext(ctx).Where("id = ?", topicID).Limit(1).Find(&topic).Error; err != nil {
		return nil, err
	}
	if topic.ID == uuid.Nil {
		return nil, nil
	}
	var chapter types.Chapter
	if err := transaction.WithContext(ctx).Where("id = ?", topic.ChapterID).Limit(1).Find(&chapter).Error; err != nil {
		return nil, err
	}
	if chapter.ID == uuid.Nil {
		return nil, nil
	}
	var subject types.Subject
	if err := transaction.WithContext(ctx).Where("id = ?", chapter.SubjectID).Limit(1).Find(&subject).Error; err != nil {
		return nil, err
	}
	if subject.ID == uuid.Nil {
		return nil, nil
	}
	return &types.TopicScope{Topic: &topic, Chapter: &chapter, Subject: &subject}, nil
}

func (r *taxonomyRepo) ResolveSubject(ctx context.Context, tx *gorm.DB, subjectID uuid.UUID) (*types.Subject, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if subjectID == uuid.Nil {
		return nil, nil
	}
	var subject types.Subject
	if err := transaction.WithContext(ctx).Where("id = ?", subjectID).Limit(1).Find(&subject).Error; err != nil {
		return nil, err
	}
	if subject.ID == uuid.Nil {
		return nil, nil
	}
	return &subject, nil
}

func (r *taxonomyRepo) ListSubjects(ctx context.Context, tx *gorm.DB, status string) ([]*types.Subject, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Model(&types.Subject{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []*types.Subject
	if err := q.Order("board ASC, grade ASC, name ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *taxonomyRepo) CreateChapters(ctx context.Context, tx *gorm.DB, chapters []*types.Chapter) ([]*types.Chapter, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(chapters) == 0 {
		return []*types.Chapter{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&chapters).Error; err != nil {
		return nil, err
	}
	return chapters, nil
}

func (r *taxonomyRepo) CreateTopics(ctx context.Context, tx *gorm.DB, topics []*types.Topic) ([]*types.Topic, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(topics) == 0 {
		return []*types.Topic{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&topics).Error; err != nil {
		return nil, err
	}
	return topics, nil
}

func (r *taxonomyRepo) ListChaptersBySubject(ctx context.Context, tx *gorm.DB, subjectID uuid.UUID) ([]*types.Chapter, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Chapter
	if subjectID == uuid.Nil {
		return out, nil
	}
	err := transaction.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("position ASC, created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *taxonomyRepo) ListTopicsByChapter(ctx context.Context, tx *gorm.DB, chapterID uuid.UUID) ([]*types.Topic, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Topic
	if chapterID == uuid.Nil {
		return out, nil
	}
	err := transaction.WithContext(ctx).
		Where("chapter_id = ?", chapterID).
		Order("position ASC, created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *taxonomyRepo) ListTopicsBySubject(ctx context.Context, tx *gorm.DB, subjectID uuid.UUID) ([]*types.Topic, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Topic
	if subjectID == uuid.Nil {
		return out, nil
	}
	err := transaction.WithContext(ctx).
		Joins("JOIN chapter ON chapter.id = topic.chapter_id").
		Where("chapter.subject_id = ? AND chapter.deleted_at IS NULL", subjectID).
		Order("chapter.position ASC, topic.position ASC, topic.created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
