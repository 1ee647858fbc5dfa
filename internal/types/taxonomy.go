package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ContentStatusDraft    = "draft"
	ContentStatusApproved = "approved"
)

type Subject struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Board     string         `gorm:"column:board;not null;index" json:"board"`
	Grade     string         `gorm:"column:grade;not null;index" json:"grade"`
	Name      string         `gorm:"column:name;not null" json:"name"`
	Status    string         `gorm:"column:status;not null;default:'draft'" json:"status"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Subject) TableName() string { return "subject" }

// Chapter rows are produced by the syllabus job in draft status.
type Chapter struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SubjectID uuid.UUID      `gorm:"type:uuid;column:subject_id;not null;index" json:"subject_id"`
	Name      string         `gorm:"column:name;not null" json:"name"`
	Position  int            `gorm:"column:position;not null;default:0" json:"position"`
	Status    string         `gorm:"column:status;not null;default:'draft'" json:"status"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Chapter) TableName() string { return "chapter" }

type Topic struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ChapterID uuid.UUID      `gorm:"type:uuid;column:chapter_id;not null;index" json:"chapter_id"`
	Name      string         `gorm:"column:name;not null" json:"name"`
	Position  int            `gorm:"column:position;not null;default:0" json:"position"`
	Status    string         `gorm:"column:status;not null;default:'draft'" json:"status"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Topic) TableName() string { return "topic" }

// TopicScope is a topic resolved together with its full ancestor chain, used
// to denormalize names onto job rows.
type TopicScope struct {
	Topic   *Topic
	Chapter *Chapter
	Subject *Subject
}
