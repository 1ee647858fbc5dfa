package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Generated artifacts start in draft and require admin approval before they
// count as existing content for idempotency checks.

type TopicNote struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TopicID   uuid.UUID      `gorm:"type:uuid;column:topic_id;not null;index" json:"topic_id"`
	Language  string         `gorm:"column:language;not null;index" json:"language"`
	Status    string         `gorm:"column:status;not null;default:'draft';index" json:"status"`
	ContentMD string         `gorm:"column:content_md;type:text" json:"content_md"`
	JobID     *uuid.UUID     `gorm:"type:uuid;column:job_id;index" json:"job_id,omitempty"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (TopicNote) TableName() string { return "topic_note" }

type GeneratedQuestion struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TopicID    uuid.UUID      `gorm:"type:uuid;column:topic_id;not null;index" json:"topic_id"`
	Language   string         `gorm:"column:language;not null;index" json:"language"`
	Difficulty string         `gorm:"column:difficulty;not null;index" json:"difficulty"`
	Status     string         `gorm:"column:status;not null;default:'draft';index" json:"status"`
	Payload    datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	JobID      *uuid.UUID     `gorm:"type:uuid;column:job_id;index" json:"job_id,omitempty"`
	CreatedAt  time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (GeneratedQuestion) TableName() string { return "generated_question" }

type GeneratedTest struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TopicID    uuid.UUID      `gorm:"type:uuid;column:topic_id;not null;index" json:"topic_id"`
	Language   string         `gorm:"column:language;not null;index" json:"language"`
	Difficulty string         `gorm:"column:difficulty;not null;index" json:"difficulty"`
	Status     string         `gorm:"column:status;not null;default:'draft';index" json:"status"`
	Questions  datatypes.JSON `gorm:"column:questions;type:jsonb" json:"questions"`
	JobID      *uuid.UUID     `gorm:"type:uuid;column:job_id;index" json:"job_id,omitempty"`
	CreatedAt  time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (GeneratedTest) TableName() string { return "generated_test" }
