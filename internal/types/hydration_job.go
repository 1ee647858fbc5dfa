package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Job statuses. pending -> running -> {completed|failed} is the only legal
// path for worker-driven transitions; cancelled is an operator action and is
// legal only from pending.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

const (
	JobTypeSyllabus  = "syllabus"
	JobTypeNotes     = "notes"
	JobTypeQuestions = "questions"
	JobTypeTests     = "tests"
)

// HierarchyLevel identifies a tier of the hydration cascade. The numeric
// values are persisted; the named constants and transition helpers are the
// only way code is allowed to reason about them.
type HierarchyLevel int

const (
	LevelSyllabus         HierarchyLevel = 1 // subject-scoped syllabus generation
	LevelChapterExpansion HierarchyLevel = 2 // per-chapter expansion placeholder
	LevelTopicNotes       HierarchyLevel = 3 // per-topic notes generation
	LevelQuestions        HierarchyLevel = 4 // per-topic, per-difficulty questions
)

func (l HierarchyLevel) Valid() bool {
	return l >= LevelSyllabus && l <= LevelQuestions
}

// Next returns the level the reconciler fans out to once all jobs at l under
// a root are terminal. ok is false at the bottom of the cascade.
func (l HierarchyLevel) Next() (next HierarchyLevel, ok bool) {
	if l >= LevelSyllabus && l < LevelQuestions {
		return l + 1, true
	}
	return l, false
}

func (l HierarchyLevel) String() string {
	switch l {
	case LevelSyllabus:
		return "syllabus"
	case LevelChapterExpansion:
		return "chapter_expansion"
	case LevelTopicNotes:
		return "topic_notes"
	case LevelQuestions:
		return "questions"
	default:
		return "unknown"
	}
}

func IsTerminalStatus(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// SubjectScopedJobType reports whether the job type targets a whole subject.
// Everything else is topic-scoped (chapter-scoped at level 2 during fan-out).
func SubjectScopedJobType(jobType string) bool {
	return jobType == JobTypeSyllabus
}

type HydrationJob struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	RootJobID      uuid.UUID      `gorm:"type:uuid;column:root_job_id;not null;index" json:"root_job_id"`
	ParentJobID    *uuid.UUID     `gorm:"type:uuid;column:parent_job_id;index" json:"parent_job_id,omitempty"`
	HierarchyLevel HierarchyLevel `gorm:"column:hierarchy_level;not null;index" json:"hierarchy_level"`
	JobType        string         `gorm:"column:job_type;not null;index" json:"job_type"`
	Status         string         `gorm:"column:status;not null;index" json:"status"`

	// Denormalized ancestor names so the admin job list renders without joins.
	Board   string `gorm:"column:board" json:"board"`
	Grade   string `gorm:"column:grade" json:"grade"`
	Subject string `gorm:"column:subject" json:"subject"`

	SubjectID  uuid.UUID  `gorm:"type:uuid;column:subject_id;not null;index" json:"subject_id"`
	ChapterID  *uuid.UUID `gorm:"type:uuid;column:chapter_id;index" json:"chapter_id,omitempty"`
	TopicID    *uuid.UUID `gorm:"type:uuid;column:topic_id;index" json:"topic_id,omitempty"`
	Language   string     `gorm:"column:language;not null" json:"language"`
	Difficulty string     `gorm:"column:difficulty;not null;default:''" json:"difficulty"`

	Attempts    int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Error       string     `gorm:"column:error" json:"error,omitempty"`
	LockedAt    *time.Time `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`

	ChaptersCompleted  int  `gorm:"column:chapters_completed;not null;default:0" json:"chapters_completed"`
	ChaptersExpected   int  `gorm:"column:chapters_expected;not null;default:0" json:"chapters_expected"`
	TopicsCompleted    int  `gorm:"column:topics_completed;not null;default:0" json:"topics_completed"`
	TopicsExpected     int  `gorm:"column:topics_expected;not null;default:0" json:"topics_expected"`
	NotesCompleted     int  `gorm:"column:notes_completed;not null;default:0" json:"notes_completed"`
	NotesExpected      int  `gorm:"column:notes_expected;not null;default:0" json:"notes_expected"`
	QuestionsCompleted int  `gorm:"column:questions_completed;not null;default:0" json:"questions_completed"`
	QuestionsExpected  int  `gorm:"column:questions_expected;not null;default:0" json:"questions_expected"`
	ContentReady       bool `gorm:"column:content_ready;not null;default:false" json:"content_ready"`

	Payload   datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Result    datatypes.JSON `gorm:"column:result;type:jsonb" json:"result"`
	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (HydrationJob) TableName() string { return "hydration_job" }

// IsRoot reports whether this job heads its own cascade tree.
func (j *HydrationJob) IsRoot() bool { return j.RootJobID == j.ID }

func (j *HydrationJob) Terminal() bool { return IsTerminalStatus(j.Status) }
