package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// OutboxMessage records a "job submitted" event in the same transaction as
// the job row. Append-only; the dispatcher only ever sets dispatched_at.
type OutboxMessage struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	JobID        uuid.UUID      `gorm:"type:uuid;column:job_id;not null;index" json:"job_id"`
	Queue        string         `gorm:"column:queue;not null;index" json:"queue"`
	Payload      datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Meta         datatypes.JSON `gorm:"column:meta;type:jsonb" json:"meta"`
	Attempts     int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	DispatchedAt *time.Time     `gorm:"column:dispatched_at;index" json:"dispatched_at,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (OutboxMessage) TableName() string { return "hydration_outbox" }
