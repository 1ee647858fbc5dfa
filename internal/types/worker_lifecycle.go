package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	WorkerStatusStarting = "STARTING"
	WorkerStatusRunning  = "RUNNING"
	WorkerStatusStopped  = "STOPPED"
	WorkerStatusFailed   = "FAILED"
)

// WorkerLifecycle tracks one worker process from start to stop. The watchdog
// marks rows FAILED when heartbeats go stale.
type WorkerLifecycle struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	WorkerID        string     `gorm:"column:worker_id;not null;uniqueIndex" json:"worker_id"`
	Hostname        string     `gorm:"column:hostname" json:"hostname"`
	PID             int        `gorm:"column:pid" json:"pid"`
	Status          string     `gorm:"column:status;not null;index" json:"status"`
	LastHeartbeatAt time.Time  `gorm:"column:last_heartbeat_at;not null;index" json:"last_heartbeat_at"`
	StartedAt       time.Time  `gorm:"column:started_at;not null" json:"started_at"`
	StoppedAt       *time.Time `gorm:"column:stopped_at" json:"stopped_at,omitempty"`
	CreatedAt       time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (WorkerLifecycle) TableName() string { return "worker_lifecycle" }
