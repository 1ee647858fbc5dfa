package types

import (
	"time"

	"github.com/google/uuid"
)

// AICallLog is per-call generation telemetry: model tier, size, cost, latency.
type AICallLog struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	JobID           *uuid.UUID `gorm:"type:uuid;column:job_id;index" json:"job_id,omitempty"`
	PromptType      string     `gorm:"column:prompt_type;not null;index" json:"prompt_type"`
	Model           string     `gorm:"column:model;not null" json:"model"`
	PromptChars     int        `gorm:"column:prompt_chars;not null;default:0" json:"prompt_chars"`
	CompletionChars int        `gorm:"column:completion_chars;not null;default:0" json:"completion_chars"`
	TotalTokens     int        `gorm:"column:total_tokens;not null;default:0" json:"total_tokens"`
	CostUSD         float64    `gorm:"column:cost_usd;not null;default:0" json:"cost_usd"`
	LatencyMS       int64      `gorm:"column:latency_ms;not null;default:0" json:"latency_ms"`
	Error           string     `gorm:"column:error" json:"error,omitempty"`
	CreatedAt       time.Time  `gorm:"not null;default:now();index" json:"created_at"`
}

func (AICallLog) TableName() string { return "ai_call_log" }
