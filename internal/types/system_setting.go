package types

import "time"

// SystemSetting carries operational flags, notably the HYDRATION_PAUSED kill
// switch. Read fresh per operation; never cached at module level.
type SystemSetting struct {
	Key       string    `gorm:"column:key;primaryKey" json:"key"`
	Value     string    `gorm:"column:value;not null" json:"value"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (SystemSetting) TableName() string { return "system_setting" }

const SettingHydrationPaused = "HYDRATION_PAUSED"
