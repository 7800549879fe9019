package models

import (
	"time"
)

// Log levels used in system_logs.
const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// SystemLog is the audit trail for scheduled runs, alerts and reconciliation drift.
type SystemLog struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	TokenizationID uint      `gorm:"column:tokenization_id;default:0;index" json:"tokenization_id"`
	Level          string    `gorm:"column:level;size:10;not null" json:"level"` // INFO, WARN, ERROR
	Message        string    `gorm:"column:message;type:text;not null" json:"message"`
	Module         string    `gorm:"column:module;size:100" json:"module"`
	ErrorKind      string    `gorm:"column:error_kind;size:32" json:"error_kind"`
	Meta           JSONMap   `gorm:"column:meta;type:jsonb" json:"meta"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (SystemLog) TableName() string {
	return "system_logs"
}
