package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AlertLog records every threat summary that was sent. The dispatcher reads it
// to decide whether a tier is still cooling down.
type AlertLog struct {
	ID         string         `gorm:"primaryKey;size:36" json:"id"`
	ProjectID  string         `gorm:"size:36;not null;index:idx_alert_log_lookup,priority:1" json:"project_id"`
	AlertType  AlertFrequency `gorm:"size:16;not null;index:idx_alert_log_lookup,priority:2" json:"alert_type"`
	SentAt     time.Time      `gorm:"not null;index:idx_alert_log_lookup,priority:3" json:"sent_at"`
	EventCount int64          `json:"event_count"`
}

func (AlertLog) TableName() string { return "threat_alert_log" }

func (l *AlertLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}
