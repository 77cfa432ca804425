package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AlertRuleType string

const (
	RuleScoreDrop   AlertRuleType = "score_drop"
	RuleNewCritical AlertRuleType = "new_critical"
	RuleScoreBelow  AlertRuleType = "score_below"
)

// RuleThrottle is the fixed minimum gap between two firings of one rule.
const RuleThrottle = 24 * time.Hour

// AlertRule is a user-defined threshold evaluated after each completed scan.
type AlertRule struct {
	ID              string        `gorm:"primaryKey;size:36" json:"id"`
	ProjectID       string        `gorm:"size:36;not null;index" json:"project_id"`
	Type            AlertRuleType `gorm:"size:32;not null" json:"type"`
	Threshold       *float64      `json:"threshold"`
	Enabled         bool          `json:"enabled"`
	NotifyEmail     string        `json:"notify_email"`
	LastTriggeredAt *time.Time    `json:"last_triggered_at"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (r *AlertRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// ThresholdOr returns the configured threshold, or def when unset.
func (r AlertRule) ThresholdOr(def float64) float64 {
	if r.Threshold == nil {
		return def
	}
	return *r.Threshold
}
