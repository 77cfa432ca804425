package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NotificationProvider is a per-project chat channel that receives a short
// copy of threat summaries and rule alerts.
type NotificationProvider struct {
	ID        string `gorm:"primaryKey;size:36" json:"id"`
	ProjectID string `gorm:"size:36;not null;index" json:"project_id"`
	Name      string `json:"name"`
	Type      string `json:"type"` // discord, slack, gotify, telegram, generic
	URL       string `json:"url"`  // shoutrrr URL
	Enabled   bool   `json:"enabled"`

	NotifyThreats bool `json:"notify_threats" gorm:"default:true"`
	NotifyAlerts  bool `json:"notify_alerts" gorm:"default:true"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (n *NotificationProvider) BeforeCreate(tx *gorm.DB) (err error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	return
}
