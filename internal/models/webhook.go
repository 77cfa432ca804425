package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	EventScanCompleted = "scan.completed"
	EventScanStarted   = "scan.started"
	EventScoreChanged  = "score.changed"
)

// WebhookEvents is the set of events a webhook may subscribe to.
var WebhookEvents = []string{EventScanCompleted, EventScanStarted, EventScoreChanged}

// Delivery outcomes stored on a webhook after each attempt.
const (
	OutcomeDelivered    = "delivered"
	OutcomeHTTPError    = "http_error"
	OutcomeNetworkError = "network_error"
	OutcomeBlocked      = "blocked"
)

// WebhookSecretPrefix marks every signing secret.
const WebhookSecretPrefix = "whsec_"

type Webhook struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	ProjectID       string     `gorm:"size:36;not null;index" json:"project_id"`
	URL             string     `gorm:"not null" json:"url"`
	Events          []string   `gorm:"serializer:json" json:"events"`
	Secret          string     `gorm:"not null" json:"-"`
	Enabled         bool       `json:"enabled"`
	LastTriggeredAt *time.Time `json:"last_triggered_at"`
	LastStatus      int        `json:"last_status"`
	LastOutcome     string     `gorm:"size:16" json:"last_outcome"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (Webhook) TableName() string { return "project_webhooks" }

func (w *Webhook) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	return nil
}

// Subscribed reports whether the webhook listens for event.
func (w Webhook) Subscribed(event string) bool {
	return slices.Contains(w.Events, event)
}
