package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type EventType string

const (
	EventXSS           EventType = "xss"
	EventSQLi          EventType = "sqli"
	EventCSRF          EventType = "csrf"
	EventBot           EventType = "bot"
	EventBruteForce    EventType = "brute_force"
	EventPathTraversal EventType = "path_traversal"
	EventOther         EventType = "other"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Severities lists every severity from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// ParseEventType maps free-form input onto the closed event type set.
// Anything unrecognised becomes EventOther.
func ParseEventType(s string) EventType {
	switch t := EventType(strings.ToLower(strings.TrimSpace(s))); t {
	case EventXSS, EventSQLi, EventCSRF, EventBot, EventBruteForce, EventPathTraversal, EventOther:
		return t
	}
	return EventOther
}

// ParseSeverity maps free-form input onto the closed severity set.
// Missing or unrecognised values become SeverityMedium.
func ParseSeverity(s string) Severity {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return sev
	}
	return SeverityMedium
}

// ThreatEvent is a single piece of telemetry reported by the browser snippet.
// Rows are append-only.
type ThreatEvent struct {
	ID             string         `gorm:"primaryKey;size:36" json:"id"`
	ProjectID      string         `gorm:"size:36;not null;index:idx_threat_events_project_created,priority:1" json:"project_id"`
	EventType      EventType      `gorm:"size:32;not null" json:"event_type"`
	Severity       Severity       `gorm:"size:16;not null" json:"severity"`
	SourceIP       string         `gorm:"size:64" json:"source_ip"`
	UserAgent      string         `gorm:"size:512" json:"user_agent"`
	RequestPath    string         `gorm:"size:2048" json:"request_path"`
	PayloadSnippet string         `gorm:"size:500" json:"payload_snippet"`
	Metadata       map[string]any `gorm:"serializer:json" json:"metadata"`
	ClientBrowser  string         `gorm:"size:64" json:"client_browser"`
	ClientOS       string         `gorm:"size:64" json:"client_os"`
	ClientDevice   string         `gorm:"size:32" json:"client_device"`
	IsBot          bool           `json:"is_bot"`
	CreatedAt      time.Time      `gorm:"index:idx_threat_events_project_created,priority:2" json:"created_at"`
}

func (e *ThreatEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	return nil
}
