package models

import "time"

type AlertFrequency string

const (
	FrequencyImmediate AlertFrequency = "immediate"
	FrequencyHourly    AlertFrequency = "hourly"
	FrequencyDaily     AlertFrequency = "daily"
)

// Valid reports whether f is one of the known frequencies.
func (f AlertFrequency) Valid() bool {
	switch f {
	case FrequencyImmediate, FrequencyHourly, FrequencyDaily:
		return true
	}
	return false
}

// Tier is the frequency the cooldown is tracked under. Unknown values are
// treated as daily.
func (f AlertFrequency) Tier() AlertFrequency {
	if f.Valid() {
		return f
	}
	return FrequencyDaily
}

// Cooldown is the minimum gap between two threat summaries of this tier.
func (f AlertFrequency) Cooldown() time.Duration {
	switch f.Tier() {
	case FrequencyImmediate:
		return 5 * time.Minute
	case FrequencyHourly:
		return 60 * time.Minute
	default:
		return 1440 * time.Minute
	}
}

// SnippetTokenPrefix marks every ingestion token.
const SnippetTokenPrefix = "cvt_"

// ThreatSettings is the per-project threat detection configuration.
type ThreatSettings struct {
	ProjectID      string         `gorm:"primaryKey;size:36" json:"project_id"`
	Enabled        bool           `json:"enabled"`
	AlertFrequency AlertFrequency `gorm:"size:16;default:daily" json:"alert_frequency"`
	AlertEmail     string         `json:"alert_email"`
	SnippetToken   string         `gorm:"uniqueIndex;size:64;not null" json:"snippet_token"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (ThreatSettings) TableName() string { return "threat_settings" }
