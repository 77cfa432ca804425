package services

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/checkvibe/threatwatch/internal/models"
)

// TopIPLimit caps the source IP leaderboard.
const TopIPLimit = 10

type IPCount struct {
	IP    string `json:"ip"`
	Count int64  `json:"count"`
}

type HourlyBucket struct {
	Hour  time.Time `json:"hour"`
	Count int64     `json:"count"`
}

// ThreatStats aggregates events of one project since a point in time.
type ThreatStats struct {
	Since         time.Time      `json:"since"`
	TotalEvents   int64          `json:"total_events"`
	CriticalCount int64          `json:"critical_count"`
	HighCount     int64          `json:"high_count"`
	MediumCount   int64          `json:"medium_count"`
	LowCount      int64          `json:"low_count"`
	InfoCount     int64          `json:"info_count"`
	UniqueIPs     int64          `json:"unique_ips"`
	TopAttackType string         `json:"top_attack_type"`
	TopIPs        []IPCount      `json:"top_ips"`
	Hourly        []HourlyBucket `json:"hourly,omitempty"`
}

type ThreatStatsService struct {
	DB *gorm.DB
}

func NewThreatStatsService(db *gorm.DB) *ThreatStatsService {
	return &ThreatStatsService{DB: db}
}

func (s *ThreatStatsService) scope(ctx context.Context, projectID string, since time.Time) *gorm.DB {
	return s.DB.WithContext(ctx).Model(&models.ThreatEvent{}).
		Where("project_id = ? AND created_at >= ?", projectID, since.UTC())
}

// CountSince counts events of projectID created at or after since.
func (s *ThreatStatsService) CountSince(ctx context.Context, projectID string, since time.Time) (int64, error) {
	var n int64
	if err := s.scope(ctx, projectID, since).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count threat events: %w", err)
	}
	return n, nil
}

// Stats aggregates severity counts, distinct IPs, the most frequent attack
// type and the busiest source IPs. Ties are broken alphabetically.
func (s *ThreatStatsService) Stats(ctx context.Context, projectID string, since time.Time) (ThreatStats, error) {
	stats := ThreatStats{Since: since.UTC(), TopIPs: []IPCount{}}

	var bySeverity []struct {
		Severity models.Severity
		Count    int64
	}
	if err := s.scope(ctx, projectID, since).
		Select("severity, COUNT(*) AS count").
		Group("severity").
		Scan(&bySeverity).Error; err != nil {
		return stats, fmt.Errorf("severity counts: %w", err)
	}
	for _, row := range bySeverity {
		stats.TotalEvents += row.Count
		switch row.Severity {
		case models.SeverityCritical:
			stats.CriticalCount = row.Count
		case models.SeverityHigh:
			stats.HighCount = row.Count
		case models.SeverityMedium:
			stats.MediumCount = row.Count
		case models.SeverityLow:
			stats.LowCount = row.Count
		case models.SeverityInfo:
			stats.InfoCount = row.Count
		}
	}
	if stats.TotalEvents == 0 {
		return stats, nil
	}

	if err := s.scope(ctx, projectID, since).
		Where("source_ip <> ''").
		Distinct("source_ip").
		Count(&stats.UniqueIPs).Error; err != nil {
		return stats, fmt.Errorf("unique ips: %w", err)
	}

	var top []struct {
		EventType string
		Count     int64
	}
	if err := s.scope(ctx, projectID, since).
		Select("event_type, COUNT(*) AS count").
		Group("event_type").
		Order("count DESC, event_type ASC").
		Limit(1).
		Scan(&top).Error; err != nil {
		return stats, fmt.Errorf("top attack type: %w", err)
	}
	if len(top) > 0 {
		stats.TopAttackType = top[0].EventType
	}

	if err := s.scope(ctx, projectID, since).
		Select("source_ip AS ip, COUNT(*) AS count").
		Where("source_ip <> ''").
		Group("source_ip").
		Order("count DESC, source_ip ASC").
		Limit(TopIPLimit).
		Scan(&stats.TopIPs).Error; err != nil {
		return stats, fmt.Errorf("top ips: %w", err)
	}

	return stats, nil
}

// Hourly buckets events per clock hour (UTC) between since and until. Empty
// hours are included so the series is contiguous.
func (s *ThreatStatsService) Hourly(ctx context.Context, projectID string, since, until time.Time) ([]HourlyBucket, error) {
	var stamps []time.Time
	if err := s.scope(ctx, projectID, since).
		Where("created_at <= ?", until.UTC()).
		Pluck("created_at", &stamps).Error; err != nil {
		return nil, fmt.Errorf("hourly series: %w", err)
	}

	start := since.UTC().Truncate(time.Hour)
	end := until.UTC().Truncate(time.Hour)
	counts := make(map[time.Time]int64, len(stamps))
	for _, ts := range stamps {
		counts[ts.UTC().Truncate(time.Hour)]++
	}

	buckets := make([]HourlyBucket, 0, int(end.Sub(start)/time.Hour)+1)
	for h := start; !h.After(end); h = h.Add(time.Hour) {
		buckets = append(buckets, HourlyBucket{Hour: h, Count: counts[h]})
	}
	return buckets, nil
}
