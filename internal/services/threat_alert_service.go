package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/checkvibe/threatwatch/internal/logger"
	"github.com/checkvibe/threatwatch/internal/metrics"
	"github.com/checkvibe/threatwatch/internal/models"
)

// DefaultDispatchConcurrency bounds how many projects one run handles at once.
const DefaultDispatchConcurrency = 10

// Skip reasons reported on DispatchResult.
const (
	SkipDisabled = "disabled"
	SkipNoEmail  = "no_email"
	SkipCooldown = "cooldown"
	SkipNoEvents = "no_events"
)

type DispatchResult struct {
	ProjectID  string `json:"project_id"`
	Sent       bool   `json:"sent"`
	Skipped    string `json:"skipped,omitempty"`
	EventCount int64  `json:"event_count"`
	Error      string `json:"error,omitempty"`
	Err        error  `json:"-"`
}

// RunSummary aggregates one DispatchAll pass.
type RunSummary struct {
	Processed int              `json:"processed"`
	Sent      int              `json:"sent"`
	Skipped   int              `json:"skipped"`
	Failed    int              `json:"failed"`
	Results   []DispatchResult `json:"results"`
}

// ThreatAlertService emails periodic threat summaries. Idempotency rests on
// the threat_alert_log table: a tier that sent within its cooldown is skipped.
type ThreatAlertService struct {
	DB          *gorm.DB
	Mailer      Mailer
	Stats       *ThreatStatsService
	Notifier    *NotificationService
	AppURL      string
	Unsubscribe string
	Concurrency int
	now         func() time.Time
}

func NewThreatAlertService(db *gorm.DB, mailer Mailer, stats *ThreatStatsService, notifier *NotificationService, appURL, unsubscribe string) *ThreatAlertService {
	return &ThreatAlertService{
		DB:          db,
		Mailer:      mailer,
		Stats:       stats,
		Notifier:    notifier,
		AppURL:      strings.TrimRight(appURL, "/"),
		Unsubscribe: unsubscribe,
		Concurrency: DefaultDispatchConcurrency,
		now:         time.Now,
	}
}

func (s *ThreatAlertService) projectName(ctx context.Context, projectID string) string {
	var p models.Project
	if err := s.DB.WithContext(ctx).Select("name").Where("id = ?", projectID).First(&p).Error; err != nil || p.Name == "" {
		return "Your project"
	}
	return p.Name
}

func (r *DispatchResult) fail(err error) {
	r.Err = err
	r.Error = err.Error()
}

// DispatchProject sends one threat summary for projectID if its tier is out
// of cooldown and events arrived since the last summary.
func (s *ThreatAlertService) DispatchProject(ctx context.Context, projectID string) (DispatchResult, error) {
	res := DispatchResult{ProjectID: projectID}
	log := logger.ForProject("threat-alerts", projectID)

	var settings models.ThreatSettings
	err := s.DB.WithContext(ctx).Where("project_id = ?", projectID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		res.Skipped = SkipDisabled
		return res, nil
	}
	if err != nil {
		res.fail(fmt.Errorf("load threat settings: %w", err))
		return res, res.Err
	}
	if !settings.Enabled {
		res.Skipped = SkipDisabled
		return res, nil
	}
	if settings.AlertEmail == "" {
		res.Skipped = SkipNoEmail
		return res, nil
	}

	tier := settings.AlertFrequency.Tier()
	now := s.now().UTC()
	cutoff := now.Add(-tier.Cooldown())

	var recent int64
	if err := s.DB.WithContext(ctx).Model(&models.AlertLog{}).
		Where("project_id = ? AND alert_type = ? AND sent_at > ?", projectID, tier, cutoff).
		Count(&recent).Error; err != nil {
		res.fail(fmt.Errorf("check alert log: %w", err))
		return res, res.Err
	}
	if recent > 0 {
		res.Skipped = SkipCooldown
		return res, nil
	}

	since := cutoff
	var last models.AlertLog
	err = s.DB.WithContext(ctx).Where("project_id = ?", projectID).Order("sent_at DESC").First(&last).Error
	switch {
	case err == nil:
		since = last.SentAt
	case !errors.Is(err, gorm.ErrRecordNotFound):
		res.fail(fmt.Errorf("load last alert: %w", err))
		return res, res.Err
	}

	count, err := s.Stats.CountSince(ctx, projectID, since)
	if err != nil {
		res.fail(err)
		return res, res.Err
	}
	res.EventCount = count
	if count == 0 {
		res.Skipped = SkipNoEvents
		return res, nil
	}

	stats, err := s.Stats.Stats(ctx, projectID, since)
	if err != nil {
		res.fail(err)
		return res, res.Err
	}

	name := s.projectName(ctx, projectID)
	url := fmt.Sprintf("%s/dashboard/projects/%s/threats", s.AppURL, projectID)
	email, err := threatAlertEmail(name, stats, url)
	if err != nil {
		res.fail(err)
		return res, res.Err
	}

	if err := s.Mailer.Send(ctx, Message{
		To:      settings.AlertEmail,
		Subject: email.Subject,
		HTML:    email.HTML,
		Text:    email.Text,
		Headers: unsubscribeHeaders(s.Unsubscribe),
	}); err != nil {
		metrics.IncAlertEmail("threat_"+string(tier), "error")
		res.fail(fmt.Errorf("send threat alert: %w", err))
		log.WithError(err).Warn("failed to send threat alert")
		return res, res.Err
	}
	metrics.IncAlertEmail("threat_"+string(tier), "sent")

	persistCtx, cancel := Detach(ctx, PersistTimeout)
	defer cancel()
	if err := s.DB.WithContext(persistCtx).Create(&models.AlertLog{
		ProjectID:  projectID,
		AlertType:  tier,
		SentAt:     now,
		EventCount: count,
	}).Error; err != nil {
		// The email went out; a missing log row means the next run may repeat it.
		res.Sent = true
		res.fail(fmt.Errorf("record alert log: %w", err))
		log.WithError(err).Error("threat alert sent but not logged")
		return res, res.Err
	}

	res.Sent = true
	log.WithField("event_count", count).WithField("tier", tier).Info("threat alert sent")
	if s.Notifier != nil {
		s.Notifier.Notify(persistCtx, projectID, NotifyThreats, email.Subject, email.Text)
	}
	return res, nil
}

// DispatchAll runs DispatchProject for every enabled project with bounded
// concurrency. A failing project never stops the others.
func (s *ThreatAlertService) DispatchAll(ctx context.Context) (RunSummary, error) {
	metrics.IncDispatcherRun()
	var ids []string
	if err := s.DB.WithContext(ctx).Model(&models.ThreatSettings{}).
		Where("enabled = ? AND alert_email <> ''", true).
		Order("project_id").
		Pluck("project_id", &ids).Error; err != nil {
		return RunSummary{Results: []DispatchResult{}}, fmt.Errorf("list enabled projects: %w", err)
	}

	results := make([]DispatchResult, len(ids))
	limit := s.Concurrency
	if limit <= 0 {
		limit = DefaultDispatchConcurrency
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, id := range ids {
		g.Go(func() error {
			results[i], _ = s.DispatchProject(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	summary := RunSummary{Processed: len(results), Results: results}
	for _, r := range results {
		switch {
		case r.Err != nil:
			summary.Failed++
		case r.Sent:
			summary.Sent++
		default:
			summary.Skipped++
		}
	}
	logger.WithFields(map[string]any{
		"processed": summary.Processed,
		"sent":      summary.Sent,
		"failed":    summary.Failed,
	}).Info("threat alert run finished")
	return summary, nil
}
