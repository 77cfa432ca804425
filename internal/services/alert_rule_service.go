package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/checkvibe/threatwatch/internal/logger"
	"github.com/checkvibe/threatwatch/internal/metrics"
	"github.com/checkvibe/threatwatch/internal/models"
)

const (
	DefaultScoreDropThreshold  = 10
	DefaultScoreBelowThreshold = 50
)

// Skip reasons reported on RuleOutcome.
const (
	SkipThrottled   = "throttled"
	SkipNotBreached = "not_breached"
	SkipNoRecipient = "no_recipient"
	SkipClaimed     = "claimed"
)

// RuleOutcome is the result of evaluating one rule against one scan.
type RuleOutcome struct {
	RuleID  string               `json:"rule_id"`
	Type    models.AlertRuleType `json:"type"`
	Fired   bool                 `json:"fired"`
	Sent    bool                 `json:"sent"`
	Skipped string               `json:"skipped,omitempty"`
	Error   string               `json:"error,omitempty"`
	Err     error                `json:"-"`
}

// AlertRuleService evaluates per-project alert rules when a scan completes.
type AlertRuleService struct {
	DB          *gorm.DB
	Mailer      Mailer
	Notifier    *NotificationService
	AppURL      string
	Unsubscribe string
	now         func() time.Time
}

func NewAlertRuleService(db *gorm.DB, mailer Mailer, notifier *NotificationService, appURL, unsubscribe string) *AlertRuleService {
	return &AlertRuleService{
		DB:          db,
		Mailer:      mailer,
		Notifier:    notifier,
		AppURL:      strings.TrimRight(appURL, "/"),
		Unsubscribe: unsubscribe,
		now:         time.Now,
	}
}

// breached reports whether rule fires for evt.
func breached(rule models.AlertRule, evt ScanCompleted) bool {
	switch rule.Type {
	case models.RuleScoreDrop:
		if evt.PreviousScore == nil {
			return false
		}
		drop := *evt.PreviousScore - evt.CurrentScore
		return float64(drop) >= rule.ThresholdOr(DefaultScoreDropThreshold)
	case models.RuleNewCritical:
		return evt.Issues.Critical > evt.PreviousCriticalCount
	case models.RuleScoreBelow:
		return float64(evt.CurrentScore) < rule.ThresholdOr(DefaultScoreBelowThreshold)
	}
	return false
}

// Evaluate checks every enabled rule of the scan's project concurrently. A
// failing rule is reported in its outcome and never stops the others.
func (s *AlertRuleService) Evaluate(ctx context.Context, evt ScanCompleted) ([]RuleOutcome, error) {
	var rules []models.AlertRule
	if err := s.DB.WithContext(ctx).
		Where("project_id = ? AND enabled = ?", evt.ProjectID, true).
		Order("created_at").
		Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("load alert rules: %w", err)
	}

	outcomes := make([]RuleOutcome, len(rules))
	var g errgroup.Group
	for i, rule := range rules {
		g.Go(func() error {
			outcomes[i] = s.evaluateRule(ctx, rule, evt)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, nil
}

func (s *AlertRuleService) evaluateRule(ctx context.Context, rule models.AlertRule, evt ScanCompleted) RuleOutcome {
	out := RuleOutcome{RuleID: rule.ID, Type: rule.Type}
	now := s.now().UTC()
	cutoff := now.Add(-models.RuleThrottle)

	if rule.LastTriggeredAt != nil && rule.LastTriggeredAt.After(cutoff) {
		out.Skipped = SkipThrottled
		return out
	}
	if !breached(rule, evt) {
		out.Skipped = SkipNotBreached
		return out
	}
	out.Fired = true
	if rule.NotifyEmail == "" {
		out.Skipped = SkipNoRecipient
		return out
	}

	log := logger.ForProject("alert-rules", evt.ProjectID).WithField("rule_id", rule.ID).WithField("rule_type", rule.Type)

	// Claim the rule before sending so concurrent evaluations send once.
	res := s.DB.WithContext(ctx).Model(&models.AlertRule{}).
		Where("id = ? AND (last_triggered_at IS NULL OR last_triggered_at <= ?)", rule.ID, cutoff).
		Update("last_triggered_at", now)
	if res.Error != nil {
		out.Err = fmt.Errorf("claim rule: %w", res.Error)
		out.Error = out.Err.Error()
		log.WithError(res.Error).Error("failed to claim alert rule")
		return out
	}
	if res.RowsAffected == 0 {
		out.Skipped = SkipClaimed
		return out
	}

	email, err := s.render(rule, evt)
	if err != nil {
		out.Err = err
		out.Error = err.Error()
		return out
	}

	err = s.Mailer.Send(ctx, Message{
		To:      rule.NotifyEmail,
		Subject: email.Subject,
		HTML:    email.HTML,
		Text:    email.Text,
		Headers: unsubscribeHeaders(s.Unsubscribe),
	})
	if err != nil {
		metrics.IncAlertEmail(string(rule.Type), "error")
		out.Err = fmt.Errorf("send alert email: %w", err)
		out.Error = out.Err.Error()
		log.WithError(err).Warn("failed to send alert email")
		return out
	}
	metrics.IncAlertEmail(string(rule.Type), "sent")
	out.Sent = true
	log.Info("alert email sent")

	if s.Notifier != nil {
		s.Notifier.Notify(ctx, evt.ProjectID, NotifyAlerts, email.Subject, email.Text)
	}
	return out
}

func (s *AlertRuleService) render(rule models.AlertRule, evt ScanCompleted) (RenderedEmail, error) {
	name := evt.ProjectName
	if name == "" {
		name = "Your project"
	}
	url := fmt.Sprintf("%s/dashboard/projects/%s/report", s.AppURL, evt.ProjectID)
	switch rule.Type {
	case models.RuleScoreDrop:
		return scoreDropEmail(name, *evt.PreviousScore, evt.CurrentScore, url)
	case models.RuleNewCritical:
		return newCriticalEmail(name, evt.Issues.Critical-evt.PreviousCriticalCount, evt.Issues.Critical, evt.CurrentScore, url)
	case models.RuleScoreBelow:
		return scoreBelowEmail(name, evt.CurrentScore, rule.ThresholdOr(DefaultScoreBelowThreshold), url)
	}
	return RenderedEmail{}, fmt.Errorf("unknown rule type %q", rule.Type)
}
