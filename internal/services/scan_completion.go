package services

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm/clause"

	"github.com/checkvibe/threatwatch/internal/logger"
	"github.com/checkvibe/threatwatch/internal/models"
)

var ErrInvalidScanEvent = errors.New("projectId and scanId are required")

type IssueCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// ScanCompleted is published once a scan finishes. PreviousScore is nil for a
// project's first scan.
type ScanCompleted struct {
	ProjectID             string      `json:"projectId"`
	ProjectName           string      `json:"projectName"`
	ProjectURL            string      `json:"projectUrl"`
	ScanID                string      `json:"scanId"`
	CurrentScore          int         `json:"currentScore"`
	PreviousScore         *int        `json:"previousScore"`
	Issues                IssueCounts `json:"issues"`
	PreviousCriticalCount int         `json:"previousCriticalCount"`
}

func (e ScanCompleted) Validate() error {
	if e.ProjectID == "" || e.ScanID == "" {
		return ErrInvalidScanEvent
	}
	return nil
}

type ScanCompletionResult struct {
	Rules    []RuleOutcome     `json:"rules"`
	Webhooks []DeliveryOutcome `json:"webhooks"`
	Errors   []string          `json:"errors,omitempty"`
}

// ScanCompletionService runs the alert rules and the webhook deliveries for a
// finished scan side by side. Neither path can abort the other.
type ScanCompletionService struct {
	Rules    *AlertRuleService
	Webhooks *WebhookService
}

func NewScanCompletionService(rules *AlertRuleService, webhooks *WebhookService) *ScanCompletionService {
	return &ScanCompletionService{Rules: rules, Webhooks: webhooks}
}

func (s *ScanCompletionService) Handle(ctx context.Context, evt ScanCompleted) (ScanCompletionResult, error) {
	result := ScanCompletionResult{Rules: []RuleOutcome{}, Webhooks: []DeliveryOutcome{}}
	if err := evt.Validate(); err != nil {
		return result, err
	}

	log := logger.ForProject("scan-completion", evt.ProjectID).WithField("scan_id", evt.ScanID)
	if err := s.recordProject(ctx, evt); err != nil {
		log.WithError(err).Warn("failed to record project details")
	}

	var ruleErr, hookErr error
	var g errgroup.Group
	g.Go(func() error {
		out, err := s.Rules.Evaluate(ctx, evt)
		result.Rules, ruleErr = out, err
		return nil
	})
	g.Go(func() error {
		out, err := s.Webhooks.Dispatch(ctx, evt)
		result.Webhooks, hookErr = out, err
		return nil
	})
	_ = g.Wait()

	for _, err := range []error{ruleErr, hookErr} {
		if err != nil {
			log.WithError(err).Error("scan completion step failed")
			result.Errors = append(result.Errors, err.Error())
		}
	}
	if result.Rules == nil {
		result.Rules = []RuleOutcome{}
	}
	if result.Webhooks == nil {
		result.Webhooks = []DeliveryOutcome{}
	}
	return result, nil
}

// recordProject keeps the project's display name and URL current so threat
// summaries can name it.
func (s *ScanCompletionService) recordProject(ctx context.Context, evt ScanCompleted) error {
	if evt.ProjectName == "" {
		return nil
	}
	p := models.Project{ID: evt.ProjectID, Name: evt.ProjectName, URL: evt.ProjectURL}
	return s.Rules.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "url", "updated_at"}),
	}).Create(&p).Error
}
