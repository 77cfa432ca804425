package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/checkvibe/threatwatch/internal/logger"
	"github.com/checkvibe/threatwatch/internal/metrics"
	"github.com/checkvibe/threatwatch/internal/models"
	"github.com/checkvibe/threatwatch/internal/netguard"
	"github.com/checkvibe/threatwatch/internal/util"
	"github.com/checkvibe/threatwatch/internal/version"
)

var ErrNoValidEvents = errors.New("at least one supported event is required")

// DeliveryOutcome records one webhook delivery attempt.
type DeliveryOutcome struct {
	WebhookID string `json:"webhook_id"`
	Status    int    `json:"status"`
	Outcome   string `json:"outcome"`
	Error     string `json:"error,omitempty"`
	Err       error  `json:"-"`
}

// ScanCompletedPayload is the body POSTed for scan.completed. Field order is
// the serialized order.
type ScanCompletedPayload struct {
	Event        string      `json:"event"`
	ProjectID    string      `json:"project_id"`
	ScanID       string      `json:"scan_id"`
	URL          string      `json:"url"`
	OverallScore int         `json:"overall_score"`
	Issues       IssueCounts `json:"issues"`
	Timestamp    string      `json:"timestamp"`
}

type RegisterWebhookInput struct {
	URL     string   `json:"url"`
	Events  []string `json:"events"`
	Enabled *bool    `json:"enabled"`
}

// WebhookService registers tenant webhooks and delivers signed scan events.
type WebhookService struct {
	DB    *gorm.DB
	Guard *netguard.Guard
	now   func() time.Time
}

func NewWebhookService(db *gorm.DB, guard *netguard.Guard) *WebhookService {
	return &WebhookService{DB: db, Guard: guard, now: time.Now}
}

// Sign returns the hex HMAC-SHA256 of body keyed by secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func generateWebhookSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate webhook secret: %w", err)
	}
	return models.WebhookSecretPrefix + hex.EncodeToString(buf), nil
}

func filterEvents(events []string) []string {
	if events == nil {
		return []string{models.EventScanCompleted}
	}
	var out []string
	for _, e := range events {
		for _, known := range models.WebhookEvents {
			if e == known && !slices.Contains(out, e) {
				out = append(out, e)
			}
		}
	}
	return out
}

// Register validates the destination and stores a new webhook. The returned
// secret is only ever shown here.
func (s *WebhookService) Register(ctx context.Context, projectID string, in RegisterWebhookInput) (*models.Webhook, string, error) {
	if _, err := s.Guard.Check(ctx, in.URL); err != nil {
		return nil, "", err
	}
	events := filterEvents(in.Events)
	if len(events) == 0 {
		return nil, "", ErrNoValidEvents
	}
	secret, err := generateWebhookSecret()
	if err != nil {
		return nil, "", err
	}
	hook := &models.Webhook{
		ProjectID: projectID,
		URL:       in.URL,
		Events:    events,
		Secret:    secret,
		Enabled:   in.Enabled == nil || *in.Enabled,
	}
	if err := s.DB.WithContext(ctx).Create(hook).Error; err != nil {
		return nil, "", fmt.Errorf("create webhook: %w", err)
	}
	return hook, secret, nil
}

func (s *WebhookService) List(ctx context.Context, projectID string) ([]models.Webhook, error) {
	var hooks []models.Webhook
	err := s.DB.WithContext(ctx).Where("project_id = ?", projectID).Order("created_at").Find(&hooks).Error
	return hooks, err
}

// Dispatch delivers scan.completed to every enabled subscribed webhook of the
// project. Deliveries run concurrently; each result is persisted on its row.
func (s *WebhookService) Dispatch(ctx context.Context, evt ScanCompleted) ([]DeliveryOutcome, error) {
	var hooks []models.Webhook
	if err := s.DB.WithContext(ctx).
		Where("project_id = ? AND enabled = ?", evt.ProjectID, true).
		Order("created_at").
		Find(&hooks).Error; err != nil {
		return nil, fmt.Errorf("load webhooks: %w", err)
	}

	var subscribed []models.Webhook
	for _, h := range hooks {
		if h.Subscribed(models.EventScanCompleted) {
			subscribed = append(subscribed, h)
		}
	}
	if len(subscribed) == 0 {
		return []DeliveryOutcome{}, nil
	}

	body, err := json.Marshal(ScanCompletedPayload{
		Event:        models.EventScanCompleted,
		ProjectID:    evt.ProjectID,
		ScanID:       evt.ScanID,
		URL:          evt.ProjectURL,
		OverallScore: evt.CurrentScore,
		Issues:       evt.Issues,
		Timestamp:    s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("encode webhook payload: %w", err)
	}

	outcomes := make([]DeliveryOutcome, len(subscribed))
	var g errgroup.Group
	for i, hook := range subscribed {
		g.Go(func() error {
			outcomes[i] = s.deliver(ctx, hook, body)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, nil
}

func (s *WebhookService) deliver(ctx context.Context, hook models.Webhook, body []byte) DeliveryOutcome {
	out := DeliveryOutcome{WebhookID: hook.ID}
	log := logger.ForProject("webhooks", hook.ProjectID).WithField("webhook_id", hook.ID)

	target, err := s.Guard.Check(ctx, hook.URL)
	if err != nil {
		out.Outcome = models.OutcomeBlocked
		out.Err = err
		out.Error = err.Error()
		log.WithField("url", util.SanitizeForLog(hook.URL)).WithError(err).Warn("webhook destination blocked")
	} else {
		header := http.Header{}
		header.Set("Content-Type", "application/json")
		header.Set("User-Agent", version.UserAgent())
		header.Set("X-Event", models.EventScanCompleted)
		header.Set("X-Signature", Sign(hook.Secret, body))

		resp, err := s.Guard.Post(ctx, target, bytes.NewReader(body), header)
		switch {
		case err != nil:
			out.Outcome = models.OutcomeNetworkError
			out.Err = err
			out.Error = err.Error()
			log.WithError(err).Warn("webhook delivery failed")
		default:
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			_ = resp.Body.Close()
			out.Status = resp.StatusCode
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				out.Outcome = models.OutcomeDelivered
			} else {
				out.Outcome = models.OutcomeHTTPError
				out.Error = fmt.Sprintf("receiver returned %d", resp.StatusCode)
				log.WithField("status", resp.StatusCode).Warn("webhook receiver returned non-2xx")
			}
		}
	}
	metrics.IncWebhookDelivery(out.Outcome)

	now := s.now().UTC()
	persistCtx, cancel := Detach(ctx, PersistTimeout)
	defer cancel()
	if err := s.DB.WithContext(persistCtx).Model(&models.Webhook{}).Where("id = ?", hook.ID).Updates(map[string]any{
		"last_triggered_at": now,
		"last_status":       out.Status,
		"last_outcome":      out.Outcome,
	}).Error; err != nil {
		log.WithError(err).Error("failed to record webhook delivery")
		if out.Err == nil {
			out.Err = fmt.Errorf("record delivery: %w", err)
			out.Error = out.Err.Error()
		}
	}
	return out
}
