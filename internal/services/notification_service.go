package services

import (
	"context"
	"errors"
	"fmt"
	neturl "net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/containrrr/shoutrrr"
	"gorm.io/gorm"

	"github.com/checkvibe/threatwatch/internal/logger"
	"github.com/checkvibe/threatwatch/internal/models"
	"github.com/checkvibe/threatwatch/internal/netguard"
)

// NotifyKind selects which provider preference gates a message.
type NotifyKind string

const (
	NotifyThreats NotifyKind = "threats"
	NotifyAlerts  NotifyKind = "alerts"
)

var (
	ErrInvalidProviderURL = errors.New("invalid notification provider url")
	ErrNotifyTimeout      = errors.New("notification send timed out")
)

// DefaultNotifyTimeout bounds one provider send. shoutrrr takes no context.
const DefaultNotifyTimeout = 10 * time.Second

// NotificationService copies threat summaries and rule alerts to per-project
// chat channels through shoutrrr. Delivery is best effort.
type NotificationService struct {
	DB      *gorm.DB
	Guard   *netguard.Guard
	Timeout time.Duration
	send    func(url, message string) error
}

func NewNotificationService(db *gorm.DB, guard *netguard.Guard) *NotificationService {
	return &NotificationService{
		DB:      db,
		Guard:   guard,
		Timeout: DefaultNotifyTimeout,
		send: func(url, message string) error {
			return shoutrrr.Send(url, message)
		},
	}
}

var discordWebhookRegex = regexp.MustCompile(`^https://discord(?:app)?\.com/api/webhooks/(\d+)/([a-zA-Z0-9_-]+)`)

func normalizeURL(serviceType, rawURL string) string {
	if serviceType == "discord" {
		matches := discordWebhookRegex.FindStringSubmatch(rawURL)
		if len(matches) == 3 {
			id := matches[1]
			token := matches[2]
			return fmt.Sprintf("discord://%s@%s", token, id)
		}
	}
	return rawURL
}

// checkDestination applies the SSRF policy to generic webhook providers, the
// only shoutrrr service that posts to an arbitrary host.
func (s *NotificationService) checkDestination(ctx context.Context, raw string) error {
	u, err := neturl.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProviderURL, err)
	}
	if u.Scheme != "generic" && !strings.HasPrefix(u.Scheme, "generic+") {
		return nil
	}
	if s.Guard == nil {
		return nil
	}
	scheme := "https"
	if strings.HasSuffix(u.Scheme, "+http") {
		scheme = "http"
	}
	_, err = s.Guard.Check(ctx, scheme+"://"+u.Host+u.Path)
	return err
}

// Notify sends title and message to every enabled provider of projectID that
// opted into kind, and returns how many deliveries succeeded.
func (s *NotificationService) Notify(ctx context.Context, projectID string, kind NotifyKind, title, message string) int {
	var providers []models.NotificationProvider
	q := s.DB.WithContext(ctx).Where("project_id = ? AND enabled = ?", projectID, true)
	switch kind {
	case NotifyThreats:
		q = q.Where("notify_threats = ?", true)
	case NotifyAlerts:
		q = q.Where("notify_alerts = ?", true)
	}
	if err := q.Find(&providers).Error; err != nil {
		logger.ForProject("notify", projectID).WithError(err).Warn("failed to fetch notification providers")
		return 0
	}

	var (
		mu   sync.Mutex
		sent int
		wg   sync.WaitGroup
	)
	// Use newline for better formatting in chat apps
	msg := fmt.Sprintf("%s\n\n%s", title, message)
	for _, provider := range providers {
		wg.Add(1)
		go func(p models.NotificationProvider) {
			defer wg.Done()
			log := logger.ForProject("notify", projectID).WithField("provider", p.Name)
			url := normalizeURL(p.Type, p.URL)
			if err := s.checkDestination(ctx, url); err != nil {
				log.WithError(err).Warn("skipping notification provider with disallowed destination")
				return
			}
			if err := s.sendWithin(ctx, url, msg); err != nil {
				log.WithError(err).Warn("failed to send notification")
				return
			}
			mu.Lock()
			sent++
			mu.Unlock()
		}(provider)
	}
	wg.Wait()
	return sent
}

// sendWithin gives up on a send after Timeout or when ctx ends. The send
// goroutine is left to finish on its own since shoutrrr cannot be cancelled.
func (s *NotificationService) sendWithin(ctx context.Context, url, msg string) error {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultNotifyTimeout
	}
	done := make(chan error, 1)
	go func() { done <- s.send(url, msg) }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return ErrNotifyTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *NotificationService) ListProviders(ctx context.Context, projectID string) ([]models.NotificationProvider, error) {
	var providers []models.NotificationProvider
	err := s.DB.WithContext(ctx).Where("project_id = ?", projectID).Order("created_at").Find(&providers).Error
	return providers, err
}

// CreateProvider validates the shoutrrr URL before storing the provider.
func (s *NotificationService) CreateProvider(ctx context.Context, provider *models.NotificationProvider) error {
	url := normalizeURL(provider.Type, provider.URL)
	if _, err := shoutrrr.CreateSender(url); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProviderURL, err)
	}
	if err := s.checkDestination(ctx, url); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProviderURL, err)
	}
	// default:true columns ignore false on insert; apply opt-outs afterwards.
	optOut := map[string]any{}
	if !provider.NotifyThreats {
		optOut["notify_threats"] = false
	}
	if !provider.NotifyAlerts {
		optOut["notify_alerts"] = false
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(provider).Error; err != nil {
			return err
		}
		if len(optOut) == 0 {
			return nil
		}
		if err := tx.Model(provider).Updates(optOut).Error; err != nil {
			return err
		}
		for col := range optOut {
			switch col {
			case "notify_threats":
				provider.NotifyThreats = false
			case "notify_alerts":
				provider.NotifyAlerts = false
			}
		}
		return nil
	})
}

func (s *NotificationService) DeleteProvider(ctx context.Context, projectID, id string) error {
	return s.DB.WithContext(ctx).Delete(&models.NotificationProvider{}, "id = ? AND project_id = ?", id, projectID).Error
}
