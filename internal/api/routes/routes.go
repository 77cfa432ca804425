package routes

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/checkvibe/threatwatch/internal/api/handlers"
	"github.com/checkvibe/threatwatch/internal/api/middleware"
	"github.com/checkvibe/threatwatch/internal/config"
	"github.com/checkvibe/threatwatch/internal/netguard"
	"github.com/checkvibe/threatwatch/internal/ratelimit"
	"github.com/checkvibe/threatwatch/internal/services"
)

// Services holds the long-lived services shared by the HTTP routes, the
// scheduler and the Kafka consumer.
type Services struct {
	Settings       *services.ThreatSettingsService
	Stats          *services.ThreatStatsService
	Ingest         *services.IngestService
	Notifications  *services.NotificationService
	Rules          *services.AlertRuleService
	Webhooks       *services.WebhookService
	ScanCompletion *services.ScanCompletionService
	ThreatAlerts   *services.ThreatAlertService
	Mailer         services.Mailer

	// InternalGuard limits internal callers by client IP.
	InternalGuard ratelimit.Guard
}

// NewServices builds every service from configuration. The ingestion limiter
// fails closed; the internal limiter fails open.
func NewServices(db *gorm.DB, cfg config.Config, mailer services.Mailer, limiter ratelimit.Limiter) *Services {
	guard := netguard.New(cfg.Webhook.Timeout, cfg.Webhook.AllowLoopback)

	ingestGuard := ratelimit.Guard{
		Limiter: limiter,
		Site:    "threat-ingest",
		Limit:   int64(cfg.RateLimit.IngestMax),
		Window:  cfg.RateLimit.IngestWindow,
	}
	internalGuard := ratelimit.Guard{
		Limiter:  limiter,
		Site:     "internal",
		Limit:    int64(cfg.RateLimit.InternalMax),
		Window:   cfg.RateLimit.InternalWindow,
		FailOpen: true,
	}

	settings := services.NewThreatSettingsService(db)
	stats := services.NewThreatStatsService(db)
	notifications := services.NewNotificationService(db, guard)
	rules := services.NewAlertRuleService(db, mailer, notifications, cfg.AppURL, cfg.Mail.Unsubscribe)
	webhooks := services.NewWebhookService(db, guard)
	alerts := services.NewThreatAlertService(db, mailer, stats, notifications, cfg.AppURL, cfg.Mail.Unsubscribe)
	if cfg.Scheduler.Concurrency > 0 {
		alerts.Concurrency = cfg.Scheduler.Concurrency
	}

	return &Services{
		Settings:       settings,
		Stats:          stats,
		Ingest:         services.NewIngestService(db, settings, ingestGuard),
		Notifications:  notifications,
		Rules:          rules,
		Webhooks:       webhooks,
		ScanCompletion: services.NewScanCompletionService(rules, webhooks),
		ThreatAlerts:   alerts,
		Mailer:         mailer,
		InternalGuard:  internalGuard,
	}
}

// Register wires up API routes.
func Register(router *gin.Engine, db *gorm.DB, cfg config.Config, svc *Services) error {
	if svc == nil {
		return fmt.Errorf("services are required")
	}

	mailState, _ := svc.Mailer.(handlers.StateReporter)
	router.GET("/api/v1/health", handlers.HealthHandler(db, mailState))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ingestHandler := handlers.NewIngestHandler(svc.Ingest)
	router.Any("/threat-ingest", middleware.IngestCORS(), ingestHandler.Ingest)

	internal := router.Group("/api/v1/internal")
	internal.Use(middleware.SecurityHeaders(cfg.Environment == "development"))
	internal.Use(middleware.InternalAuth(cfg.Internal.Secret))
	internal.Use(middleware.RateLimit(svc.InternalGuard, "internal:"))

	scanHandler := handlers.NewScanHandler(svc.ScanCompletion)
	internal.POST("/scans/completed", scanHandler.Completed)

	cronHandler := handlers.NewCronHandler(svc.ThreatAlerts)
	internal.POST("/cron/threat-alerts", cronHandler.ThreatAlerts)

	projects := internal.Group("/projects/:id")

	threatHandler := handlers.NewThreatHandler(svc.Settings, svc.Stats)
	projects.GET("/threat-settings", threatHandler.GetSettings)
	projects.PUT("/threat-settings", threatHandler.UpdateSettings)
	projects.POST("/threat-settings/rotate-token", threatHandler.RotateToken)
	projects.GET("/threats/stats", threatHandler.Stats)

	webhookHandler := handlers.NewWebhookHandler(svc.Webhooks)
	projects.GET("/webhooks", webhookHandler.List)
	projects.POST("/webhooks", webhookHandler.Create)

	providerHandler := handlers.NewNotificationProviderHandler(svc.Notifications)
	projects.GET("/notification-providers", providerHandler.List)
	projects.POST("/notification-providers", providerHandler.Create)
	projects.DELETE("/notification-providers/:providerId", providerHandler.Delete)

	return nil
}
