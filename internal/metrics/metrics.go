package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsIngestedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "threatwatch_events_ingested_total",
		Help: "Total number of threat events stored by the ingestion endpoint",
	})
	ingestRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threatwatch_ingest_rejected_total",
		Help: "Ingestion requests rejected, by reason",
	}, []string{"reason"})
	rateLimitDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threatwatch_ratelimit_decisions_total",
		Help: "Rate limiter decisions, by call site and outcome",
	}, []string{"site", "outcome"})
	alertEmailsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threatwatch_alert_emails_total",
		Help: "Alert emails attempted, by kind and outcome",
	}, []string{"kind", "outcome"})
	webhookDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threatwatch_webhook_deliveries_total",
		Help: "Webhook delivery attempts, by outcome",
	}, []string{"outcome"})
	dispatcherRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "threatwatch_dispatcher_runs_total",
		Help: "Threat alert dispatcher runs",
	})
	handlerPanicsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threatwatch_handler_panics_total",
		Help: "Recovered handler panics, by route",
	}, []string{"route"})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry prometheus.Registerer) {
	registry.MustRegister(
		eventsIngestedTotal,
		ingestRejectedTotal,
		rateLimitDecisionsTotal,
		alertEmailsTotal,
		webhookDeliveriesTotal,
		dispatcherRunsTotal,
		handlerPanicsTotal,
	)
}

// AddIngested adds n stored events.
func AddIngested(n int) { eventsIngestedTotal.Add(float64(n)) }

// IncIngestRejected counts a rejected ingestion request.
func IncIngestRejected(reason string) { ingestRejectedTotal.WithLabelValues(reason).Inc() }

// IncRateLimit counts a rate limiter decision.
func IncRateLimit(site, outcome string) { rateLimitDecisionsTotal.WithLabelValues(site, outcome).Inc() }

// IncAlertEmail counts an alert email attempt.
func IncAlertEmail(kind, outcome string) { alertEmailsTotal.WithLabelValues(kind, outcome).Inc() }

// IncWebhookDelivery counts a webhook delivery attempt.
func IncWebhookDelivery(outcome string) { webhookDeliveriesTotal.WithLabelValues(outcome).Inc() }

// IncDispatcherRun counts a threat alert dispatcher run.
func IncDispatcherRun() { dispatcherRunsTotal.Inc() }

// IncHandlerPanic counts a recovered panic on route.
func IncHandlerPanic(route string) { handlerPanicsTotal.WithLabelValues(route).Inc() }
