package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() { Register(reg) })

	IncWebhookDelivery("blocked")
	AddIngested(3)
	IncRateLimit("ingest", "denied")
	IncAlertEmail("threat_summary", "sent")
	IncIngestRejected("bad_token")
	IncDispatcherRun()
	IncHandlerPanic("/threat-ingest")

	families, err := reg.Gather()
	require.NoError(t, err)

	found := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				found[mf.GetName()] += c.GetValue()
			}
		}
	}
	assert.GreaterOrEqual(t, found["threatwatch_events_ingested_total"], 3.0)
	assert.GreaterOrEqual(t, found["threatwatch_webhook_deliveries_total"], 1.0)
	assert.GreaterOrEqual(t, found["threatwatch_dispatcher_runs_total"], 1.0)
	assert.Contains(t, found, "threatwatch_ratelimit_decisions_total")
	assert.GreaterOrEqual(t, found["threatwatch_handler_panics_total"], 1.0)
}
