package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/checkvibe/threatwatch/internal/models"
	"github.com/checkvibe/threatwatch/internal/services"
)

func setupThreatRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	h := NewThreatHandler(services.NewThreatSettingsService(db), services.NewThreatStatsService(db))
	r := gin.New()
	r.GET("/projects/:id/threat-settings", h.GetSettings)
	r.PUT("/projects/:id/threat-settings", h.UpdateSettings)
	r.POST("/projects/:id/threat-settings/rotate-token", h.RotateToken)
	r.GET("/projects/:id/threats/stats", h.Stats)
	return r, db
}

func TestThreatHandler_SettingsLifecycle(t *testing.T) {
	r, _ := setupThreatRouter(t)

	w := doRequest(r, http.MethodGet, "/projects/p1/threat-settings", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(r, http.MethodPost, "/projects/p1/threat-settings/rotate-token", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(r, http.MethodPut, "/projects/p1/threat-settings",
		`{"enabled":true,"alert_frequency":"hourly","alert_email":"ops@example.com"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var created models.ThreatSettings
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.True(t, created.Enabled)
	assert.Equal(t, models.FrequencyHourly, created.AlertFrequency)
	assert.True(t, strings.HasPrefix(created.SnippetToken, models.SnippetTokenPrefix))

	w = doRequest(r, http.MethodGet, "/projects/p1/threat-settings", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var fetched models.ThreatSettings
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetched))
	assert.Equal(t, created.SnippetToken, fetched.SnippetToken)

	w = doRequest(r, http.MethodPost, "/projects/p1/threat-settings/rotate-token", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rotated models.ThreatSettings
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rotated))
	assert.NotEqual(t, created.SnippetToken, rotated.SnippetToken)
}

func TestThreatHandler_UpdateSettingsValidation(t *testing.T) {
	r, _ := setupThreatRouter(t)

	w := doRequest(r, http.MethodPut, "/projects/p1/threat-settings", `{"alert_frequency":"weekly"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodPut, "/projects/p1/threat-settings", `{"alert_email":"not an email"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodPut, "/projects/p1/threat-settings", `{`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid JSON")
}

func TestThreatHandler_Stats(t *testing.T) {
	r, db := setupThreatRouter(t)
	now := time.Now().UTC()
	events := []models.ThreatEvent{
		{ProjectID: "p1", EventType: models.EventXSS, Severity: models.SeverityHigh, SourceIP: "8.8.8.8", CreatedAt: now.Add(-time.Hour)},
		{ProjectID: "p1", EventType: models.EventXSS, Severity: models.SeverityCritical, SourceIP: "8.8.8.8", CreatedAt: now.Add(-2 * time.Hour)},
		{ProjectID: "p1", EventType: models.EventBot, Severity: models.SeverityLow, SourceIP: "1.1.1.1", CreatedAt: now.Add(-48 * time.Hour)},
	}
	require.NoError(t, db.Create(&events).Error)

	w := doRequest(r, http.MethodGet, "/projects/p1/threats/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Hours int                  `json:"hours"`
		Stats services.ThreatStats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 24, resp.Hours)
	assert.EqualValues(t, 2, resp.Stats.TotalEvents)
	assert.EqualValues(t, 1, resp.Stats.CriticalCount)
	assert.Equal(t, "xss", resp.Stats.TopAttackType)
	assert.NotEmpty(t, resp.Stats.Hourly)

	w = doRequest(r, http.MethodGet, "/projects/p1/threats/stats?hours=72", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 72, resp.Hours)
	assert.EqualValues(t, 3, resp.Stats.TotalEvents)
}

func TestParseHours(t *testing.T) {
	tests := map[string]int{
		"":     24,
		"abc":  24,
		"0":    1,
		"-5":   1,
		"12":   12,
		"720":  720,
		"9999": 720,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseHours(in), "input %q", in)
	}
}
