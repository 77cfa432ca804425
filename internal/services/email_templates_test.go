package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreDropEmail(t *testing.T) {
	e, err := scoreDropEmail("Shop <beta>", 80, 65, "https://app.example.com/r")
	require.NoError(t, err)
	assert.Equal(t, "Score drop alert: Shop <beta> (-15 points)", e.Subject)
	assert.Contains(t, e.HTML, "Shop &lt;beta&gt;", "html body escapes project names")
	assert.Contains(t, e.Text, "dropped from 80 to 65 (15 point decrease)")
	assert.Contains(t, e.Text, "https://app.example.com/r")
}

func TestNewCriticalEmail(t *testing.T) {
	e, err := newCriticalEmail("shop", 1, 3, 55, "u")
	require.NoError(t, err)
	assert.Equal(t, "Critical findings: shop (1 new)", e.Subject)
	assert.Contains(t, e.Text, "3 critical security findings")

	single, err := newCriticalEmail("shop", 1, 1, 55, "u")
	require.NoError(t, err)
	assert.Contains(t, single.Text, "1 critical security finding ")
}

func TestScoreBelowEmail(t *testing.T) {
	e, err := scoreBelowEmail("shop", 41, 50, "u")
	require.NoError(t, err)
	assert.Equal(t, "Score below threshold: shop (41/50)", e.Subject)

	frac, err := scoreBelowEmail("shop", 41, 47.5, "u")
	require.NoError(t, err)
	assert.Contains(t, frac.Subject, "41/47.5")
}

func TestThreatAlertEmail(t *testing.T) {
	e, err := threatAlertEmail("shop", ThreatStats{TotalEvents: 3, HighCount: 2, MediumCount: 1, TopAttackType: "sqli", UniqueIPs: 2}, "u")
	require.NoError(t, err)
	assert.Equal(t, "Threat alert: shop (3 events detected)", e.Subject)
	assert.Contains(t, e.Text, "Top attack type: SQLI")
	assert.Contains(t, e.HTML, "#F97316")

	empty, err := threatAlertEmail("shop", ThreatStats{TotalEvents: 1}, "u")
	require.NoError(t, err)
	assert.Contains(t, empty.Text, "Top attack type: N/A")
	assert.Contains(t, empty.Text, "1 threat event.")
}

func TestUnsubscribeHeaders(t *testing.T) {
	h := unsubscribeHeaders("<mailto:u@example.com>")
	assert.Equal(t, "<mailto:u@example.com>", h["List-Unsubscribe"])
	assert.Equal(t, "List-Unsubscribe=One-Click", h["List-Unsubscribe-Post"])
}
