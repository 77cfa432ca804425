package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/checkvibe/threatwatch/internal/api/middleware"
	"github.com/checkvibe/threatwatch/internal/services"
)

const (
	defaultStatsHours = 24
	maxStatsHours     = 720
)

type ThreatHandler struct {
	settings *services.ThreatSettingsService
	stats    *services.ThreatStatsService
}

func NewThreatHandler(settings *services.ThreatSettingsService, stats *services.ThreatStatsService) *ThreatHandler {
	return &ThreatHandler{settings: settings, stats: stats}
}

func (h *ThreatHandler) GetSettings(c *gin.Context) {
	settings, err := h.settings.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, services.ErrSettingsNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Threat settings not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load settings"})
		return
	}
	c.JSON(http.StatusOK, settings)
}

// UpdateSettings upserts the project's settings; the first call mints the
// snippet token.
func (h *ThreatHandler) UpdateSettings(c *gin.Context) {
	var upd services.SettingsUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}
	settings, err := h.settings.Upsert(c.Request.Context(), c.Param("id"), upd)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, settings)
	case errors.Is(err, services.ErrInvalidFrequency), errors.Is(err, services.ErrInvalidEmail):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		middleware.GetRequestLogger(c).WithError(err).Error("threat settings upsert failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save settings"})
	}
}

func (h *ThreatHandler) RotateToken(c *gin.Context) {
	settings, err := h.settings.RotateToken(c.Request.Context(), c.Param("id"))
	if errors.Is(err, services.ErrSettingsNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Threat settings not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to rotate token"})
		return
	}
	c.JSON(http.StatusOK, settings)
}

// parseHours reads ?hours=, clamped to [1, 720]. Missing or non-numeric
// values fall back to 24.
func parseHours(raw string) int {
	h, err := strconv.Atoi(raw)
	if err != nil {
		return defaultStatsHours
	}
	return max(1, min(maxStatsHours, h))
}

func (h *ThreatHandler) Stats(c *gin.Context) {
	projectID := c.Param("id")
	hours := parseHours(c.Query("hours"))
	now := time.Now().UTC()
	since := now.Add(-time.Duration(hours) * time.Hour)

	stats, err := h.stats.Stats(c.Request.Context(), projectID, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch stats"})
		return
	}
	hourly, err := h.stats.Hourly(c.Request.Context(), projectID, since, now)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch stats"})
		return
	}
	stats.Hourly = hourly
	c.JSON(http.StatusOK, gin.H{"stats": stats, "hours": hours})
}
