package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/checkvibe/threatwatch/internal/services"
)

const cronRunTimeout = 4 * time.Minute

type CronHandler struct {
	dispatcher *services.ThreatAlertService
}

func NewCronHandler(dispatcher *services.ThreatAlertService) *CronHandler {
	return &CronHandler{dispatcher: dispatcher}
}

// ThreatAlerts runs one dispatcher pass on demand. Safe to call alongside the
// scheduler: the alert log keeps a tier from sending twice within its cooldown.
func (h *CronHandler) ThreatAlerts(c *gin.Context) {
	ctx, cancel := services.Detach(c.Request.Context(), cronRunTimeout)
	defer cancel()
	summary, err := h.dispatcher.DispatchAll(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to run threat alerts"})
		return
	}
	c.JSON(http.StatusOK, summary)
}
