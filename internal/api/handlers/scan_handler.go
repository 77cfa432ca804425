package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/checkvibe/threatwatch/internal/services"
)

// scanFanOutTimeout bounds rule emails and webhook deliveries for one scan.
// The fan-out runs detached so a disconnecting caller cannot cut it short.
const scanFanOutTimeout = 2 * time.Minute

type ScanHandler struct {
	service *services.ScanCompletionService
}

func NewScanHandler(service *services.ScanCompletionService) *ScanHandler {
	return &ScanHandler{service: service}
}

// Completed runs alert rules and webhook deliveries for a finished scan and
// reports every outcome.
func (h *ScanHandler) Completed(c *gin.Context) {
	var evt services.ScanCompleted
	if err := c.ShouldBindJSON(&evt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}
	ctx, cancel := services.Detach(c.Request.Context(), scanFanOutTimeout)
	defer cancel()
	res, err := h.service.Handle(ctx, evt)
	if err != nil {
		if errors.Is(err, services.ErrInvalidScanEvent) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process scan"})
		return
	}
	c.JSON(http.StatusOK, res)
}
