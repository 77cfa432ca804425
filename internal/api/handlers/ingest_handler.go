package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/checkvibe/threatwatch/internal/api/middleware"
	"github.com/checkvibe/threatwatch/internal/services"
)

// maxIngestBody bounds a snippet batch. Fifty events with truncated fields fit
// comfortably.
const maxIngestBody = 1 << 20

type IngestHandler struct {
	service *services.IngestService
}

func NewIngestHandler(service *services.IngestService) *IngestHandler {
	return &IngestHandler{service: service}
}

type ingestBody struct {
	Token  json.RawMessage `json:"token"`
	Events json.RawMessage `json:"events"`
}

// Ingest accepts a batch from the browser snippet. CORS and preflight are
// handled by middleware.IngestCORS.
func (h *IngestHandler) Ingest(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.Header("Allow", "POST, OPTIONS")
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxIngestBody)
	var body ingestBody
	if err := json.NewDecoder(c.Request.Body).Decode(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	var token string
	if len(body.Token) == 0 || json.Unmarshal(body.Token, &token) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing token"})
		return
	}
	var events []json.RawMessage
	if len(body.Events) > 0 && json.Unmarshal(body.Events, &events) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Events array required"})
		return
	}

	res, err := h.service.Ingest(c.Request.Context(), services.IngestRequest{
		Token:     token,
		Events:    events,
		SourceIP:  middleware.ClientIP(c),
		UserAgent: c.GetHeader("User-Agent"),
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"accepted": res.Accepted})
	case errors.Is(err, services.ErrInvalidToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing token"})
	case errors.Is(err, services.ErrNoEvents):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Events array required"})
	case errors.Is(err, services.ErrRateLimited):
		middleware.SetRateLimitHeaders(c, res.RateLimit)
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
	case errors.Is(err, services.ErrUnknownToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
	case errors.Is(err, services.ErrIngestDisabled):
		c.JSON(http.StatusForbidden, gin.H{"error": "Threat detection disabled"})
	case errors.Is(err, services.ErrStoreEvents):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store events"})
	default:
		middleware.GetRequestLogger(c).WithError(err).Error("threat ingest failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}
