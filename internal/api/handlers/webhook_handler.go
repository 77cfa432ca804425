package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/checkvibe/threatwatch/internal/api/middleware"
	"github.com/checkvibe/threatwatch/internal/netguard"
	"github.com/checkvibe/threatwatch/internal/services"
)

type WebhookHandler struct {
	service *services.WebhookService
}

func NewWebhookHandler(service *services.WebhookService) *WebhookHandler {
	return &WebhookHandler{service: service}
}

func (h *WebhookHandler) List(c *gin.Context) {
	hooks, err := h.service.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list webhooks"})
		return
	}
	c.JSON(http.StatusOK, hooks)
}

// Create registers a webhook. The signing secret is only returned here.
func (h *WebhookHandler) Create(c *gin.Context) {
	var in services.RegisterWebhookInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}
	hook, secret, err := h.service.Register(c.Request.Context(), c.Param("id"), in)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"webhook": hook, "secret": secret})
	case errors.Is(err, netguard.ErrBlocked), errors.Is(err, services.ErrNoValidEvents):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		middleware.GetRequestLogger(c).WithError(err).Error("webhook registration failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create webhook"})
	}
}
