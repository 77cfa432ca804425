package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/checkvibe/threatwatch/internal/models"
	"github.com/checkvibe/threatwatch/internal/services"
)

type NotificationProviderHandler struct {
	service *services.NotificationService
}

func NewNotificationProviderHandler(service *services.NotificationService) *NotificationProviderHandler {
	return &NotificationProviderHandler{service: service}
}

func (h *NotificationProviderHandler) List(c *gin.Context) {
	providers, err := h.service.ListProviders(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list providers"})
		return
	}
	c.JSON(http.StatusOK, providers)
}

type createProviderRequest struct {
	Name          string `json:"name" binding:"required"`
	Type          string `json:"type" binding:"required"`
	URL           string `json:"url" binding:"required"`
	Enabled       *bool  `json:"enabled"`
	NotifyThreats *bool  `json:"notify_threats"`
	NotifyAlerts  *bool  `json:"notify_alerts"`
}

func (h *NotificationProviderHandler) Create(c *gin.Context) {
	var req createProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	provider := models.NotificationProvider{
		ProjectID:     c.Param("id"),
		Name:          req.Name,
		Type:          req.Type,
		URL:           req.URL,
		Enabled:       req.Enabled == nil || *req.Enabled,
		NotifyThreats: req.NotifyThreats == nil || *req.NotifyThreats,
		NotifyAlerts:  req.NotifyAlerts == nil || *req.NotifyAlerts,
	}
	if err := h.service.CreateProvider(c.Request.Context(), &provider); err != nil {
		if errors.Is(err, services.ErrInvalidProviderURL) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create provider"})
		return
	}
	c.JSON(http.StatusCreated, provider)
}

func (h *NotificationProviderHandler) Delete(c *gin.Context) {
	if err := h.service.DeleteProvider(c.Request.Context(), c.Param("id"), c.Param("providerId")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete provider"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Provider deleted"})
}
