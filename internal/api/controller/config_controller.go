package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lbeltrame/go_lingo/internal/service"
)

// SetConfigRequest is the payload for writing a configuration value.
type SetConfigRequest struct {
	Value any `json:"value" binding:"required"`
}

// ConfigValueResponse represents a configuration value for the API.
type ConfigValueResponse struct {
	Collection string `json:"collection"`
	Key        string `json:"key"`
	Value      any    `json:"value"`
}

// ConfigController handles configuration key endpoints.
type ConfigController struct {
	svc *service.LangService
}

// NewConfigController creates a new ConfigController.
func NewConfigController(svc *service.LangService) *ConfigController {
	return &ConfigController{svc: svc}
}

// GetValue handles GET requests for a single configuration key.
// An optional "default" query parameter is returned when the key is absent;
// without it a missing key is a 404.
func (cc *ConfigController) GetValue(c *gin.Context) {
	collection := c.Param("name")
	key := c.Param("key")

	var def any
	if d, ok := c.GetQuery("default"); ok {
		def = d
	}

	value := cc.svc.GetConfig(collection, key, def)
	if value == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "configuration key not found"})
		return
	}
	c.JSON(http.StatusOK, ConfigValueResponse{Collection: collection, Key: key, Value: value})
}

// SetValue handles PUT requests to write a configuration key.
func (cc *ConfigController) SetValue(c *gin.Context) {
	collection := c.Param("name")
	key := c.Param("key")

	var req SetConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if err := cc.svc.SetConfig(c.Request.Context(), collection, key, req.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store configuration value"})
		return
	}
	c.JSON(http.StatusOK, ConfigValueResponse{Collection: collection, Key: key, Value: req.Value})
}
