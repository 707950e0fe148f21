package controller

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lbeltrame/go_lingo/internal/service"
)

// WatcherStater reports the state of the running collection watchers.
// The application container implements it.
type WatcherStater interface {
	WatcherStates() map[string]string
}

// CreateCollectionRequest is the payload for provisioning a collection.
type CreateCollectionRequest struct {
	Name      string   `json:"name" binding:"required"`
	Languages []string `json:"languages" binding:"omitempty,dive,bcp47_language_tag"`
}

// InvalidateRequest optionally narrows an invalidation to one collection.
type InvalidateRequest struct {
	Collection string `json:"collection"`
}

// StatsResponse aggregates cache counters and watcher states.
type StatsResponse struct {
	Hits         int64             `json:"hits"`
	Misses       int64             `json:"misses"`
	RequestCount int64             `json:"requestCount"`
	Evictions    int64             `json:"evictions"`
	Size         int64             `json:"size"`
	Capacity     int64             `json:"capacity"`
	HitRate      float64           `json:"hitRate"`
	Collections  []string          `json:"collections"`
	Watchers     map[string]string `json:"watchers"`
}

// AdminController handles collection lifecycle and cache administration.
type AdminController struct {
	svc      *service.LangService
	watchers WatcherStater
}

// NewAdminController creates a new AdminController. watchers may be nil when
// no watcher pool is running.
func NewAdminController(svc *service.LangService, watchers WatcherStater) *AdminController {
	return &AdminController{svc: svc, watchers: watchers}
}

// CreateCollection handles POST requests to provision a collection with its
// config document and one document per language.
func (ac *AdminController) CreateCollection(c *gin.Context) {
	var req CreateCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
		return
	}

	if err := ac.svc.CreateCollection(c.Request.Context(), req.Name, req.Languages); err != nil {
		if errors.Is(err, service.ErrUnsupportedLanguage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create collection"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": req.Name, "languages": req.Languages})
}

// ReloadCollection handles POST requests to reload one collection from the
// backing store.
func (ac *AdminController) ReloadCollection(c *gin.Context) {
	name := c.Param("name")
	if err := ac.svc.ReloadCollection(c.Request.Context(), name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reload collection"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"collection": name, "status": "reloaded"})
}

// ReloadAll handles POST requests to reload every known collection.
func (ac *AdminController) ReloadAll(c *gin.Context) {
	if err := ac.svc.ReloadAll(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reload collections"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
}

// Invalidate handles POST requests to drop cached entries. An empty body (or
// an empty collection field) clears the whole cache.
func (ac *AdminController) Invalidate(c *gin.Context) {
	var req InvalidateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
	}

	if req.Collection != "" {
		ac.svc.InvalidateCollection(req.Collection)
		c.JSON(http.StatusOK, gin.H{"collection": req.Collection, "status": "invalidated"})
		return
	}
	ac.svc.InvalidateAll()
	c.JSON(http.StatusOK, gin.H{"status": "invalidated"})
}

// Stats handles GET requests for cache counters and watcher states.
func (ac *AdminController) Stats(c *gin.Context) {
	stats := ac.svc.Stats()
	resp := StatsResponse{
		Hits:         stats.Hits,
		Misses:       stats.Misses,
		RequestCount: stats.RequestCount(),
		Evictions:    stats.Evictions,
		Size:         stats.Size,
		Capacity:     stats.Capacity,
		HitRate:      stats.HitRate(),
		Collections:  ac.svc.Collections(),
		Watchers:     map[string]string{},
	}
	if ac.watchers != nil {
		resp.Watchers = ac.watchers.WatcherStates()
	}
	c.JSON(http.StatusOK, resp)
}
