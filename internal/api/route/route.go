package route

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lbeltrame/go_lingo/internal/api/middleware"
	"github.com/lbeltrame/go_lingo/internal/app"
)

// SetupRoutes builds the gin engine with all API routes and middleware.
func SetupRoutes(appCtx *app.App) *gin.Engine {
	r := gin.New()
	r.Use(middleware.HoneybadgerMiddleware())
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware(appCtx.Config.Server.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "UP",
		})
	})

	publicRouter := r.Group("")

	// All Public APIs
	timeout := time.Duration(5) * time.Second

	NewCollectionRouter(timeout, publicRouter, appCtx)
	NewAdminRouter(timeout, publicRouter, appCtx)

	return r
}
