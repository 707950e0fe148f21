package route

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lbeltrame/go_lingo/internal/api/controller"
	"github.com/lbeltrame/go_lingo/internal/api/middleware"
	"github.com/lbeltrame/go_lingo/internal/app"
)

// NewAdminRouter sets up the collection lifecycle and cache admin routes.
func NewAdminRouter(timeout time.Duration, group *gin.RouterGroup, appCtx *app.App) {
	ac := controller.NewAdminController(appCtx.Service, appCtx)
	timeoutMiddleware := middleware.RequestTimeout(timeout)

	group.POST("collection", timeoutMiddleware, ac.CreateCollection)
	group.POST("collection/:name/reload", timeoutMiddleware, ac.ReloadCollection)
	group.POST("reload", timeoutMiddleware, ac.ReloadAll)
	group.POST("invalidate", timeoutMiddleware, ac.Invalidate)
	group.GET("stats", timeoutMiddleware, ac.Stats)
}
