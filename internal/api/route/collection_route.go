package route

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lbeltrame/go_lingo/internal/api/controller"
	"github.com/lbeltrame/go_lingo/internal/api/middleware"
	"github.com/lbeltrame/go_lingo/internal/app"
)

// NewCollectionRouter sets up the configuration and message routes.
func NewCollectionRouter(timeout time.Duration, group *gin.RouterGroup, appCtx *app.App) {
	cc := controller.NewConfigController(appCtx.Service)
	mc := controller.NewMessageController(appCtx.Service)
	timeoutMiddleware := middleware.RequestTimeout(timeout)

	group.GET("collection/:name/config/:key", timeoutMiddleware, cc.GetValue)
	group.PUT("collection/:name/config/:key", timeoutMiddleware, cc.SetValue)
	group.GET("collection/:name/message/:lang/*key", timeoutMiddleware, mc.GetMessage)
	group.PUT("collection/:name/message/:lang/*key", timeoutMiddleware, mc.SetMessage)
}
