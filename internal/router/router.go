package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fliptools/internal/controller"
	"fliptools/internal/middleware"
)

// Controllers 路由依赖
type Controllers struct {
	Sale       *controller.SaleController
	Connection *controller.ConnectionController
	Fee        *controller.FeeController
	Listing    *controller.ListingController
}

// InitRoutes 注册所有路由
func InitRoutes(r *gin.Engine, ctl Controllers, syncLimiter *middleware.UserRateLimiter) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	// 平台回调由 state 识别用户，不走 JWT
	// GET /api/oauth/:platform/callback
	api.GET("/oauth/:platform/callback", ctl.Connection.Callback)

	authed := api.Group("", middleware.JWTAuth())
	{
		// sales 销售台账
		sales := authed.Group("/sales")
		{
			// POST /api/sales/sync?force=&start_date=
			sales.POST("/sync", middleware.SyncRateLimit(syncLimiter), ctl.Sale.Sync)
			sales.GET("", ctl.Sale.List)
			sales.GET("/stats", ctl.Sale.Stats)
			sales.POST("", ctl.Sale.Create)
			sales.PATCH("/:id/cost", ctl.Sale.UpdateCost)
			sales.DELETE("/:id", ctl.Sale.Delete)
		}

		// connections 平台授权
		conns := authed.Group("/connections")
		{
			conns.GET("", ctl.Connection.List)
			conns.GET("/:platform/auth-url", ctl.Connection.AuthURL)
			conns.POST("/:platform/manual", ctl.Connection.ConnectManual)
			conns.DELETE("/:platform", ctl.Connection.Disconnect)
		}

		// GET /api/fees/:platform?price=
		authed.GET("/fees/:platform", ctl.Fee.Calculate)

		// listings 商品上架
		listings := authed.Group("/listings")
		{
			listings.GET("/:platform", ctl.Listing.List)
			listings.POST("/:platform", ctl.Listing.Create)
			listings.PUT("/:platform/:id", ctl.Listing.Update)
			listings.DELETE("/:platform/:id", ctl.Listing.Delete)
		}
	}
}
