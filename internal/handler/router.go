package handler

import (
	"pimarket/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())
	r.Use(metrics.PrometheusMiddleware())

	api := r.Group("/api/v1")
	{
		transactions := api.Group("/transactions")
		{
			// Pi 服务端回调，不带用户身份
			transactions.POST("/pi-callback", h.PiCallback)

			transactions.POST("", IdentityMiddleware(), h.CreateTransaction)
			transactions.GET("", IdentityMiddleware(), h.ListTransactions)
			transactions.GET("/:id", IdentityMiddleware(), h.GetTransaction)
		}

		sellers := api.Group("/sellers")
		{
			sellers.GET("/:id/metrics", h.GetSellerMetrics)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
