package routers

import (
	"github.com/gin-gonic/gin"

	"shopsync/internal/server/handlers/admin"
	"shopsync/internal/server/handlers/webhook"
	"shopsync/internal/server/middlewares"
	"shopsync/pkg/ginx"
	"shopsync/pkg/logger"
)

// SetupRoutes 配置所有路由，使用 Route Group 分类
func SetupRoutes(
	webhookHandler *webhook.Handler,
	jobsHandler *admin.JobsHandler,
	log logger.Logger,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middlewares.CORS())
	r.Use(middlewares.RequestLogger(log))

	r.NoRoute(func(c *gin.Context) {
		ginx.NotFound(c, "route not found")
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "shopsync",
			"message": "Service is running",
		})
	})

	// 平台的各主题 Webhook 回调，主题由请求头区分
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/inventory", webhookHandler.Receive)
		webhooks.POST("/orders", webhookHandler.Receive)
		webhooks.POST("/products", webhookHandler.Receive)
		webhooks.POST("/variants", webhookHandler.Receive)
	}

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.GET("/failed", jobsHandler.ListFailed)
			jobs.GET("/completed", jobsHandler.ListCompleted)
		}
	}

	return r
}
