package server

import (
	"relay-core/internal/handler"
	"relay-core/internal/handler/response"
	"relay-core/internal/middleware"

	"relay-core/pkg/monitor"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handlers 路由依赖的业务 handler
type Handlers struct {
	Relay *handler.RelayHandler
	Purse *handler.PurseHandler
}

// NewHTTPRouter 初始化并返回一个 Gin Engine
func NewHTTPRouter(h Handlers) *gin.Engine {
	// 0. 初始化监控指标
	monitor.Init()

	// 1. 创建 Engine (使用默认中间件: Logger, Recovery)
	r := gin.Default()

	// 2. 注册通用中间件
	r.Use(monitor.PrometheusMiddleware())
	r.Use(middleware.RequestMeta())

	// 3. 注册基础路由
	r.GET("/health", handler.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 4. 中继入口，保留根路径兼容旧客户端
	r.POST("/relay", h.Relay.Relay)

	api := r.Group("/api/v1")
	{
		api.GET("/ping", func(c *gin.Context) {
			response.Success(c, gin.H{"pong": true})
		})
		api.POST("/relay", h.Relay.Relay)
	}

	// 5. 管理接口只对本机开放
	if h.Purse != nil {
		admin := r.Group("/admin", middleware.LocalOnly())
		admin.GET("/purse", h.Purse.Status)
		admin.POST("/purse/replenish", h.Purse.Replenish)
	}

	return r
}
