package handler

import (
	"net/http"
	"time"

	"chat-studio-core/internal/config"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func SetupRouter(cfg *config.Config, chatHandler *ChatHandler) *gin.Engine {
	router := gin.New()
	// 标题作为路径参数传递，需要保留 %2F 之类的编码
	router.UseRawPath = true

	// 中间件
	router.Use(RequestLogger())
	router.Use(gin.Recovery())

	// CORS配置
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})

	// API路由
	api := router.Group("/api", AuthRequired(cfg.Auth.Token))
	{
		session := api.Group("/session")
		{
			session.POST("/create", chatHandler.CreateSession)
			session.GET("/list", chatHandler.GetSessionList)
			session.GET("/messages/:session_id", chatHandler.GetMessages)
			session.DELETE("/delete", chatHandler.DeleteSessions)
			session.PUT("/modify/title/:session_id/:title", chatHandler.UpdateSessionTitle)
		}

		api.POST("/chat/v1/chat", chatHandler.StreamChat)

		models := api.Group("/model")
		{
			models.GET("/default", chatHandler.DefaultModel)
			models.GET("/list", chatHandler.ListModels)
		}
	}

	return router
}
