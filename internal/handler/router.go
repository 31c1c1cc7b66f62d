package handler

import (
	"chat-pdf-go/internal/middleware"

	"github.com/gin-gonic/gin"
)

// NewRouter 注册所有路由。
func NewRouter(embedHandler *EmbedHandler, chatHandler *ChatHandler) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/healthz", Health)

	api := r.Group("/api")
	{
		api.POST("/embed", embedHandler.Embed)
		api.POST("/chat", chatHandler.Chat)
		api.GET("/chat/stream", chatHandler.Stream)
	}
	return r
}
