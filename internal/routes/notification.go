package routes

import (
	"github.com/gin-gonic/gin"

	"estatesettle/internal/handlers"
)

func SetupNotificationRoutes(api *gin.RouterGroup, h *handlers.Handler) {
	notifications := api.Group("/notifications")
	{
		notifications.GET("", h.ListNotifications)
		notifications.GET("/ws", h.StreamNotifications)
		notifications.POST("/:id/read", h.MarkNotificationRead)
	}
}
