package routes

import (
	"github.com/gin-gonic/gin"

	"estatesettle/internal/handlers"
)

// SetupSystemRoutes sets up the operator routes for system logs and the outbox
func SetupSystemRoutes(operator *gin.RouterGroup, h *handlers.Handler) {
	logs := operator.Group("/system-logs")
	{
		logs.GET("", h.ListSystemLogs)
		logs.GET("/:id", h.GetSystemLog)
	}

	outbox := operator.Group("/outbox")
	{
		outbox.GET("", h.ListOutbox)
		outbox.POST("/:id/requeue", h.RequeueOutbox)
	}
}
