package routes

import (
	"github.com/gin-gonic/gin"

	"estatesettle/internal/handlers"
)

func SetupTreasuryRoutes(api *gin.RouterGroup, h *handlers.Handler) {
	withdrawals := api.Group("/withdrawals")
	{
		withdrawals.POST("", h.CreateWithdrawal)
		withdrawals.GET("/:id", h.GetWithdrawal)
		withdrawals.POST("/:id/approve", h.ApproveWithdrawal)
		withdrawals.POST("/:id/execute", h.ExecuteWithdrawal)
		withdrawals.POST("/:id/cancel", h.CancelWithdrawal)
	}
}
