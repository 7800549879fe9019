package routes

import (
	"github.com/gin-gonic/gin"

	"estatesettle/internal/handlers"
)

// SetupDistributionRoutes sets up distribution, tokenization config and revenue routes
func SetupDistributionRoutes(api, operator *gin.RouterGroup, h *handlers.Handler) {
	api.POST("/distributions/trigger/:tokenization_id", h.TriggerDistribution)
	api.GET("/distributions/:id", h.GetDistribution)

	ops := operator.Group("/distributions")
	{
		ops.POST("/trigger-due", h.TriggerDueDistributions)
		ops.POST("/reconcile", h.Reconcile)
		ops.POST("/:id/settle", h.SettleDistribution)
	}

	tokenizations := api.Group("/tokenizations")
	{
		tokenizations.GET("/:id/distributions", h.ListDistributions)
		tokenizations.PUT("/:id/fees", h.UpdateFees)
		tokenizations.PUT("/:id/schedule", h.UpdateSchedule)
		tokenizations.GET("/:id/proposals", h.ListProposals)
		tokenizations.GET("/:id/withdrawals", h.ListWithdrawals)
	}

	operator.POST("/revenue-events", h.CreateRevenueEvent)
	operator.GET("/revenue-events", h.ListRevenueEvents)
}
