package routes

import (
	"github.com/gin-gonic/gin"

	"estatesettle/internal/handlers"
)

func SetupGovernanceRoutes(api *gin.RouterGroup, h *handlers.Handler) {
	proposals := api.Group("/proposals")
	{
		proposals.POST("", h.CreateProposal)
		proposals.GET("/:id", h.GetProposal)
		proposals.GET("/:id/votes", h.ListVotes)
		proposals.POST("/:id/votes", h.CastVote)
		proposals.POST("/:id/resolve", h.ResolveProposal)
	}
}
