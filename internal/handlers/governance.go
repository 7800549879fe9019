package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"estatesettle/internal/governance"
)

type CastVoteRequest struct {
	Choice string `json:"choice" binding:"required"`
}

func (h *Handler) CreateProposal(c *gin.Context) {
	var req governance.ProposalInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.Governance.CreateProposal(c.Request.Context(), actorID(c), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// GetProposal returns the proposal, resolving it first if its window has closed.
func (h *Handler) GetProposal(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	p, err := h.Governance.GetProposal(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) ListProposals(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	p := parsePage(c)
	list, total, err := h.Governance.ListProposals(c.Request.Context(), id, c.Query("status"), p.PageSize, p.offset())
	if err != nil {
		h.respondError(c, err)
		return
	}
	paginated(c, p, list, total)
}

func (h *Handler) CastVote(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req CastVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	vote, p, err := h.Governance.CastVote(c.Request.Context(), actorID(c), id, req.Choice)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"vote": vote, "proposal": p})
}

func (h *Handler) ListVotes(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	votes, err := h.Governance.ListVotes(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": votes})
}

func (h *Handler) ResolveProposal(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	p, err := h.Governance.Resolve(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
