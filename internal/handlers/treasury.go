package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"estatesettle/internal/models"
	"estatesettle/internal/treasury"
)

func (h *Handler) CreateWithdrawal(c *gin.Context) {
	var req treasury.WithdrawalInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	w, err := h.Treasury.CreateWithdrawal(c.Request.Context(), actorID(c), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

// GetWithdrawal returns the withdrawal with its approvals and execution attempts.
func (h *Handler) GetWithdrawal(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	w, approvals, attempts, err := h.Treasury.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawal": w, "approvals": approvals, "attempts": attempts})
}

func (h *Handler) ListWithdrawals(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	p := parsePage(c)
	list, total, err := h.Treasury.List(c.Request.Context(), id, c.Query("status"), p.PageSize, p.offset())
	if err != nil {
		h.respondError(c, err)
		return
	}
	paginated(c, p, list, total)
}

func (h *Handler) ApproveWithdrawal(c *gin.Context) {
	h.runWithdrawal(c, h.Treasury.Approve)
}

// ExecuteWithdrawal submits an eligible withdrawal. A failed or unconfirmed
// transfer leaves it pending and answers 502 with retry guidance.
func (h *Handler) ExecuteWithdrawal(c *gin.Context) {
	h.runWithdrawal(c, h.Treasury.Execute)
}

func (h *Handler) CancelWithdrawal(c *gin.Context) {
	h.runWithdrawal(c, h.Treasury.Cancel)
}

func (h *Handler) runWithdrawal(c *gin.Context, action func(ctx context.Context, actor string, id uint) (*models.TreasuryTransaction, error)) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	w, err := action(c.Request.Context(), actorID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}
