package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"estatesettle/internal/errs"
	"estatesettle/internal/outbox"
)

// TriggerDistribution runs one tokenization's distribution now. Owners and
// operators only; the manual cooldown applies.
func (h *Handler) TriggerDistribution(c *gin.Context) {
	id, ok := idParam(c, "tokenization_id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	tok, err := h.Queries.GetTokenization(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !isOperator(c) && tok.OwnerID != actorID(c) {
		h.respondError(c, errs.NotEligible("only the owner or an operator may trigger tokenization %d", id))
		return
	}
	result, err := h.Distributions.TriggerDistribution(ctx, id)
	if err != nil {
		body := gin.H{"error": err.Error(), "kind": errs.KindOf(err), "guidance": errs.GuidanceOf(err)}
		if result != nil {
			body["result"] = result
		}
		c.JSON(errs.HTTPStatus(err), body)
		return
	}
	c.JSON(http.StatusOK, result)
}

// TriggerDueDistributions runs every due schedule.
func (h *Handler) TriggerDueDistributions(c *gin.Context) {
	result, err := h.Distributions.TriggerDueDistributions(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) Reconcile(c *gin.Context) {
	report, err := h.Distributions.Reconcile(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// SettleDistribution pays one batch of the distribution's unsettled payments;
// pending ones in the response are left for the next call. A partial failure
// still returns the distribution.
func (h *Handler) SettleDistribution(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	d, err := h.Distributions.SettlePayments(c.Request.Context(), id)
	if err != nil {
		if d == nil {
			h.respondError(c, err)
			return
		}
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error(), "kind": errs.KindOf(err), "data": d})
		return
	}
	c.JSON(http.StatusOK, d)
}

// GetDistribution returns a distribution with its payments and notarization receipts.
func (h *Handler) GetDistribution(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	d, err := h.Queries.GetDistribution(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	receipts, err := h.Queries.Receipts(ctx, outbox.SubjectDistribution, d.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"distribution": d, "receipts": receipts})
}

func (h *Handler) ListDistributions(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	p := parsePage(c)
	list, total, err := h.Queries.ListDistributions(c.Request.Context(), id, p.PageSize, p.offset())
	if err != nil {
		h.respondError(c, err)
		return
	}
	paginated(c, p, list, total)
}
