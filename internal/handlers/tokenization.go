package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"estatesettle/internal/distribution"
)

// UpdateFeesRequest sets both fee percentages at once.
type UpdateFeesRequest struct {
	PlatformFeePct   decimal.Decimal `json:"platform_fee_pct"`
	ManagementFeePct decimal.Decimal `json:"management_fee_pct"`
}

func (h *Handler) UpdateFees(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req UpdateFeesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tok, err := h.Admin.SetFees(c.Request.Context(), actorID(c), id, req.PlatformFeePct, req.ManagementFeePct)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tok)
}

func (h *Handler) UpdateSchedule(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req distribution.ScheduleInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sched, err := h.Admin.SetSchedule(c.Request.Context(), actorID(c), id, req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

// CreateRevenueEvent records a confirmed property payment as pending revenue.
func (h *Handler) CreateRevenueEvent(c *gin.Context) {
	var req distribution.RevenueInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ev, err := h.Admin.RecordRevenue(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ev)
}

// ListRevenueEvents pages a property's revenue events, optionally by distribution status.
func (h *Handler) ListRevenueEvents(c *gin.Context) {
	propertyID, err := strconv.ParseUint(c.Query("property_id"), 10, 64)
	if err != nil || propertyID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "property_id is required"})
		return
	}
	p := parsePage(c)
	list, total, err := h.Queries.ListRevenue(c.Request.Context(), uint(propertyID), c.Query("status"), p.PageSize, p.offset())
	if err != nil {
		h.respondError(c, err)
		return
	}
	paginated(c, p, list, total)
}
