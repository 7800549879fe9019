package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"estatesettle/internal/store"
)

// ListSystemLogs returns paginated system logs with optional filters
func (h *Handler) ListSystemLogs(c *gin.Context) {
	p := parsePage(c)
	f := store.LogFilter{
		Level:      c.Query("level"),
		Module:     c.Query("module"),
		ErrorKind:  c.Query("error_kind"),
		OrderField: c.DefaultQuery("order_field", "id"),
		Descending: c.DefaultQuery("order_type", "desc") == "desc",
	}
	if tid := c.Query("tokenization_id"); tid != "" {
		if parsed, err := strconv.ParseUint(tid, 10, 64); err == nil {
			f.TokenizationID = uint(parsed)
		}
	}
	logs, total, err := h.Queries.ListSystemLogs(c.Request.Context(), f, p.PageSize, p.offset())
	if err != nil {
		h.respondError(c, err)
		return
	}
	paginated(c, p, logs, total)
}

// GetSystemLog returns a specific system log by ID
func (h *Handler) GetSystemLog(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	entry, err := h.Queries.GetSystemLog(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// ListOutbox pages outbox messages, e.g. status=dead for the ones needing attention.
func (h *Handler) ListOutbox(c *gin.Context) {
	p := parsePage(c)
	list, total, err := h.Queries.ListOutbox(c.Request.Context(), c.Query("status"), p.PageSize, p.offset())
	if err != nil {
		h.respondError(c, err)
		return
	}
	paginated(c, p, list, total)
}

// RequeueOutbox gives a dead message a fresh attempt budget.
func (h *Handler) RequeueOutbox(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	requeued, err := h.Queries.RequeueDead(c.Request.Context(), id, time.Now())
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !requeued {
		c.JSON(http.StatusConflict, gin.H{"error": "only dead messages can be requeued"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "requeued"})
}
