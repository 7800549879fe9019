package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"estatesettle/internal/distribution"
	"estatesettle/internal/errs"
	"estatesettle/internal/governance"
	"estatesettle/internal/middleware"
	"estatesettle/internal/models"
	"estatesettle/internal/store"
	"estatesettle/internal/treasury"
)

// Distributions runs the revenue pipeline.
type Distributions interface {
	TriggerDistribution(ctx context.Context, tokenizationID uint) (*distribution.TriggerResult, error)
	TriggerDueDistributions(ctx context.Context) (*distribution.TriggerResult, error)
	Reconcile(ctx context.Context) (*distribution.ReconcileReport, error)
	SettlePayments(ctx context.Context, distributionID uint) (*models.DividendDistribution, error)
}

// Admin changes tokenization configuration and records revenue.
type Admin interface {
	SetFees(ctx context.Context, actor string, tokenizationID uint, platformPct, managementPct decimal.Decimal) (*models.Tokenization, error)
	SetSchedule(ctx context.Context, actor string, tokenizationID uint, in distribution.ScheduleInput) (*models.DividendSchedule, error)
	RecordRevenue(ctx context.Context, in distribution.RevenueInput) (*models.RevenueEvent, error)
}

type Governance interface {
	CreateProposal(ctx context.Context, actor string, in governance.ProposalInput) (*models.GovernanceProposal, error)
	CastVote(ctx context.Context, actor string, proposalID uint, choice string) (*models.Vote, *models.GovernanceProposal, error)
	GetProposal(ctx context.Context, id uint) (*models.GovernanceProposal, error)
	Resolve(ctx context.Context, id uint) (*models.GovernanceProposal, error)
	ListProposals(ctx context.Context, tokenizationID uint, status string, limit, offset int) ([]models.GovernanceProposal, int64, error)
	ListVotes(ctx context.Context, proposalID uint) ([]models.Vote, error)
}

type Treasury interface {
	CreateWithdrawal(ctx context.Context, actor string, in treasury.WithdrawalInput) (*models.TreasuryTransaction, error)
	Approve(ctx context.Context, actor string, id uint) (*models.TreasuryTransaction, error)
	Execute(ctx context.Context, actor string, id uint) (*models.TreasuryTransaction, error)
	Cancel(ctx context.Context, actor string, id uint) (*models.TreasuryTransaction, error)
	Get(ctx context.Context, id uint) (*models.TreasuryTransaction, []models.TreasuryApproval, []models.ExecutionAttempt, error)
	List(ctx context.Context, tokenizationID uint, status string, limit, offset int) ([]models.TreasuryTransaction, int64, error)
}

// Queries are the read-only and operator lookups served straight from storage.
type Queries interface {
	GetTokenization(ctx context.Context, id uint) (*models.Tokenization, error)
	GetDistribution(ctx context.Context, id uint) (*models.DividendDistribution, error)
	ListDistributions(ctx context.Context, tokenizationID uint, limit, offset int) ([]models.DividendDistribution, int64, error)
	ListRevenue(ctx context.Context, propertyID uint, status string, limit, offset int) ([]models.RevenueEvent, int64, error)
	Receipts(ctx context.Context, subjectType string, subjectID uint) ([]models.NotarizationReceipt, error)
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]models.Notification, int64, error)
	MarkNotificationRead(ctx context.Context, userID string, id uint) (bool, error)
	ListSystemLogs(ctx context.Context, f store.LogFilter, limit, offset int) ([]models.SystemLog, int64, error)
	GetSystemLog(ctx context.Context, id uint) (*models.SystemLog, error)
	ListOutbox(ctx context.Context, status string, limit, offset int) ([]models.OutboxMessage, int64, error)
	RequeueDead(ctx context.Context, id uint, now time.Time) (bool, error)
}

// Handler serves the settlement API.
type Handler struct {
	Distributions Distributions
	Admin         Admin
	Governance    Governance
	Treasury      Treasury
	Queries       Queries
	Hub           *Hub
	Log           *logrus.Entry
}

// respondError writes err with the status, kind and guidance of its error class.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Log.WithError(err).Errorf("> %s %s failed", c.Request.Method, c.FullPath())
	}
	body := gin.H{"error": err.Error()}
	if kind := errs.KindOf(err); kind != "" {
		body["kind"] = kind
	}
	if g := errs.GuidanceOf(err); g != "" {
		body["guidance"] = g
	}
	c.JSON(status, body)
}

func actorID(c *gin.Context) string {
	a, _ := middleware.ActorFrom(c)
	return a.ID
}

func isOperator(c *gin.Context) bool {
	a, _ := middleware.ActorFrom(c)
	return a.Role == middleware.RoleOperator
}

// idParam parses a positive numeric path parameter.
func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name + " format"})
		return 0, false
	}
	return uint(id), true
}

type page struct {
	Page     int
	PageSize int
}

func (p page) offset() int { return (p.Page - 1) * p.PageSize }

func parsePage(c *gin.Context) page {
	p := page{Page: 1, PageSize: 10}
	if v, err := strconv.Atoi(c.Query("page")); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.Atoi(c.Query("page_size")); err == nil && v > 0 && v <= 100 {
		p.PageSize = v
	}
	return p
}

func paginated(c *gin.Context, p page, data interface{}, total int64) {
	totalPages := (total + int64(p.PageSize) - 1) / int64(p.PageSize)
	c.JSON(http.StatusOK, gin.H{
		"data": data,
		"pagination": gin.H{
			"current_page": p.Page,
			"page_size":    p.PageSize,
			"total_pages":  totalPages,
			"total_count":  total,
			"has_next":     p.Page < int(totalPages),
			"has_prev":     p.Page > 1,
		},
	})
}
