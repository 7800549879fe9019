package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"estatesettle/internal/distribution"
	"estatesettle/internal/errs"
	"estatesettle/internal/governance"
	"estatesettle/internal/middleware"
	"estatesettle/internal/models"
	"estatesettle/internal/store"
	"estatesettle/internal/treasury"
)

var secret = []byte("handler-secret")

func init() {
	gin.SetMode(gin.TestMode)
}

type mockDistributions struct{ mock.Mock }

func (m *mockDistributions) TriggerDistribution(ctx context.Context, id uint) (*distribution.TriggerResult, error) {
	args := m.Called(ctx, id)
	r, _ := args.Get(0).(*distribution.TriggerResult)
	return r, args.Error(1)
}

func (m *mockDistributions) TriggerDueDistributions(ctx context.Context) (*distribution.TriggerResult, error) {
	args := m.Called(ctx)
	r, _ := args.Get(0).(*distribution.TriggerResult)
	return r, args.Error(1)
}

func (m *mockDistributions) Reconcile(ctx context.Context) (*distribution.ReconcileReport, error) {
	args := m.Called(ctx)
	r, _ := args.Get(0).(*distribution.ReconcileReport)
	return r, args.Error(1)
}

func (m *mockDistributions) SettlePayments(ctx context.Context, id uint) (*models.DividendDistribution, error) {
	args := m.Called(ctx, id)
	d, _ := args.Get(0).(*models.DividendDistribution)
	return d, args.Error(1)
}

type mockGovernance struct{ mock.Mock }

func (m *mockGovernance) CreateProposal(ctx context.Context, actor string, in governance.ProposalInput) (*models.GovernanceProposal, error) {
	args := m.Called(ctx, actor, in)
	p, _ := args.Get(0).(*models.GovernanceProposal)
	return p, args.Error(1)
}

func (m *mockGovernance) CastVote(ctx context.Context, actor string, id uint, choice string) (*models.Vote, *models.GovernanceProposal, error) {
	args := m.Called(ctx, actor, id, choice)
	v, _ := args.Get(0).(*models.Vote)
	p, _ := args.Get(1).(*models.GovernanceProposal)
	return v, p, args.Error(2)
}

func (m *mockGovernance) GetProposal(ctx context.Context, id uint) (*models.GovernanceProposal, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*models.GovernanceProposal)
	return p, args.Error(1)
}

func (m *mockGovernance) Resolve(ctx context.Context, id uint) (*models.GovernanceProposal, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*models.GovernanceProposal)
	return p, args.Error(1)
}

func (m *mockGovernance) ListProposals(ctx context.Context, tokID uint, status string, limit, offset int) ([]models.GovernanceProposal, int64, error) {
	args := m.Called(ctx, tokID, status, limit, offset)
	l, _ := args.Get(0).([]models.GovernanceProposal)
	return l, args.Get(1).(int64), args.Error(2)
}

func (m *mockGovernance) ListVotes(ctx context.Context, id uint) ([]models.Vote, error) {
	args := m.Called(ctx, id)
	l, _ := args.Get(0).([]models.Vote)
	return l, args.Error(1)
}

type mockTreasury struct{ mock.Mock }

func (m *mockTreasury) CreateWithdrawal(ctx context.Context, actor string, in treasury.WithdrawalInput) (*models.TreasuryTransaction, error) {
	args := m.Called(ctx, actor, in)
	w, _ := args.Get(0).(*models.TreasuryTransaction)
	return w, args.Error(1)
}

func (m *mockTreasury) action(method string, ctx context.Context, actor string, id uint) (*models.TreasuryTransaction, error) {
	args := m.MethodCalled(method, ctx, actor, id)
	w, _ := args.Get(0).(*models.TreasuryTransaction)
	return w, args.Error(1)
}

func (m *mockTreasury) Approve(ctx context.Context, actor string, id uint) (*models.TreasuryTransaction, error) {
	return m.action("Approve", ctx, actor, id)
}

func (m *mockTreasury) Execute(ctx context.Context, actor string, id uint) (*models.TreasuryTransaction, error) {
	return m.action("Execute", ctx, actor, id)
}

func (m *mockTreasury) Cancel(ctx context.Context, actor string, id uint) (*models.TreasuryTransaction, error) {
	return m.action("Cancel", ctx, actor, id)
}

func (m *mockTreasury) Get(ctx context.Context, id uint) (*models.TreasuryTransaction, []models.TreasuryApproval, []models.ExecutionAttempt, error) {
	args := m.Called(ctx, id)
	w, _ := args.Get(0).(*models.TreasuryTransaction)
	return w, nil, nil, args.Error(1)
}

func (m *mockTreasury) List(ctx context.Context, tokID uint, status string, limit, offset int) ([]models.TreasuryTransaction, int64, error) {
	args := m.Called(ctx, tokID, status, limit, offset)
	l, _ := args.Get(0).([]models.TreasuryTransaction)
	return l, args.Get(1).(int64), args.Error(2)
}

// fakeQueries serves fixed rows.
type fakeQueries struct {
	tokenizations map[uint]*models.Tokenization
	notifications []models.Notification
	logs          []models.SystemLog
	lastFilter    store.LogFilter
	requeued      []uint
}

func (f *fakeQueries) GetTokenization(_ context.Context, id uint) (*models.Tokenization, error) {
	if t, ok := f.tokenizations[id]; ok {
		return t, nil
	}
	return nil, errs.NotFound("tokenization", id)
}

func (f *fakeQueries) GetDistribution(_ context.Context, id uint) (*models.DividendDistribution, error) {
	return nil, errs.NotFound("distribution", id)
}

func (f *fakeQueries) ListDistributions(context.Context, uint, int, int) ([]models.DividendDistribution, int64, error) {
	return nil, 0, nil
}

func (f *fakeQueries) ListRevenue(context.Context, uint, string, int, int) ([]models.RevenueEvent, int64, error) {
	return nil, 0, nil
}

func (f *fakeQueries) Receipts(context.Context, string, uint) ([]models.NotarizationReceipt, error) {
	return nil, nil
}

func (f *fakeQueries) ListNotifications(_ context.Context, user string, unreadOnly bool, limit, offset int) ([]models.Notification, int64, error) {
	var out []models.Notification
	for _, n := range f.notifications {
		if n.UserID == user && (!unreadOnly || !n.Read) {
			out = append(out, n)
		}
	}
	total := int64(len(out))
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (f *fakeQueries) MarkNotificationRead(_ context.Context, user string, id uint) (bool, error) {
	for i := range f.notifications {
		if f.notifications[i].ID == id && f.notifications[i].UserID == user {
			f.notifications[i].Read = true
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeQueries) ListSystemLogs(_ context.Context, filter store.LogFilter, limit, offset int) ([]models.SystemLog, int64, error) {
	f.lastFilter = filter
	return f.logs, int64(len(f.logs)), nil
}

func (f *fakeQueries) GetSystemLog(_ context.Context, id uint) (*models.SystemLog, error) {
	return nil, errs.NotFound("system log", id)
}

func (f *fakeQueries) ListOutbox(context.Context, string, int, int) ([]models.OutboxMessage, int64, error) {
	return nil, 0, nil
}

func (f *fakeQueries) RequeueDead(_ context.Context, id uint, _ time.Time) (bool, error) {
	if id != 7 {
		return false, nil
	}
	f.requeued = append(f.requeued, id)
	return true, nil
}

type fixture struct {
	h      *Handler
	dist   *mockDistributions
	gov    *mockGovernance
	treas  *mockTreasury
	q      *fakeQueries
	engine *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		dist:  &mockDistributions{},
		gov:   &mockGovernance{},
		treas: &mockTreasury{},
		q: &fakeQueries{tokenizations: map[uint]*models.Tokenization{
			1: {ID: 1, OwnerID: "owner"},
		}},
	}
	f.h = &Handler{
		Distributions: f.dist,
		Governance:    f.gov,
		Treasury:      f.treas,
		Queries:       f.q,
		Hub:           NewHub(nil),
		Log:           logrus.NewEntry(logrus.New()),
	}
	r := gin.New()
	api := r.Group("", middleware.JWT(secret))
	api.POST("/distributions/trigger/:tokenization_id", f.h.TriggerDistribution)
	api.POST("/distributions/:id/settle", f.h.SettleDistribution)
	api.GET("/distributions/:id", f.h.GetDistribution)
	api.POST("/proposals", f.h.CreateProposal)
	api.POST("/proposals/:id/votes", f.h.CastVote)
	api.GET("/tokenizations/:id/proposals", f.h.ListProposals)
	api.POST("/withdrawals/:id/approve", f.h.ApproveWithdrawal)
	api.POST("/withdrawals/:id/execute", f.h.ExecuteWithdrawal)
	api.GET("/notifications", f.h.ListNotifications)
	api.POST("/notifications/:id/read", f.h.MarkNotificationRead)
	api.GET("/notifications/ws", f.h.StreamNotifications)
	api.GET("/system-logs", f.h.ListSystemLogs)
	api.POST("/outbox/:id/requeue", f.h.RequeueOutbox)
	f.engine = r
	return f
}

func (f *fixture) do(t *testing.T, method, path string, actor middleware.Actor, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	tok, err := middleware.IssueToken(secret, actor, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

var (
	owner    = middleware.Actor{ID: "owner"}
	holder   = middleware.Actor{ID: "holder"}
	operator = middleware.Actor{ID: "ops", Role: middleware.RoleOperator}
)

func TestTriggerDistributionRequiresOwnerOrOperator(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/distributions/trigger/1", holder, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, string(errs.KindNotEligible), decode(t, w)["kind"])
	f.dist.AssertNotCalled(t, "TriggerDistribution", mock.Anything, mock.Anything)

	w = f.do(t, http.MethodPost, "/distributions/trigger/9", owner, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.dist.On("TriggerDistribution", mock.Anything, uint(1)).
		Return(&distribution.TriggerResult{Processed: 1, Succeeded: 1}, nil).Twice()
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/distributions/trigger/1", owner, nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/distributions/trigger/1", operator, nil).Code)
	f.dist.AssertExpectations(t)
}

func TestTriggerDistributionCooldownCarriesGuidance(t *testing.T) {
	f := newFixture(t)
	result := &distribution.TriggerResult{Processed: 1, Skipped: 1}
	f.dist.On("TriggerDistribution", mock.Anything, uint(1)).Return(result, errs.Cooldown(1, "4m0s"))

	w := f.do(t, http.MethodPost, "/distributions/trigger/1", owner, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	body := decode(t, w)
	assert.Equal(t, "cooldown", body["kind"])
	assert.Contains(t, body["guidance"], "4m0s")
	assert.NotNil(t, body["result"])
}

func TestSettlePartialFailureReturnsDistribution(t *testing.T) {
	f := newFixture(t)
	d := &models.DividendDistribution{ID: 5, PaymentStatus: models.PaymentPartiallyFailed}
	pf := &errs.PartialFailure{DistributionID: 5, Failed: map[string]error{"ben": assert.AnError}}
	f.dist.On("SettlePayments", mock.Anything, uint(5)).Return(d, pf)

	w := f.do(t, http.MethodPost, "/distributions/5/settle", operator, nil)
	assert.Equal(t, http.StatusMultiStatus, w.Code)
	body := decode(t, w)
	assert.Equal(t, "partial_failure", body["kind"])
	assert.NotNil(t, body["data"])
}

func TestGetDistributionNotFound(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/distributions/3", holder, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode(t, w)["kind"])

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/distributions/abc", holder, nil).Code)
}

func TestCreateProposalPassesActor(t *testing.T) {
	f := newFixture(t)
	in := governance.ProposalInput{TokenizationID: 1, Title: "Roof", ProposalType: "maintenance", Budget: decimal.NewFromInt(500)}
	f.gov.On("CreateProposal", mock.Anything, "holder", mock.MatchedBy(func(got governance.ProposalInput) bool {
		return got.Title == "Roof" && got.Budget.Equal(in.Budget)
	})).Return(&models.GovernanceProposal{ID: 4, Title: "Roof"}, nil)

	w := f.do(t, http.MethodPost, "/proposals", holder, in)
	assert.Equal(t, http.StatusCreated, w.Code)
	f.gov.AssertExpectations(t)

	w = f.do(t, http.MethodPost, "/proposals", holder, map[string]string{"title": "missing fields"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCastVoteMapsErrors(t *testing.T) {
	f := newFixture(t)
	f.gov.On("CastVote", mock.Anything, "holder", uint(4), "yes").Return(nil, nil, errs.DuplicateVote(4, "holder")).Once()
	f.gov.On("CastVote", mock.Anything, "holder", uint(5), "yes").Return(nil, nil, errs.VotingNotActive(5, "voting closed")).Once()

	w := f.do(t, http.MethodPost, "/proposals/4/votes", holder, CastVoteRequest{Choice: "yes"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "duplicate_vote", decode(t, w)["kind"])

	w = f.do(t, http.MethodPost, "/proposals/5/votes", holder, CastVoteRequest{Choice: "yes"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "voting_not_active", decode(t, w)["kind"])
}

func TestListProposalsPaginates(t *testing.T) {
	f := newFixture(t)
	f.gov.On("ListProposals", mock.Anything, uint(1), "active", 5, 5).
		Return([]models.GovernanceProposal{{ID: 6}}, int64(6), nil)

	w := f.do(t, http.MethodGet, "/tokenizations/1/proposals?status=active&page=2&page_size=5", holder, nil)
	require.Equal(t, http.StatusOK, w.Code)
	pg := decode(t, w)["pagination"].(map[string]interface{})
	assert.EqualValues(t, 2, pg["total_pages"])
	assert.Equal(t, false, pg["has_next"])
	assert.Equal(t, true, pg["has_prev"])
}

func TestWithdrawalActions(t *testing.T) {
	f := newFixture(t)
	f.treas.On("Approve", mock.Anything, "alice", uint(2)).
		Return(&models.TreasuryTransaction{ID: 2, ApprovalsCount: 1}, nil)
	f.treas.On("Execute", mock.Anything, "alice", uint(2)).
		Return(nil, errs.Execution(assert.AnError, true))

	w := f.do(t, http.MethodPost, "/withdrawals/2/approve", middleware.Actor{ID: "alice"}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["approvals_count"])

	w = f.do(t, http.MethodPost, "/withdrawals/2/execute", middleware.Actor{ID: "alice"}, nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	body := decode(t, w)
	assert.Equal(t, "execution", body["kind"])
	assert.Equal(t, "withdrawal stays pending; retry execution", body["guidance"])
}

func TestNotificationsAreScopedToActor(t *testing.T) {
	f := newFixture(t)
	f.q.notifications = []models.Notification{
		{ID: 1, UserID: "holder", Title: "a"},
		{ID: 2, UserID: "holder", Title: "b", Read: true},
		{ID: 3, UserID: "someone", Title: "c"},
	}

	w := f.do(t, http.MethodGet, "/notifications?unread=true", holder, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["data"], 1)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/notifications/3/read", holder, nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/notifications/1/read", holder, nil).Code)
	assert.True(t, f.q.notifications[0].Read)
}

func TestListSystemLogsFilters(t *testing.T) {
	f := newFixture(t)
	f.q.logs = []models.SystemLog{{ID: 1, Level: models.LevelError}}

	w := f.do(t, http.MethodGet, "/system-logs?level=ERROR&tokenization_id=3&order_type=asc", operator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, store.LogFilter{TokenizationID: 3, Level: "ERROR", OrderField: "id"}, f.q.lastFilter)
}

func TestRequeueOutbox(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/outbox/7/requeue", operator, nil).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/outbox/8/requeue", operator, nil).Code)
	assert.Equal(t, []uint{7}, f.q.requeued)
}

func TestHubStreamsUserNotifications(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.engine)
	defer srv.Close()

	tok, err := middleware.IssueToken(secret, holder, time.Hour)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/notifications/ws?access_token=" + tok
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool { return f.h.Hub.Connections("holder") == 1 }, time.Second, 10*time.Millisecond)

	f.h.Hub.Broadcast(models.Notification{ID: 9, UserID: "someone", Title: "not yours"})
	f.h.Hub.Broadcast(models.Notification{ID: 10, UserID: "holder", Title: "Dividend paid"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got models.Notification
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, uint(10), got.ID)
	assert.Equal(t, "Dividend paid", got.Title)
}
