package treasury

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"estatesettle/internal/errs"
	"estatesettle/internal/ledger"
	"estatesettle/internal/models"
)

type memStore struct {
	mu          sync.Mutex
	nextID      uint
	tok         models.Tokenization
	proposals   map[uint]models.GovernanceProposal
	withdrawals map[uint]models.TreasuryTransaction
	approvals   []models.TreasuryApproval
	attempts    map[uint]models.ExecutionAttempt
	outbox      []models.OutboxMessage
}

func newMemStore() *memStore {
	return &memStore{
		tok: models.Tokenization{
			ID:                1,
			TreasurySigners:   models.StringList{"alice", "bob", "carol"},
			ApprovalThreshold: 2,
			TreasuryAccount:   "treasury-1",
			LedgerTopicID:     "topic-1",
		},
		proposals:   map[uint]models.GovernanceProposal{},
		withdrawals: map[uint]models.TreasuryTransaction{},
		attempts:    map[uint]models.ExecutionAttempt{},
	}
}

func (m *memStore) id() uint {
	m.nextID++
	return m.nextID
}

func (m *memStore) GetTokenization(ctx context.Context, id uint) (*models.Tokenization, error) {
	if id != m.tok.ID {
		return nil, errs.NotFound("tokenization", id)
	}
	t := m.tok
	return &t, nil
}

func (m *memStore) GetProposal(ctx context.Context, id uint) (*models.GovernanceProposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return nil, errs.NotFound("proposal", id)
	}
	return &p, nil
}

func (m *memStore) CreateWithdrawal(ctx context.Context, w *models.TreasuryTransaction, build func(*models.TreasuryTransaction) []models.OutboxMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.ID = m.id()
	m.withdrawals[w.ID] = *w
	m.outbox = append(m.outbox, build(w)...)
	return nil
}

func (m *memStore) GetWithdrawal(ctx context.Context, id uint) (*models.TreasuryTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[id]
	if !ok {
		return nil, errs.NotFound("withdrawal", id)
	}
	return &w, nil
}

func (m *memStore) ListWithdrawals(ctx context.Context, tokenizationID uint, status string, limit, offset int) ([]models.TreasuryTransaction, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TreasuryTransaction
	for _, w := range m.withdrawals {
		if w.TokenizationID == tokenizationID && (status == "" || w.Status == status) {
			out = append(out, w)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memStore) ListApprovals(ctx context.Context, withdrawalID uint) ([]models.TreasuryApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TreasuryApproval
	for _, a := range m.approvals {
		if a.TransactionID == withdrawalID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) AddApproval(ctx context.Context, a *models.TreasuryApproval, ready func(*models.TreasuryTransaction) []models.OutboxMessage) (*models.TreasuryTransaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.withdrawals[a.TransactionID]
	for _, existing := range m.approvals {
		if existing.TransactionID == a.TransactionID && existing.ApproverID == a.ApproverID {
			return &w, false, nil
		}
	}
	a.ID = m.id()
	m.approvals = append(m.approvals, *a)
	w.ApprovalsCount++
	m.withdrawals[w.ID] = w
	if ready != nil {
		m.outbox = append(m.outbox, ready(&w)...)
	}
	return &w, true, nil
}

func (m *memStore) ClaimExecution(ctx context.Context, id uint, key string, now, staleBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.withdrawals[id]
	if !w.ExecutionEligible() {
		return false, nil
	}
	if w.ExecutingSince != nil && !w.ExecutingSince.Before(staleBefore) {
		return false, nil
	}
	if w.ExecutionKey != "" && w.ExecutionKey != key {
		return false, nil
	}
	w.ExecutionKey, w.ExecutingSince = key, &now
	m.withdrawals[id] = w
	return true, nil
}

func (m *memStore) ReleaseExecution(ctx context.Context, id uint, rotate bool, validUntil uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.withdrawals[id]
	w.ExecutingSince, w.ExecutionValidUntil = nil, validUntil
	if rotate {
		w.ExecutionKey, w.ExecutionValidUntil = "", 0
	}
	m.withdrawals[id] = w
	return nil
}

func (m *memStore) SaveAttempt(ctx context.Context, a *models.ExecutionAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == 0 {
		a.ID = m.id()
	}
	m.attempts[a.ID] = *a
	return nil
}

func (m *memStore) ListAttempts(ctx context.Context, withdrawalID uint) ([]models.ExecutionAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ExecutionAttempt
	for id := uint(0); id <= m.nextID; id++ {
		if a, ok := m.attempts[id]; ok && a.TransactionID == withdrawalID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) CompleteWithdrawal(ctx context.Context, w *models.TreasuryTransaction, out []models.OutboxMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.withdrawals[w.ID] = *w
	if w.ProposalID != nil {
		p := m.proposals[*w.ProposalID]
		if p.Status == models.ProposalApprovedPendingExecution {
			p.Status = models.ProposalExecuted
			p.ExecutionRef = w.ExecutionReference
			m.proposals[p.ID] = p
		}
	}
	m.outbox = append(m.outbox, out...)
	return nil
}

func (m *memStore) CancelWithdrawal(ctx context.Context, id uint, actor string, out []models.OutboxMessage) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.withdrawals[id]
	if w.Status != models.WithdrawalPendingApproval || w.ExecutionKey != "" {
		return false, nil
	}
	w.Status, w.CancelledBy = models.WithdrawalCancelled, actor
	m.withdrawals[id] = w
	m.outbox = append(m.outbox, out...)
	return true, nil
}

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Transfer(ctx context.Context, req ledger.TransferRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockExecutor) Status(ctx context.Context, key string) (ledger.TransferStatus, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(ledger.TransferStatus), args.Error(1)
}

func (m *mockExecutor) Expired(ctx context.Context, validUntil uint64) (bool, error) {
	args := m.Called(ctx, validUntil)
	return args.Bool(0), args.Error(1)
}

func withKey(key string) interface{} {
	return mock.MatchedBy(func(r ledger.TransferRequest) bool { return r.IdempotencyKey == key })
}

func newTestService(exec ledger.Executor) (*Service, *memStore) {
	store := newMemStore()
	n := 0
	keys := func() string {
		n++
		return fmt.Sprintf("key-%d", n)
	}
	now := func() time.Time { return time.Date(2026, time.April, 1, 10, 0, 0, 0, time.UTC) }
	return NewService(store, exec, WithClock(now), WithKeyGenerator(keys)), store
}

func submit(t *testing.T, svc *Service, amount string) *models.TreasuryTransaction {
	t.Helper()
	w, err := svc.CreateWithdrawal(context.Background(), "alice", WithdrawalInput{
		TokenizationID: 1,
		ToAccount:      "contractor-wallet",
		Amount:         decimal.RequireFromString(amount),
		Memo:           "roof repair",
	})
	require.NoError(t, err)
	return w
}

func approveAll(t *testing.T, svc *Service, id uint, approvers ...string) *models.TreasuryTransaction {
	t.Helper()
	var w *models.TreasuryTransaction
	for _, a := range approvers {
		var err error
		w, err = svc.Approve(context.Background(), a, id)
		require.NoError(t, err)
	}
	return w
}

func TestCreateWithdrawal(t *testing.T) {
	svc, store := newTestService(&mockExecutor{})
	w := submit(t, svc, "1200")

	assert.Equal(t, models.WithdrawalPendingApproval, w.Status)
	assert.Equal(t, "treasury-1", w.FromAccount)
	assert.Equal(t, []string{"alice", "bob", "carol"}, w.Metadata.Approvers)
	assert.Equal(t, 2, w.Metadata.RequiredApprovals)
	// notarization plus a request to every other signer
	require.Len(t, store.outbox, 3)
	assert.Equal(t, "bob", store.outbox[1].Payload["user_id"])
}

func TestCreateWithdrawalRejections(t *testing.T) {
	svc, store := newTestService(&mockExecutor{})
	ctx := context.Background()

	_, err := svc.CreateWithdrawal(ctx, "mallory", WithdrawalInput{TokenizationID: 1, ToAccount: "x", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, errs.ErrNotEligible)

	_, err = svc.CreateWithdrawal(ctx, "alice", WithdrawalInput{TokenizationID: 1, ToAccount: "x", Amount: decimal.Zero})
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = svc.CreateWithdrawal(ctx, "alice", WithdrawalInput{TokenizationID: 1, Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, errs.ErrValidation)

	store.tok.ApprovalThreshold = 4
	_, err = svc.CreateWithdrawal(ctx, "alice", WithdrawalInput{TokenizationID: 1, ToAccount: "x", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestValidateSignerSet(t *testing.T) {
	assert.NoError(t, ValidateSignerSet([]string{"a", "b"}, 2))
	assert.ErrorIs(t, ValidateSignerSet([]string{"a", "a"}, 1), errs.ErrValidation)
	assert.ErrorIs(t, ValidateSignerSet([]string{"a"}, 0), errs.ErrValidation)
	assert.ErrorIs(t, ValidateSignerSet(nil, 1), errs.ErrInvalidState)
}

func TestDistinctApprovalsReachThreshold(t *testing.T) {
	svc, store := newTestService(&mockExecutor{})
	w := submit(t, svc, "1200")
	ctx := context.Background()

	w, err := svc.Approve(ctx, "alice", w.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, w.ApprovalsCount)
	assert.False(t, w.ExecutionEligible())

	w, err = svc.Approve(ctx, "alice", w.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, w.ApprovalsCount, "a repeated approval does not count")
	assert.False(t, w.ExecutionEligible())

	_, err = svc.Execute(ctx, "alice", w.ID)
	assert.ErrorIs(t, err, errs.ErrInvalidState)

	w, err = svc.Approve(ctx, "bob", w.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, w.ApprovalsCount)
	assert.True(t, w.ExecutionEligible())

	approvals, err := store.ListApprovals(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, approvals, 2)
	last := store.outbox[len(store.outbox)-1]
	assert.Equal(t, "withdrawal_ready", last.Payload["kind"])
}

func TestApproveRejectsNonSigner(t *testing.T) {
	svc, _ := newTestService(&mockExecutor{})
	w := submit(t, svc, "10")

	_, err := svc.Approve(context.Background(), "mallory", w.ID)
	assert.ErrorIs(t, err, errs.ErrNotEligible)
}

func TestExecuteCompletes(t *testing.T) {
	exec := &mockExecutor{}
	svc, store := newTestService(exec)
	w := submit(t, svc, "1200")
	approveAll(t, svc, w.ID, "alice", "bob")
	exec.On("Transfer", mock.Anything, withKey("key-1")).Return("sig-1", nil).Once()

	done, err := svc.Execute(context.Background(), "carol", w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalCompleted, done.Status)
	assert.Equal(t, "sig-1", done.ExecutionReference)
	require.NotNil(t, done.ExecutedAt)

	again, err := svc.Execute(context.Background(), "carol", w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalCompleted, again.Status)
	exec.AssertNumberOfCalls(t, "Transfer", 1)

	attempts, _ := store.ListAttempts(context.Background(), w.ID)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.AttemptConfirmed, attempts[0].Status)
}

func TestExecuteFailureStaysPendingAndRotatesKey(t *testing.T) {
	exec := &mockExecutor{}
	svc, store := newTestService(exec)
	w := submit(t, svc, "1200")
	approveAll(t, svc, w.ID, "alice", "bob")
	exec.On("Transfer", mock.Anything, withKey("key-1")).Return("", errors.New("insufficient funds")).Once()
	exec.On("Transfer", mock.Anything, withKey("key-2")).Return("sig-2", nil).Once()

	_, err := svc.Execute(context.Background(), "alice", w.ID)
	assert.ErrorIs(t, err, errs.ErrExecution)
	got := store.withdrawals[w.ID]
	assert.Equal(t, models.WithdrawalPendingApproval, got.Status)
	assert.Empty(t, got.ExecutionKey)
	assert.Nil(t, got.ExecutingSince)

	done, err := svc.Execute(context.Background(), "alice", w.ID)
	require.NoError(t, err)
	assert.Equal(t, "sig-2", done.ExecutionReference)
	exec.AssertExpectations(t)

	attempts, _ := store.ListAttempts(context.Background(), w.ID)
	require.Len(t, attempts, 2)
	assert.Equal(t, models.AttemptFailed, attempts[0].Status)
	assert.Equal(t, "insufficient funds", attempts[0].Error)
}

func TestExecuteUnknownOutcomeReusesKey(t *testing.T) {
	exec := &mockExecutor{}
	svc, store := newTestService(exec)
	w := submit(t, svc, "1200")
	approveAll(t, svc, w.ID, "alice", "bob")
	exec.On("Transfer", mock.Anything, withKey("key-1")).Return("", errs.Execution(errors.New("timeout"), true)).Once()

	_, err := svc.Execute(context.Background(), "alice", w.ID)
	var ee *errs.ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.True(t, ee.Unknown)
	got := store.withdrawals[w.ID]
	assert.Equal(t, "key-1", got.ExecutionKey)
	assert.Equal(t, models.WithdrawalPendingApproval, got.Status)

	_, err = svc.Cancel(context.Background(), "alice", w.ID)
	assert.ErrorIs(t, err, errs.ErrInvalidState, "cannot cancel while the transfer may have happened")

	// the first transfer actually landed
	exec.On("Status", mock.Anything, "key-1").Return(ledger.TransferStatus{State: ledger.TransferConfirmed, Reference: "sig-late"}, nil).Once()
	done, err := svc.Execute(context.Background(), "bob", w.ID)
	require.NoError(t, err)
	assert.Equal(t, "sig-late", done.ExecutionReference)
	exec.AssertNumberOfCalls(t, "Transfer", 1)
}

func TestExecuteUnknownOutcomeResubmitsSameKey(t *testing.T) {
	exec := &mockExecutor{}
	svc, _ := newTestService(exec)
	w := submit(t, svc, "1200")
	approveAll(t, svc, w.ID, "alice", "bob")
	exec.On("Transfer", mock.Anything, withKey("key-1")).Return("", context.DeadlineExceeded).Once()
	exec.On("Status", mock.Anything, "key-1").Return(ledger.TransferStatus{State: ledger.TransferNotFound}, nil).Once()
	exec.On("Transfer", mock.Anything, withKey("key-1")).Return("sig-1", nil).Once()

	_, err := svc.Execute(context.Background(), "alice", w.ID)
	require.Error(t, err)

	done, err := svc.Execute(context.Background(), "alice", w.ID)
	require.NoError(t, err)
	assert.Equal(t, "sig-1", done.ExecutionReference)
	exec.AssertExpectations(t)
}

func TestExecuteWaitsForInFlightTransferToExpire(t *testing.T) {
	exec := &mockExecutor{}
	svc, store := newTestService(exec)
	w := submit(t, svc, "1200")
	approveAll(t, svc, w.ID, "alice", "bob")
	exec.On("Transfer", mock.Anything, withKey("key-1")).
		Return("", errs.ExecutionInFlight(errors.New("not confirmed"), 9000)).Once()

	_, err := svc.Execute(context.Background(), "alice", w.ID)
	assert.EqualValues(t, 9000, errs.InFlightUntil(err))
	got := store.withdrawals[w.ID]
	assert.Equal(t, "key-1", got.ExecutionKey)
	assert.EqualValues(t, 9000, got.ExecutionValidUntil)
	attempts, _ := store.ListAttempts(context.Background(), w.ID)
	require.Len(t, attempts, 1)
	assert.EqualValues(t, 9000, attempts[0].ValidUntil)

	// still within the window and not yet visible: no resubmission
	exec.On("Expired", mock.Anything, uint64(9000)).Return(false, nil).Once()
	exec.On("Status", mock.Anything, "key-1").Return(ledger.TransferStatus{State: ledger.TransferNotFound}, nil).Once()
	_, err = svc.Execute(context.Background(), "bob", w.ID)
	assert.EqualValues(t, 9000, errs.InFlightUntil(err))
	exec.AssertNumberOfCalls(t, "Transfer", 1)
	assert.Nil(t, store.withdrawals[w.ID].ExecutingSince)

	// expired and never landed: the same key is sent again
	exec.On("Expired", mock.Anything, uint64(9000)).Return(true, nil).Once()
	exec.On("Status", mock.Anything, "key-1").Return(ledger.TransferStatus{State: ledger.TransferNotFound}, nil).Once()
	exec.On("Transfer", mock.Anything, withKey("key-1")).Return("sig-1", nil).Once()
	done, err := svc.Execute(context.Background(), "bob", w.ID)
	require.NoError(t, err)
	assert.Equal(t, "sig-1", done.ExecutionReference)
	exec.AssertExpectations(t)
}

func TestExecuteKeepsHoldWhenExpiryUnknown(t *testing.T) {
	exec := &mockExecutor{}
	svc, store := newTestService(exec)
	w := submit(t, svc, "1200")
	approveAll(t, svc, w.ID, "alice", "bob")
	exec.On("Transfer", mock.Anything, withKey("key-1")).
		Return("", errs.ExecutionInFlight(errors.New("not confirmed"), 42)).Once()
	_, err := svc.Execute(context.Background(), "alice", w.ID)
	require.Error(t, err)

	exec.On("Expired", mock.Anything, uint64(42)).Return(false, errors.New("rpc down")).Once()
	_, err = svc.Execute(context.Background(), "alice", w.ID)
	assert.EqualValues(t, 42, errs.InFlightUntil(err))
	exec.AssertNotCalled(t, "Status", mock.Anything, mock.Anything)
	exec.AssertNumberOfCalls(t, "Transfer", 1)
	assert.EqualValues(t, 42, store.withdrawals[w.ID].ExecutionValidUntil)
}

func TestConcurrentApprovalsNotifyReadyOnce(t *testing.T) {
	svc, store := newTestService(&mockExecutor{})
	store.tok.ApprovalThreshold = 3
	store.tok.TreasurySigners = models.StringList{"alice", "bob", "carol", "dave"}
	w := submit(t, svc, "1200")

	var wg sync.WaitGroup
	for _, a := range []string{"alice", "bob", "carol", "dave"} {
		wg.Add(1)
		go func(actor string) {
			defer wg.Done()
			_, _ = svc.Approve(context.Background(), actor, w.ID)
		}(a)
	}
	wg.Wait()

	ready := 0
	for _, m := range store.outbox {
		if m.Payload["kind"] == "withdrawal_ready" {
			ready++
		}
	}
	assert.Equal(t, 1, ready)
	assert.GreaterOrEqual(t, store.withdrawals[w.ID].ApprovalsCount, 3)
}

func TestExecuteRejectsConcurrentClaim(t *testing.T) {
	exec := &mockExecutor{}
	svc, store := newTestService(exec)
	w := submit(t, svc, "1200")
	approveAll(t, svc, w.ID, "alice", "bob")
	claimed, err := store.ClaimExecution(context.Background(), w.ID, "other-key", svc.now(), svc.now().Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = svc.Execute(context.Background(), "alice", w.ID)
	assert.ErrorIs(t, err, errs.ErrInvalidState)
	exec.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)
}

func TestCancel(t *testing.T) {
	svc, store := newTestService(&mockExecutor{})
	w := submit(t, svc, "10")

	_, err := svc.Cancel(context.Background(), "mallory", w.ID)
	assert.ErrorIs(t, err, errs.ErrNotEligible)

	cancelled, err := svc.Cancel(context.Background(), "bob", w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalCancelled, cancelled.Status)
	assert.Equal(t, "bob", store.withdrawals[w.ID].CancelledBy)

	_, err = svc.Approve(context.Background(), "carol", w.ID)
	assert.ErrorIs(t, err, errs.ErrInvalidState)
	_, err = svc.Cancel(context.Background(), "alice", w.ID)
	assert.ErrorIs(t, err, errs.ErrInvalidState)
}

func TestWithdrawalExecutesLinkedProposal(t *testing.T) {
	exec := &mockExecutor{}
	svc, store := newTestService(exec)
	store.proposals[7] = models.GovernanceProposal{ID: 7, TokenizationID: 1, Status: models.ProposalApprovedPendingExecution, Budget: decimal.NewFromInt(1000)}
	id := uint(7)

	_, err := svc.CreateWithdrawal(context.Background(), "alice", WithdrawalInput{TokenizationID: 1, ToAccount: "x", Amount: decimal.NewFromInt(1500), ProposalID: &id})
	assert.ErrorIs(t, err, errs.ErrValidation)

	w, err := svc.CreateWithdrawal(context.Background(), "alice", WithdrawalInput{TokenizationID: 1, ToAccount: "x", Amount: decimal.NewFromInt(800), ProposalID: &id})
	require.NoError(t, err)
	approveAll(t, svc, w.ID, "alice", "carol")
	exec.On("Transfer", mock.Anything, mock.Anything).Return("sig-p", nil).Once()

	_, err = svc.Execute(context.Background(), "alice", w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalExecuted, store.proposals[7].Status)
	assert.Equal(t, "sig-p", store.proposals[7].ExecutionRef)
}

func TestWithdrawalRejectsUnapprovedProposal(t *testing.T) {
	svc, store := newTestService(&mockExecutor{})
	store.proposals[8] = models.GovernanceProposal{ID: 8, TokenizationID: 1, Status: models.ProposalRejected, Budget: decimal.NewFromInt(1000)}
	id := uint(8)

	_, err := svc.CreateWithdrawal(context.Background(), "alice", WithdrawalInput{TokenizationID: 1, ToAccount: "x", Amount: decimal.NewFromInt(10), ProposalID: &id})
	assert.ErrorIs(t, err, errs.ErrInvalidState)
}
