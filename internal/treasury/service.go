package treasury

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"estatesettle/internal/errs"
	"estatesettle/internal/ledger"
	"estatesettle/internal/models"
	"estatesettle/internal/outbox"
)

// DefaultClaimTimeout is how long an execution claim blocks other executors.
const DefaultClaimTimeout = 5 * time.Minute

// WithdrawalInput is a signer's request to move treasury funds.
type WithdrawalInput struct {
	TokenizationID uint            `json:"tokenization_id" binding:"required"`
	ToAccount      string          `json:"to_account" binding:"required"`
	Amount         decimal.Decimal `json:"amount"`
	Memo           string          `json:"memo"`
	ProposalID     *uint           `json:"proposal_id"`
}

// Service runs multi-signature withdrawals: pending_approval until the
// threshold of distinct approvals, then executed once through the executor.
type Service struct {
	store        Store
	exec         ledger.Executor
	claimTimeout time.Duration
	now          func() time.Time
	newKey       func() string
	log          *logrus.Entry
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithClaimTimeout(d time.Duration) Option { return func(s *Service) { s.claimTimeout = d } }

func WithKeyGenerator(f func() string) Option { return func(s *Service) { s.newKey = f } }

func NewService(store Store, exec ledger.Executor, opts ...Option) *Service {
	s := &Service{
		store:        store,
		exec:         exec,
		claimTimeout: DefaultClaimTimeout,
		now:          time.Now,
		newKey:       uuid.NewString,
		log:          logrus.WithField("module", "treasury"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateWithdrawal snapshots the tokenization's signer set and threshold and
// opens the request for approval.
func (s *Service) CreateWithdrawal(ctx context.Context, actor string, in WithdrawalInput) (*models.TreasuryTransaction, error) {
	in.ToAccount = strings.TrimSpace(in.ToAccount)
	if in.ToAccount == "" {
		return nil, errs.Validation("to_account is required")
	}
	if !in.Amount.IsPositive() {
		return nil, errs.Validation("amount must be positive, got %s", in.Amount)
	}
	if len(in.Memo) > 200 {
		return nil, errs.Validation("memo must be at most 200 characters")
	}
	tok, err := s.store.GetTokenization(ctx, in.TokenizationID)
	if err != nil {
		return nil, err
	}
	signers := []string(tok.TreasurySigners)
	if err := ValidateSignerSet(signers, tok.ApprovalThreshold); err != nil {
		return nil, err
	}
	if tok.TreasuryAccount == "" {
		return nil, errs.InvalidState("tokenization %d has no treasury account", tok.ID)
	}
	if !tok.TreasurySigners.Contains(actor) {
		return nil, errs.NotEligible("%s is not a treasury signer of tokenization %d", actor, tok.ID)
	}
	if in.ProposalID != nil {
		if err := s.checkProposal(ctx, tok.ID, *in.ProposalID, in.Amount); err != nil {
			return nil, err
		}
	}

	w := &models.TreasuryTransaction{
		TokenizationID: tok.ID,
		ProposalID:     in.ProposalID,
		SubmitterID:    actor,
		FromAccount:    tok.TreasuryAccount,
		ToAccount:      in.ToAccount,
		Amount:         in.Amount,
		Memo:           in.Memo,
		Status:         models.WithdrawalPendingApproval,
		Metadata: models.WithdrawalMetadata{
			Approvers:         append([]string(nil), signers...),
			RequiredApprovals: tok.ApprovalThreshold,
		},
	}
	topic := tok.LedgerTopicID
	build := func(w *models.TreasuryTransaction) []models.OutboxMessage {
		out := []models.OutboxMessage{outbox.Notarize(outbox.SubjectWithdrawal, w.ID, topic, "submitted", map[string]interface{}{
			"tokenization_id": w.TokenizationID,
			"submitter":       w.SubmitterID,
			"to":              w.ToAccount,
			"amount":          w.Amount.String(),
			"required":        w.Metadata.RequiredApprovals,
		})}
		for _, a := range w.Metadata.Approvers {
			if a == actor {
				continue
			}
			body := fmt.Sprintf("%s requests %s to %s.", actor, w.Amount.String(), w.ToAccount)
			out = append(out, outbox.Notify(a, "withdrawal_approval_requested", "Treasury withdrawal needs your approval", body, outbox.SubjectWithdrawal, w.ID))
		}
		return out
	}
	if err := s.store.CreateWithdrawal(ctx, w, build); err != nil {
		return nil, err
	}
	s.log.Infof("> withdrawal %d created by %s: %s to %s (%d of %d approvals required)",
		w.ID, actor, w.Amount.String(), w.ToAccount, w.Metadata.RequiredApprovals, len(signers))
	return w, nil
}

// ValidateSignerSet checks 1 <= threshold <= len(signers) over distinct signers.
func ValidateSignerSet(signers []string, threshold int) error {
	if len(signers) == 0 {
		return errs.InvalidState("no treasury signers configured")
	}
	seen := make(map[string]bool, len(signers))
	for _, s := range signers {
		if s == "" || seen[s] {
			return errs.Validation("treasury signers must be distinct and non-empty")
		}
		seen[s] = true
	}
	if threshold < 1 || threshold > len(signers) {
		return errs.Validation("approval threshold must be between 1 and %d, got %d", len(signers), threshold)
	}
	return nil
}

func (s *Service) checkProposal(ctx context.Context, tokenizationID, proposalID uint, amount decimal.Decimal) error {
	p, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	switch {
	case p.TokenizationID != tokenizationID:
		return errs.Validation("proposal %d belongs to another tokenization", proposalID)
	case p.Status != models.ProposalApprovedPendingExecution:
		return errs.InvalidState("proposal %d is %s, not awaiting execution", proposalID, p.Status)
	case amount.GreaterThan(p.Budget):
		return errs.Validation("amount %s exceeds proposal budget %s", amount, p.Budget)
	}
	return nil
}

// Approve records actor's approval. Approving twice is a no-op that returns
// the withdrawal unchanged.
func (s *Service) Approve(ctx context.Context, actor string, id uint) (*models.TreasuryTransaction, error) {
	w, err := s.store.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Status != models.WithdrawalPendingApproval {
		return nil, errs.InvalidState("withdrawal %d is %s", w.ID, w.Status)
	}
	if !w.Metadata.IsApprover(actor) {
		return nil, errs.NotEligible("%s is not an approver of withdrawal %d", actor, w.ID)
	}

	// evaluated on the locked row so only the approval that reaches the threshold notifies
	ready := func(w *models.TreasuryTransaction) []models.OutboxMessage {
		if w.ApprovalsCount != w.Metadata.RequiredApprovals {
			return nil
		}
		return []models.OutboxMessage{outbox.Notify(w.SubmitterID, "withdrawal_ready", "Withdrawal ready for execution",
			fmt.Sprintf("Withdrawal of %s reached %d approvals.", w.Amount.String(), w.Metadata.RequiredApprovals),
			outbox.SubjectWithdrawal, w.ID)}
	}
	updated, added, err := s.store.AddApproval(ctx, &models.TreasuryApproval{TransactionID: w.ID, ApproverID: actor}, ready)
	if err != nil {
		return nil, err
	}
	if added {
		s.log.Infof("> withdrawal %d approved by %s (%d/%d)", w.ID, actor, updated.ApprovalsCount, updated.Metadata.RequiredApprovals)
	}
	return updated, nil
}

// Execute performs the transfer of an execution-eligible withdrawal. A failed
// attempt leaves it pending_approval for retry. When a previous attempt's
// outcome is unknown the same idempotency key is reused and the executor is
// asked about it before anything is resubmitted. A previous broadcast that can
// still land blocks resubmission until its block height has passed.
func (s *Service) Execute(ctx context.Context, actor string, id uint) (*models.TreasuryTransaction, error) {
	w, err := s.store.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Status == models.WithdrawalCompleted {
		return w, nil
	}
	if w.Status != models.WithdrawalPendingApproval {
		return nil, errs.InvalidState("withdrawal %d is %s", w.ID, w.Status)
	}
	if actor != w.SubmitterID && !w.Metadata.IsApprover(actor) {
		return nil, errs.NotEligible("%s may not execute withdrawal %d", actor, w.ID)
	}
	if !w.ExecutionEligible() {
		return nil, errs.InvalidState("withdrawal %d has %d of %d required approvals", w.ID, w.ApprovalsCount, w.Metadata.RequiredApprovals)
	}

	now := s.now()
	key := w.ExecutionKey
	resumed := key != ""
	if !resumed {
		key = s.newKey()
	}
	ok, err := s.store.ClaimExecution(ctx, w.ID, key, now, now.Add(-s.claimTimeout))
	if err != nil {
		return nil, fmt.Errorf("claim withdrawal %d: %w", w.ID, err)
	}
	if !ok {
		return nil, errs.InvalidState("withdrawal %d is already being executed", w.ID)
	}
	w.ExecutionKey = key

	if resumed {
		if done, err := s.resume(ctx, w); done != nil || err != nil {
			return done, err
		}
	}

	attempt := &models.ExecutionAttempt{TransactionID: w.ID, IdempotencyKey: key, Status: models.AttemptInFlight}
	if err := s.store.SaveAttempt(ctx, attempt); err != nil {
		s.release(w.ID, false, w.ExecutionValidUntil)
		return nil, fmt.Errorf("record attempt: %w", err)
	}

	ref, err := s.exec.Transfer(ctx, ledger.TransferRequest{
		From:           w.FromAccount,
		To:             w.ToAccount,
		Amount:         w.Amount,
		Memo:           w.Memo,
		IdempotencyKey: key,
	})
	if err != nil {
		unknown := outcomeUnknown(err)
		attempt.Error = err.Error()
		attempt.Status = models.AttemptFailed
		if unknown {
			attempt.Status = models.AttemptUnknown
			attempt.ValidUntil = errs.InFlightUntil(err)
		}
		if serr := s.store.SaveAttempt(context.Background(), attempt); serr != nil {
			s.log.WithError(serr).Errorf("> record attempt for withdrawal %d", w.ID)
		}
		s.release(w.ID, !unknown, attempt.ValidUntil)
		s.log.WithError(err).Warnf("> withdrawal %d execution failed (unknown=%t)", w.ID, unknown)
		var ee *errs.ExecutionError
		if errors.As(err, &ee) {
			return nil, err
		}
		return nil, errs.Execution(err, unknown)
	}

	attempt.Status, attempt.Reference = models.AttemptConfirmed, ref
	if err := s.store.SaveAttempt(ctx, attempt); err != nil {
		s.log.WithError(err).Errorf("> record attempt for withdrawal %d", w.ID)
	}
	return s.complete(ctx, w, ref)
}

// resume settles a previous attempt under w's key. It returns the completed
// withdrawal if that attempt landed, an error while it may still land, and
// neither when a new broadcast under the key is safe.
func (s *Service) resume(ctx context.Context, w *models.TreasuryTransaction) (*models.TreasuryTransaction, error) {
	key, until := w.ExecutionKey, w.ExecutionValidUntil
	expired := true
	if until > 0 {
		var err error
		// expiry is read before status so a late landing is still seen
		if expired, err = s.exec.Expired(ctx, until); err != nil {
			s.release(w.ID, false, until)
			return nil, errs.ExecutionInFlight(fmt.Errorf("check expiry of attempt %s: %w", key, err), until)
		}
	}
	st, err := s.exec.Status(ctx, key)
	if err != nil {
		s.release(w.ID, false, until)
		return nil, errs.ExecutionInFlight(fmt.Errorf("query previous attempt %s: %w", key, err), until)
	}
	if st.State == ledger.TransferConfirmed {
		s.saveAttempt(w.ID, key, models.AttemptConfirmed, st.Reference, "")
		return s.complete(ctx, w, st.Reference)
	}
	if !expired {
		s.release(w.ID, false, until)
		return nil, errs.ExecutionInFlight(fmt.Errorf("withdrawal %d: attempt %s may land until block %d", w.ID, key, until), until)
	}
	return nil, nil
}

func (s *Service) complete(ctx context.Context, w *models.TreasuryTransaction, ref string) (*models.TreasuryTransaction, error) {
	now := s.now()
	w.Status = models.WithdrawalCompleted
	w.ExecutionReference = ref
	w.ExecutedAt = &now
	w.ExecutingSince = nil

	tok, err := s.store.GetTokenization(ctx, w.TokenizationID)
	if err != nil {
		return nil, err
	}
	out := []models.OutboxMessage{outbox.Notarize(outbox.SubjectWithdrawal, w.ID, tok.LedgerTopicID, "executed", map[string]interface{}{
		"reference": ref,
		"amount":    w.Amount.String(),
		"to":        w.ToAccount,
	})}
	for _, a := range w.Metadata.Approvers {
		out = append(out, outbox.Notify(a, "withdrawal_executed", "Treasury withdrawal executed",
			fmt.Sprintf("%s sent to %s (%s).", w.Amount.String(), w.ToAccount, ref), outbox.SubjectWithdrawal, w.ID))
	}
	// the transfer already happened; keep retrying the bookkeeping on a fresh context
	if err := s.store.CompleteWithdrawal(context.Background(), w, out); err != nil {
		return nil, fmt.Errorf("complete withdrawal %d after transfer %s: %w", w.ID, ref, err)
	}
	s.log.Infof("> withdrawal %d executed: %s", w.ID, ref)
	return w, nil
}

// Cancel withdraws a pending request. Only the submitter or an approver may cancel.
func (s *Service) Cancel(ctx context.Context, actor string, id uint) (*models.TreasuryTransaction, error) {
	w, err := s.store.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Status != models.WithdrawalPendingApproval {
		return nil, errs.InvalidState("withdrawal %d is %s", w.ID, w.Status)
	}
	if actor != w.SubmitterID && !w.Metadata.IsApprover(actor) {
		return nil, errs.NotEligible("%s may not cancel withdrawal %d", actor, w.ID)
	}
	if w.ExecutionKey != "" {
		return nil, errs.InvalidState("withdrawal %d has an execution with unknown outcome; retry execute to settle it", w.ID)
	}

	out := []models.OutboxMessage{}
	for _, a := range append([]string{w.SubmitterID}, w.Metadata.Approvers...) {
		if a == actor {
			continue
		}
		out = append(out, outbox.Notify(a, "withdrawal_cancelled", "Treasury withdrawal cancelled",
			fmt.Sprintf("%s cancelled the withdrawal of %s.", actor, w.Amount.String()), outbox.SubjectWithdrawal, w.ID))
	}
	ok, err := s.store.CancelWithdrawal(ctx, w.ID, actor, dedupe(out))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.InvalidState("withdrawal %d can no longer be cancelled", w.ID)
	}
	w.Status, w.CancelledBy = models.WithdrawalCancelled, actor
	s.log.Infof("> withdrawal %d cancelled by %s", w.ID, actor)
	return w, nil
}

// Get returns a withdrawal with its approvals and execution attempts.
func (s *Service) Get(ctx context.Context, id uint) (*models.TreasuryTransaction, []models.TreasuryApproval, []models.ExecutionAttempt, error) {
	w, err := s.store.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	approvals, err := s.store.ListApprovals(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	attempts, err := s.store.ListAttempts(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	return w, approvals, attempts, nil
}

// List pages a tokenization's withdrawals.
func (s *Service) List(ctx context.Context, tokenizationID uint, status string, limit, offset int) ([]models.TreasuryTransaction, int64, error) {
	return s.store.ListWithdrawals(ctx, tokenizationID, status, limit, offset)
}

func (s *Service) release(id uint, rotate bool, validUntil uint64) {
	if err := s.store.ReleaseExecution(context.Background(), id, rotate, validUntil); err != nil {
		s.log.WithError(err).Errorf("> release execution claim on withdrawal %d", id)
	}
}

func (s *Service) saveAttempt(id uint, key, status, ref, msg string) {
	a := &models.ExecutionAttempt{TransactionID: id, IdempotencyKey: key, Status: status, Reference: ref, Error: msg}
	if err := s.store.SaveAttempt(context.Background(), a); err != nil {
		s.log.WithError(err).Errorf("> record attempt for withdrawal %d", id)
	}
}

func outcomeUnknown(err error) bool {
	var ee *errs.ExecutionError
	if errors.As(err, &ee) {
		return ee.Unknown
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func dedupe(msgs []models.OutboxMessage) []models.OutboxMessage {
	seen := map[string]bool{}
	out := msgs[:0]
	for _, m := range msgs {
		if seen[m.IdempotencyKey] {
			continue
		}
		seen[m.IdempotencyKey] = true
		out = append(out, m)
	}
	return out
}
