package treasury

import (
	"context"
	"time"

	"estatesettle/internal/models"
)

// Store is the persistence the withdrawal flow needs.
type Store interface {
	GetTokenization(ctx context.Context, id uint) (*models.Tokenization, error)
	GetProposal(ctx context.Context, id uint) (*models.GovernanceProposal, error)

	CreateWithdrawal(ctx context.Context, w *models.TreasuryTransaction, build func(*models.TreasuryTransaction) []models.OutboxMessage) error
	GetWithdrawal(ctx context.Context, id uint) (*models.TreasuryTransaction, error)
	ListWithdrawals(ctx context.Context, tokenizationID uint, status string, limit, offset int) ([]models.TreasuryTransaction, int64, error)
	ListApprovals(ctx context.Context, withdrawalID uint) ([]models.TreasuryApproval, error)

	// AddApproval inserts the approval and bumps approvals_count only when the
	// row is new. Only then is ready called, on the locked and incremented
	// withdrawal, and its messages written. It returns the withdrawal as stored.
	AddApproval(ctx context.Context, a *models.TreasuryApproval, ready func(*models.TreasuryTransaction) []models.OutboxMessage) (*models.TreasuryTransaction, bool, error)

	// ClaimExecution sets the execution key and executing_since on an eligible
	// pending withdrawal that is not being executed (or whose claim is older
	// than staleBefore). It reports false when the claim lost.
	ClaimExecution(ctx context.Context, id uint, key string, now, staleBefore time.Time) (bool, error)
	// ReleaseExecution clears executing_since and records validUntil for the
	// kept key. rotate clears the key instead so the next attempt uses a fresh one.
	ReleaseExecution(ctx context.Context, id uint, rotate bool, validUntil uint64) error
	SaveAttempt(ctx context.Context, a *models.ExecutionAttempt) error
	ListAttempts(ctx context.Context, withdrawalID uint) ([]models.ExecutionAttempt, error)
	// CompleteWithdrawal marks the withdrawal completed and a linked proposal
	// executed, in one transaction.
	CompleteWithdrawal(ctx context.Context, w *models.TreasuryTransaction, out []models.OutboxMessage) error

	// CancelWithdrawal cancels a pending withdrawal that is neither executing
	// nor holding an unresolved execution key.
	CancelWithdrawal(ctx context.Context, id uint, actor string, out []models.OutboxMessage) (bool, error)
}
