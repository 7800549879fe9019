package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Withdrawal statuses.
const (
	WithdrawalPendingApproval = "pending_approval"
	WithdrawalCompleted       = "completed"
	WithdrawalCancelled       = "cancelled"
)

// Execution attempt statuses.
const (
	AttemptInFlight  = "in_flight"
	AttemptConfirmed = "confirmed"
	AttemptFailed    = "failed"
	AttemptUnknown   = "unknown"
)

// WithdrawalMetadata snapshots the approver set and threshold at submission time.
type WithdrawalMetadata struct {
	Approvers         []string `json:"approvers"`
	RequiredApprovals int      `json:"required_approvals"`
}

// Value implements driver.Valuer
func (m WithdrawalMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *WithdrawalMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = WithdrawalMetadata{}
		return nil
	}
	bytes, err := jsonBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, m)
}

// IsApprover reports whether id belongs to the snapshotted approver set.
func (m WithdrawalMetadata) IsApprover(id string) bool {
	return StringList(m.Approvers).Contains(id)
}

// TreasuryTransaction is a multi-signature withdrawal from a property treasury.
type TreasuryTransaction struct {
	ID                 uint               `gorm:"primarykey" json:"id"`
	TokenizationID     uint               `gorm:"not null;index" json:"tokenization_id"`
	ProposalID         *uint              `gorm:"index" json:"proposal_id"`
	SubmitterID        string             `gorm:"size:64;not null" json:"submitter_id"`
	FromAccount        string             `gorm:"size:64;not null" json:"from_account"`
	ToAccount          string             `gorm:"size:64;not null" json:"to_account"`
	Amount             decimal.Decimal    `gorm:"type:numeric(30,8);not null" json:"amount"`
	Memo               string             `gorm:"size:200" json:"memo"`
	Status             string             `gorm:"size:20;not null;index" json:"status"`
	ApprovalsCount     int                `gorm:"not null;default:0" json:"approvals_count"`
	Metadata           WithdrawalMetadata `gorm:"type:jsonb" json:"metadata"`
	ExecutionKey       string             `gorm:"size:64" json:"execution_key"`
	ExecutingSince     *time.Time         `json:"executing_since"`
	ExecutionReference string             `gorm:"size:128" json:"execution_reference"`
	ExecutedAt         *time.Time         `json:"executed_at"`
	CancelledBy        string             `gorm:"size:64" json:"cancelled_by"`
	CreatedAt          time.Time          `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt          time.Time          `json:"updated_at" gorm:"autoUpdateTime"`

	// ExecutionValidUntil holds back a resubmission of ExecutionKey while an
	// unobserved transfer can still land.
	ExecutionValidUntil uint64 `gorm:"not null;default:0" json:"execution_valid_until"`
}

func (TreasuryTransaction) TableName() string {
	return "treasury_transactions"
}

// ExecutionEligible reports whether enough distinct approvals were collected.
func (t TreasuryTransaction) ExecutionEligible() bool {
	return t.Status == WithdrawalPendingApproval && t.ApprovalsCount >= t.Metadata.RequiredApprovals
}

// TreasuryApproval records one signer's approval. One per (transaction, approver).
type TreasuryApproval struct {
	ID            uint      `gorm:"primarykey" json:"id"`
	TransactionID uint      `gorm:"not null;uniqueIndex:idx_approval_signer" json:"transaction_id"`
	ApproverID    string    `gorm:"size:64;not null;uniqueIndex:idx_approval_signer" json:"approver_id"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (TreasuryApproval) TableName() string {
	return "treasury_approvals"
}

// ExecutionAttempt is one call to the treasury executor. The idempotency key
// is reused while the outcome of a previous call is unknown.
type ExecutionAttempt struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	TransactionID  uint      `gorm:"not null;index" json:"transaction_id"`
	IdempotencyKey string    `gorm:"size:64;not null;index" json:"idempotency_key"`
	Status         string    `gorm:"size:20;not null" json:"status"`
	Reference      string    `gorm:"size:128" json:"reference"`
	Error          string    `gorm:"type:text" json:"error"`
	ValidUntil     uint64    `gorm:"not null;default:0" json:"valid_until"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (ExecutionAttempt) TableName() string {
	return "treasury_execution_attempts"
}
