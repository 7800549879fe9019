package models

import (
	"time"

	"gorm.io/gorm"
)

// Outbox message kinds.
const (
	OutboxNotarize = "notarize"
	OutboxNotify   = "notify"
	OutboxPayout   = "payout"
)

// Outbox message statuses.
const (
	OutboxPending = "pending"
	OutboxSent    = "sent"
	OutboxDead    = "dead"
)

// OutboxMessage is a side effect written in the same transaction as the state
// change that caused it, delivered later by the relay.
type OutboxMessage struct {
	ID             uint       `gorm:"primarykey" json:"id"`
	Kind           string     `gorm:"size:16;not null;index" json:"kind"`
	IdempotencyKey string     `gorm:"size:128;not null;uniqueIndex" json:"idempotency_key"`
	SubjectType    string     `gorm:"size:32;not null" json:"subject_type"`
	SubjectID      uint       `gorm:"not null" json:"subject_id"`
	Payload        JSONMap    `gorm:"type:jsonb" json:"payload"`
	Status         string     `gorm:"size:16;not null;default:'pending';index" json:"status"`
	Attempts       int        `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt  time.Time  `gorm:"not null;index" json:"next_attempt_at"`
	LastError      string     `gorm:"type:text" json:"last_error"`
	SentAt         *time.Time `json:"sent_at"`
	CreatedAt      time.Time  `json:"created_at" gorm:"autoCreateTime"`
}

func (OutboxMessage) TableName() string {
	return "outbox_messages"
}

// Notification is one message for one user.
type Notification struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	UserID      string    `gorm:"size:64;not null;index" json:"user_id"`
	Kind        string    `gorm:"size:32;not null" json:"kind"`
	Title       string    `gorm:"size:200;not null" json:"title"`
	Body        string    `gorm:"type:text" json:"body"`
	SubjectType string    `gorm:"size:32" json:"subject_type"`
	SubjectID   uint      `json:"subject_id"`
	DedupKey    string    `gorm:"size:128;uniqueIndex" json:"-"`
	Read        bool      `gorm:"default:false" json:"read"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (Notification) TableName() string {
	return "notifications"
}

// NotarizationReceipt records a confirmed submission to the external ledger.
type NotarizationReceipt struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	SubjectType    string    `gorm:"size:32;not null;index:idx_receipt_subject" json:"subject_type"`
	SubjectID      uint      `gorm:"not null;index:idx_receipt_subject" json:"subject_id"`
	TopicID        string    `gorm:"size:64" json:"topic_id"`
	TransactionID  string    `gorm:"size:128;not null" json:"transaction_id"`
	SequenceNumber uint64    `json:"sequence_number"`
	OutboxKey      string    `gorm:"size:128;uniqueIndex" json:"-"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (NotarizationReceipt) TableName() string {
	return "notarization_receipts"
}

// BeforeCreate makes new messages immediately due.
func (m *OutboxMessage) BeforeCreate(tx *gorm.DB) error {
	if m.Status == "" {
		m.Status = OutboxPending
	}
	if m.NextAttemptAt.IsZero() {
		m.NextAttemptAt = time.Now()
	}
	return nil
}
