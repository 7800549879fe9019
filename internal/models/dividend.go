package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Schedule frequencies.
const (
	FrequencyMonthly   = "monthly"
	FrequencyQuarterly = "quarterly"
	FrequencyAnnual    = "annual"
)

// Distribution and payment statuses. Processing is a payment claimed by a
// settlement pass.
const (
	PaymentPending         = "pending"
	PaymentProcessing      = "processing"
	PaymentCompleted       = "completed"
	PaymentFailed          = "failed"
	PaymentPartiallyFailed = "partially_failed"
)

// DividendSchedule is the per-tokenization distribution cursor.
type DividendSchedule struct {
	ID                   uint       `gorm:"primarykey" json:"id"`
	TokenizationID       uint       `gorm:"not null;uniqueIndex" json:"tokenization_id"`
	Frequency            string     `gorm:"size:16;not null;default:'monthly'" json:"frequency"`
	LastDistributionDate *time.Time `json:"last_distribution_date"`
	NextDistributionDate time.Time  `gorm:"not null;index" json:"next_distribution_date"`
	AutoDistribute       bool       `gorm:"default:true" json:"auto_distribute"`
	CreatedAt            time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt            time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

func (DividendSchedule) TableName() string {
	return "dividend_schedules"
}

// DividendDistribution is one settlement event. Amount fields never change
// after creation; only status and payment counters do.
type DividendDistribution struct {
	ID                uint              `gorm:"primarykey" json:"id"`
	TokenizationID    uint              `gorm:"not null;index" json:"tokenization_id"`
	ScheduleID        uint              `gorm:"not null" json:"schedule_id"`
	PeriodLabel       string            `gorm:"size:32;not null" json:"period_label"`
	PeriodStart       time.Time         `gorm:"not null" json:"period_start"`
	PeriodEnd         time.Time         `gorm:"not null" json:"period_end"`
	GrossAmount       decimal.Decimal   `gorm:"type:numeric(30,8);not null" json:"gross_amount"`
	PlatformFeePct    decimal.Decimal   `gorm:"type:numeric(7,4);not null" json:"platform_fee_pct"`
	ManagementFeePct  decimal.Decimal   `gorm:"type:numeric(7,4);not null" json:"management_fee_pct"`
	PlatformFee       decimal.Decimal   `gorm:"type:numeric(30,8);not null" json:"platform_fee"`
	ManagementFee     decimal.Decimal   `gorm:"type:numeric(30,8);not null" json:"management_fee"`
	NetAmount         decimal.Decimal   `gorm:"type:numeric(30,8);not null" json:"net_amount"`
	PerTokenAmount    decimal.Decimal   `gorm:"type:numeric(38,18);not null" json:"per_token_amount"`
	ResidualAmount    decimal.Decimal   `gorm:"type:numeric(30,8);not null;default:0" json:"residual_amount"`
	TotalTokens       decimal.Decimal   `gorm:"type:numeric(30,8);not null" json:"total_tokens"`
	RecipientCount    int               `gorm:"not null" json:"recipient_count"`
	PaymentStatus     string            `gorm:"size:20;not null;default:'pending'" json:"payment_status"`
	PaymentsCompleted int               `gorm:"not null;default:0" json:"payments_completed"`
	PaymentsFailed    int               `gorm:"not null;default:0" json:"payments_failed"`
	CreatedAt         time.Time         `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time         `json:"updated_at" gorm:"autoUpdateTime"`
	Payments          []DividendPayment `gorm:"foreignKey:DistributionID" json:"payments,omitempty"`
}

func (DividendDistribution) TableName() string {
	return "dividend_distributions"
}

// DividendPayment is what one holder is owed from one distribution.
type DividendPayment struct {
	ID             uint            `gorm:"primarykey" json:"id"`
	DistributionID uint            `gorm:"not null;uniqueIndex:idx_payment_holder" json:"distribution_id"`
	HolderID       string          `gorm:"size:64;not null;uniqueIndex:idx_payment_holder" json:"holder_id"`
	WalletAddress  string          `gorm:"size:64" json:"wallet_address"`
	TokensHeld     decimal.Decimal `gorm:"type:numeric(30,8);not null" json:"tokens_held"`
	Amount         decimal.Decimal `gorm:"type:numeric(30,8);not null" json:"amount"`
	Status         string          `gorm:"size:20;not null;default:'pending'" json:"status"`
	Reference      string          `gorm:"size:128" json:"reference"`
	Error          string          `gorm:"type:text" json:"error"`

	// ValidUntil is the last block height at which an unobserved transfer for
	// this payment can still land; 0 when none is outstanding.
	ValidUntil uint64     `gorm:"not null;default:0" json:"valid_until"`
	ClaimedBy  string     `gorm:"size:64" json:"-"`
	ClaimedAt  *time.Time `json:"claimed_at"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (DividendPayment) TableName() string {
	return "dividend_payments"
}

// DistributionLock exists only while a run for the tokenization is in flight.
type DistributionLock struct {
	TokenizationID uint      `gorm:"primaryKey;autoIncrement:false" json:"tokenization_id"`
	Owner          string    `gorm:"size:64;not null" json:"owner"`
	LockedAt       time.Time `gorm:"not null" json:"locked_at"`
}

func (DistributionLock) TableName() string {
	return "distribution_locks"
}
