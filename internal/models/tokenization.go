package models

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	DefaultPlatformFeePct   = decimal.RequireFromString("1.0")
	DefaultManagementFeePct = decimal.RequireFromString("2.5")
)

// DefaultPayoutDecimals is the payout precision (cents) when a tokenization does not set one.
const DefaultPayoutDecimals int32 = 2

// Tokenization is the fundraising/ownership unit of one property.
type Tokenization struct {
	ID                uint                `gorm:"primarykey" json:"id"`
	PropertyID        uint                `gorm:"not null;uniqueIndex" json:"property_id"`
	OwnerID           string              `gorm:"size:64;not null" json:"owner_id"`
	Name              string              `gorm:"size:128;not null" json:"name"`
	TotalSupply       decimal.Decimal     `gorm:"type:numeric(30,8);not null" json:"total_supply"`
	PlatformFeePct    decimal.NullDecimal `gorm:"type:numeric(7,4)" json:"platform_fee_pct"`
	ManagementFeePct  decimal.NullDecimal `gorm:"type:numeric(7,4)" json:"management_fee_pct"`
	TreasurySigners   StringList          `gorm:"type:jsonb" json:"treasury_signers"`
	ApprovalThreshold int                 `gorm:"not null;default:1" json:"approval_threshold"`
	TreasuryAccount   string              `gorm:"size:64" json:"treasury_account"`
	PayoutDecimals    int32               `gorm:"not null;default:2" json:"payout_decimals"`
	LedgerTopicID     string              `gorm:"size:64" json:"ledger_topic_id"`
	MintedAt          time.Time           `gorm:"not null" json:"minted_at"`
	CreatedAt         time.Time           `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time           `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Tokenization) TableName() string {
	return "tokenizations"
}

// FeePcts returns the configured fee percentages, falling back to the platform defaults.
func (t Tokenization) FeePcts() (platform, management decimal.Decimal) {
	platform, management = DefaultPlatformFeePct, DefaultManagementFeePct
	if t.PlatformFeePct.Valid {
		platform = t.PlatformFeePct.Decimal
	}
	if t.ManagementFeePct.Valid {
		management = t.ManagementFeePct.Decimal
	}
	return platform, management
}

// Decimals returns the payout precision in decimal places.
func (t Tokenization) Decimals() int32 {
	if t.PayoutDecimals <= 0 {
		return DefaultPayoutDecimals
	}
	return t.PayoutDecimals
}

// TokenHolding is the current balance of one holder. Written by the mint/transfer
// collaborators, read-only here.
type TokenHolding struct {
	ID             uint            `gorm:"primarykey" json:"id"`
	TokenizationID uint            `gorm:"not null;uniqueIndex:idx_holding_owner" json:"tokenization_id"`
	HolderID       string          `gorm:"size:64;not null;uniqueIndex:idx_holding_owner" json:"holder_id"`
	WalletAddress  string          `gorm:"size:64" json:"wallet_address"`
	Balance        decimal.Decimal `gorm:"type:numeric(30,8);not null;default:0" json:"balance"`
	UpdatedAt      time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

func (TokenHolding) TableName() string {
	return "token_holdings"
}
