package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Revenue distribution statuses. pending -> processing is the exclusivity boundary.
const (
	RevenuePending     = "pending"
	RevenueProcessing  = "processing"
	RevenueDistributed = "distributed"
)

// Revenue event types.
const (
	RevenueTypeRent  = "rent"
	RevenueTypeSale  = "sale"
	RevenueTypeOther = "other"
)

// RevenueEvent is a confirmed payment tied to a property.
type RevenueEvent struct {
	ID                 uint            `gorm:"primarykey" json:"id"`
	PropertyID         uint            `gorm:"not null;index:idx_revenue_property_status" json:"property_id"`
	EventType          string          `gorm:"size:20;not null" json:"event_type"`
	Payload            RevenuePayload  `gorm:"type:jsonb" json:"payload"`
	GrossAmount        decimal.Decimal `gorm:"type:numeric(30,8);not null" json:"gross_amount"`
	EventDate          time.Time       `gorm:"not null" json:"event_date"`
	DistributionStatus *string         `gorm:"size:20;index:idx_revenue_property_status" json:"distribution_status"`
	ProcessingAt       *time.Time      `json:"processing_at"`
	DistributionID     *uint           `gorm:"index" json:"distribution_id"`
	CreatedAt          time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt          time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

func (RevenueEvent) TableName() string {
	return "revenue_events"
}

// Status treats a null distribution status as pending.
func (e RevenueEvent) Status() string {
	if e.DistributionStatus == nil {
		return RevenuePending
	}
	return *e.DistributionStatus
}

// RentPayload describes a rent payment.
type RentPayload struct {
	TenantRef   string `json:"tenant_ref"`
	PeriodMonth string `json:"period_month"`
}

// SalePayload describes sale proceeds.
type SalePayload struct {
	BuyerRef   string `json:"buyer_ref"`
	ClosingRef string `json:"closing_ref"`
}

// OtherPayload carries any other revenue with a free-text description.
type OtherPayload struct {
	Description string `json:"description"`
}

// RevenuePayload is the per-type body of a revenue event. Exactly one of the
// pointers is set, matching Type.
type RevenuePayload struct {
	Type  string
	Rent  *RentPayload
	Sale  *SalePayload
	Other *OtherPayload
}

type payloadEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (p RevenuePayload) body() (interface{}, error) {
	switch p.Type {
	case RevenueTypeRent:
		if p.Rent == nil {
			return nil, fmt.Errorf("rent payload missing")
		}
		return p.Rent, nil
	case RevenueTypeSale:
		if p.Sale == nil {
			return nil, fmt.Errorf("sale payload missing")
		}
		return p.Sale, nil
	case RevenueTypeOther, "":
		if p.Other == nil {
			return &OtherPayload{}, nil
		}
		return p.Other, nil
	}
	return nil, fmt.Errorf("unknown revenue type %q", p.Type)
}

// Validate checks that the set body matches the declared type.
func (p RevenuePayload) Validate() error {
	_, err := p.body()
	return err
}

func (p RevenuePayload) MarshalJSON() ([]byte, error) {
	body, err := p.body()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	typ := p.Type
	if typ == "" {
		typ = RevenueTypeOther
	}
	return json.Marshal(payloadEnvelope{Type: typ, Data: data})
}

func (p *RevenuePayload) UnmarshalJSON(b []byte) error {
	var env payloadEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	out := RevenuePayload{Type: env.Type}
	var target interface{}
	switch env.Type {
	case RevenueTypeRent:
		out.Rent = &RentPayload{}
		target = out.Rent
	case RevenueTypeSale:
		out.Sale = &SalePayload{}
		target = out.Sale
	case RevenueTypeOther:
		out.Other = &OtherPayload{}
		target = out.Other
	default:
		return fmt.Errorf("unknown revenue type %q", env.Type)
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, target); err != nil {
			return err
		}
	}
	*p = out
	return nil
}

// Value implements driver.Valuer
func (p RevenuePayload) Value() (driver.Value, error) {
	return p.MarshalJSON()
}

// Scan implements sql.Scanner
func (p *RevenuePayload) Scan(value interface{}) error {
	if value == nil {
		*p = RevenuePayload{}
		return nil
	}
	bytes, err := jsonBytes(value)
	if err != nil {
		return err
	}
	return p.UnmarshalJSON(bytes)
}
