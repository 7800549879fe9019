package distribution

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"estatesettle/internal/errs"
	"estatesettle/internal/models"
)

// AdminStore is the persistence behind distribution settings and revenue intake.
type AdminStore interface {
	GetTokenization(ctx context.Context, id uint) (*models.Tokenization, error)
	TokenizationByProperty(ctx context.Context, propertyID uint) (*models.Tokenization, error)
	UpdateFees(ctx context.Context, tokenizationID uint, platformPct, managementPct decimal.Decimal) error
	GetSchedule(ctx context.Context, tokenizationID uint) (*models.DividendSchedule, error)
	SaveSchedule(ctx context.Context, s *models.DividendSchedule) error
	CreateRevenueEvent(ctx context.Context, e *models.RevenueEvent) error
}

// Admin lets a property owner tune fees and cadence, and takes revenue
// events from the property-event collaborator.
type Admin struct {
	store AdminStore
	now   func() time.Time
	log   *logrus.Entry
}

func NewAdmin(store AdminStore, now func() time.Time) *Admin {
	if now == nil {
		now = time.Now
	}
	return &Admin{store: store, now: now, log: logrus.WithField("module", "distribution")}
}

func (a *Admin) ownedBy(ctx context.Context, actor string, tokenizationID uint) (*models.Tokenization, error) {
	tok, err := a.store.GetTokenization(ctx, tokenizationID)
	if err != nil {
		return nil, err
	}
	if tok.OwnerID != actor {
		return nil, errs.NotEligible("%s does not own tokenization %d", actor, tokenizationID)
	}
	return tok, nil
}

// SetFees replaces the fee percentages. Distributions already created keep
// the percentages they were computed with.
func (a *Admin) SetFees(ctx context.Context, actor string, tokenizationID uint, platformPct, managementPct decimal.Decimal) (*models.Tokenization, error) {
	if err := ValidateFeeConfig(platformPct, managementPct); err != nil {
		return nil, err
	}
	tok, err := a.ownedBy(ctx, actor, tokenizationID)
	if err != nil {
		return nil, err
	}
	if err := a.store.UpdateFees(ctx, tok.ID, platformPct, managementPct); err != nil {
		return nil, err
	}
	tok.PlatformFeePct = decimal.NewNullDecimal(platformPct)
	tok.ManagementFeePct = decimal.NewNullDecimal(managementPct)
	a.log.Infof("> tokenization %d fees set to %s%% platform, %s%% management by %s", tok.ID, platformPct, managementPct, actor)
	return tok, nil
}

// ScheduleInput changes a schedule. Nil fields keep their current value.
type ScheduleInput struct {
	Frequency            string     `json:"frequency"`
	AutoDistribute       *bool      `json:"auto_distribute"`
	NextDistributionDate *time.Time `json:"next_distribution_date"`
}

// SetSchedule creates or updates the tokenization's schedule. A new schedule
// is first due one period after now unless a date is given.
func (a *Admin) SetSchedule(ctx context.Context, actor string, tokenizationID uint, in ScheduleInput) (*models.DividendSchedule, error) {
	tok, err := a.ownedBy(ctx, actor, tokenizationID)
	if err != nil {
		return nil, err
	}
	sched, err := a.store.GetSchedule(ctx, tok.ID)
	switch {
	case errs.KindOf(err) == errs.KindNotFound:
		sched = &models.DividendSchedule{TokenizationID: tok.ID, Frequency: models.FrequencyMonthly, AutoDistribute: true}
	case err != nil:
		return nil, err
	}

	if in.Frequency != "" {
		sched.Frequency = strings.ToLower(in.Frequency)
	}
	if err := ValidateFrequency(sched.Frequency); err != nil {
		return nil, err
	}
	if in.AutoDistribute != nil {
		sched.AutoDistribute = *in.AutoDistribute
	}
	switch {
	case in.NextDistributionDate != nil:
		if sched.LastDistributionDate != nil && !in.NextDistributionDate.After(*sched.LastDistributionDate) {
			return nil, errs.Validation("next distribution date must be after the last one (%s)", sched.LastDistributionDate.Format(time.RFC3339))
		}
		sched.NextDistributionDate = in.NextDistributionDate.UTC()
	case sched.NextDistributionDate.IsZero():
		next, err := AddPeriod(a.now().UTC(), sched.Frequency)
		if err != nil {
			return nil, err
		}
		sched.NextDistributionDate = next
	}

	if err := a.store.SaveSchedule(ctx, sched); err != nil {
		return nil, err
	}
	a.log.Infof("> tokenization %d schedule: %s, next %s, auto=%t", tok.ID, sched.Frequency,
		sched.NextDistributionDate.Format(time.RFC3339), sched.AutoDistribute)
	return sched, nil
}

// RevenueInput is a confirmed payment reported for a property.
type RevenueInput struct {
	PropertyID  uint                  `json:"property_id" binding:"required"`
	GrossAmount decimal.Decimal       `json:"gross_amount"`
	EventDate   time.Time             `json:"event_date" binding:"required"`
	Payload     models.RevenuePayload `json:"payload"`
}

// RecordRevenue stores a pending revenue event for the next distribution.
func (a *Admin) RecordRevenue(ctx context.Context, in RevenueInput) (*models.RevenueEvent, error) {
	if !in.GrossAmount.IsPositive() {
		return nil, errs.Validation("gross_amount must be positive, got %s", in.GrossAmount)
	}
	if in.EventDate.IsZero() {
		return nil, errs.Validation("event_date is required")
	}
	if in.EventDate.After(a.now().Add(24 * time.Hour)) {
		return nil, errs.Validation("event_date %s is in the future", in.EventDate.Format(time.RFC3339))
	}
	if in.Payload.Type == "" {
		in.Payload.Type = models.RevenueTypeOther
	}
	if err := in.Payload.Validate(); err != nil {
		return nil, errs.Validation("payload: %v", err)
	}
	if _, err := a.store.TokenizationByProperty(ctx, in.PropertyID); err != nil {
		return nil, err
	}

	status := models.RevenuePending
	e := &models.RevenueEvent{
		PropertyID:         in.PropertyID,
		EventType:          in.Payload.Type,
		Payload:            in.Payload,
		GrossAmount:        in.GrossAmount,
		EventDate:          in.EventDate.UTC(),
		DistributionStatus: &status,
	}
	if err := a.store.CreateRevenueEvent(ctx, e); err != nil {
		return nil, err
	}
	a.log.Infof("> revenue event %d: %s %s for property %d", e.ID, e.EventType, e.GrossAmount, e.PropertyID)
	return e, nil
}
