package distribution

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"estatesettle/internal/errs"
	"estatesettle/internal/models"
)

// PayoutRequest is one holder payment sent to the payer.
type PayoutRequest struct {
	IdempotencyKey string
	From           string
	To             string
	Amount         decimal.Decimal
	Memo           string
	// PriorValidUntil is the block height until which an earlier unobserved
	// transfer under the same key can still land; 0 when there is none.
	PriorValidUntil uint64
}

// Payer moves funds for a single payment and returns its reference. While a
// transfer for the key may still land, Pay returns an error for which
// errs.InFlightUntil reports the height it is valid until.
type Payer interface {
	Pay(ctx context.Context, req PayoutRequest) (string, error)
}

// PaymentKey is the idempotency key of a payment's transfer.
func PaymentKey(p models.DividendPayment) string {
	return fmt.Sprintf("payment-%d", p.ID)
}

// SettlePayments claims up to PayoutBatch of the distribution's unsettled
// payments and pays them. Payments claimed by a concurrent pass are left to
// it; failed ones are claimed again by a later pass. The returned distribution
// carries the aggregate recomputed after the pass. Any payment that failed in this pass yields
// *errs.PartialFailure alongside it.
func (e *Engine) SettlePayments(ctx context.Context, distributionID uint) (*models.DividendDistribution, error) {
	if e.payer == nil {
		return nil, errors.New("no payer configured")
	}
	d, err := e.store.GetDistribution(ctx, distributionID)
	if err != nil {
		return nil, err
	}
	tok, err := e.store.GetTokenization(ctx, d.TokenizationID)
	if err != nil {
		return nil, err
	}

	batch := e.cfg.PayoutBatch
	if batch <= 0 {
		batch = DefaultConfig().PayoutBatch
	}
	owner := uuid.NewString()
	now := e.now()
	claimed, err := e.store.ClaimPayments(ctx, d.ID, owner, now, now.Add(-e.cfg.ProcessingTimeout), batch)
	if err != nil {
		return nil, fmt.Errorf("claim payments of distribution %d: %w", d.ID, err)
	}

	failures := map[string]error{}
	for i := range claimed {
		p := &claimed[i]
		if ctx.Err() == nil {
			e.pay(ctx, tok, d, p)
		} else {
			p.Status = models.PaymentPending
		}
		// a transfer may have gone out, so the outcome is written even after ctx is done
		if err := e.store.FinishPayment(context.Background(), p, owner); err != nil {
			e.log.WithError(err).Errorf("> record payment %d of distribution %d", p.ID, d.ID)
			continue
		}
		if p.Status == models.PaymentFailed {
			failures[p.HolderID] = errors.New(p.Error)
		}
	}

	d, err = e.store.RefreshDistributionStatus(context.Background(), distributionID)
	if err != nil {
		return nil, fmt.Errorf("update distribution %d: %w", distributionID, err)
	}

	if len(failures) > 0 {
		e.record(ctx, d.TokenizationID, models.LevelError, "distribution payments failed", nil, map[string]interface{}{
			"distribution_id": d.ID, "failed": d.PaymentsFailed, "completed": d.PaymentsCompleted,
		})
		return d, &errs.PartialFailure{DistributionID: d.ID, Failed: failures}
	}
	if err := ctx.Err(); err != nil {
		return d, fmt.Errorf("settle distribution %d: %w", d.ID, err)
	}
	return d, nil
}

// Unsettled counts the payments of d that are neither completed nor failed.
// Open ones wait for the next pass; held ones are claimed by a pass or wait
// for an earlier transfer to land or expire.
func Unsettled(d *models.DividendDistribution) (open, held int) {
	for _, p := range d.Payments {
		switch {
		case p.Status == models.PaymentProcessing:
			held++
		case p.Status == models.PaymentPending && p.ValidUntil > 0:
			held++
		case p.Status == models.PaymentPending:
			open++
		}
	}
	return open, held
}

func (e *Engine) pay(ctx context.Context, tok *models.Tokenization, d *models.DividendDistribution, p *models.DividendPayment) {
	switch {
	case p.Amount.IsZero():
		p.Status, p.Reference, p.Error = models.PaymentCompleted, "zero-amount", ""
		return
	case p.WalletAddress == "":
		p.Status, p.Error = models.PaymentFailed, "holder has no wallet address"
		return
	}
	ref, err := e.payer.Pay(ctx, PayoutRequest{
		IdempotencyKey:  PaymentKey(*p),
		From:            tok.TreasuryAccount,
		To:              p.WalletAddress,
		Amount:          p.Amount,
		Memo:            fmt.Sprintf("dividend %s %s", tok.Name, d.PeriodLabel),
		PriorValidUntil: p.ValidUntil,
	})
	if err != nil {
		if until := errs.InFlightUntil(err); until > 0 {
			p.Status, p.Error, p.ValidUntil = models.PaymentPending, err.Error(), until
			e.log.WithError(err).Warnf("> payment %d to %s unconfirmed, held until block %d", p.ID, p.HolderID, until)
			return
		}
		p.Status, p.Error, p.ValidUntil = models.PaymentFailed, err.Error(), 0
		e.log.WithError(err).Warnf("> payment %d to %s failed", p.ID, p.HolderID)
		return
	}
	p.Status, p.Reference, p.Error, p.ValidUntil = models.PaymentCompleted, ref, "", 0
}
