package ledger

import (
	"context"
	"errors"
	"fmt"

	"estatesettle/internal/distribution"
	"estatesettle/internal/errs"
)

// Payer settles dividend payments through the treasury executor. A payment
// already confirmed under its key is not sent again, and a key whose previous
// broadcast may still land is not resubmitted until that window has closed.
type Payer struct {
	exec Executor
}

func NewPayer(exec Executor) *Payer {
	return &Payer{exec: exec}
}

func (p *Payer) Pay(ctx context.Context, req distribution.PayoutRequest) (string, error) {
	expired := true
	if req.PriorValidUntil > 0 {
		var err error
		// expiry is read before status so a late landing is still seen
		expired, err = p.exec.Expired(ctx, req.PriorValidUntil)
		if err != nil {
			return "", errs.ExecutionInFlight(fmt.Errorf("check expiry of payment %s: %w", req.IdempotencyKey, err), req.PriorValidUntil)
		}
	}
	st, err := p.exec.Status(ctx, req.IdempotencyKey)
	if err != nil {
		err = fmt.Errorf("check payment %s: %w", req.IdempotencyKey, err)
		if !expired {
			return "", errs.ExecutionInFlight(err, req.PriorValidUntil)
		}
		return "", err
	}
	if st.State == TransferConfirmed {
		return st.Reference, nil
	}
	if !expired {
		return "", errs.ExecutionInFlight(fmt.Errorf("payment %s may still land", req.IdempotencyKey), req.PriorValidUntil)
	}
	ref, err := p.exec.Transfer(ctx, TransferRequest{
		From:           req.From,
		To:             req.To,
		Amount:         req.Amount,
		Memo:           req.Memo,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return "", err
	}
	if ref == "" {
		return "", errors.New("executor returned no reference")
	}
	return ref, nil
}
