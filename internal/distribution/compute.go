package distribution

import (
	"sort"

	"github.com/shopspring/decimal"

	"estatesettle/internal/errs"
	"estatesettle/internal/models"
)

// perTokenPlaces is the precision of the informational per-token amount.
const perTokenPlaces = 18

// Allocation is one holder's share of a distribution.
type Allocation struct {
	HolderID      string
	WalletAddress string
	Tokens        decimal.Decimal
	Amount        decimal.Decimal
}

// Computation is the pro-rata split of a net amount over a holder snapshot.
type Computation struct {
	TotalTokens decimal.Decimal
	PerToken    decimal.Decimal
	Residual    decimal.Decimal
	Allocations []Allocation
}

// Sum returns the total allocated amount.
func (c *Computation) Sum() decimal.Decimal {
	sum := decimal.Zero
	for _, a := range c.Allocations {
		sum = sum.Add(a.Amount)
	}
	return sum
}

// ComputePayments splits net over holdings pro rata. Each share is truncated
// to the payout precision and the residual goes to the largest holder, so the
// allocations always sum to net exactly. Holdings with a non-positive balance
// are ignored.
func ComputePayments(tokenizationID uint, net decimal.Decimal, holdings []models.TokenHolding, places int32) (*Computation, error) {
	if net.IsNegative() {
		return nil, errs.Validation("net amount must not be negative, got %s", net)
	}
	net = net.Truncate(places)

	eligible := make([]models.TokenHolding, 0, len(holdings))
	total := decimal.Zero
	for _, h := range holdings {
		if !h.Balance.IsPositive() {
			continue
		}
		eligible = append(eligible, h)
		total = total.Add(h.Balance)
	}
	if total.IsZero() {
		return nil, errs.NoHolders(tokenizationID)
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].HolderID < eligible[j].HolderID })

	comp := &Computation{
		TotalTokens: total,
		PerToken:    net.DivRound(total, perTokenPlaces),
		Allocations: make([]Allocation, len(eligible)),
	}

	allocated := decimal.Zero
	largest := 0
	for i, h := range eligible {
		amount, _ := net.Mul(h.Balance).QuoRem(total, places)
		comp.Allocations[i] = Allocation{
			HolderID:      h.HolderID,
			WalletAddress: h.WalletAddress,
			Tokens:        h.Balance,
			Amount:        amount,
		}
		allocated = allocated.Add(amount)
		if h.Balance.GreaterThan(eligible[largest].Balance) {
			largest = i
		}
	}

	comp.Residual = net.Sub(allocated)
	comp.Allocations[largest].Amount = comp.Allocations[largest].Amount.Add(comp.Residual)
	return comp, nil
}

// AggregatePaymentStatus derives a distribution's status from its payments.
// The per-payment statuses stay the source of truth.
func AggregatePaymentStatus(payments []models.DividendPayment) (status string, completed, failed int) {
	pending := 0
	for _, p := range payments {
		switch p.Status {
		case models.PaymentCompleted:
			completed++
		case models.PaymentFailed:
			failed++
		default:
			pending++
		}
	}
	switch {
	case failed == 0 && pending == 0:
		status = models.PaymentCompleted
	case failed == 0:
		status = models.PaymentPending
	case completed == 0 && pending == 0:
		status = models.PaymentFailed
	default:
		status = models.PaymentPartiallyFailed
	}
	return status, completed, failed
}
