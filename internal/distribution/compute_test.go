package distribution

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estatesettle/internal/errs"
	"estatesettle/internal/models"
)

func holding(id, balance string) models.TokenHolding {
	return models.TokenHolding{TokenizationID: 1, HolderID: id, WalletAddress: "wallet-" + id, Balance: dec(balance)}
}

func TestComputePaymentsSingleHolder(t *testing.T) {
	comp, err := ComputePayments(1, dec("965.55"), []models.TokenHolding{holding("alice", "3")}, 2)
	require.NoError(t, err)

	require.Len(t, comp.Allocations, 1)
	assertDec(t, "965.55", comp.Allocations[0].Amount)
	assertDec(t, "965.55", comp.Sum())
}

func TestComputePaymentsResidualGoesToLargestHolder(t *testing.T) {
	comp, err := ComputePayments(1, dec("100"), []models.TokenHolding{holding("a", "1"), holding("b", "1"), holding("c", "1")}, 2)
	require.NoError(t, err)
	assertDec(t, "0.01", comp.Residual)
	assertDec(t, "33.34", comp.Allocations[0].Amount, "ties resolve to the lowest holder id")
	assertDec(t, "33.33", comp.Allocations[1].Amount)
	assertDec(t, "33.33", comp.Allocations[2].Amount)

	comp, err = ComputePayments(1, dec("10"), []models.TokenHolding{holding("a", "1"), holding("b", "5"), holding("c", "1")}, 2)
	require.NoError(t, err)
	assertDec(t, "1.42", comp.Allocations[0].Amount)
	assertDec(t, "7.16", comp.Allocations[1].Amount)
	assertDec(t, "1.42", comp.Allocations[2].Amount)
	assertDec(t, "10", comp.Sum())
}

func TestComputePaymentsSumEqualsNetForLargeN(t *testing.T) {
	holdings := make([]models.TokenHolding, 0, 1000)
	for i := 0; i < 1000; i++ {
		balance := decimal.NewFromInt(int64(i%7 + 1)).Add(decimal.New(int64(i%3), -1))
		holdings = append(holdings, holding(fmt.Sprintf("h%04d", i), balance.String()))
	}
	for _, net := range []string{"12345.67", "0.99", "1000000", "7.01"} {
		comp, err := ComputePayments(1, dec(net), holdings, 2)
		require.NoError(t, err)

		assertDec(t, net, comp.Sum(), "net %s", net)
		assert.Len(t, comp.Allocations, 1000)
		for _, a := range comp.Allocations {
			assert.True(t, a.Amount.Equal(a.Amount.Truncate(2)), "amount %s exceeds payout precision", a.Amount)
			assert.False(t, a.Amount.IsNegative())
		}
		assert.True(t, comp.Residual.LessThan(dec("10")))
	}
}

func TestComputePaymentsNoHolders(t *testing.T) {
	_, err := ComputePayments(7, dec("100"), nil, 2)
	assert.ErrorIs(t, err, errs.ErrNoHolders)

	_, err = ComputePayments(7, dec("100"), []models.TokenHolding{holding("a", "0")}, 2)
	assert.ErrorIs(t, err, errs.ErrNoHolders)
	assert.Contains(t, errs.GuidanceOf(err), "no investors yet")
}

func TestComputePaymentsSkipsEmptyBalances(t *testing.T) {
	comp, err := ComputePayments(1, dec("50"), []models.TokenHolding{holding("a", "0"), holding("b", "2")}, 2)
	require.NoError(t, err)
	require.Len(t, comp.Allocations, 1)
	assert.Equal(t, "b", comp.Allocations[0].HolderID)
	assertDec(t, "25", comp.PerToken)
}

func TestAggregatePaymentStatus(t *testing.T) {
	p := func(statuses ...string) []models.DividendPayment {
		out := make([]models.DividendPayment, len(statuses))
		for i, s := range statuses {
			out[i].Status = s
		}
		return out
	}
	cases := []struct {
		payments []models.DividendPayment
		want     string
	}{
		{p(), models.PaymentCompleted},
		{p(models.PaymentCompleted, models.PaymentCompleted), models.PaymentCompleted},
		{p(models.PaymentCompleted, models.PaymentPending), models.PaymentPending},
		{p(models.PaymentFailed, models.PaymentFailed), models.PaymentFailed},
		{p(models.PaymentCompleted, models.PaymentFailed), models.PaymentPartiallyFailed},
		{p(models.PaymentPending, models.PaymentFailed), models.PaymentPartiallyFailed},
	}
	for _, tc := range cases {
		got, _, _ := AggregatePaymentStatus(tc.payments)
		assert.Equal(t, tc.want, got)
	}
}
