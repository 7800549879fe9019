package distribution

import (
	"github.com/shopspring/decimal"

	"estatesettle/internal/errs"
)

var hundred = decimal.NewFromInt(100)

// FeeBreakdown is the gross-to-net derivation persisted on every distribution.
type FeeBreakdown struct {
	Gross            decimal.Decimal
	PlatformFeePct   decimal.Decimal
	ManagementFeePct decimal.Decimal
	PlatformFee      decimal.Decimal
	ManagementFee    decimal.Decimal
	Net              decimal.Decimal
}

// CalculateFees derives net = gross - platform fee - management fee at the
// given payout precision. Fees are rounded half away from zero; net absorbs
// the rounding so gross == platform + management + net always holds.
func CalculateFees(gross, platformPct, managementPct decimal.Decimal, places int32) (FeeBreakdown, error) {
	if gross.IsNegative() {
		return FeeBreakdown{}, errs.Validation("gross amount must not be negative, got %s", gross)
	}
	if err := validatePct("platform", platformPct); err != nil {
		return FeeBreakdown{}, err
	}
	if err := validatePct("management", managementPct); err != nil {
		return FeeBreakdown{}, err
	}
	if platformPct.Add(managementPct).GreaterThanOrEqual(hundred) {
		return FeeBreakdown{}, errs.Validation("fees must total less than 100%%, got %s", platformPct.Add(managementPct))
	}

	gross = gross.Round(places)
	platformFee := gross.Mul(platformPct).Div(hundred).Round(places)
	managementFee := gross.Mul(managementPct).Div(hundred).Round(places)
	net := gross.Sub(platformFee).Sub(managementFee)
	if net.IsNegative() {
		// only reachable for sub-unit gross amounts
		managementFee = gross.Sub(platformFee)
		net = decimal.Zero
	}

	return FeeBreakdown{
		Gross:            gross,
		PlatformFeePct:   platformPct,
		ManagementFeePct: managementPct,
		PlatformFee:      platformFee,
		ManagementFee:    managementFee,
		Net:              net,
	}, nil
}

// ValidateFeeConfig checks a fee configuration before it is stored on a tokenization.
func ValidateFeeConfig(platformPct, managementPct decimal.Decimal) error {
	_, err := CalculateFees(decimal.Zero, platformPct, managementPct, 0)
	return err
}

func validatePct(name string, pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return errs.Validation("%s fee must be between 0 and 100, got %s", name, pct)
	}
	return nil
}
