package dca

import (
	"github.com/aristath/fundtrack/internal/domain"
	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// ValidateSmart checks the valuation band of a smart plan. Plain plans always pass.
func ValidateSmart(plan *domain.DCAPlan) error {
	if !plan.SmartDCA {
		return nil
	}
	switch {
	case !plan.BaseAmount.IsPositive():
		return &domain.ValidationError{Field: "base_amount", Message: "must be greater than zero"}
	case plan.MaxAmount.LessThan(plan.BaseAmount):
		return &domain.ValidationError{Field: "max_amount", Message: "must not be below base_amount"}
	case plan.IncreaseRate.IsNegative():
		return &domain.ValidationError{Field: "increase_rate", Message: "must not be negative"}
	case !plan.MinNAV.IsPositive():
		return &domain.ValidationError{Field: "min_nav", Message: "must be greater than zero"}
	case !plan.MaxNAV.GreaterThan(plan.MinNAV):
		return &domain.ValidationError{Field: "max_nav", Message: "must be greater than min_nav"}
	}
	return nil
}

// BaselineNAV is the reference valuation of a smart plan: the midpoint of its band.
func BaselineNAV(plan *domain.DCAPlan) decimal.Decimal {
	return plan.MinNAV.Add(plan.MaxNAV).DivRound(two, domain.NAVPlaces)
}

// AmountFor returns what the plan invests on a date priced at nav.
//
// Smart plans invest the boosted amount min(base*(1+rate), max) at or below
// MinNAV, the base amount at or above MaxNAV, and interpolate linearly in
// between. The result never leaves [base, max] and never grows with nav.
func AmountFor(plan *domain.DCAPlan, nav decimal.Decimal) decimal.Decimal {
	if !plan.SmartDCA {
		return plan.Amount
	}

	base := plan.BaseAmount
	boosted := base.Mul(decimal.NewFromInt(1).Add(plan.IncreaseRate))
	if boosted.GreaterThan(plan.MaxAmount) {
		boosted = plan.MaxAmount
	}

	var amount decimal.Decimal
	switch {
	case nav.LessThanOrEqual(plan.MinNAV):
		amount = boosted
	case nav.GreaterThanOrEqual(plan.MaxNAV):
		amount = base
	default:
		// share of the band still below nav: 1 at MinNAV, 0 at MaxNAV
		cheap := plan.MaxNAV.Sub(nav).Div(plan.MaxNAV.Sub(plan.MinNAV))
		amount = base.Add(boosted.Sub(base).Mul(cheap))
	}

	amount = amount.Round(domain.AmountPlaces)
	if amount.LessThan(base) {
		amount = base
	}
	if amount.GreaterThan(plan.MaxAmount) {
		amount = plan.MaxAmount
	}
	return amount
}
