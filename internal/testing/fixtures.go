package testing

import (
	"time"

	"github.com/aristath/fundtrack/internal/domain"
	"github.com/shopspring/decimal"
)

// Day returns midnight UTC for the given civil date
func Day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Dec parses a decimal literal, panicking on malformed input
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// NewBuy returns a confirmed buy fixture
func NewBuy(asset string, date time.Time, amount, quantity, nav, fee string) domain.Operation {
	return domain.Operation{
		AssetCode:     asset,
		Type:          domain.OperationBuy,
		Status:        domain.StatusConfirmed,
		OperationDate: date,
		Amount:        Dec(amount),
		Quantity:      Dec(quantity),
		NAV:           Dec(nav),
		Fee:           Dec(fee),
	}
}

// NewSell returns a confirmed sell fixture
func NewSell(asset string, date time.Time, amount, quantity, nav, fee string) domain.Operation {
	op := NewBuy(asset, date, amount, quantity, nav, fee)
	op.Type = domain.OperationSell
	return op
}

// NewDividend returns a pending cash dividend fixture
func NewDividend(asset string, date time.Time, amount, nav string) domain.Operation {
	return domain.Operation{
		AssetCode:     asset,
		Type:          domain.OperationDividend,
		Status:        domain.StatusPending,
		OperationDate: date,
		Amount:        Dec(amount),
		NAV:           Dec(nav),
	}
}

// NewMonthlyPlan returns an active monthly plan fixture
func NewMonthlyPlan(asset string, start time.Time, amount string) *domain.DCAPlan {
	return &domain.DCAPlan{
		Name:           asset + " monthly",
		AssetCode:      asset,
		Amount:         Dec(amount),
		Frequency:      domain.FrequencyMonthly,
		FrequencyValue: 1,
		StartDate:      start,
		Status:         domain.PlanActive,
	}
}
