// Package domain provides core domain models and types.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Precision used when rounding derived ledger values.
const (
	QuantityPlaces = 4
	NAVPlaces      = 4
	AmountPlaces   = 2
)

// ShareEpsilon is the tolerance applied when comparing share counts.
var ShareEpsilon = decimal.New(1, -6)

// OperationType represents the kind of ledger entry
type OperationType string

const (
	OperationBuy      OperationType = "buy"
	OperationSell     OperationType = "sell"
	OperationDividend OperationType = "dividend"
)

// Valid reports whether t is a known operation type
func (t OperationType) Valid() bool {
	switch t {
	case OperationBuy, OperationSell, OperationDividend:
		return true
	}
	return false
}

// OperationStatus represents the lifecycle state of an operation
type OperationStatus string

const (
	StatusPending   OperationStatus = "pending"
	StatusConfirmed OperationStatus = "confirmed"
	StatusCancelled OperationStatus = "cancelled"
	StatusProcessed OperationStatus = "processed"
)

// Valid reports whether s is a known operation status
func (s OperationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusProcessed:
		return true
	}
	return false
}

// Settled reports whether an operation in this status counts towards a position.
func (s OperationStatus) Settled() bool {
	return s == StatusConfirmed || s == StatusProcessed
}

// SellMode selects which field drives a sell reconciliation
type SellMode string

const (
	SellByAmount   SellMode = "amount"
	SellByQuantity SellMode = "quantity"
)

// DividendMode is the outcome chosen when a dividend is resolved
type DividendMode string

const (
	DividendReinvest DividendMode = "reinvest"
	DividendWithdraw DividendMode = "withdraw"
	DividendSkip     DividendMode = "skip"
)

// Valid reports whether m is a known dividend mode
func (m DividendMode) Valid() bool {
	switch m {
	case DividendReinvest, DividendWithdraw, DividendSkip:
		return true
	}
	return false
}

// Operation is one ledger entry.
type Operation struct {
	OperationDate     time.Time       `json:"operation_date"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	DCAPlanID         *int64          `json:"dca_plan_id,omitempty"`
	SourceOperationID *int64          `json:"source_operation_id,omitempty"` // dividend a reinvest buy came from
	AssetCode         string          `json:"asset_code"`
	Type              OperationType   `json:"operation_type"`
	Status            OperationStatus `json:"status"`
	DividendMode      DividendMode    `json:"dividend_mode,omitempty"`
	Notes             string          `json:"notes,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Quantity          decimal.Decimal `json:"quantity"`
	NAV               decimal.Decimal `json:"nav"`
	Fee               decimal.Decimal `json:"fee"`
	ID                int64           `json:"id"`
}

// OperationDay returns the civil date of the operation (dedup key component).
func (o Operation) OperationDay() string {
	return o.OperationDate.UTC().Format(time.DateOnly)
}

// Position is the weighted-average-cost view of one asset, derived from its operations.
type Position struct {
	FirstOperationDate *time.Time       `json:"first_operation_date,omitempty"`
	LastOperationDate  *time.Time       `json:"last_operation_date,omitempty"`
	LatestNAV          *decimal.Decimal `json:"latest_nav,omitempty"`
	AssetCode          string           `json:"asset_code"`
	TotalShares        decimal.Decimal  `json:"total_shares"`
	AvgCost            decimal.Decimal  `json:"avg_cost"`
	TotalInvested      decimal.Decimal  `json:"total_invested"`
	CurrentValue       decimal.Decimal  `json:"current_value"`
	TotalProfit        decimal.Decimal  `json:"total_profit"`
	ProfitRate         decimal.Decimal  `json:"profit_rate"`
	RealizedProfit     decimal.Decimal  `json:"realized_profit"`
	OperationCount     int              `json:"operation_count"`
	NAVMissing         bool             `json:"nav_missing,omitempty"`
}

// IsOpen reports whether the position still holds shares
func (p Position) IsOpen() bool {
	return p.TotalShares.GreaterThan(ShareEpsilon)
}

// Frequency is the step unit of a DCA plan
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyCustom  Frequency = "custom"
)

// Valid reports whether f is a known frequency
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyCustom:
		return true
	}
	return false
}

// PlanStatus is the lifecycle state of a DCA plan
type PlanStatus string

const (
	PlanActive    PlanStatus = "active"
	PlanPaused    PlanStatus = "paused"
	PlanStopped   PlanStatus = "stopped"
	PlanCompleted PlanStatus = "completed"
)

// Valid reports whether s is a known plan status
func (s PlanStatus) Valid() bool {
	switch s {
	case PlanActive, PlanPaused, PlanStopped, PlanCompleted:
		return true
	}
	return false
}

// Terminal reports whether no further executions are allowed in this status
func (s PlanStatus) Terminal() bool {
	return s == PlanStopped || s == PlanCompleted
}

// DCAPlan is a recurring-investment configuration.
// ExecutionCount, TotalInvested, TotalShares, LastExecutionDate and NextExecutionDate are
// maintained by the plan executor.
type DCAPlan struct {
	StartDate         time.Time       `json:"start_date"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	EndDate           *time.Time      `json:"end_date,omitempty"`
	LastExecutionDate *time.Time      `json:"last_execution_date,omitempty"`
	NextExecutionDate *time.Time      `json:"next_execution_date,omitempty"`
	Name              string          `json:"name"`
	AssetCode         string          `json:"asset_code"`
	Frequency         Frequency       `json:"frequency"`
	Status            PlanStatus      `json:"status"`
	LastError         string          `json:"last_error,omitempty"`
	ExcludeDates      []time.Time     `json:"exclude_dates"`
	Amount            decimal.Decimal `json:"amount"`
	Fee               decimal.Decimal `json:"fee"`
	BaseAmount        decimal.Decimal `json:"base_amount"`
	MaxAmount         decimal.Decimal `json:"max_amount"`
	IncreaseRate      decimal.Decimal `json:"increase_rate"`
	MinNAV            decimal.Decimal `json:"min_nav"`
	MaxNAV            decimal.Decimal `json:"max_nav"`
	TotalInvested     decimal.Decimal `json:"total_invested"`
	TotalShares       decimal.Decimal `json:"total_shares"`
	ID                int64           `json:"id"`
	FrequencyValue    int             `json:"frequency_value"`
	ExecutionCount    int             `json:"execution_count"`
	SkipHolidays      bool            `json:"skip_holidays"`
	SmartDCA          bool            `json:"smart_dca"`
}

// IsExcluded reports whether day is one of the plan's explicit skips
func (p DCAPlan) IsExcluded(day time.Time) bool {
	key := day.UTC().Format(time.DateOnly)
	for _, d := range p.ExcludeDates {
		if d.UTC().Format(time.DateOnly) == key {
			return true
		}
	}
	return false
}

// ExecutionOutcome is the result recorded for one attempted plan date
type ExecutionOutcome string

const (
	OutcomeExecuted ExecutionOutcome = "executed"
	OutcomeSkipped  ExecutionOutcome = "skipped"
	OutcomeFailed   ExecutionOutcome = "failed"
)

// ExecutionRecord is one row of a plan's execution log
type ExecutionRecord struct {
	ExecutionDate time.Time        `json:"execution_date"`
	CreatedAt     time.Time        `json:"created_at"`
	OperationID   *int64           `json:"operation_id,omitempty"`
	RunID         string           `json:"run_id"`
	Outcome       ExecutionOutcome `json:"outcome"`
	Message       string           `json:"message,omitempty"`
	ID            int64            `json:"id"`
	PlanID        int64            `json:"plan_id"`
}

// NAVQuote is a unit net asset value reported by the NAV provider
type NAVQuote struct {
	Date           time.Time        `json:"date"`
	AccumulatedNAV *decimal.Decimal `json:"accumulated_nav,omitempty"`
	AssetCode      string           `json:"asset_code"`
	NAV            decimal.Decimal  `json:"nav"`
}
