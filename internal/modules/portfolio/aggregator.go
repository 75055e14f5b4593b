package portfolio

import (
	"math"
	"sort"
	"time"

	"github.com/aristath/fundtrack/internal/domain"
	"github.com/shopspring/decimal"
)

// Fold aggregates one asset's operations into a weighted-average-cost position.
//
// Only confirmed and processed operations count. Operations are applied in
// (OperationDate, ID) order; an unsaved operation (ID 0) sorts after saved ones
// on the same instant. Dividends never move shares or cost directly: a
// reinvested dividend contributes through the buy created for it.
func Fold(assetCode string, ops []domain.Operation, latestNAV *decimal.Decimal) (domain.Position, error) {
	pos := domain.Position{
		AssetCode:      assetCode,
		TotalShares:    decimal.Zero,
		AvgCost:        decimal.Zero,
		TotalInvested:  decimal.Zero,
		CurrentValue:   decimal.Zero,
		TotalProfit:    decimal.Zero,
		ProfitRate:     decimal.Zero,
		RealizedProfit: decimal.Zero,
		LatestNAV:      latestNAV,
	}

	ordered := make([]domain.Operation, 0, len(ops))
	for _, op := range ops {
		if op.AssetCode != assetCode {
			return pos, &domain.ValidationError{
				Field:   "asset_code",
				Message: "operation for " + op.AssetCode + " folded into " + assetCode,
			}
		}
		if op.Status.Settled() {
			ordered = append(ordered, op)
		}
	}
	SortOperations(ordered)

	shares := decimal.Zero
	invested := decimal.Zero
	avgCost := decimal.Zero
	realized := decimal.Zero

	for _, op := range ordered {
		switch op.Type {
		case domain.OperationBuy:
			shares = shares.Add(op.Quantity)
			invested = invested.Add(op.Amount)
			if shares.GreaterThan(domain.ShareEpsilon) {
				avgCost = invested.Div(shares)
			}

		case domain.OperationSell:
			sold := op.Quantity
			if sold.Sub(shares).GreaterThan(domain.ShareEpsilon) {
				return pos, &domain.OverdraftError{
					AssetCode:   assetCode,
					OperationID: op.ID,
					Date:        op.OperationDate,
					Sold:        sold,
					Held:        shares,
				}
			}
			if sold.GreaterThan(shares) {
				sold = shares
			}
			costRemoved := sold.Mul(avgCost)
			realized = realized.Add(op.Amount.Sub(costRemoved))
			invested = invested.Sub(costRemoved)
			shares = shares.Sub(sold)
		}

		if shares.LessThanOrEqual(domain.ShareEpsilon) {
			shares = decimal.Zero
			invested = decimal.Zero
			avgCost = decimal.Zero
		}

		pos.OperationCount++
		date := op.OperationDate
		if pos.FirstOperationDate == nil {
			pos.FirstOperationDate = &date
		}
		pos.LastOperationDate = &date
	}

	pos.TotalShares = shares.Round(domain.QuantityPlaces)
	pos.AvgCost = avgCost.Round(domain.NAVPlaces)
	pos.TotalInvested = invested.Round(domain.AmountPlaces)
	pos.RealizedProfit = realized.Round(domain.AmountPlaces)

	if latestNAV == nil {
		pos.NAVMissing = shares.IsPositive()
		return pos, nil
	}

	pos.CurrentValue = shares.Mul(*latestNAV).Round(domain.AmountPlaces)
	pos.TotalProfit = pos.CurrentValue.Sub(pos.TotalInvested)
	if pos.TotalInvested.IsPositive() {
		pos.ProfitRate = pos.TotalProfit.DivRound(pos.TotalInvested, 4)
	}
	return pos, nil
}

// SortOperations orders operations by date, then id, with unsaved operations last on ties.
func SortOperations(ops []domain.Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		if !ops[i].OperationDate.Equal(ops[j].OperationDate) {
			return ops[i].OperationDate.Before(ops[j].OperationDate)
		}
		return sortID(ops[i]) < sortID(ops[j])
	})
}

func sortID(op domain.Operation) int64 {
	if op.ID <= 0 {
		return math.MaxInt64
	}
	return op.ID
}

// Summary aggregates positions across assets
type Summary struct {
	TotalInvested  decimal.Decimal `json:"total_invested"`
	CurrentValue   decimal.Decimal `json:"current_value"`
	TotalProfit    decimal.Decimal `json:"total_profit"`
	ProfitRate     decimal.Decimal `json:"profit_rate"`
	RealizedProfit decimal.Decimal `json:"realized_profit"`
	PositionCount  int             `json:"position_count"`
	MissingNAVs    []string        `json:"missing_navs,omitempty"`
	AsOf           time.Time       `json:"as_of"`
}

// Summarize totals a set of positions. Positions without a NAV contribute
// their invested amount only, and are listed in MissingNAVs.
func Summarize(positions []domain.Position, asOf time.Time) Summary {
	s := Summary{
		TotalInvested:  decimal.Zero,
		CurrentValue:   decimal.Zero,
		TotalProfit:    decimal.Zero,
		ProfitRate:     decimal.Zero,
		RealizedProfit: decimal.Zero,
		AsOf:           asOf,
	}

	valuedInvested := decimal.Zero
	for _, p := range positions {
		s.RealizedProfit = s.RealizedProfit.Add(p.RealizedProfit)
		if !p.IsOpen() {
			continue
		}
		s.PositionCount++
		s.TotalInvested = s.TotalInvested.Add(p.TotalInvested)
		if p.NAVMissing {
			s.MissingNAVs = append(s.MissingNAVs, p.AssetCode)
			continue
		}
		valuedInvested = valuedInvested.Add(p.TotalInvested)
		s.CurrentValue = s.CurrentValue.Add(p.CurrentValue)
	}

	s.TotalProfit = s.CurrentValue.Sub(valuedInvested)
	if valuedInvested.IsPositive() {
		s.ProfitRate = s.TotalProfit.DivRound(valuedInvested, 4)
	}
	return s
}
