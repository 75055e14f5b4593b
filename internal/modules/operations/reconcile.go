// Package operations provides the operation ledger: reconciliation of partially
// specified transactions, storage and the manual-entry service.
package operations

import (
	"strings"
	"time"

	"github.com/aristath/fundtrack/internal/domain"
	"github.com/aristath/fundtrack/internal/utils"
	"github.com/shopspring/decimal"
)

// OperationInput is a partially specified transaction.
// Nil pointers are unknown; a nil fee is treated as zero.
type OperationInput struct {
	OperationDate time.Time              `json:"operation_date"`
	Amount        *decimal.Decimal       `json:"amount,omitempty"`
	Quantity      *decimal.Decimal       `json:"quantity,omitempty"`
	NAV           *decimal.Decimal       `json:"nav,omitempty"`
	Fee           *decimal.Decimal       `json:"fee,omitempty"`
	DCAPlanID     *int64                 `json:"dca_plan_id,omitempty"`
	AssetCode     string                 `json:"asset_code"`
	Type          domain.OperationType   `json:"operation_type"`
	Status        domain.OperationStatus `json:"status,omitempty"`
	SellMode      domain.SellMode        `json:"sell_mode,omitempty"`
	Notes         string                 `json:"notes,omitempty"`
}

// Reconcile fills in the dependent fields of an operation deterministically.
// held is the asset's current total shares and is only consulted for sells.
func Reconcile(in OperationInput, held decimal.Decimal) (domain.Operation, error) {
	op := domain.Operation{
		AssetCode:     utils.NormalizeAssetCode(in.AssetCode),
		Type:          in.Type,
		Status:        in.Status,
		OperationDate: in.OperationDate.UTC(),
		DCAPlanID:     in.DCAPlanID,
		Notes:         strings.TrimSpace(in.Notes),
		Fee:           decimal.Zero,
		NAV:           decimal.Zero,
	}

	if op.AssetCode == "" {
		return op, &domain.ValidationError{Field: "asset_code", Message: "is required"}
	}
	if !op.Type.Valid() {
		return op, &domain.ValidationError{Field: "operation_type", Message: "must be buy, sell or dividend"}
	}
	if op.OperationDate.IsZero() {
		return op, &domain.ValidationError{Field: "operation_date", Message: "is required"}
	}
	if op.Status == "" {
		op.Status = domain.StatusPending
	}
	if !op.Status.Valid() {
		return op, &domain.ValidationError{Field: "status", Message: "unknown status " + string(op.Status)}
	}
	if in.Amount == nil && in.Quantity == nil {
		return op, &domain.ValidationError{Message: "at least one of amount or quantity is required"}
	}

	for _, f := range []struct {
		name  string
		value *decimal.Decimal
	}{
		{"amount", in.Amount}, {"quantity", in.Quantity}, {"nav", in.NAV}, {"fee", in.Fee},
	} {
		if f.value != nil && f.value.IsNegative() {
			return op, &domain.ValidationError{Field: f.name, Message: "must not be negative"}
		}
	}

	if in.Fee != nil {
		op.Fee = *in.Fee
	}
	if in.NAV != nil {
		op.NAV = in.NAV.Round(domain.NAVPlaces)
	}

	var err error
	switch op.Type {
	case domain.OperationBuy:
		err = reconcileBuy(&op, in)
	case domain.OperationSell:
		err = reconcileSell(&op, in, held)
	case domain.OperationDividend:
		err = reconcileDividend(&op, in)
	}
	return op, err
}

func reconcileBuy(op *domain.Operation, in OperationInput) error {
	switch {
	case in.Amount != nil && in.Quantity != nil:
		op.Amount = *in.Amount
		op.Quantity = *in.Quantity

	case in.Amount != nil:
		if !op.NAV.IsPositive() {
			return &domain.InvalidNavError{NAV: op.NAV}
		}
		net := in.Amount.Sub(op.Fee)
		if net.IsNegative() {
			return &domain.ValidationError{Field: "fee", Message: "exceeds amount"}
		}
		op.Amount = *in.Amount
		op.Quantity = net.DivRound(op.NAV, domain.QuantityPlaces)

	default:
		if !op.NAV.IsPositive() {
			return &domain.ValidationError{Field: "amount", Message: "is required when nav is not positive"}
		}
		op.Quantity = *in.Quantity
		op.Amount = in.Quantity.Mul(op.NAV).Add(op.Fee).Round(domain.AmountPlaces)
	}

	if !op.Quantity.IsPositive() {
		return &domain.ValidationError{Field: "quantity", Message: "must be greater than zero"}
	}
	return nil
}

// resolveSellMode picks the driving field when the caller did not choose one
func resolveSellMode(in OperationInput) domain.SellMode {
	if in.SellMode != "" {
		return in.SellMode
	}
	if in.Quantity != nil && in.Amount == nil {
		return domain.SellByQuantity
	}
	return domain.SellByAmount
}

func reconcileSell(op *domain.Operation, in OperationInput, held decimal.Decimal) error {
	mode := resolveSellMode(in)

	switch {
	case in.Amount != nil && in.Quantity != nil:
		op.Amount = *in.Amount
		op.Quantity = *in.Quantity

	case mode == domain.SellByQuantity:
		if in.Quantity == nil {
			return &domain.ValidationError{Field: "quantity", Message: "is required when selling by quantity"}
		}
		if !op.NAV.IsPositive() {
			return &domain.InvalidNavError{NAV: op.NAV}
		}
		op.Quantity = *in.Quantity
		op.Amount = in.Quantity.Mul(op.NAV).Sub(op.Fee).Round(domain.AmountPlaces)
		if op.Amount.IsNegative() {
			return &domain.ValidationError{Field: "fee", Message: "exceeds sale proceeds"}
		}

	case mode == domain.SellByAmount:
		if in.Amount == nil {
			return &domain.ValidationError{Field: "amount", Message: "is required when selling by amount"}
		}
		if !op.NAV.IsPositive() {
			return &domain.InvalidNavError{NAV: op.NAV}
		}
		net := in.Amount.Sub(op.Fee)
		if net.IsNegative() {
			return &domain.ValidationError{Field: "fee", Message: "exceeds amount"}
		}
		op.Amount = *in.Amount
		op.Quantity = net.DivRound(op.NAV, domain.QuantityPlaces)

	default:
		return &domain.ValidationError{Field: "sell_mode", Message: "must be amount or quantity"}
	}

	if !op.Quantity.IsPositive() {
		return &domain.ValidationError{Field: "quantity", Message: "must be greater than zero"}
	}
	if op.Quantity.Sub(held).GreaterThan(domain.ShareEpsilon) {
		return &domain.InsufficientPositionError{
			AssetCode: op.AssetCode,
			Requested: op.Quantity,
			Held:      held,
		}
	}
	return nil
}

func reconcileDividend(op *domain.Operation, in OperationInput) error {
	if in.Amount == nil {
		return &domain.ValidationError{Field: "amount", Message: "is required for a dividend"}
	}
	if !in.Amount.IsPositive() {
		return &domain.ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	op.Amount = *in.Amount
	op.Quantity = decimal.Zero
	if in.Quantity != nil {
		op.Quantity = *in.Quantity
	}
	return nil
}
