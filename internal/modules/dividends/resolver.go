// Package dividends resolves dividend operations into their ledger outcome.
package dividends

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/aristath/fundtrack/internal/database"
	"github.com/aristath/fundtrack/internal/domain"
	"github.com/aristath/fundtrack/internal/events"
	"github.com/aristath/fundtrack/internal/modules/operations"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const moduleName = "dividends"

// Resolution is the ledger effect of resolving one dividend
type Resolution struct {
	Dividend *domain.Operation `json:"dividend"`
	Reinvest *domain.Operation `json:"reinvest,omitempty"`
}

// Resolver turns pending or confirmed dividends into reinvest, withdraw or skip outcomes.
//
// Resolution is terminal. The reinvest buy and the status change commit in one
// transaction, so a dividend never ends up processed without its buy or the
// other way round.
type Resolver struct {
	ops    *operations.Repository
	navs   domain.NAVProvider
	events *events.Manager
	log    zerolog.Logger

	mu sync.Mutex
}

// NewResolver creates a dividend resolver
func NewResolver(ops *operations.Repository, navs domain.NAVProvider, eventManager *events.Manager, log zerolog.Logger) *Resolver {
	return &Resolver{
		ops:    ops,
		navs:   navs,
		events: eventManager,
		log:    log.With().Str("service", "dividends").Logger(),
	}
}

// ListUnresolved returns dividends still waiting for a mode, oldest first
func (r *Resolver) ListUnresolved(ctx context.Context, assetCode string) ([]domain.Operation, error) {
	all, err := r.ops.List(ctx, operations.Filter{Type: domain.OperationDividend, AssetCode: assetCode})
	if err != nil {
		return nil, domain.Persistence("list dividends", err)
	}

	pending := make([]domain.Operation, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		switch all[i].Status {
		case domain.StatusPending, domain.StatusConfirmed:
			pending = append(pending, all[i])
		}
	}
	return pending, nil
}

// Resolve applies mode to the dividend operation id
func (r *Resolver) Resolve(ctx context.Context, id int64, mode domain.DividendMode) (*Resolution, error) {
	if !mode.Valid() {
		return nil, &domain.ValidationError{Field: "mode", Message: "must be reinvest, withdraw or skip"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	div, err := r.ops.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := resolvable(div); err != nil {
		return nil, err
	}

	// the NAV is looked up before the transaction opens
	var buy *domain.Operation
	if mode == domain.DividendReinvest {
		nav, err := r.effectiveNAV(ctx, div)
		if err != nil {
			return nil, err
		}
		amount := div.Amount
		op, err := operations.Reconcile(operations.OperationInput{
			AssetCode:     div.AssetCode,
			Type:          domain.OperationBuy,
			Status:        domain.StatusConfirmed,
			OperationDate: div.OperationDate,
			Amount:        &amount,
			NAV:           &nav,
			Notes:         fmt.Sprintf("reinvested dividend #%d", div.ID),
		}, decimal.Zero)
		if err != nil {
			return nil, err
		}
		source := div.ID
		op.SourceOperationID = &source
		buy = &op
	}

	var rejected error
	err = database.WithTransactionContext(ctx, r.ops.DB(), func(tx *sql.Tx) error {
		current, err := r.ops.GetByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if rejected = resolvable(current); rejected != nil {
			return rejected
		}
		if buy != nil {
			if err := r.ops.InsertTx(ctx, tx, buy); err != nil {
				return err
			}
		}
		return r.ops.UpdateStatusTx(ctx, tx, id, domain.StatusProcessed, mode)
	})
	if err != nil {
		if rejected != nil {
			return nil, rejected
		}
		if domain.IsNotFound(err) {
			return nil, err
		}
		return nil, domain.Persistence("resolve dividend", err)
	}

	resolved, err := r.ops.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	ev := &events.DividendResolvedData{OperationID: id, AssetCode: div.AssetCode, Mode: string(mode)}
	logEvent := r.log.Info().Int64("operation_id", id).Str("asset_code", div.AssetCode).Str("mode", string(mode))
	if buy != nil {
		buyID := buy.ID
		ev.ReinvestOperationID = &buyID
		logEvent = logEvent.Int64("reinvest_operation_id", buyID).Str("quantity", buy.Quantity.String())
	}
	logEvent.Msg("Dividend resolved")

	if r.events != nil {
		r.events.EmitTyped(moduleName, ev)
	}
	return &Resolution{Dividend: resolved, Reinvest: buy}, nil
}

// effectiveNAV is the dividend's own NAV, or the provider's NAV on its date
func (r *Resolver) effectiveNAV(ctx context.Context, div *domain.Operation) (decimal.Decimal, error) {
	if div.NAV.IsPositive() {
		return div.NAV, nil
	}
	if r.navs == nil {
		return decimal.Zero, &domain.NavUnavailableError{AssetCode: div.AssetCode, Date: div.OperationDate, Err: domain.ErrNAVNotFound}
	}

	quote, err := r.navs.GetNAV(ctx, div.AssetCode, div.OperationDate)
	if err != nil {
		return decimal.Zero, &domain.NavUnavailableError{AssetCode: div.AssetCode, Date: div.OperationDate, Err: err}
	}
	if !quote.NAV.IsPositive() {
		return decimal.Zero, &domain.InvalidNavError{NAV: quote.NAV}
	}
	return quote.NAV, nil
}

func resolvable(op *domain.Operation) error {
	if op.Type != domain.OperationDividend {
		return &domain.ValidationError{Field: "operation_type", Message: fmt.Sprintf("operation %d is a %s, not a dividend", op.ID, op.Type)}
	}
	switch op.Status {
	case domain.StatusProcessed:
		return &domain.AlreadyProcessedError{OperationID: op.ID}
	case domain.StatusCancelled:
		return &domain.ValidationError{Field: "status", Message: fmt.Sprintf("dividend %d is cancelled", op.ID)}
	}
	return nil
}
