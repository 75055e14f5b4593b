package operations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/fundtrack/internal/database"
	"github.com/aristath/fundtrack/internal/domain"
	"github.com/aristath/fundtrack/internal/events"
	"github.com/aristath/fundtrack/internal/modules/portfolio"
	"github.com/aristath/fundtrack/internal/utils"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const moduleName = "operations"

// Service records and edits manual operations.
//
// Every write reconciles the input, then re-folds the asset's settled history
// with the candidate applied so that no edit can leave a later sell overdrawn.
type Service struct {
	repo   *Repository
	navs   domain.NAVProvider
	events *events.Manager
	log    zerolog.Logger
}

// NewService creates an operation service. navs may be nil, in which case a
// missing NAV is never looked up.
func NewService(repo *Repository, navs domain.NAVProvider, eventManager *events.Manager, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		navs:   navs,
		events: eventManager,
		log:    log.With().Str("service", "operations").Logger(),
	}
}

// Get returns one operation
func (s *Service) Get(ctx context.Context, id int64) (*domain.Operation, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns a page of operations matching f and the total match count
func (s *Service) List(ctx context.Context, f Filter) ([]domain.Operation, int, error) {
	ops, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, 0, domain.Persistence("list operations", err)
	}
	total, err := s.repo.Count(ctx, f)
	if err != nil {
		return nil, 0, domain.Persistence("count operations", err)
	}
	if ops == nil {
		ops = []domain.Operation{}
	}
	return ops, total, nil
}

// Create reconciles and records a manual operation.
// Manual entries are confirmed unless the caller asks otherwise.
func (s *Service) Create(ctx context.Context, in OperationInput) (*domain.Operation, error) {
	if in.Status == "" {
		in.Status = domain.StatusConfirmed
	}
	if in.Status == domain.StatusProcessed {
		return nil, &domain.ValidationError{Field: "status", Message: "processed is set by dividend resolution only"}
	}
	s.fillNAV(ctx, &in)

	var op domain.Operation
	err := database.WithTransactionContext(ctx, s.repo.DB(), func(tx *sql.Tx) error {
		history, err := s.repo.ListByAssetTx(ctx, tx, utils.NormalizeAssetCode(in.AssetCode))
		if err != nil {
			return domain.Persistence("load asset history", err)
		}

		op, err = Reconcile(in, heldAt(history, in.OperationDate, 0))
		if err != nil {
			return err
		}
		if err := checkLedger(op.AssetCode, append(history, op)); err != nil {
			return err
		}
		if err := s.repo.InsertTx(ctx, tx, &op); err != nil {
			return domain.Persistence("insert operation", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("operation_id", op.ID).
		Str("asset_code", op.AssetCode).
		Str("type", string(op.Type)).
		Str("amount", op.Amount.String()).
		Str("quantity", op.Quantity.String()).
		Msg("Operation recorded")

	s.emit(&events.OperationRecordedData{
		OperationID:   op.ID,
		AssetCode:     op.AssetCode,
		OperationType: string(op.Type),
		DCAPlanID:     op.DCAPlanID,
	})
	return &op, nil
}

// Update replaces the user-editable fields of an operation and reconciles it again.
// Cancelled and processed operations are immutable. The plan link and the
// dividend source link are kept from the stored record.
func (s *Service) Update(ctx context.Context, id int64, in OperationInput) (*domain.Operation, error) {
	s.fillNAV(ctx, &in)

	var updated domain.Operation
	var previousAsset string
	err := database.WithTransactionContext(ctx, s.repo.DB(), func(tx *sql.Tx) error {
		existing, err := s.repo.GetByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := mutable(existing); err != nil {
			return err
		}
		previousAsset = existing.AssetCode

		if in.Status == "" {
			in.Status = existing.Status
		}
		if in.Status == domain.StatusProcessed {
			return &domain.ValidationError{Field: "status", Message: "processed is set by dividend resolution only"}
		}
		in.DCAPlanID = existing.DCAPlanID

		history, err := s.repo.ListByAssetTx(ctx, tx, utils.NormalizeAssetCode(in.AssetCode))
		if err != nil {
			return domain.Persistence("load asset history", err)
		}

		updated, err = Reconcile(in, heldAt(history, in.OperationDate, id))
		if err != nil {
			return err
		}
		updated.ID = existing.ID
		updated.SourceOperationID = existing.SourceOperationID
		updated.DividendMode = existing.DividendMode
		updated.CreatedAt = existing.CreatedAt

		if err := checkLedger(updated.AssetCode, replace(history, updated)); err != nil {
			return err
		}
		if previousAsset != updated.AssetCode {
			// moving an operation off an asset must not overdraw what is left behind
			old, err := s.repo.ListByAssetTx(ctx, tx, previousAsset)
			if err != nil {
				return domain.Persistence("load asset history", err)
			}
			if err := checkLedger(previousAsset, without(old, id)); err != nil {
				return err
			}
		}

		if err := s.repo.UpdateTx(ctx, tx, &updated); err != nil {
			if domain.IsNotFound(err) {
				return err
			}
			return domain.Persistence("update operation", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Int64("operation_id", id).Str("asset_code", updated.AssetCode).Msg("Operation updated")

	s.emit(&events.OperationChangedData{OperationID: id, AssetCode: updated.AssetCode, Action: "updated", Status: string(updated.Status)})
	if previousAsset != updated.AssetCode {
		s.emit(&events.OperationChangedData{OperationID: id, AssetCode: previousAsset, Action: "updated", Status: string(updated.Status)})
	}
	return &updated, nil
}

// Delete removes an operation. Processed operations cannot be deleted, and a
// settled buy cannot be deleted while later sells depend on its shares.
func (s *Service) Delete(ctx context.Context, id int64) error {
	var removed *domain.Operation
	err := database.WithTransactionContext(ctx, s.repo.DB(), func(tx *sql.Tx) error {
		existing, err := s.repo.GetByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if existing.Status == domain.StatusProcessed {
			return &domain.ValidationError{Field: "status", Message: "processed operations cannot be deleted"}
		}

		history, err := s.repo.ListByAssetTx(ctx, tx, existing.AssetCode)
		if err != nil {
			return domain.Persistence("load asset history", err)
		}
		if err := checkLedger(existing.AssetCode, without(history, id)); err != nil {
			return err
		}

		removed = existing
		return s.repo.DeleteTx(ctx, tx, id)
	})
	if err != nil {
		return err
	}

	s.log.Info().Int64("operation_id", id).Str("asset_code", removed.AssetCode).Msg("Operation deleted")
	s.emit(&events.OperationChangedData{OperationID: id, AssetCode: removed.AssetCode, Action: "deleted"})
	return nil
}

// Confirm settles a pending buy or sell. Dividends settle through dividend resolution.
func (s *Service) Confirm(ctx context.Context, id int64) (*domain.Operation, error) {
	return s.transition(ctx, id, domain.StatusConfirmed)
}

// Cancel voids a pending or confirmed operation. Cancellation is terminal.
func (s *Service) Cancel(ctx context.Context, id int64) (*domain.Operation, error) {
	return s.transition(ctx, id, domain.StatusCancelled)
}

func (s *Service) transition(ctx context.Context, id int64, to domain.OperationStatus) (*domain.Operation, error) {
	var op *domain.Operation
	changed := false

	err := database.WithTransactionContext(ctx, s.repo.DB(), func(tx *sql.Tx) error {
		var err error
		op, err = s.repo.GetByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if op.Status == to {
			return nil
		}
		if err := mutable(op); err != nil {
			return err
		}
		if to == domain.StatusConfirmed && op.Type == domain.OperationDividend {
			return &domain.ValidationError{Field: "status", Message: "dividends are settled by resolving them"}
		}

		history, err := s.repo.ListByAssetTx(ctx, tx, op.AssetCode)
		if err != nil {
			return domain.Persistence("load asset history", err)
		}
		next := *op
		next.Status = to
		if err := checkLedger(op.AssetCode, replace(history, next)); err != nil {
			return err
		}

		if err := s.repo.UpdateStatusTx(ctx, tx, id, to, op.DividendMode); err != nil {
			return err
		}
		op.Status = to
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.log.Info().Int64("operation_id", id).Str("status", string(to)).Msg("Operation status changed")
		s.emit(&events.OperationChangedData{OperationID: id, AssetCode: op.AssetCode, Action: "status", Status: string(to)})
	}
	return op, nil
}

// fillNAV looks up the NAV for the operation date when the caller gave none
// and the reconciliation would need it.
func (s *Service) fillNAV(ctx context.Context, in *OperationInput) {
	if s.navs == nil || in.NAV != nil || in.Type == domain.OperationDividend {
		return
	}
	if in.Amount != nil && in.Quantity != nil {
		return
	}
	code := utils.NormalizeAssetCode(in.AssetCode)
	if code == "" || in.OperationDate.IsZero() {
		return
	}

	quote, err := s.navs.GetNAV(ctx, code, in.OperationDate)
	if err != nil {
		if !errors.Is(err, domain.ErrNAVNotFound) {
			s.log.Warn().Err(err).Str("asset_code", code).Msg("NAV lookup failed")
		}
		return
	}
	nav := quote.NAV
	in.NAV = &nav
}

func (s *Service) emit(data events.EventData) {
	if s.events == nil {
		return
	}
	s.events.EmitTyped(moduleName, data)
}

// mutable rejects edits to operations in a terminal status
func mutable(op *domain.Operation) error {
	switch op.Status {
	case domain.StatusCancelled:
		return &domain.ValidationError{Field: "status", Message: fmt.Sprintf("operation %d is cancelled", op.ID)}
	case domain.StatusProcessed:
		return &domain.AlreadyProcessedError{OperationID: op.ID}
	}
	return nil
}

// heldAt returns the settled shares held at the end of date, ignoring operation skipID
func heldAt(history []domain.Operation, date time.Time, skipID int64) decimal.Decimal {
	var before []domain.Operation
	for _, op := range history {
		if op.ID == skipID && skipID != 0 {
			continue
		}
		if op.OperationDate.After(date) {
			continue
		}
		before = append(before, op)
	}
	if len(before) == 0 {
		return decimal.Zero
	}

	pos, err := portfolio.Fold(before[0].AssetCode, before, nil)
	if err != nil {
		// an already overdrawn history holds nothing safely sellable
		return decimal.Zero
	}
	return pos.TotalShares
}

// checkLedger folds an asset's complete history and reports the first overdraft
func checkLedger(assetCode string, ops []domain.Operation) error {
	_, err := portfolio.Fold(assetCode, ops, nil)
	return err
}

func replace(ops []domain.Operation, op domain.Operation) []domain.Operation {
	out := make([]domain.Operation, 0, len(ops)+1)
	found := false
	for _, o := range ops {
		if o.ID == op.ID {
			out = append(out, op)
			found = true
			continue
		}
		out = append(out, o)
	}
	if !found {
		out = append(out, op)
	}
	return out
}

func without(ops []domain.Operation, id int64) []domain.Operation {
	out := make([]domain.Operation, 0, len(ops))
	for _, o := range ops {
		if o.ID != id {
			out = append(out, o)
		}
	}
	return out
}
