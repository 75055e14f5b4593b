package operations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/fundtrack/internal/database"
	"github.com/aristath/fundtrack/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Filter narrows an operation listing. Zero values match everything.
type Filter struct {
	From      *time.Time
	To        *time.Time
	DCAPlanID *int64
	AssetCode string
	Type      domain.OperationType
	Status    domain.OperationStatus
	Limit     int
	Offset    int
}

// Repository handles operation persistence in ledger.db
type Repository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
	now      func() time.Time
}

// operationsColumns is the column list for the operations table.
// Order must match scanOperation.
const operationsColumns = `id, asset_code, operation_type, operation_date, amount, quantity, nav, fee,
	status, dca_plan_id, source_operation_id, dividend_mode, notes, created_at, updated_at`

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// NewRepository creates a new operation repository
func NewRepository(ledgerDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "operations").Logger(),
		now:      time.Now,
	}
}

// DB returns the ledger connection, for callers composing their own transactions
func (r *Repository) DB() *sql.DB {
	return r.ledgerDB
}

// Create inserts op and fills in its ID and timestamps
func (r *Repository) Create(ctx context.Context, op *domain.Operation) error {
	return database.WithTransactionContext(ctx, r.ledgerDB, func(tx *sql.Tx) error {
		return r.InsertTx(ctx, tx, op)
	})
}

// InsertTx inserts op inside an existing transaction.
// A second plan operation on the same civil day fails the plan/day UNIQUE index;
// callers detect it with database.IsUniqueViolation.
func (r *Repository) InsertTx(ctx context.Context, tx *sql.Tx, op *domain.Operation) error {
	now := r.now().UTC().Truncate(time.Second)

	query := `
		INSERT INTO operations
		(asset_code, operation_type, operation_date, operation_day, amount, quantity, nav, fee,
		 status, dca_plan_id, source_operation_id, dividend_mode, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := tx.ExecContext(ctx, query,
		op.AssetCode,
		string(op.Type),
		op.OperationDate.Unix(),
		op.OperationDay(),
		op.Amount.String(),
		op.Quantity.String(),
		op.NAV.String(),
		op.Fee.String(),
		string(op.Status),
		nullInt64(op.DCAPlanID),
		nullInt64(op.SourceOperationID),
		string(op.DividendMode),
		op.Notes,
		now.Unix(),
		now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert operation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read operation id: %w", err)
	}

	op.ID = id
	op.CreatedAt = now
	op.UpdatedAt = now

	r.log.Debug().
		Int64("operation_id", id).
		Str("asset_code", op.AssetCode).
		Str("type", string(op.Type)).
		Msg("Operation inserted")

	return nil
}

// GetByID retrieves one operation
func (r *Repository) GetByID(ctx context.Context, id int64) (*domain.Operation, error) {
	return r.getByID(ctx, r.ledgerDB, id)
}

// GetByIDTx retrieves one operation inside a transaction
func (r *Repository) GetByIDTx(ctx context.Context, tx *sql.Tx, id int64) (*domain.Operation, error) {
	return r.getByID(ctx, tx, id)
}

func (r *Repository) getByID(ctx context.Context, q querier, id int64) (*domain.Operation, error) {
	query := "SELECT " + operationsColumns + " FROM operations WHERE id = ?"

	op, err := scanOperation(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Entity: "operation", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operation %d: %w", id, err)
	}
	return &op, nil
}

// FindBySource returns the operation created from sourceID, if any
func (r *Repository) FindBySource(ctx context.Context, sourceID int64) (*domain.Operation, error) {
	query := "SELECT " + operationsColumns + " FROM operations WHERE source_operation_id = ?"

	op, err := scanOperation(r.ledgerDB.QueryRowContext(ctx, query, sourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find operation by source %d: %w", sourceID, err)
	}
	return &op, nil
}

// List returns operations matching f, most recent first
func (r *Repository) List(ctx context.Context, f Filter) ([]domain.Operation, error) {
	where, args := f.clause()
	query := "SELECT " + operationsColumns + " FROM operations" + where +
		" ORDER BY operation_date DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}
	return r.query(ctx, r.ledgerDB, query, args...)
}

// Count returns how many operations match f, ignoring limit and offset
func (r *Repository) Count(ctx context.Context, f Filter) (int, error) {
	where, args := f.clause()

	var n int
	if err := r.ledgerDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM operations"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count operations: %w", err)
	}
	return n, nil
}

// ListByAsset returns every operation of an asset in ledger order
func (r *Repository) ListByAsset(ctx context.Context, assetCode string) ([]domain.Operation, error) {
	return r.ListByAssetTx(ctx, nil, assetCode)
}

// ListByAssetTx is ListByAsset inside a transaction. A nil tx reads outside one.
func (r *Repository) ListByAssetTx(ctx context.Context, tx *sql.Tx, assetCode string) ([]domain.Operation, error) {
	query := "SELECT " + operationsColumns + ` FROM operations
		WHERE asset_code = ?
		ORDER BY operation_date ASC, id ASC`

	var q querier = r.ledgerDB
	if tx != nil {
		q = tx
	}
	return r.query(ctx, q, query, assetCode)
}

// ListByPlan returns every operation a plan produced, oldest first
func (r *Repository) ListByPlan(ctx context.Context, planID int64) ([]domain.Operation, error) {
	query := "SELECT " + operationsColumns + ` FROM operations
		WHERE dca_plan_id = ?
		ORDER BY operation_date ASC, id ASC`
	return r.query(ctx, r.ledgerDB, query, planID)
}

// PlanDays returns the civil days (YYYY-MM-DD) on which a plan already has an operation.
// Cancelled operations count: they still hold the plan/day slot.
func (r *Repository) PlanDays(ctx context.Context, planID int64) (map[string]bool, error) {
	rows, err := r.ledgerDB.QueryContext(ctx, "SELECT operation_day FROM operations WHERE dca_plan_id = ?", planID)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan days: %w", err)
	}
	defer rows.Close()

	days := make(map[string]bool)
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("failed to scan plan day: %w", err)
		}
		days[day] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plan days: %w", err)
	}
	return days, nil
}

// ListAssetCodes returns every asset code with at least one operation
func (r *Repository) ListAssetCodes(ctx context.Context) ([]string, error) {
	rows, err := r.ledgerDB.QueryContext(ctx, "SELECT DISTINCT asset_code FROM operations ORDER BY asset_code")
	if err != nil {
		return nil, fmt.Errorf("failed to list asset codes: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan asset code: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating asset codes: %w", err)
	}
	return codes, nil
}

// UpdateTx rewrites every mutable field of op inside a transaction
func (r *Repository) UpdateTx(ctx context.Context, tx *sql.Tx, op *domain.Operation) error {
	now := r.now().UTC().Truncate(time.Second)

	query := `
		UPDATE operations SET
			asset_code = ?, operation_type = ?, operation_date = ?, operation_day = ?,
			amount = ?, quantity = ?, nav = ?, fee = ?, status = ?,
			dividend_mode = ?, notes = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := tx.ExecContext(ctx, query,
		op.AssetCode,
		string(op.Type),
		op.OperationDate.Unix(),
		op.OperationDay(),
		op.Amount.String(),
		op.Quantity.String(),
		op.NAV.String(),
		op.Fee.String(),
		string(op.Status),
		string(op.DividendMode),
		op.Notes,
		now.Unix(),
		op.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update operation %d: %w", op.ID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Entity: "operation", ID: op.ID}
	}

	op.UpdatedAt = now
	return nil
}

// UpdateStatusTx moves an operation to status, recording the dividend mode if given
func (r *Repository) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id int64, status domain.OperationStatus, mode domain.DividendMode) error {
	result, err := tx.ExecContext(ctx,
		"UPDATE operations SET status = ?, dividend_mode = ?, updated_at = ? WHERE id = ?",
		string(status), string(mode), r.now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update status of operation %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Entity: "operation", ID: id}
	}
	return nil
}

// DeleteTx removes one operation
func (r *Repository) DeleteTx(ctx context.Context, tx *sql.Tx, id int64) error {
	result, err := tx.ExecContext(ctx, "DELETE FROM operations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete operation %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Entity: "operation", ID: id}
	}
	return nil
}

// DeleteIDsTx removes the given operations and returns how many rows went
func (r *Repository) DeleteIDsTx(ctx context.Context, tx *sql.Tx, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM operations WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete operations: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// DeleteByPlan removes every operation a plan produced
func (r *Repository) DeleteByPlan(ctx context.Context, planID int64) (int64, error) {
	result, err := r.ledgerDB.ExecContext(ctx, "DELETE FROM operations WHERE dca_plan_id = ?", planID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete operations of plan %d: %w", planID, err)
	}
	n, _ := result.RowsAffected()

	r.log.Info().Int64("plan_id", planID).Int64("deleted", n).Msg("Plan operations deleted")
	return n, nil
}

func (r *Repository) query(ctx context.Context, q querier, query string, args ...interface{}) ([]domain.Operation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []domain.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}
	return ops, nil
}

func (f Filter) clause() (string, []interface{}) {
	var conds []string
	var args []interface{}

	if f.AssetCode != "" {
		conds = append(conds, "asset_code = ?")
		args = append(args, f.AssetCode)
	}
	if f.Type != "" {
		conds = append(conds, "operation_type = ?")
		args = append(args, string(f.Type))
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.DCAPlanID != nil {
		conds = append(conds, "dca_plan_id = ?")
		args = append(args, *f.DCAPlanID)
	}
	if f.From != nil {
		conds = append(conds, "operation_day >= ?")
		args = append(args, f.From.UTC().Format(time.DateOnly))
	}
	if f.To != nil {
		conds = append(conds, "operation_day <= ?")
		args = append(args, f.To.UTC().Format(time.DateOnly))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanOperation(s scanner) (domain.Operation, error) {
	var (
		op                           domain.Operation
		opType, status, mode         string
		amount, quantity, nav, fee   string
		opDate, createdAt, updatedAt int64
		planID, sourceID             sql.NullInt64
	)

	err := s.Scan(
		&op.ID, &op.AssetCode, &opType, &opDate,
		&amount, &quantity, &nav, &fee,
		&status, &planID, &sourceID, &mode, &op.Notes,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return op, err
	}

	op.Type = domain.OperationType(opType)
	op.Status = domain.OperationStatus(status)
	op.DividendMode = domain.DividendMode(mode)
	op.OperationDate = time.Unix(opDate, 0).UTC()
	op.CreatedAt = time.Unix(createdAt, 0).UTC()
	op.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	if planID.Valid {
		id := planID.Int64
		op.DCAPlanID = &id
	}
	if sourceID.Valid {
		id := sourceID.Int64
		op.SourceOperationID = &id
	}

	for _, f := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{amount, &op.Amount},
		{quantity, &op.Quantity},
		{nav, &op.NAV},
		{fee, &op.Fee},
	} {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return op, fmt.Errorf("operation %d: malformed decimal %q: %w", op.ID, f.raw, err)
		}
		*f.dst = v
	}

	return op, nil
}

func nullInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
