package dca

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/fundtrack/internal/domain"
	"github.com/aristath/fundtrack/internal/utils"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Repository handles plan and execution-log persistence in ledger.db
type Repository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
	now      func() time.Time
}

// plansColumns is the column list for dca_plans. Order must match scanPlan.
const plansColumns = `id, name, asset_code, amount, fee, frequency, frequency_value, start_date, end_date,
	exclude_dates, skip_holidays, status, smart_dca, base_amount, max_amount, increase_rate, min_nav, max_nav,
	execution_count, total_invested, total_shares, last_execution_date, next_execution_date, last_error,
	created_at, updated_at`

const executionColumns = `id, plan_id, run_id, execution_date, outcome, operation_id, message, created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

// NewRepository creates a new plan repository
func NewRepository(ledgerDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "dca_plans").Logger(),
		now:      time.Now,
	}
}

// Create inserts a plan and fills in its ID and timestamps
func (r *Repository) Create(ctx context.Context, plan *domain.DCAPlan) error {
	now := r.now().UTC().Truncate(time.Second)

	excluded, err := encodeDays(plan.ExcludeDates)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO dca_plans
		(name, asset_code, amount, fee, frequency, frequency_value, start_date, end_date,
		 exclude_dates, skip_holidays, status, smart_dca, base_amount, max_amount, increase_rate,
		 min_nav, max_nav, execution_count, total_invested, total_shares, last_execution_date,
		 next_execution_date, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.ledgerDB.ExecContext(ctx, query,
		plan.Name,
		plan.AssetCode,
		plan.Amount.String(),
		plan.Fee.String(),
		string(plan.Frequency),
		plan.FrequencyValue,
		utils.Day(plan.StartDate).Unix(),
		nullDay(plan.EndDate),
		excluded,
		boolToInt(plan.SkipHolidays),
		string(plan.Status),
		boolToInt(plan.SmartDCA),
		plan.BaseAmount.String(),
		plan.MaxAmount.String(),
		plan.IncreaseRate.String(),
		plan.MinNAV.String(),
		plan.MaxNAV.String(),
		plan.ExecutionCount,
		plan.TotalInvested.String(),
		plan.TotalShares.String(),
		nullDay(plan.LastExecutionDate),
		nullDay(plan.NextExecutionDate),
		plan.LastError,
		now.Unix(),
		now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read plan id: %w", err)
	}
	plan.ID = id
	plan.CreatedAt = now
	plan.UpdatedAt = now

	r.log.Info().Int64("plan_id", id).Str("asset_code", plan.AssetCode).Msg("Plan created")
	return nil
}

// Update rewrites the user-editable configuration of a plan. Counters are untouched.
func (r *Repository) Update(ctx context.Context, plan *domain.DCAPlan) error {
	now := r.now().UTC().Truncate(time.Second)

	excluded, err := encodeDays(plan.ExcludeDates)
	if err != nil {
		return err
	}

	query := `
		UPDATE dca_plans SET
			name = ?, asset_code = ?, amount = ?, fee = ?, frequency = ?, frequency_value = ?,
			start_date = ?, end_date = ?, exclude_dates = ?, skip_holidays = ?, status = ?,
			smart_dca = ?, base_amount = ?, max_amount = ?, increase_rate = ?, min_nav = ?, max_nav = ?,
			next_execution_date = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.ledgerDB.ExecContext(ctx, query,
		plan.Name,
		plan.AssetCode,
		plan.Amount.String(),
		plan.Fee.String(),
		string(plan.Frequency),
		plan.FrequencyValue,
		utils.Day(plan.StartDate).Unix(),
		nullDay(plan.EndDate),
		excluded,
		boolToInt(plan.SkipHolidays),
		string(plan.Status),
		boolToInt(plan.SmartDCA),
		plan.BaseAmount.String(),
		plan.MaxAmount.String(),
		plan.IncreaseRate.String(),
		plan.MinNAV.String(),
		plan.MaxNAV.String(),
		nullDay(plan.NextExecutionDate),
		now.Unix(),
		plan.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update plan %d: %w", plan.ID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Entity: "plan", ID: plan.ID}
	}
	plan.UpdatedAt = now
	return nil
}

// UpdateStatus moves a plan to status
func (r *Repository) UpdateStatus(ctx context.Context, id int64, status domain.PlanStatus) error {
	result, err := r.ledgerDB.ExecContext(ctx,
		"UPDATE dca_plans SET status = ?, updated_at = ? WHERE id = ?",
		string(status), r.now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update status of plan %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Entity: "plan", ID: id}
	}
	return nil
}

// Stats are the executor-maintained counters of a plan
type Stats struct {
	LastExecutionDate *time.Time
	NextExecutionDate *time.Time
	TotalInvested     decimal.Decimal
	TotalShares       decimal.Decimal
	LastError         string
	ExecutionCount    int
}

// UpdateStats stores recomputed counters
func (r *Repository) UpdateStats(ctx context.Context, id int64, s Stats) error {
	query := `
		UPDATE dca_plans SET
			execution_count = ?, total_invested = ?, total_shares = ?,
			last_execution_date = ?, next_execution_date = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`
	_, err := r.ledgerDB.ExecContext(ctx, query,
		s.ExecutionCount,
		s.TotalInvested.String(),
		s.TotalShares.String(),
		nullDay(s.LastExecutionDate),
		nullDay(s.NextExecutionDate),
		s.LastError,
		r.now().Unix(),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update stats of plan %d: %w", id, err)
	}
	return nil
}

// GetByID retrieves a plan
func (r *Repository) GetByID(ctx context.Context, id int64) (*domain.DCAPlan, error) {
	row := r.ledgerDB.QueryRowContext(ctx, "SELECT "+plansColumns+" FROM dca_plans WHERE id = ?", id)
	plan, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Entity: "plan", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan %d: %w", id, err)
	}
	return plan, nil
}

// List returns plans, optionally restricted to one status
func (r *Repository) List(ctx context.Context, status domain.PlanStatus) ([]*domain.DCAPlan, error) {
	query := "SELECT " + plansColumns + " FROM dca_plans"
	var args []interface{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY id"

	rows, err := r.ledgerDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []*domain.DCAPlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plans: %w", err)
	}
	return plans, nil
}

// Delete removes a plan. Its operations keep existing with the plan link cleared.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	result, err := r.ledgerDB.ExecContext(ctx, "DELETE FROM dca_plans WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete plan %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &domain.NotFoundError{Entity: "plan", ID: id}
	}
	r.log.Info().Int64("plan_id", id).Msg("Plan deleted")
	return nil
}

// RecordExecutionTx appends an execution record inside a transaction
func (r *Repository) RecordExecutionTx(ctx context.Context, tx *sql.Tx, rec *domain.ExecutionRecord) error {
	return r.recordExecution(ctx, tx, rec)
}

// RecordExecution appends an execution record
func (r *Repository) RecordExecution(ctx context.Context, rec *domain.ExecutionRecord) error {
	return r.recordExecution(ctx, r.ledgerDB, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (r *Repository) recordExecution(ctx context.Context, db execer, rec *domain.ExecutionRecord) error {
	now := r.now().UTC().Truncate(time.Second)

	var opID interface{}
	if rec.OperationID != nil {
		opID = *rec.OperationID
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO dca_execution_log (plan_id, run_id, execution_date, outcome, operation_id, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.PlanID, rec.RunID, utils.Day(rec.ExecutionDate).Unix(), string(rec.Outcome), opID, rec.Message, now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	rec.ID, _ = result.LastInsertId()
	rec.CreatedAt = now
	return nil
}

// ListExecutions returns a plan's most recent execution records
func (r *Repository) ListExecutions(ctx context.Context, planID int64, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.ledgerDB.QueryContext(ctx,
		"SELECT "+executionColumns+" FROM dca_execution_log WHERE plan_id = ? ORDER BY id DESC LIMIT ?",
		planID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var records []domain.ExecutionRecord
	for rows.Next() {
		var (
			rec                 domain.ExecutionRecord
			outcome             string
			execDate, createdAt int64
			opID                sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.PlanID, &rec.RunID, &execDate, &outcome, &opID, &rec.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		rec.Outcome = domain.ExecutionOutcome(outcome)
		rec.ExecutionDate = time.Unix(execDate, 0).UTC()
		rec.CreatedAt = time.Unix(createdAt, 0).UTC()
		if opID.Valid {
			id := opID.Int64
			rec.OperationID = &id
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return records, nil
}

func scanPlan(s scanner) (*domain.DCAPlan, error) {
	var (
		plan                                  domain.DCAPlan
		amount, fee, baseAmount, maxAmount    string
		increaseRate, minNAV, maxNAV          string
		totalInvested, totalShares            string
		frequency, status, excluded           string
		startDate, createdAt, updatedAt       int64
		endDate, lastExecution, nextExecution sql.NullInt64
		skipHolidays, smart                   int
	)

	err := s.Scan(
		&plan.ID, &plan.Name, &plan.AssetCode, &amount, &fee, &frequency, &plan.FrequencyValue,
		&startDate, &endDate, &excluded, &skipHolidays, &status, &smart,
		&baseAmount, &maxAmount, &increaseRate, &minNAV, &maxNAV,
		&plan.ExecutionCount, &totalInvested, &totalShares, &lastExecution, &nextExecution, &plan.LastError,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	plan.Frequency = domain.Frequency(frequency)
	plan.Status = domain.PlanStatus(status)
	plan.SkipHolidays = skipHolidays != 0
	plan.SmartDCA = smart != 0
	plan.StartDate = time.Unix(startDate, 0).UTC()
	plan.CreatedAt = time.Unix(createdAt, 0).UTC()
	plan.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	plan.EndDate = dayPtr(endDate)
	plan.LastExecutionDate = dayPtr(lastExecution)
	plan.NextExecutionDate = dayPtr(nextExecution)

	if plan.ExcludeDates, err = decodeDays(excluded); err != nil {
		return nil, fmt.Errorf("plan %d: %w", plan.ID, err)
	}

	for _, f := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{amount, &plan.Amount},
		{fee, &plan.Fee},
		{baseAmount, &plan.BaseAmount},
		{maxAmount, &plan.MaxAmount},
		{increaseRate, &plan.IncreaseRate},
		{minNAV, &plan.MinNAV},
		{maxNAV, &plan.MaxNAV},
		{totalInvested, &plan.TotalInvested},
		{totalShares, &plan.TotalShares},
	} {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return nil, fmt.Errorf("plan %d: malformed decimal %q: %w", plan.ID, f.raw, err)
		}
		*f.dst = v
	}

	return &plan, nil
}

func encodeDays(days []time.Time) (string, error) {
	out := make([]string, 0, len(days))
	for _, d := range days {
		out = append(out, utils.FormatDay(d))
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to encode exclude dates: %w", err)
	}
	return string(b), nil
}

func decodeDays(raw string) ([]time.Time, error) {
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("malformed exclude dates: %w", err)
	}
	days := make([]time.Time, 0, len(values))
	for _, v := range values {
		d, err := utils.ParseDay(v)
		if err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, nil
}

func nullDay(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return utils.Day(*t).Unix()
}

func dayPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
