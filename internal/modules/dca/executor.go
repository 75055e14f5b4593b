package dca

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aristath/fundtrack/internal/database"
	"github.com/aristath/fundtrack/internal/domain"
	"github.com/aristath/fundtrack/internal/events"
	"github.com/aristath/fundtrack/internal/modules/operations"
	"github.com/aristath/fundtrack/internal/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const moduleName = "dca"

// errSlotTaken marks a plan date another run claimed first
var errSlotTaken = errors.New("plan date already executed")

// PlanReport is the outcome of one plan run
type PlanReport struct {
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Status     domain.PlanStatus `json:"status"`
	RunID      string            `json:"run_id"`
	AssetCode  string            `json:"asset_code"`
	Error      string            `json:"error,omitempty"`
	Errors     []string          `json:"errors,omitempty"`
	PlanID     int64             `json:"plan_id"`
	Requested  int               `json:"requested"`
	Executed   int               `json:"executed"`
	Skipped    int               `json:"skipped"`
	Failed     int               `json:"failed"`
	Cancelled  bool              `json:"cancelled,omitempty"`
}

// Summary renders the report the way it is shown to users
func (r *PlanReport) Summary() string {
	return fmt.Sprintf("generated %d of %d requested records (%d already present, %d failed)",
		r.Executed, r.Requested, r.Skipped, r.Failed)
}

// BatchReport collects the per-plan reports of one ExecuteAllDue call
type BatchReport struct {
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	RunID      string       `json:"run_id"`
	Plans      []PlanReport `json:"plans"`
	Executed   int          `json:"executed"`
	Failed     int          `json:"failed"`
	PlanErrors int          `json:"plan_errors"`
}

// RegenerateReport is the outcome of RegenerateHistory
type RegenerateReport struct {
	Backfill *PlanReport `json:"backfill"`
	PlanID   int64       `json:"plan_id"`
	Removed  int         `json:"removed"`
}

// ExecutorConfig tunes the executor
type ExecutorConfig struct {
	NAVLookbackDays int
	MaxParallel     int
}

// Executor runs plans against the ledger.
//
// Every entry point for a plan (scheduled tick, manual execution, backfill,
// regeneration, operation deletion) takes the plan's lock first, so runs of the
// same plan never overlap. The plan/day UNIQUE index in the ledger backs this
// up across processes: a date another writer claimed first counts as skipped.
type Executor struct {
	plans    *Repository
	ops      *operations.Repository
	navs     domain.NAVProvider
	calendar domain.HolidayCalendar
	events   *events.Manager
	cfg      ExecutorConfig
	log      zerolog.Logger
	now      func() time.Time

	mu    sync.Mutex
	locks map[int64]*semaphore.Weighted
}

// NewExecutor creates a plan executor
func NewExecutor(
	plans *Repository,
	ops *operations.Repository,
	navs domain.NAVProvider,
	calendar domain.HolidayCalendar,
	eventManager *events.Manager,
	cfg ExecutorConfig,
	log zerolog.Logger,
) *Executor {
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 1
	}
	if cfg.NAVLookbackDays < 0 {
		cfg.NAVLookbackDays = 0
	}
	return &Executor{
		plans:    plans,
		ops:      ops,
		navs:     navs,
		calendar: calendar,
		events:   eventManager,
		cfg:      cfg,
		log:      log.With().Str("component", "dca_executor").Logger(),
		now:      time.Now,
		locks:    make(map[int64]*semaphore.Weighted),
	}
}

// lock serializes work on one plan. The returned func releases it.
func (e *Executor) lock(ctx context.Context, planID int64) (func(), error) {
	e.mu.Lock()
	sem, ok := e.locks[planID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		e.locks[planID] = sem
	}
	e.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}

// ExecuteDue records every candidate date of the plan up to today that has no operation yet
func (e *Executor) ExecuteDue(ctx context.Context, planID int64, today time.Time) (*PlanReport, error) {
	unlock, err := e.lock(ctx, planID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	plan, err := e.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.Status != domain.PlanActive {
		return nil, &domain.ValidationError{Field: "status", Message: fmt.Sprintf("plan %d is %s", planID, plan.Status)}
	}

	dates, err := Generate(ctx, plan, today, e.calendar)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, plan, dates, today)
}

// Backfill records the plan's historical dates in [from, to] that have no operation yet.
// extraExclude drops further dates for this run only.
func (e *Executor) Backfill(ctx context.Context, planID int64, from, to time.Time, extraExclude []time.Time) (*PlanReport, error) {
	from, to = utils.Day(from), utils.Day(to)
	if to.Before(from) {
		return nil, &domain.InvalidRangeError{Message: fmt.Sprintf(
			"backfill end %s is before start %s", utils.FormatDay(to), utils.FormatDay(from))}
	}

	unlock, err := e.lock(ctx, planID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	plan, err := e.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.Status == domain.PlanStopped {
		return nil, &domain.ValidationError{Field: "status", Message: fmt.Sprintf("plan %d is stopped", planID)}
	}

	today := utils.Day(e.now().UTC())
	asOf := to
	if today.Before(asOf) {
		asOf = today
	}

	scoped := *plan
	scoped.ExcludeDates = append(append([]time.Time{}, plan.ExcludeDates...), extraExclude...)

	all, err := Generate(ctx, &scoped, asOf, e.calendar)
	if err != nil {
		return nil, err
	}
	dates := make([]time.Time, 0, len(all))
	for _, d := range all {
		if !d.Before(from) {
			dates = append(dates, d)
		}
	}

	return e.run(ctx, plan, dates, today)
}

// ExecuteAllDue runs every active plan. One plan failing never stops the others;
// each plan's outcome is in the report.
func (e *Executor) ExecuteAllDue(ctx context.Context, today time.Time) (*BatchReport, error) {
	timer := utils.NewTimer("dca_execute_all_due", e.log)
	plans, err := e.plans.List(ctx, domain.PlanActive)
	if err != nil {
		return nil, domain.Persistence("list active plans", err)
	}

	batch := &BatchReport{
		RunID:     uuid.New().String(),
		StartedAt: e.now().UTC(),
		Plans:     make([]PlanReport, 0, len(plans)),
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.MaxParallel)

	for _, plan := range plans {
		plan := plan // per-iteration copy (go.mod targets go1.21 loop semantics)
		g.Go(func() error {
			report, err := e.ExecuteDue(ctx, plan.ID, today)
			if err != nil {
				e.log.Error().Err(err).Int64("plan_id", plan.ID).Msg("Plan execution failed")
				report = &PlanReport{PlanID: plan.ID, AssetCode: plan.AssetCode, Status: plan.Status, Error: err.Error()}
			}

			mu.Lock()
			batch.Plans = append(batch.Plans, *report)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(batch.Plans, func(i, j int) bool { return batch.Plans[i].PlanID < batch.Plans[j].PlanID })
	for _, p := range batch.Plans {
		batch.Executed += p.Executed
		batch.Failed += p.Failed
		if p.Error != "" {
			batch.PlanErrors++
		}
	}
	batch.FinishedAt = e.now().UTC()

	e.log.Info().
		Str("run_id", batch.RunID).
		Int("plans", len(batch.Plans)).
		Int("executed", batch.Executed).
		Int("failed", batch.Failed).
		Int("plan_errors", batch.PlanErrors).
		Msg("DCA batch finished")
	timer.StopWithContext(map[string]interface{}{
		"run_id": batch.RunID,
		"plans":  len(batch.Plans),
	})

	return batch, nil
}

// RegenerateHistory removes the plan's operations dated outside its current
// [start, end] range and backfills the range again. It is irreversible, so
// without confirm it only reports how many operations would go.
func (e *Executor) RegenerateHistory(ctx context.Context, planID int64, confirm bool) (*RegenerateReport, error) {
	defer utils.OperationTimer("dca_regenerate_history", e.log)()
	unlock, err := e.lock(ctx, planID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	plan, err := e.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if err := ValidateSchedule(plan); err != nil {
		return nil, err
	}

	existing, err := e.ops.ListByPlan(ctx, planID)
	if err != nil {
		return nil, domain.Persistence("load plan operations", err)
	}
	var outside []int64
	for _, op := range existing {
		if !inRange(plan, op.OperationDate) {
			outside = append(outside, op.ID)
		}
	}

	if !confirm {
		return nil, &domain.ConfirmationRequiredError{Action: "regenerate history", Affected: len(outside)}
	}

	var removed int64
	err = database.WithTransactionContext(ctx, e.ops.DB(), func(tx *sql.Tx) error {
		var err error
		removed, err = e.ops.DeleteIDsTx(ctx, tx, outside)
		return err
	})
	if err != nil {
		return nil, domain.Persistence("remove out-of-range operations", err)
	}

	e.log.Warn().Int64("plan_id", planID).Int64("removed", removed).Msg("Plan history regenerated")

	report := &RegenerateReport{PlanID: planID, Removed: int(removed)}
	today := utils.Day(e.now().UTC())
	if plan.Status != domain.PlanStopped {
		dates, err := Generate(ctx, plan, today, e.calendar)
		if err != nil {
			return nil, err
		}
		if report.Backfill, err = e.run(ctx, plan, dates, today); err != nil {
			return nil, err
		}
	} else if _, err := e.recompute(ctx, plan, today, plan.LastError); err != nil {
		return nil, err
	}

	created := 0
	if report.Backfill != nil {
		created = report.Backfill.Executed
	}
	e.emit(&events.PlanHistoryRegeneratedData{PlanID: planID, AssetCode: plan.AssetCode, Removed: report.Removed, Created: created})
	return report, nil
}

// DeletePlanOperations removes every operation the plan produced and resets its counters
func (e *Executor) DeletePlanOperations(ctx context.Context, planID int64) (int64, error) {
	unlock, err := e.lock(ctx, planID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	plan, err := e.plans.GetByID(ctx, planID)
	if err != nil {
		return 0, err
	}

	n, err := e.ops.DeleteByPlan(ctx, planID)
	if err != nil {
		return 0, domain.Persistence("delete plan operations", err)
	}
	if _, err := e.recompute(ctx, plan, utils.Day(e.now().UTC()), ""); err != nil {
		return n, err
	}

	e.emit(&events.PlanHistoryRegeneratedData{PlanID: planID, AssetCode: plan.AssetCode, Removed: int(n)})
	return n, nil
}

// RecomputeStats derives the plan's counters from its operations again
func (e *Executor) RecomputeStats(ctx context.Context, planID int64) (*domain.DCAPlan, error) {
	unlock, err := e.lock(ctx, planID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	plan, err := e.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	return e.recompute(ctx, plan, utils.Day(e.now().UTC()), plan.LastError)
}

// run records each date in order. The plan lock must be held.
func (e *Executor) run(ctx context.Context, plan *domain.DCAPlan, dates []time.Time, today time.Time) (*PlanReport, error) {
	report := &PlanReport{
		PlanID:    plan.ID,
		AssetCode: plan.AssetCode,
		RunID:     uuid.New().String(),
		StartedAt: e.now().UTC(),
		Requested: len(dates),
	}

	taken, err := e.ops.PlanDays(ctx, plan.ID)
	if err != nil {
		return nil, domain.Persistence("load plan days", err)
	}

	log := e.log.With().Int64("plan_id", plan.ID).Str("run_id", report.RunID).Logger()

	for _, date := range dates {
		// cancellation is honored between dates, never inside one
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}
		if taken[utils.FormatDay(date)] {
			report.Skipped++
			continue
		}

		err := e.executeDate(context.WithoutCancel(ctx), plan, date, report.RunID)
		switch {
		case err == nil:
			report.Executed++
		case errors.Is(err, errSlotTaken):
			report.Skipped++
		default:
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", utils.FormatDay(date), err))
			log.Warn().Err(err).Str("date", utils.FormatDay(date)).Msg("Plan date failed")
		}
	}

	lastError := ""
	if len(report.Errors) > 0 {
		lastError = report.Errors[len(report.Errors)-1]
	}

	// counters are refreshed even for a cancelled run
	updated, err := e.recompute(context.WithoutCancel(ctx), plan, today, lastError)
	if err != nil {
		return nil, err
	}
	report.Status = updated.Status
	report.FinishedAt = e.now().UTC()

	log.Info().
		Int("requested", report.Requested).
		Int("executed", report.Executed).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Bool("cancelled", report.Cancelled).
		Msg("Plan run finished")

	e.emit(&events.PlanExecutedData{
		PlanID:    plan.ID,
		AssetCode: plan.AssetCode,
		RunID:     report.RunID,
		Executed:  report.Executed,
		Skipped:   report.Skipped,
		Failed:    report.Failed,
	})
	return report, nil
}

// executeDate records one plan date: the pending buy and its execution record
// commit together. A missing NAV is logged as a failed execution and retried
// on the next tick.
func (e *Executor) executeDate(ctx context.Context, plan *domain.DCAPlan, date time.Time, runID string) error {
	quote, err := e.navFor(ctx, plan.AssetCode, date)
	if err != nil {
		e.recordFailure(ctx, plan.ID, date, runID, err)
		return err
	}

	amount := AmountFor(plan, quote.NAV)
	nav := quote.NAV
	fee := plan.Fee
	planID := plan.ID

	op, err := operations.Reconcile(operations.OperationInput{
		AssetCode:     plan.AssetCode,
		Type:          domain.OperationBuy,
		Status:        domain.StatusPending,
		OperationDate: date,
		Amount:        &amount,
		NAV:           &nav,
		Fee:           &fee,
		DCAPlanID:     &planID,
		Notes:         "dca run " + runID,
	}, decimal.Zero)
	if err != nil {
		e.recordFailure(ctx, plan.ID, date, runID, err)
		return err
	}

	err = database.WithTransactionContext(ctx, e.ops.DB(), func(tx *sql.Tx) error {
		if err := e.ops.InsertTx(ctx, tx, &op); err != nil {
			if database.IsUniqueViolation(err) {
				return errSlotTaken
			}
			return err
		}
		opID := op.ID
		return e.plans.RecordExecutionTx(ctx, tx, &domain.ExecutionRecord{
			PlanID:        plan.ID,
			RunID:         runID,
			ExecutionDate: date,
			Outcome:       domain.OutcomeExecuted,
			OperationID:   &opID,
		})
	})
	if errors.Is(err, errSlotTaken) {
		return errSlotTaken
	}
	if err != nil {
		return domain.Persistence("record plan execution", err)
	}
	return nil
}

func (e *Executor) recordFailure(ctx context.Context, planID int64, date time.Time, runID string, cause error) {
	rec := &domain.ExecutionRecord{
		PlanID:        planID,
		RunID:         runID,
		ExecutionDate: date,
		Outcome:       domain.OutcomeFailed,
		Message:       cause.Error(),
	}
	if err := e.plans.RecordExecution(ctx, rec); err != nil {
		e.log.Error().Err(err).Int64("plan_id", planID).Msg("Failed to record failed execution")
	}
}

// navFor returns the NAV for date, walking back up to the lookback window to
// cover non-trading days.
func (e *Executor) navFor(ctx context.Context, assetCode string, date time.Time) (*domain.NAVQuote, error) {
	if e.navs == nil {
		return nil, &domain.NavUnavailableError{AssetCode: assetCode, Date: date, Err: domain.ErrNAVNotFound}
	}

	for back := 0; back <= e.cfg.NAVLookbackDays; back++ {
		quote, err := e.navs.GetNAV(ctx, assetCode, date.AddDate(0, 0, -back))
		if err == nil {
			if !quote.NAV.IsPositive() {
				return nil, &domain.InvalidNavError{NAV: quote.NAV}
			}
			return quote, nil
		}
		if !errors.Is(err, domain.ErrNAVNotFound) {
			return nil, &domain.NavUnavailableError{AssetCode: assetCode, Date: date, Err: err}
		}
	}
	return nil, &domain.NavUnavailableError{AssetCode: assetCode, Date: date, Err: domain.ErrNAVNotFound}
}

// recompute derives the plan counters from its non-cancelled operations and
// completes an active plan whose every date up to its end is recorded.
func (e *Executor) recompute(ctx context.Context, plan *domain.DCAPlan, today time.Time, lastError string) (*domain.DCAPlan, error) {
	ops, err := e.ops.ListByPlan(ctx, plan.ID)
	if err != nil {
		return nil, domain.Persistence("load plan operations", err)
	}

	stats := Stats{TotalInvested: decimal.Zero, TotalShares: decimal.Zero, LastError: lastError}
	days := make(map[string]bool, len(ops))
	for _, op := range ops {
		days[op.OperationDay()] = true
		if op.Status == domain.StatusCancelled {
			continue
		}
		stats.ExecutionCount++
		stats.TotalInvested = stats.TotalInvested.Add(op.Amount)
		stats.TotalShares = stats.TotalShares.Add(op.Quantity)
		if stats.LastExecutionDate == nil || op.OperationDate.After(*stats.LastExecutionDate) {
			d := op.OperationDate
			stats.LastExecutionDate = &d
		}
	}

	complete := false
	if plan.Status == domain.PlanActive && plan.EndDate != nil && !today.Before(utils.Day(*plan.EndDate)) {
		if complete, err = e.allRecorded(ctx, plan, days); err != nil {
			return nil, err
		}
	}

	if !plan.Status.Terminal() && !complete {
		if stats.NextExecutionDate, err = e.nextOpen(ctx, plan, today, days); err != nil {
			return nil, err
		}
	}

	if err := e.plans.UpdateStats(ctx, plan.ID, stats); err != nil {
		return nil, domain.Persistence("update plan stats", err)
	}

	updated := *plan
	updated.ExecutionCount = stats.ExecutionCount
	updated.TotalInvested = stats.TotalInvested
	updated.TotalShares = stats.TotalShares
	updated.LastExecutionDate = stats.LastExecutionDate
	updated.NextExecutionDate = stats.NextExecutionDate
	updated.LastError = stats.LastError

	if complete {
		if err := e.plans.UpdateStatus(ctx, plan.ID, domain.PlanCompleted); err != nil {
			return nil, domain.Persistence("complete plan", err)
		}
		updated.Status = domain.PlanCompleted
		e.log.Info().Int64("plan_id", plan.ID).Msg("Plan completed")
		e.emit(&events.PlanChangedData{PlanID: plan.ID, Action: "completed", Status: string(domain.PlanCompleted)})
	}

	return &updated, nil
}

// nextOpen is the first candidate date on or after today without an operation
func (e *Executor) nextOpen(ctx context.Context, plan *domain.DCAPlan, today time.Time, days map[string]bool) (*time.Time, error) {
	cursor := today.AddDate(0, 0, -1)
	for {
		next, err := NextAfter(ctx, plan, cursor, e.calendar)
		if err != nil || next == nil {
			return nil, err
		}
		if !days[utils.FormatDay(*next)] {
			return next, nil
		}
		cursor = *next
	}
}

func (e *Executor) allRecorded(ctx context.Context, plan *domain.DCAPlan, days map[string]bool) (bool, error) {
	dates, err := Generate(ctx, plan, *plan.EndDate, e.calendar)
	if err != nil {
		return false, err
	}
	for _, d := range dates {
		if !days[utils.FormatDay(d)] {
			return false, nil
		}
	}
	return true, nil
}

func (e *Executor) emit(data events.EventData) {
	if e.events == nil {
		return
	}
	e.events.EmitTyped(moduleName, data)
}

func inRange(plan *domain.DCAPlan, date time.Time) bool {
	d := utils.Day(date)
	if d.Before(utils.Day(plan.StartDate)) {
		return false
	}
	return plan.EndDate == nil || !d.After(utils.Day(*plan.EndDate))
}
