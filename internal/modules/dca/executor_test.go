package dca

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aristath/fundtrack/internal/domain"
	"github.com/aristath/fundtrack/internal/events"
	"github.com/aristath/fundtrack/internal/modules/operations"
	testingpkg "github.com/aristath/fundtrack/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type executorFixture struct {
	plans    *Repository
	ops      *operations.Repository
	navs     *testingpkg.MockNAVProvider
	calendar *testingpkg.MockHolidayCalendar
	manager  *events.Manager
	executor *Executor

	mu       sync.Mutex
	received []*events.Event
}

var fixedNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "ledger")
	t.Cleanup(cleanup)

	f := &executorFixture{
		plans:    NewRepository(db.Conn(), zerolog.Nop()),
		ops:      operations.NewRepository(db.Conn(), zerolog.Nop()),
		navs:     testingpkg.NewMockNAVProvider(),
		calendar: testingpkg.NewMockHolidayCalendar(),
	}

	bus := events.NewBus(zerolog.Nop())
	for _, et := range []events.EventType{events.PlanExecuted, events.PlanChanged, events.PlanHistoryRegenerated} {
		bus.Subscribe(et, func(e *events.Event) {
			f.mu.Lock()
			f.received = append(f.received, e)
			f.mu.Unlock()
		})
	}
	f.manager = events.NewManager(bus, zerolog.Nop())

	f.executor = NewExecutor(f.plans, f.ops, f.navs, f.calendar, f.manager,
		ExecutorConfig{NAVLookbackDays: 3, MaxParallel: 4}, zerolog.Nop())
	f.executor.now = func() time.Time { return fixedNow }
	return f
}

func (f *executorFixture) createPlan(t *testing.T, plan *domain.DCAPlan) *domain.DCAPlan {
	t.Helper()
	require.NoError(t, f.plans.Create(context.Background(), plan))
	return plan
}

func (f *executorFixture) monthlyNAVs(asset string, months int, nav string) {
	for m := 0; m < months; m++ {
		f.navs.SetNAV(asset, testingpkg.Day(2024, time.Month(1+m), 1), nav)
	}
}

func TestExecuteDue_RecordsPendingBuys(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()
	plan := f.createPlan(t, testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 1, 1), "100"))
	f.monthlyNAVs("110011", 3, "1.25")

	report, err := f.executor.ExecuteDue(ctx, plan.ID, testingpkg.Day(2024, 3, 10))
	require.NoError(t, err)
	assert.Equal(t, 3, report.Requested)
	assert.Equal(t, 3, report.Executed)
	assert.Equal(t, 0, report.Failed)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "generated 3 of 3 requested records (0 already present, 0 failed)", report.Summary())

	ops, err := f.ops.ListByPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	for _, op := range ops {
		assert.Equal(t, domain.OperationBuy, op.Type)
		assert.Equal(t, domain.StatusPending, op.Status)
		assert.Equal(t, "80", op.Quantity.String())
		assert.Equal(t, "100", op.Amount.String())
	}

	stored, err := f.plans.GetByID(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.ExecutionCount)
	assert.Equal(t, "300", stored.TotalInvested.String())
	assert.Equal(t, "240", stored.TotalShares.String())
	require.NotNil(t, stored.LastExecutionDate)
	assert.Equal(t, "2024-03-01", stored.LastExecutionDate.Format(time.DateOnly))
	require.NotNil(t, stored.NextExecutionDate)
	assert.Equal(t, "2024-04-01", stored.NextExecutionDate.Format(time.DateOnly))

	records, err := f.plans.ListExecutions(ctx, plan.ID, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, domain.OutcomeExecuted, records[0].Outcome)
	assert.NotNil(t, records[0].OperationID)
}

func TestExecuteDue_IsIdempotent(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()
	plan := f.createPlan(t, testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 1, 1), "100"))
	f.monthlyNAVs("110011", 3, "1.25")

	_, err := f.executor.ExecuteDue(ctx, plan.ID, testingpkg.Day(2024, 3, 10))
	require.NoError(t, err)

	report, err := f.executor.ExecuteDue(ctx, plan.ID, testingpkg.Day(2024, 3, 10))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Executed)
	assert.Equal(t, 3, report.Skipped)

	ops, err := f.ops.ListByPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Len(t, ops, 3)
}

func TestExecuteDue_RejectsInactivePlan(t *testing.T) {
	f := newExecutorFixture(t)
	plan := testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 1, 1), "100")
	plan.Status = domain.PlanPaused
	f.createPlan(t, plan)

	_, err := f.executor.ExecuteDue(context.Background(), plan.ID, testingpkg.Day(2024, 3, 10))
	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)

	_, err = f.executor.ExecuteDue(context.Background(), 999, testingpkg.Day(2024, 3, 10))
	assert.True(t, domain.IsNotFound(err))
}

func TestExecuteDue_WalksBackForNAV(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()
	plan := f.createPlan(t, testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 6, 1), "100"))

	// 2024-06-01 is a Saturday; the last NAV is Friday's
	f.navs.SetNAV("110011", testingpkg.Day(2024, 5, 31), "2.0000")

	report, err := f.executor.ExecuteDue(ctx, plan.ID, testingpkg.Day(2024, 6, 2))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Executed)

	ops, err := f.ops.ListByPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "2024-06-01", ops[0].OperationDay())
	assert.Equal(t, "2", ops[0].NAV.String())
}

func TestExecuteDue_MissingNAVIsRetriedNextTick(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()
	plan := f.createPlan(t, testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 1, 1), "100"))
	f.navs.SetNAV("110011", testingpkg.Day(2024, 1, 1), "1.25")

	report, err := f.executor.ExecuteDue(ctx, plan.ID, testingpkg.Day(2024, 2, 10))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Executed)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "2024-02-01")

	stored, err := f.plans.GetByID(ctx, plan.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.LastError, "nav unavailable")
	assert.Equal(t, domain.PlanActive, stored.Status)
	require.NotNil(t, stored.NextExecutionDate)
	assert.Equal(t, "2024-03-01", stored.NextExecutionDate.Format(time.DateOnly))

	records, err := f.plans.ListExecutions(ctx, plan.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, domain.OutcomeFailed, records[0].Outcome)

	f.navs.SetNAV("110011", testingpkg.Day(2024, 2, 1), "1.25")
	report, err = f.executor.ExecuteDue(ctx, plan.ID, testingpkg.Day(2024, 2, 10))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Executed)
	assert.Equal(t, 1, report.Skipped)

	stored, err = f.plans.GetByID(ctx, plan.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.LastError)
}

func TestExecuteDue_ProviderErrorIsReported(t *testing.T) {
	f := newExecutorFixture(t)
	plan := f.createPlan(t, testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 1, 1), "100"))
	f.navs.SetError(errors.New("upstream timeout"))

	report, err := f.executor.ExecuteDue(context.Background(), plan.ID, testingpkg.Day(2024, 2, 10))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 0, report.Executed)
	assert.Contains(t, report.Errors[0], "upstream timeout")
}

func TestExecuteDue_CompletesPlanAtEnd(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()
	end := testingpkg.Day(2024, 3, 1)
	plan := testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 1, 1), "100")
	plan.EndDate = &end
	plan.ExcludeDates = []time.Time{testingpkg.Day(2024, 2, 1)}
	f.createPlan(t, plan)
	f.monthlyNAVs("110011", 3, "1.25")

	report, err := f.executor.ExecuteDue(ctx, plan.ID, testingpkg.Day(2024, 4, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Executed)
	assert.Equal(t, domain.PlanCompleted, report.Status)

	stored, err := f.plans.GetByID(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanCompleted, stored.Status)
	assert.Nil(t, stored.NextExecutionDate)

	ops, err := f.ops.ListByPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "2024-01-01", ops[0].OperationDay())
	assert.Equal(t, "2024-03-01", ops[1].OperationDay())
}

func TestExecuteDue_SmartAmount(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()
	plan := smartPlan()
	f.createPlan(t, plan)
	f.navs.SetNAV("110011", testingpkg.Day(2024, 1, 1), "0.8")
	f.navs.SetNAV("110011", testingpkg.Day(2024, 2, 1), "2.5")

	_, err := f.executor.ExecuteDue(ctx, plan.ID, testingpkg.Day(2024, 2, 1))
	require.NoError(t, err)

	ops, err := f.ops.ListByPlan(ctx, plan.ID)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "150", ops[0].Amount.String())
	assert.Equal(t, "100", ops[1].Amount.String())
}

func TestBackfill_RangeAndIdempotence(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()
	plan := f.createPlan(t, testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 1, 1), "100"))
	f.monthlyNAVs("110011", 6, "1.25")

	report, err := f.executor.Backfill(ctx, plan.ID, testingpkg.Day(2024, 2, 1), testingpkg.Day(2024, 5, 1),
		[]time.Time{testingpkg.Day(2024, 3, 1)})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Requested)
	assert.Equal(t, 3, report.Executed)

	again, err := f.executor.Backfill(ctx, plan.ID, testingpkg.Day(2024, 2, 1), testingpkg.Day(2024, 5, 1),
		[]time.Time{testingpkg.Day(2024, 3, 1)})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Executed)

	days, err := f.ops.PlanDays(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"2024-02-01": true, "2024-04-01": true, "2024-05-01": true}, days)

	// the run-only exclusion is not stored on the plan
	stored, err := f.plans.GetByID(ctx, plan.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.ExcludeDates)
}

func TestBackfill_NeverPastToday(t *testing.T) {
	f := newExecutorFixture(t)
	plan := f.createPlan(t, testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 5, 1), "100"))
	f.monthlyNAVs("110011", 12, "1.25")

	report, err := f.executor.Backfill(context.Background(), plan.ID, testingpkg.Day(2024, 5, 1), testingpkg.Day(2024, 12, 1), nil)
	require.NoError(t, err)
	// fixedNow is 2024-06-15
	assert.Equal(t, 2, report.Executed)
}

func TestBackfill_InvalidRange(t *testing.T) {
	f := newExecutorFixture(t)
	plan := f.createPlan(t, testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 1, 1), "100"))

	_, err := f.executor.Backfill(context.Background(), plan.ID, testingpkg.Day(2024, 5, 1), testingpkg.Day(2024, 1, 1), nil)
	var rangeErr *domain.InvalidRangeError
	require.ErrorAs(t, err, &rangeErr)
}

// cancellingNAVs cancels the run's context during the first lookup
type cancellingNAVs struct {
	*testingpkg.MockNAVProvider
	cancel context.CancelFunc
}

func (c *cancellingNAVs) GetNAV(ctx context.Context, asset string, date time.Time) (*domain.NAVQuote, error) {
	c.cancel()
	return c.MockNAVProvider.GetNAV(ctx, asset, date)
}

func TestExecuteDue_CancellationStopsBetweenDates(t *testing.T) {
	f := newExecutorFixture(t)
	plan := f.createPlan(t, testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 1, 1), "100"))
	f.monthlyNAVs("110011", 3, "1.25")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.executor.navs = &cancellingNAVs{MockNAVProvider: f.navs, cancel: cancel}

	report, err := f.executor.ExecuteDue(ctx, plan.ID, testingpkg.Day(2024, 3, 10))
	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	assert.Equal(t, 1, report.Executed, "the date in progress completes")

	stored, err := f.plans.GetByID(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ExecutionCount)
}

func TestExecuteDue_ConcurrentRunsDoNotDuplicate(t *testing.T) {
	f := newExecutorFixture(t)
	plan := f.createPlan(t, testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 1, 1), "100"))
	f.monthlyNAVs("110011", 6, "1.25")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.executor.ExecuteDue(context.Background(), plan.ID, testingpkg.Day(2024, 6, 1))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	ops, err := f.ops.ListByPlan(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.Len(t, ops, 6)
}

func TestExecuteAllDue_ContinuesAfterPlanFailure(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()
	f.monthlyNAVs("110011", 2, "1.25")
	f.monthlyNAVs("220022", 2, "2.5")

	good := f.createPlan(t, testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 1, 1), "100"))

	broken := testingpkg.NewMonthlyPlan("220022", testingpkg.Day(2024, 1, 1), "100")
	broken.SkipHolidays = true
	f.createPlan(t, broken)

	paused := testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 1, 1), "50")
	paused.Status = domain.PlanPaused
	f.createPlan(t, paused)

	f.calendar.SetError(errors.New("calendar offline"))

	batch, err := f.executor.ExecuteAllDue(ctx, testingpkg.Day(2024, 2, 10))
	require.NoError(t, err)
	require.Len(t, batch.Plans, 2, "paused plans are not run")
	assert.NotEmpty(t, batch.RunID)
	assert.Equal(t, 1, batch.PlanErrors)
	assert.Equal(t, 2, batch.Executed)

	assert.Equal(t, good.ID, batch.Plans[0].PlanID)
	assert.Equal(t, 2, batch.Plans[0].Executed)
	assert.Equal(t, broken.ID, batch.Plans[1].PlanID)
	assert.Contains(t, batch.Plans[1].Error, "calendar offline")
}

func TestRegenerateHistory_RequiresConfirmation(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()
	plan := f.createPlan(t, testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 1, 1), "100"))
	f.monthlyNAVs("110011", 6, "1.25")

	_, err := f.executor.ExecuteDue(ctx, plan.ID, testingpkg.Day(2024, 4, 10))
	require.NoError(t, err)

	plan.StartDate = testingpkg.Day(2024, 3, 1)
	require.NoError(t, f.plans.Update(ctx, plan))

	_, err = f.executor.RegenerateHistory(ctx, plan.ID, false)
	var confirm *domain.ConfirmationRequiredError
	require.ErrorAs(t, err, &confirm)
	assert.Equal(t, 2, confirm.Affected)

	ops, err := f.ops.ListByPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Len(t, ops, 4, "nothing is deleted without confirmation")

	report, err := f.executor.RegenerateHistory(ctx, plan.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Removed)
	require.NotNil(t, report.Backfill)
	// fixedNow is 2024-06-15: May and June are new
	assert.Equal(t, 2, report.Backfill.Executed)

	days, err := f.ops.PlanDays(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"2024-03-01": true, "2024-04-01": true, "2024-05-01": true, "2024-06-01": true}, days)

	f.mu.Lock()
	defer f.mu.Unlock()
	var regenerated bool
	for _, e := range f.received {
		if e.Type == events.PlanHistoryRegenerated {
			regenerated = true
			assert.Equal(t, "110011", e.AssetCode())
		}
	}
	assert.True(t, regenerated)
}

func TestDeletePlanOperations_ResetsCounters(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()
	plan := f.createPlan(t, testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 1, 1), "100"))
	f.monthlyNAVs("110011", 2, "1.25")

	_, err := f.executor.ExecuteDue(ctx, plan.ID, testingpkg.Day(2024, 2, 10))
	require.NoError(t, err)

	n, err := f.executor.DeletePlanOperations(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	stored, err := f.plans.GetByID(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.ExecutionCount)
	assert.True(t, stored.TotalInvested.IsZero())
	assert.Nil(t, stored.LastExecutionDate)
}

func TestRecomputeStats_IgnoresCancelled(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()
	plan := f.createPlan(t, testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 1, 1), "100"))
	f.monthlyNAVs("110011", 2, "1.25")

	_, err := f.executor.ExecuteDue(ctx, plan.ID, testingpkg.Day(2024, 2, 10))
	require.NoError(t, err)

	ops, err := f.ops.ListByPlan(ctx, plan.ID)
	require.NoError(t, err)
	service := operations.NewService(f.ops, nil, nil, zerolog.Nop())
	_, err = service.Cancel(ctx, ops[0].ID)
	require.NoError(t, err)

	updated, err := f.executor.RecomputeStats(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.ExecutionCount)
	assert.Equal(t, "100", updated.TotalInvested.String())
}
