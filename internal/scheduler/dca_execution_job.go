package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/fundtrack/internal/utils"
	"github.com/rs/zerolog"
)

const dcaExecutionTimeout = 30 * time.Minute

// DCAExecutionJob is the daily tick of the plan executor. It shares the
// executor's per-plan locks with manual executions.
type DCAExecutionJob struct {
	executor DueExecutor
	log      zerolog.Logger
	now      func() time.Time
}

// NewDCAExecutionJob creates the daily plan execution job
func NewDCAExecutionJob(executor DueExecutor, log zerolog.Logger) *DCAExecutionJob {
	return &DCAExecutionJob{
		executor: executor,
		log:      log.With().Str("job", "dca_execution").Logger(),
		now:      time.Now,
	}
}

// Name returns the job name
func (j *DCAExecutionJob) Name() string {
	return "dca:execute-due"
}

// Run executes all due plans for today
func (j *DCAExecutionJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), dcaExecutionTimeout)
	defer cancel()

	today := utils.Day(j.now())
	batch, err := j.executor.ExecuteAllDue(ctx, today)
	if err != nil {
		return fmt.Errorf("failed to execute due plans: %w", err)
	}

	j.log.Info().
		Str("run_id", batch.RunID).
		Str("day", utils.FormatDay(today)).
		Int("plans", len(batch.Plans)).
		Int("executed", batch.Executed).
		Int("failed", batch.Failed).
		Msg("Daily DCA run finished")

	if batch.PlanErrors > 0 {
		return fmt.Errorf("%d of %d plans failed", batch.PlanErrors, len(batch.Plans))
	}
	return nil
}
