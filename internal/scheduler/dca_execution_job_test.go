package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/fundtrack/internal/modules/dca"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockDueExecutor struct {
	mock.Mock
}

func (m *MockDueExecutor) ExecuteAllDue(ctx context.Context, today time.Time) (*dca.BatchReport, error) {
	args := m.Called(ctx, today)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dca.BatchReport), args.Error(1)
}

func newDCAJob(executor DueExecutor) *DCAExecutionJob {
	job := NewDCAExecutionJob(executor, zerolog.Nop())
	job.now = func() time.Time { return time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC) }
	return job
}

func TestDCAExecutionJob_RunsForToday(t *testing.T) {
	executor := new(MockDueExecutor)
	today := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	executor.On("ExecuteAllDue", mock.Anything, today).Return(&dca.BatchReport{
		RunID:    "run-1",
		Plans:    []dca.PlanReport{{PlanID: 1, Executed: 1}},
		Executed: 1,
	}, nil)

	job := newDCAJob(executor)
	assert.Equal(t, "dca:execute-due", job.Name())
	assert.NoError(t, job.Run())
	executor.AssertExpectations(t)
}

func TestDCAExecutionJob_ReportsPlanErrors(t *testing.T) {
	executor := new(MockDueExecutor)
	executor.On("ExecuteAllDue", mock.Anything, mock.Anything).Return(&dca.BatchReport{
		Plans:      []dca.PlanReport{{PlanID: 1}, {PlanID: 2, Error: "persistence failure"}},
		PlanErrors: 1,
	}, nil)

	err := newDCAJob(executor).Run()
	assert.EqualError(t, err, "1 of 2 plans failed")
}

func TestDCAExecutionJob_ListFailure(t *testing.T) {
	executor := new(MockDueExecutor)
	executor.On("ExecuteAllDue", mock.Anything, mock.Anything).Return(nil, errors.New("database is locked"))

	err := newDCAJob(executor).Run()
	assert.ErrorContains(t, err, "database is locked")
}
