package scheduler

import (
	"context"
	"time"

	"github.com/aristath/fundtrack/internal/modules/dca"
)

// DueExecutor runs every active plan up to a given day.
// Implemented by *dca.Executor; mocked in tests.
type DueExecutor interface {
	ExecuteAllDue(ctx context.Context, today time.Time) (*dca.BatchReport, error)
}
