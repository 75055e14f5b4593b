// Package di wires databases, repositories, services and jobs into one container.
//
// The Container is the single source of truth for service instances; the HTTP
// server and the scheduler read everything they need from it.
package di

import (
	"github.com/aristath/fundtrack/internal/clientdata"
	"github.com/aristath/fundtrack/internal/clients/nav"
	"github.com/aristath/fundtrack/internal/database"
	"github.com/aristath/fundtrack/internal/events"
	"github.com/aristath/fundtrack/internal/modules/calendar"
	"github.com/aristath/fundtrack/internal/modules/dca"
	"github.com/aristath/fundtrack/internal/modules/dividends"
	"github.com/aristath/fundtrack/internal/modules/operations"
	"github.com/aristath/fundtrack/internal/modules/portfolio"
	"github.com/aristath/fundtrack/internal/reliability"
	"github.com/aristath/fundtrack/internal/scheduler"
)

// Container holds all application dependencies
type Container struct {
	// Databases
	LedgerDB *database.DB // operations, plans, execution log
	ConfigDB *database.DB // holiday calendar
	CacheDB  *database.DB // provider responses and cached positions

	// Events
	EventBus     *events.Bus
	EventManager *events.Manager

	// Repositories
	ClientDataRepo *clientdata.Repository
	CalendarRepo   *calendar.Repository
	OperationRepo  *operations.Repository
	PlanRepo       *dca.Repository

	// Clients
	NAVClient *nav.Client

	// Services
	OperationService *operations.Service
	PositionService  *portfolio.PositionService
	DCAExecutor      *dca.Executor
	DCAService       *dca.Service
	DividendResolver *dividends.Resolver
	BackupService    *reliability.BackupService // nil unless backups are enabled
}

// ScheduledJob pairs a job with its cron schedule
type ScheduledJob struct {
	Job      scheduler.Job
	Schedule string
}

// JobInstances holds the background jobs, for registration and manual triggering
type JobInstances struct {
	DCAExecution      scheduler.Job
	CacheCleanup      scheduler.Job
	WALCheckpoints    scheduler.Job
	DailyMaintenance  scheduler.Job
	WeeklyMaintenance scheduler.Job
	Backup            scheduler.Job // nil unless backups are enabled

	scheduled []ScheduledJob
}

// All returns every job with its schedule, in registration order
func (j *JobInstances) All() []ScheduledJob {
	return j.scheduled
}

// ByName finds a job by its scheduler name
func (j *JobInstances) ByName(name string) (scheduler.Job, bool) {
	for _, sj := range j.scheduled {
		if sj.Job.Name() == name {
			return sj.Job, true
		}
	}
	return nil, false
}

// Databases returns the open databases keyed by name
func (c *Container) Databases() map[string]*database.DB {
	dbs := make(map[string]*database.DB, 3)
	for name, db := range map[string]*database.DB{
		"ledger": c.LedgerDB,
		"config": c.ConfigDB,
		"cache":  c.CacheDB,
	} {
		if db != nil {
			dbs[name] = db
		}
	}
	return dbs
}

// Close closes every database, ledger last
func (c *Container) Close() error {
	var firstErr error
	for _, db := range []*database.DB{c.CacheDB, c.ConfigDB, c.LedgerDB} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
