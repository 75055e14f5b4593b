package di

import (
	"fmt"

	"github.com/aristath/fundtrack/internal/clientdata"
	"github.com/aristath/fundtrack/internal/config"
	"github.com/aristath/fundtrack/internal/reliability"
	"github.com/aristath/fundtrack/internal/scheduler"
	"github.com/rs/zerolog"
)

// Fixed maintenance schedules (seconds field first)
const (
	cacheCleanupSchedule      = "0 15 * * * *"   // hourly at :15
	walCheckpointSchedule     = "0 */30 * * * *" // every 30 minutes
	weeklyMaintenanceSchedule = "0 0 4 * * SUN"  // Sunday 04:00
)

var dailyMaintenanceTime = scheduler.MustParseScheduleTime("02:30")

// RegisterJobs creates every background job. Manual "execute now" requests and
// the dca:execute-due tick both go through container.DCAExecutor.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	instances := &JobInstances{}
	add := func(schedule string, job scheduler.Job) {
		instances.scheduled = append(instances.scheduled, ScheduledJob{Job: job, Schedule: schedule})
	}

	// DCA execution at the configured time of day
	instances.DCAExecution = scheduler.NewDCAExecutionJob(container.DCAExecutor, log)
	add(cfg.DCAExecutionTime.CronSpec(), instances.DCAExecution)

	// Cache maintenance
	instances.CacheCleanup = clientdata.NewCleanupJob(container.ClientDataRepo, log)
	add(cacheCleanupSchedule, instances.CacheCleanup)

	// Database maintenance
	databases := container.Databases()
	instances.WALCheckpoints = scheduler.NewCheckWALCheckpointsJob(databases, log)
	add(walCheckpointSchedule, instances.WALCheckpoints)

	instances.DailyMaintenance = reliability.NewDailyMaintenanceJob(databases, cfg.DataDir, log)
	add(dailyMaintenanceTime.CronSpec(), instances.DailyMaintenance)

	instances.WeeklyMaintenance = reliability.NewWeeklyMaintenanceJob(databases, log)
	add(weeklyMaintenanceSchedule, instances.WeeklyMaintenance)

	// Backups, only when configured
	if container.BackupService != nil {
		instances.Backup = reliability.NewBackupJob(container.BackupService, cfg.Backup.RetentionDays, log)
		add(cfg.Backup.Time.CronSpec(), instances.Backup)
	}

	log.Info().Int("jobs", len(instances.scheduled)).Msg("Jobs created")
	return instances, nil
}

// ScheduleJobs registers every job with the scheduler
func ScheduleJobs(s *scheduler.Scheduler, jobs *JobInstances) error {
	for _, sj := range jobs.All() {
		if err := s.AddJob(sj.Schedule, sj.Job); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", sj.Job.Name(), err)
		}
	}
	return nil
}
