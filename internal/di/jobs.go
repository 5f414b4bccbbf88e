package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/ledgersync/internal/clientdata"
	"github.com/aristath/ledgersync/internal/scheduler"
)

// Job schedules (seconds field first).
const (
	CacheCleanupSchedule  = "0 15 3 * * *" // daily at 03:15
	WALCheckpointSchedule = "0 0 * * * *"  // hourly
	MaintenanceSchedule   = "0 0 4 * * 0"  // Sundays at 04:00
)

// JobInstances holds the registered maintenance jobs for manual triggering.
type JobInstances struct {
	CacheCleanup  scheduler.Job
	WALCheckpoint scheduler.Job
	Maintenance   scheduler.Job
}

// RegisterJobs creates the maintenance jobs and registers them on a new scheduler.
func RegisterJobs(container *Container, log zerolog.Logger) (*JobInstances, error) {
	container.Scheduler = scheduler.New(log)

	jobs := &JobInstances{
		CacheCleanup:  clientdata.NewCleanupJob(container.CacheRepo, container.CacheDB, log),
		WALCheckpoint: scheduler.NewWALCheckpointJob(log, container.StateDB, container.CacheDB),
		Maintenance:   scheduler.NewMaintenanceJob(log, container.StateDB, container.CacheDB),
	}

	for schedule, job := range map[string]scheduler.Job{
		CacheCleanupSchedule:  jobs.CacheCleanup,
		WALCheckpointSchedule: jobs.WALCheckpoint,
		MaintenanceSchedule:   jobs.Maintenance,
	} {
		if err := container.Scheduler.AddJob(schedule, job); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", job.Name(), err)
		}
	}

	return jobs, nil
}
