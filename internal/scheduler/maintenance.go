package scheduler

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/ledgersync/internal/database"
)

// MaintenanceJob checks integrity and compacts each database. A database
// that fails its integrity check is not vacuumed.
type MaintenanceJob struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewMaintenanceJob creates a maintenance job over the given databases.
func NewMaintenanceJob(log zerolog.Logger, dbs ...*database.DB) *MaintenanceJob {
	return &MaintenanceJob{
		databases: dbs,
		log:       log.With().Str("job", "db_maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *MaintenanceJob) Name() string {
	return "db_maintenance"
}

// Run returns the first integrity failure; vacuum failures are only logged.
func (j *MaintenanceJob) Run() error {
	start := time.Now()
	var firstErr error

	for _, db := range j.databases {
		if db == nil {
			continue
		}

		if err := j.integrityCheck(db); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("Integrity check failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if err := j.vacuum(db); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("VACUUM failed")
		}
	}

	j.log.Info().Dur("duration_ms", time.Since(start)).Msg("Database maintenance completed")
	return firstErr
}

func (j *MaintenanceJob) integrityCheck(db *database.DB) error {
	var result string
	if err := db.Conn().QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("quick_check on %s: %w", db.Name(), err)
	}
	if result != "ok" {
		return fmt.Errorf("quick_check on %s: %s", db.Name(), result)
	}
	return nil
}

func (j *MaintenanceJob) vacuum(db *database.DB) error {
	sizeBefore := sizeMB(db)

	if _, err := db.Conn().Exec("VACUUM"); err != nil {
		return fmt.Errorf("VACUUM failed: %w", err)
	}

	sizeAfter := sizeMB(db)
	j.log.Info().
		Str("database", db.Name()).
		Float64("size_before_mb", sizeBefore).
		Float64("size_after_mb", sizeAfter).
		Float64("space_reclaimed_mb", sizeBefore-sizeAfter).
		Msg("VACUUM completed")
	return nil
}

func sizeMB(db *database.DB) float64 {
	var pageCount, pageSize int
	_ = db.Conn().QueryRow("PRAGMA page_count").Scan(&pageCount)
	_ = db.Conn().QueryRow("PRAGMA page_size").Scan(&pageSize)
	return float64(pageCount*pageSize) / 1024 / 1024
}
