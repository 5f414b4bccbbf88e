package clientdata

import (
	"github.com/rs/zerolog"
)

// Checkpointer truncates a database's write-ahead log.
type Checkpointer interface {
	WALCheckpoint(mode string) error
}

// CleanupJob removes entries older than MaxRetention and checkpoints the
// cache database.
type CleanupJob struct {
	repo *Repository
	db   Checkpointer
	log  zerolog.Logger
}

// NewCleanupJob creates a new response cache cleanup job. db may be nil.
func NewCleanupJob(repo *Repository, db Checkpointer, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		repo: repo,
		db:   db,
		log:  log.With().Str("job", "cache_cleanup").Logger(),
	}
}

// Run performs one cleanup pass.
func (j *CleanupJob) Run() error {
	deleted, err := j.repo.DeleteOlderThan(MaxRetention)
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to delete stale cache entries")
		return err
	}

	if deleted > 0 {
		j.log.Info().Int64("deleted", deleted).Msg("Cleaned up stale cache entries")
	}

	if j.db != nil {
		if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Msg("Cache WAL checkpoint failed")
			return err
		}
	}

	return nil
}

// Name returns the job name for scheduling and logging.
func (j *CleanupJob) Name() string {
	return "cache_cleanup"
}
