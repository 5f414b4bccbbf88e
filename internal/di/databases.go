package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/ledgersync/internal/config"
	"github.com/aristath/ledgersync/internal/database"
)

// InitializeDatabases opens state.db and cache.db and applies their schemas.
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// state.db - queued writes and kv (session, device, health)
	stateDB, err := database.New(database.Config{
		Path:    cfg.StatePath(),
		Profile: database.ProfileLedger, // queued writes must survive a crash
		Name:    "state",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state database: %w", err)
	}
	container.StateDB = stateDB

	// cache.db - API response cache
	cacheDB, err := database.New(database.Config{
		Path:    cfg.CachePath(),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		stateDB.Close()
		return nil, fmt.Errorf("failed to initialize cache database: %w", err)
	}
	container.CacheDB = cacheDB

	for _, db := range []*database.DB{stateDB, cacheDB} {
		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to apply schema to %s: %w", db.Name(), err)
		}
	}

	log.Info().Str("data_dir", cfg.DataDir).Msg("Databases initialized and schemas applied")

	return container, nil
}
