package di

import (
	"github.com/rs/zerolog"

	"github.com/aristath/ledgersync/internal/clientdata"
	"github.com/aristath/ledgersync/internal/kv"
	"github.com/aristath/ledgersync/internal/queue"
)

// InitializeRepositories creates the data access layer over the opened databases.
func InitializeRepositories(container *Container, log zerolog.Logger) {
	container.KVRepo = kv.NewRepository(container.StateDB.Conn(), log)
	container.CacheRepo = clientdata.NewRepository(container.CacheDB.Conn())
	container.QueueStore = queue.NewSQLiteStore(container.StateDB.Conn())

	log.Debug().Msg("Repositories initialized")
}
