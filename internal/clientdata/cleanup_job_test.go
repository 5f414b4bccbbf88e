package clientdata

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCheckpointer struct {
	modes []string
	err   error
}

func (s *stubCheckpointer) WALCheckpoint(mode string) error {
	s.modes = append(s.modes, mode)
	return s.err
}

func TestCleanupJobName(t *testing.T) {
	job := NewCleanupJob(NewRepository(setupTestDB(t)), nil, zerolog.Nop())
	assert.Equal(t, "cache_cleanup", job.Name())
}

func TestCleanupJobExecute(t *testing.T) {
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	repo := NewRepository(setupTestDB(t)).WithClock(clock.Now)

	require.NoError(t, repo.Store("ancient", "/e", json.RawMessage(`1`)))
	clock.Advance(MaxRetention + time.Minute)
	require.NoError(t, repo.Store("fresh", "/e", json.RawMessage(`2`)))

	cp := &stubCheckpointer{}
	job := NewCleanupJob(repo, cp, zerolog.Nop())
	require.NoError(t, job.Run())

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"TRUNCATE"}, cp.modes)
}

func TestCleanupJobCheckpointFailure(t *testing.T) {
	cp := &stubCheckpointer{err: errors.New("locked")}
	job := NewCleanupJob(NewRepository(setupTestDB(t)), cp, zerolog.Nop())

	assert.Error(t, job.Run())
}
