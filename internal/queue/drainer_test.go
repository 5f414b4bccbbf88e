package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aristath/ledgersync/internal/clients/ledgerapi"
	"github.com/aristath/ledgersync/internal/domain"
	"github.com/aristath/ledgersync/internal/events"
	testingutil "github.com/aristath/ledgersync/internal/testing"
)

// MockDeliverer is a mock implementation of Deliverer
type MockDeliverer struct {
	mock.Mock
	mu    sync.Mutex
	order []string
}

func (m *MockDeliverer) SubmitTransaction(ctx context.Context, rec domain.TransactionRecord) error {
	m.mu.Lock()
	m.order = append(m.order, rec.Reference)
	m.mu.Unlock()
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockDeliverer) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

func withRef(ref string) interface{} {
	return mock.MatchedBy(func(rec domain.TransactionRecord) bool { return rec.Reference == ref })
}

// flakyStore wraps a real store and fails Save while failSaves > 0.
type flakyStore struct {
	Store
	mu        sync.Mutex
	failSaves int
}

func (s *flakyStore) Save(items []QueuedWrite) error {
	s.mu.Lock()
	if s.failSaves > 0 {
		s.failSaves--
		s.mu.Unlock()
		return errors.New("disk full")
	}
	s.mu.Unlock()
	return s.Store.Save(items)
}

func (s *flakyStore) failNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSaves = n
}

type recorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *recorder) handle(e *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(t events.EventType) []*events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	manager   *Manager
	deliverer *MockDeliverer
	store     *flakyStore
	events    *recorder
}

func newFixture(t *testing.T) *fixture {
	db := testingutil.NewTestDB(t, "state")
	store := &flakyStore{Store: NewSQLiteStore(db.Conn())}
	deliverer := &MockDeliverer{}

	bus := events.NewBus(zerolog.Nop())
	rec := &recorder{}
	bus.SubscribeAll(rec.handle)

	manager, err := NewManager(store, deliverer, bus, zerolog.Nop())
	require.NoError(t, err)
	manager.SetSleep(func(context.Context, time.Duration) error { return nil })

	return &fixture{manager: manager, deliverer: deliverer, store: store, events: rec}
}

func (f *fixture) enqueue(t *testing.T, refs ...string) {
	for _, ref := range refs {
		_, err := f.manager.Enqueue(context.Background(), testingutil.NewTransactionFixture(ref))
		require.NoError(t, err)
	}
}

func transientErr() error {
	return &ledgerapi.RequestFailedError{Code: 0, Message: "connection reset", Cause: ledgerapi.ErrNetworkFailure}
}

func TestDrain_FIFOAndEviction(t *testing.T) {
	f := newFixture(t)
	f.deliverer.On("SubmitTransaction", mock.Anything, withRef("tx-2")).Return(transientErr())
	f.deliverer.On("SubmitTransaction", mock.Anything, mock.Anything).Return(nil)

	f.enqueue(t, "tx-1", "tx-2", "tx-3", "tx-4", "tx-5")

	first, err := f.manager.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, first.Attempted)
	assert.Equal(t, 4, first.Delivered)
	assert.Equal(t, 1, first.Retried)
	assert.Equal(t, 1, first.Remaining)
	assert.Equal(t, []string{"tx-1", "tx-2", "tx-3", "tx-4", "tx-5"}, f.deliverer.calls())

	pending := f.manager.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "tx-2", pending[0].Payload.Reference)
	assert.Equal(t, 1, pending[0].RetryCount)

	_, err = f.manager.Drain(context.Background())
	require.NoError(t, err)
	require.Len(t, f.manager.Pending(), 1)
	assert.Equal(t, 2, f.manager.Pending()[0].RetryCount)

	third, err := f.manager.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, third.Abandoned)
	assert.Empty(t, f.manager.Pending())

	stats := f.manager.Stats()
	assert.Equal(t, 0, stats.Depth)
	assert.Equal(t, uint64(4), stats.Delivered)
	assert.Equal(t, uint64(1), stats.Abandoned)

	abandoned := f.events.ofType(events.WriteAbandoned)
	require.Len(t, abandoned, 1)
	data := abandoned[0].Data.(*events.WriteOutcomeData)
	assert.Equal(t, 3, data.RetryCount)
	assert.Equal(t, "tx-2", data.Payload.(domain.TransactionRecord).Reference)

	persisted, err := f.store.Load()
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestDrain_PermanentFailureRejectedImmediately(t *testing.T) {
	f := newFixture(t)
	f.deliverer.On("SubmitTransaction", mock.Anything, withRef("bad")).
		Return(&ledgerapi.RequestFailedError{Code: 422, Message: "unknown category"})
	f.deliverer.On("SubmitTransaction", mock.Anything, mock.Anything).Return(nil)

	f.enqueue(t, "bad", "good")

	result, err := f.manager.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rejected)
	assert.Equal(t, 1, result.Delivered)
	assert.Empty(t, f.manager.Pending())
	assert.Equal(t, uint64(1), f.manager.Stats().Rejected)

	rejected := f.events.ofType(events.WriteRejected)
	require.Len(t, rejected, 1)
	assert.Contains(t, rejected[0].Data.(*events.WriteOutcomeData).Error, "unknown category")
}

func TestDrain_SessionExpiredPausesWithoutConsumingRetries(t *testing.T) {
	f := newFixture(t)
	expired := fmt.Errorf("POST /transactions: %w", ledgerapi.ErrSessionExpired)
	f.deliverer.On("SubmitTransaction", mock.Anything, mock.Anything).Return(expired).Once()

	f.enqueue(t, "a", "b", "c")

	result, err := f.manager.Drain(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Paused)
	assert.Equal(t, 0, result.Attempted)
	assert.Equal(t, []string{"a"}, f.deliverer.calls())

	for _, item := range f.manager.Pending() {
		assert.Zero(t, item.RetryCount)
	}

	// While paused nothing is attempted.
	result, err = f.manager.Drain(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Paused)
	assert.Equal(t, 3, result.Remaining)
	assert.Len(t, f.deliverer.calls(), 1)

	f.deliverer.On("SubmitTransaction", mock.Anything, mock.Anything).Return(nil)
	f.manager.Resume()
	result, err = f.manager.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Delivered)
	assert.Empty(t, f.manager.Pending())
}

func TestDrain_InProgressIsNoOp(t *testing.T) {
	f := newFixture(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.deliverer.On("SubmitTransaction", mock.Anything, withRef("slow")).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).Return(nil)
	f.deliverer.On("SubmitTransaction", mock.Anything, mock.Anything).Return(nil)

	f.enqueue(t, "slow")

	done := make(chan DrainResult)
	go func() {
		result, _ := f.manager.Drain(context.Background())
		done <- result
	}()
	<-entered

	_, err := f.manager.Drain(context.Background())
	assert.ErrorIs(t, err, ErrDrainInProgress)
	assert.True(t, f.manager.Stats().Draining)

	// Enqueued mid-pass: kept for the next pass, not attempted by this one.
	f.enqueue(t, "late")

	close(release)
	first := <-done
	assert.Equal(t, 1, first.Delivered)
	assert.Equal(t, 1, first.Remaining)

	pending := f.manager.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "late", pending[0].Payload.Reference)

	persisted, err := f.store.Load()
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, "late", persisted[0].Payload.Reference)

	second, err := f.manager.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Delivered)
	assert.Empty(t, f.manager.Pending())
}

func TestEnqueue_PersistFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	f.store.failNext(1)

	id, err := f.manager.Enqueue(context.Background(), testingutil.NewTransactionFixture("x"))
	require.Error(t, err)
	assert.Empty(t, id)
	assert.Empty(t, f.manager.Pending())

	persisted, err := f.store.Load()
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestEnqueue_ValidationFailure(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Enqueue(context.Background(), domain.TransactionRecord{Year: 2024, Month: 2, Day: 30})
	var validation *domain.ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Equal(t, "day", validation.Field)
	assert.Empty(t, f.manager.Pending())
}

func TestDrain_PersistFailureRetriedNextPass(t *testing.T) {
	f := newFixture(t)
	f.deliverer.On("SubmitTransaction", mock.Anything, mock.Anything).Return(nil)
	f.enqueue(t, "a")

	f.store.failNext(1)
	_, err := f.manager.Drain(context.Background())
	require.Error(t, err)
	assert.Empty(t, f.manager.Pending())

	persisted, err := f.store.Load()
	require.NoError(t, err)
	assert.Len(t, persisted, 1, "previous persisted state stays until a save succeeds")

	_, err = f.manager.Drain(context.Background())
	require.NoError(t, err)
	persisted, err = f.store.Load()
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestDrain_RateLimitedWaitsThenRetries(t *testing.T) {
	f := newFixture(t)
	f.deliverer.On("SubmitTransaction", mock.Anything, mock.Anything).
		Return(&ledgerapi.RateLimitedError{Wait: 5 * time.Second}).Once()
	f.deliverer.On("SubmitTransaction", mock.Anything, mock.Anything).Return(nil)

	var slept []time.Duration
	f.manager.SetSleep(func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	})

	f.enqueue(t, "a")
	result, err := f.manager.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, []time.Duration{5 * time.Second}, slept)
}

func TestNewManager_ReloadsPersistedQueue(t *testing.T) {
	db := testingutil.NewTestDB(t, "state")
	store := NewSQLiteStore(db.Conn())

	first, err := NewManager(store, &MockDeliverer{}, nil, zerolog.Nop())
	require.NoError(t, err)
	id, err := first.Enqueue(context.Background(), testingutil.NewTransactionFixture("persisted"))
	require.NoError(t, err)

	second, err := NewManager(store, &MockDeliverer{}, nil, zerolog.Nop())
	require.NoError(t, err)
	pending := second.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
}

func TestRun_DrainsAtStartAndOnTrigger(t *testing.T) {
	f := newFixture(t)
	f.deliverer.On("SubmitTransaction", mock.Anything, mock.Anything).Return(nil)
	f.enqueue(t, "before-start")

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		f.manager.Run(ctx, 0)
		close(stopped)
	}()

	require.Eventually(t, func() bool { return len(f.manager.Pending()) == 0 }, 2*time.Second, 10*time.Millisecond)

	f.enqueue(t, "after-start")
	require.Eventually(t, func() bool { return f.manager.Stats().Delivered == 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestListeners_PauseAndResume(t *testing.T) {
	f := newFixture(t)
	bus := events.NewBus(zerolog.Nop())
	RegisterListeners(bus, f.manager, zerolog.Nop())

	bus.Emit("session", &events.SessionChangedData{Active: false, Reason: "unauthorized"})
	assert.True(t, f.manager.Stats().Paused)

	bus.Emit("session", &events.SessionChangedData{Active: true})
	assert.False(t, f.manager.Stats().Paused)
}
