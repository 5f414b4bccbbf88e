package events

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscribeByType(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var got []*Event
	bus.Subscribe(QueueDrained, func(e *Event) { got = append(got, e) })

	bus.Emit("queue", &QueueDrainedData{Attempted: 2, Delivered: 2})
	bus.Emit("session", &SessionChangedData{Active: true})

	require.Len(t, got, 1)
	assert.Equal(t, QueueDrained, got[0].Type)
	assert.Equal(t, "queue", got[0].Module)
	assert.False(t, got[0].Timestamp.IsZero())
	assert.Equal(t, 2, got[0].Data.(*QueueDrainedData).Delivered)
}

func TestBus_SubscribeAllAndUnsubscribe(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	count := 0
	unsubscribe := bus.SubscribeAll(func(e *Event) { count++ })

	bus.Emit("a", &SessionChangedData{Active: false})
	bus.Emit("b", &HealthData{Healthy: true})
	assert.Equal(t, 2, count)

	unsubscribe()
	bus.Emit("c", &HealthData{Healthy: true})
	assert.Equal(t, 2, count)
}

func TestBus_UnsubscribeOneKeepsOthers(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	first, second := 0, 0
	unsubFirst := bus.Subscribe(SessionExpired, func(*Event) { first++ })
	bus.Subscribe(SessionExpired, func(*Event) { second++ })

	unsubFirst()
	bus.Emit("session", &SessionChangedData{Active: false, Reason: "401"})

	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestBus_NilSafe(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Emit("x", &HealthData{}) })

	live := NewBus(zerolog.Nop())
	assert.NotPanics(t, func() { live.Emit("x", nil) })
}

func TestEventData_Types(t *testing.T) {
	assert.Equal(t, SessionStarted, (&SessionChangedData{Active: true}).EventType())
	assert.Equal(t, SessionExpired, (&SessionChangedData{}).EventType())
	assert.Equal(t, HealthStatusChanged, (&HealthData{Changed: true}).EventType())
	assert.Equal(t, HealthPolled, (&HealthData{}).EventType())
	assert.Equal(t, WriteAbandoned, (&WriteOutcomeData{Type: WriteAbandoned}).EventType())
	assert.Equal(t, AuditCompleted, (&AuditCompletedData{}).EventType())
}

func TestEvent_JSON(t *testing.T) {
	e := Event{
		Type:   WriteAbandoned,
		Module: "queue",
		Data:   &WriteOutcomeData{Type: WriteAbandoned, WriteID: "w-1", RetryCount: 3, Error: "timeout"},
	}

	raw, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"WRITE_ABANDONED"`)
	assert.Contains(t, string(raw), `"write_id":"w-1"`)
	assert.Contains(t, string(raw), `"retry_count":3`)
}
