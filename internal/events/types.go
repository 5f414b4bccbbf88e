package events

// EventType represents different event types
type EventType string

const (
	// Queue events
	WriteDelivered EventType = "WRITE_DELIVERED"
	WriteAbandoned EventType = "WRITE_ABANDONED"
	WriteRejected  EventType = "WRITE_REJECTED"
	QueueDrained   EventType = "QUEUE_DRAINED"

	// Session events
	SessionStarted EventType = "SESSION_STARTED"
	SessionExpired EventType = "SESSION_EXPIRED"

	// Health events
	HealthPolled        EventType = "HEALTH_POLLED"
	HealthStatusChanged EventType = "HEALTH_STATUS_CHANGED"

	// Reconciliation events
	AuditCompleted EventType = "AUDIT_COMPLETED"
)
