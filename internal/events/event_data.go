package events

import "time"

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// WriteOutcomeData describes what happened to one queued write.
// The same shape is used for delivered, abandoned and rejected writes.
type WriteOutcomeData struct {
	Type       EventType   `json:"-"`
	WriteID    string      `json:"write_id"`
	RetryCount int         `json:"retry_count"`
	Error      string      `json:"error,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
}

// EventType returns the outcome type
func (d *WriteOutcomeData) EventType() EventType {
	return d.Type
}

// QueueDrainedData summarises one drain pass
type QueueDrainedData struct {
	Attempted int  `json:"attempted"`
	Delivered int  `json:"delivered"`
	Abandoned int  `json:"abandoned"`
	Rejected  int  `json:"rejected"`
	Remaining int  `json:"remaining"`
	Paused    bool `json:"paused"`
}

// EventType returns the event type for QueueDrainedData
func (d *QueueDrainedData) EventType() EventType {
	return QueueDrained
}

// SessionChangedData contains data for session start and expiry events
type SessionChangedData struct {
	Active bool   `json:"active"`
	Reason string `json:"reason,omitempty"`
}

// EventType returns the event type for SessionChangedData
func (d *SessionChangedData) EventType() EventType {
	if d.Active {
		return SessionStarted
	}
	return SessionExpired
}

// HealthData contains one health poll result
type HealthData struct {
	Changed        bool      `json:"changed"`
	Healthy        bool      `json:"healthy"`
	LastSync       time.Time `json:"last_sync"`
	SyncedAccounts int       `json:"synced_accounts"`
	Error          string    `json:"error,omitempty"`
}

// EventType returns the event type for HealthData
func (d *HealthData) EventType() EventType {
	if d.Changed {
		return HealthStatusChanged
	}
	return HealthPolled
}

// AuditCompletedData summarises a reconciliation run
type AuditCompletedData struct {
	Period               string `json:"period"`
	Accounts             int    `json:"accounts"`
	PerfectMatches       int    `json:"perfect_matches"`
	BalanceDiscrepancies int    `json:"balance_discrepancies"`
	SyncStatus           string `json:"sync_status"`
	LocalOnly            bool   `json:"local_only"`
}

// EventType returns the event type for AuditCompletedData
func (d *AuditCompletedData) EventType() EventType {
	return AuditCompleted
}
