package clientdata

import "time"

// Read TTLs per endpoint. Callers pass these with each request.
const (
	TTLBalances = 30 * time.Second // balance views move with every posted transaction
	TTLOptions  = 24 * time.Hour   // category/payment enumerations rarely change

	// MaxRetention bounds how long any entry is kept for stale fallback reads.
	MaxRetention = 7 * 24 * time.Hour
)
