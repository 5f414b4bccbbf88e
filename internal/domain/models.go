// Package domain provides the records exchanged with the remote accounting
// service and persisted on the device.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceSource identifies which balance view a record came from.
type BalanceSource string

const (
	// SourceLocal is the ledger projection derived on the device side.
	SourceLocal BalanceSource = "local"
	// SourceReference is the externally computed source of truth.
	SourceReference BalanceSource = "reference"
)

// TransactionRecord is the payload of a bookkeeping entry submitted by the UI.
type TransactionRecord struct {
	Year          int             `json:"year"`
	Month         int             `json:"month"`
	Day           int             `json:"day"`
	Category      string          `json:"category"`
	PaymentMethod string          `json:"paymentMethod"`
	Detail        string          `json:"detail,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	Debit         decimal.Decimal `json:"debit"`
	Credit        decimal.Decimal `json:"credit"`
}

// Date returns the calendar date of the transaction in UTC.
func (t TransactionRecord) Date() time.Time {
	return time.Date(t.Year, time.Month(t.Month), t.Day, 0, 0, 0, 0, time.UTC)
}

// Amount returns the signed amount: credit positive, debit negative.
func (t TransactionRecord) Amount() decimal.Decimal {
	return t.Credit.Sub(t.Debit)
}

// AccountBalanceRecord is one account's balance snapshot from a single source.
type AccountBalanceRecord struct {
	AccountKey     string          `json:"accountKey,omitempty"`
	AccountName    string          `json:"accountName"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
	Inflow         decimal.Decimal `json:"inflow"`
	Outflow        decimal.Decimal `json:"outflow"`
	NetChange      decimal.Decimal `json:"netChange"`
	CurrentBalance decimal.Decimal `json:"currentBalance"`
	LastUpdatedAt  time.Time       `json:"lastUpdatedAt"`
}

// HealthStatus is the result of one poll of the remote status endpoint.
type HealthStatus struct {
	Healthy        bool      `json:"healthy"`
	LastSync       time.Time `json:"lastSync"`
	SyncedAccounts int       `json:"syncedAccounts"`
	Error          string    `json:"error,omitempty"`
	CheckedAt      time.Time `json:"checkedAt"`
}
