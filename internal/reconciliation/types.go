package reconciliation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/ledgersync/internal/domain"
)

// Epsilon is the match tolerance: amounts match when |difference| < Epsilon (0.01).
var Epsilon = decimal.New(1, -2)

// SyncStatus classifies the perfect-match ratio.
type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusDelayed SyncStatus = "delayed"
	SyncStatusError   SyncStatus = "error"
)

// APIHealth classifies the balance-match ratio.
type APIHealth string

const (
	APIHealthHealthy  APIHealth = "healthy"
	APIHealthDegraded APIHealth = "degraded"
	APIHealthDown     APIHealth = "down"
)

// Integrity is VALID only when no account carries a discrepancy message.
type Integrity string

const (
	IntegrityValid   Integrity = "VALID"
	IntegrityInvalid Integrity = "INVALID"
)

// Flags marking one-sided accounts.
const (
	FlagMissingFromLocal     = "MISSING_FROM_LOCAL"
	FlagMissingFromReference = "MISSING_FROM_REFERENCE"
)

// Differences are signed, reference minus local.
type Differences struct {
	Balance   decimal.Decimal `json:"balance"`
	Inflow    decimal.Decimal `json:"inflow"`
	Outflow   decimal.Decimal `json:"outflow"`
	NetChange decimal.Decimal `json:"netChange"`
}

// Matches hold |difference| < Epsilon per figure.
type Matches struct {
	Balance   bool `json:"balance"`
	Inflow    bool `json:"inflow"`
	Outflow   bool `json:"outflow"`
	NetChange bool `json:"netChange"`
}

// AccountAuditResult compares one account across both sources.
type AccountAuditResult struct {
	AccountKey  string `json:"accountKey"`
	AccountName string `json:"accountName"`

	Local     domain.AccountBalanceRecord `json:"local"`
	Reference domain.AccountBalanceRecord `json:"reference"`

	Differences    Differences `json:"differences"`
	Matches        Matches     `json:"matches"`
	IsPerfectMatch bool        `json:"isPerfectMatch"`

	MissingFromLocal      bool `json:"missingFromLocal"`
	MissingFromReference  bool `json:"missingFromReference"`
	SheetCalculationError bool `json:"sheetCalculationError"`

	// MergedLocal and MergedReference count source accounts folded into this
	// key by normalization. 1 means no collision.
	MergedLocal     int `json:"mergedLocal"`
	MergedReference int `json:"mergedReference"`

	Discrepancies []string `json:"discrepancies"`
	Notes         []string `json:"notes,omitempty"`
}

// Flag returns the one-sided marker, or "".
func (r AccountAuditResult) Flag() string {
	switch {
	case r.MissingFromLocal:
		return FlagMissingFromLocal
	case r.MissingFromReference:
		return FlagMissingFromReference
	default:
		return ""
	}
}

// Summary holds the report counters and totals.
type Summary struct {
	Accounts               int             `json:"accounts"`
	PerfectMatches         int             `json:"perfectMatches"`
	BalanceDiscrepancies   int             `json:"balanceDiscrepancies"`
	FlowDiscrepancies      int             `json:"flowDiscrepancies"`
	MissingFromLocal       int             `json:"missingFromLocal"`
	MissingFromReference   int             `json:"missingFromReference"`
	SheetCalculationErrors int             `json:"sheetCalculationErrors"`
	NameCollisions         int             `json:"nameCollisions"`
	TotalLocalBalance      decimal.Decimal `json:"totalLocalBalance"`
	TotalReferenceBalance  decimal.Decimal `json:"totalReferenceBalance"`
	TotalBalanceDifference decimal.Decimal `json:"totalBalanceDifference"`
}

// Health is the derived system classification.
type Health struct {
	SyncStatus           SyncStatus `json:"syncStatus"`
	APIHealth            APIHealth  `json:"apiHealth"`
	TransactionIntegrity Integrity  `json:"transactionIntegrity"`
}

// FullAuditReport is the outcome of one audit run.
type FullAuditReport struct {
	Period          string               `json:"period"`
	Currency        string               `json:"currency"`
	GeneratedAt     time.Time            `json:"generatedAt"`
	LocalOnly       bool                 `json:"localOnly"`
	ReferenceError  string               `json:"referenceError,omitempty"`
	Summary         Summary              `json:"summary"`
	Health          Health               `json:"health"`
	Results         []AccountAuditResult `json:"results"`
	Recommendations []string             `json:"recommendations"`
}
