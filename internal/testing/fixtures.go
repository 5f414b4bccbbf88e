package testing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/ledgersync/internal/domain"
)

// NewTransactionFixture returns a valid debit transaction tagged with reference.
func NewTransactionFixture(reference string) domain.TransactionRecord {
	return domain.TransactionRecord{
		Year:          2024,
		Month:         5,
		Day:           14,
		Category:      "Groceries",
		PaymentMethod: "Debit Card",
		Detail:        "weekly shop",
		Reference:     reference,
		Debit:         decimal.RequireFromString("42.17"),
	}
}

// NewBalanceFixture returns a self-consistent balance record:
// current = opening + inflow - outflow.
func NewBalanceFixture(name, opening, inflow, outflow string) domain.AccountBalanceRecord {
	o := decimal.RequireFromString(opening)
	in := decimal.RequireFromString(inflow)
	out := decimal.RequireFromString(outflow)
	net := in.Sub(out)

	return domain.AccountBalanceRecord{
		AccountKey:     name,
		AccountName:    name,
		OpeningBalance: o,
		Inflow:         in,
		Outflow:        out,
		NetChange:      net,
		CurrentBalance: o.Add(net),
		LastUpdatedAt:  time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC),
	}
}
