package domain

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError reports malformed local input caught before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks a transaction before it is queued.
func (t TransactionRecord) Validate() error {
	if t.Year <= 0 {
		return &ValidationError{Field: "year", Reason: "must be positive"}
	}
	if t.Month < 1 || t.Month > 12 {
		return &ValidationError{Field: "month", Reason: fmt.Sprintf("%d is not between 1 and 12", t.Month)}
	}
	if t.Day < 1 || t.Day > daysIn(t.Year, t.Month) {
		return &ValidationError{Field: "day", Reason: fmt.Sprintf("%d is not a day of %04d-%02d", t.Day, t.Year, t.Month)}
	}
	if strings.TrimSpace(t.Category) == "" {
		return &ValidationError{Field: "category", Reason: "is required"}
	}
	if strings.TrimSpace(t.PaymentMethod) == "" {
		return &ValidationError{Field: "paymentMethod", Reason: "is required"}
	}
	if t.Debit.IsNegative() {
		return &ValidationError{Field: "debit", Reason: "must not be negative"}
	}
	if t.Credit.IsNegative() {
		return &ValidationError{Field: "credit", Reason: "must not be negative"}
	}
	if t.Debit.IsZero() == t.Credit.IsZero() {
		return &ValidationError{Field: "amount", Reason: "exactly one of debit or credit must be set"}
	}
	return nil
}

func daysIn(year, month int) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
