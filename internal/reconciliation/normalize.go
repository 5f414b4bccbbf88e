package reconciliation

import (
	"strings"
	"unicode"

	"github.com/aristath/ledgersync/internal/domain"
)

// NormalizeKey lower-cases name and drops every rune that is not a letter
// or digit, so "Main-Checking " and "main checking" compare equal.
func NormalizeKey(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// displayName prefers the account name and falls back to the key.
func displayName(rec domain.AccountBalanceRecord) string {
	if strings.TrimSpace(rec.AccountName) != "" {
		return strings.TrimSpace(rec.AccountName)
	}
	return strings.TrimSpace(rec.AccountKey)
}

type indexed struct {
	record domain.AccountBalanceRecord
	names  []string
}

// index groups records by normalized key. Records whose keys collide are
// summed into one; names lists every source name merged.
func index(records []domain.AccountBalanceRecord) map[string]*indexed {
	out := make(map[string]*indexed, len(records))
	for _, rec := range records {
		name := displayName(rec)
		key := NormalizeKey(name)
		if key == "" {
			key = strings.ToLower(name)
		}

		existing, ok := out[key]
		if !ok {
			rec.AccountKey = key
			rec.AccountName = name
			out[key] = &indexed{record: rec, names: []string{name}}
			continue
		}

		merged := &existing.record
		merged.OpeningBalance = merged.OpeningBalance.Add(rec.OpeningBalance)
		merged.Inflow = merged.Inflow.Add(rec.Inflow)
		merged.Outflow = merged.Outflow.Add(rec.Outflow)
		merged.NetChange = merged.NetChange.Add(rec.NetChange)
		merged.CurrentBalance = merged.CurrentBalance.Add(rec.CurrentBalance)
		if rec.LastUpdatedAt.After(merged.LastUpdatedAt) {
			merged.LastUpdatedAt = rec.LastUpdatedAt
		}
		existing.names = append(existing.names, name)
	}
	return out
}
