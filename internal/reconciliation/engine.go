// Package reconciliation audits the local ledger projection against the
// reference balance view and reports every disagreement.
package reconciliation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/ledgersync/internal/domain"
)

// Engine runs audits against a BalanceSource.
type Engine struct {
	source   BalanceSource
	currency string
	epsilon  decimal.Decimal
	now      func() time.Time
	log      zerolog.Logger
}

// NewEngine creates a new reconciliation engine. currency is an ISO code
// used to format amounts in discrepancy messages.
func NewEngine(source BalanceSource, currency string, log zerolog.Logger) *Engine {
	if money.GetCurrency(strings.ToUpper(currency)) == nil {
		currency = money.EUR
	}
	return &Engine{
		source:   source,
		currency: strings.ToUpper(currency),
		epsilon:  Epsilon,
		now:      time.Now,
		log:      log.With().Str("component", "reconciliation").Logger(),
	}
}

// Audit fetches both views concurrently and compares them. A reference
// failure degrades to local-only mode; a local failure aborts the audit.
func (e *Engine) Audit(ctx context.Context, period string) (*FullAuditReport, error) {
	var (
		wg               sync.WaitGroup
		local, reference []domain.AccountBalanceRecord
		localErr, refErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		local, localErr = e.source.Balances(ctx, domain.SourceLocal, period)
	}()
	go func() {
		defer wg.Done()
		reference, refErr = e.source.Balances(ctx, domain.SourceReference, period)
	}()
	wg.Wait()

	if localErr != nil {
		e.log.Error().Err(localErr).Str("period", period).Msg("Failed to fetch local balances")
		return nil, fmt.Errorf("failed to fetch local balances: %w", localErr)
	}

	localOnly := false
	if refErr != nil {
		e.log.Warn().Err(refErr).Str("period", period).Msg("Reference balances unavailable, auditing local-only")
		reference = nil
		localOnly = true
	}

	report := e.Compare(local, reference, period)
	report.LocalOnly = localOnly
	if refErr != nil {
		report.ReferenceError = refErr.Error()
		report.Recommendations = recommend(report.Summary, true)
	}

	e.log.Info().
		Str("period", period).
		Int("accounts", report.Summary.Accounts).
		Int("perfect_matches", report.Summary.PerfectMatches).
		Int("balance_discrepancies", report.Summary.BalanceDiscrepancies).
		Str("total_difference", report.Summary.TotalBalanceDifference.StringFixed(2)).
		Str("sync_status", string(report.Health.SyncStatus)).
		Bool("local_only", localOnly).
		Msg("Audit completed")

	return report, nil
}

// Compare is the pure audit over two snapshots. Inputs are not modified and
// results are sorted by account key.
func (e *Engine) Compare(local, reference []domain.AccountBalanceRecord, period string) *FullAuditReport {
	localIdx := index(local)
	refIdx := index(reference)

	keys := make([]string, 0, len(localIdx)+len(refIdx))
	for k := range localIdx {
		keys = append(keys, k)
	}
	for k := range refIdx {
		if _, ok := localIdx[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	report := &FullAuditReport{
		Period:      period,
		Currency:    e.currency,
		GeneratedAt: e.now(),
		Results:     make([]AccountAuditResult, 0, len(keys)),
	}

	s := &report.Summary
	s.TotalLocalBalance = decimal.Zero
	s.TotalReferenceBalance = decimal.Zero

	for _, key := range keys {
		result := e.audit(key, localIdx[key], refIdx[key])
		report.Results = append(report.Results, result)

		s.Accounts++
		if result.IsPerfectMatch {
			s.PerfectMatches++
		}
		if !result.Matches.Balance {
			s.BalanceDiscrepancies++
		}
		if !result.Matches.Inflow || !result.Matches.Outflow {
			s.FlowDiscrepancies++
		}
		if result.MissingFromLocal {
			s.MissingFromLocal++
		}
		if result.MissingFromReference {
			s.MissingFromReference++
		}
		if result.SheetCalculationError {
			s.SheetCalculationErrors++
		}
		if result.MergedLocal > 1 || result.MergedReference > 1 {
			s.NameCollisions++
		}
		s.TotalLocalBalance = s.TotalLocalBalance.Add(result.Local.CurrentBalance)
		s.TotalReferenceBalance = s.TotalReferenceBalance.Add(result.Reference.CurrentBalance)
	}
	s.TotalBalanceDifference = s.TotalReferenceBalance.Sub(s.TotalLocalBalance)

	report.Health = classify(report)
	report.Recommendations = recommend(report.Summary, false)
	return report
}

func (e *Engine) audit(key string, local, reference *indexed) AccountAuditResult {
	result := AccountAuditResult{AccountKey: key}

	switch {
	case local != nil:
		result.Local = local.record
		result.AccountName = local.record.AccountName
		result.MergedLocal = len(local.names)
	default:
		result.Local = zeroRecord(key, reference.record.AccountName)
		result.MissingFromLocal = true
	}

	switch {
	case reference != nil:
		result.Reference = reference.record
		result.MergedReference = len(reference.names)
		if result.AccountName == "" {
			result.AccountName = reference.record.AccountName
		}
	default:
		result.Reference = zeroRecord(key, result.AccountName)
		result.MissingFromReference = true
	}

	l, r := result.Local, result.Reference
	result.Differences = Differences{
		Balance:   r.CurrentBalance.Sub(l.CurrentBalance),
		Inflow:    r.Inflow.Sub(l.Inflow),
		Outflow:   r.Outflow.Sub(l.Outflow),
		NetChange: r.NetChange.Sub(l.NetChange),
	}

	oneSided := result.MissingFromLocal || result.MissingFromReference
	if !oneSided {
		result.Matches = Matches{
			Balance:   e.within(result.Differences.Balance),
			Inflow:    e.within(result.Differences.Inflow),
			Outflow:   e.within(result.Differences.Outflow),
			NetChange: e.within(result.Differences.NetChange),
		}
	}
	m := result.Matches
	result.IsPerfectMatch = !oneSided && m.Balance && m.Inflow && m.Outflow && m.NetChange

	var msgs []string
	switch {
	case result.MissingFromLocal:
		msgs = append(msgs, fmt.Sprintf("%s: present in reference view only (balance %s)",
			FlagMissingFromLocal, e.format(r.CurrentBalance)))
	case result.MissingFromReference:
		msgs = append(msgs, fmt.Sprintf("%s: present in local ledger only (balance %s)",
			FlagMissingFromReference, e.format(l.CurrentBalance)))
	default:
		msgs = e.mismatchMessages(msgs, "Balance", l.CurrentBalance, r.CurrentBalance, m.Balance)
		msgs = e.mismatchMessages(msgs, "Inflow", l.Inflow, r.Inflow, m.Inflow)
		msgs = e.mismatchMessages(msgs, "Outflow", l.Outflow, r.Outflow, m.Outflow)
		msgs = e.mismatchMessages(msgs, "Net change", l.NetChange, r.NetChange, m.NetChange)
	}

	// The reference sheet must agree with itself regardless of the local side.
	if !result.MissingFromReference {
		expected := r.OpeningBalance.Add(r.NetChange)
		if !e.within(r.CurrentBalance.Sub(expected)) {
			result.SheetCalculationError = true
			msgs = append(msgs, fmt.Sprintf("Sheet calculation error: reference balance %s does not equal opening %s plus net change %s (%s)",
				e.format(r.CurrentBalance), e.format(r.OpeningBalance), e.format(r.NetChange), e.format(expected)))
		}
	}

	if local != nil && len(local.names) > 1 {
		result.Notes = append(result.Notes, fmt.Sprintf("merged %d local accounts: %s", len(local.names), strings.Join(local.names, ", ")))
	}
	if reference != nil && len(reference.names) > 1 {
		result.Notes = append(result.Notes, fmt.Sprintf("merged %d reference accounts: %s", len(reference.names), strings.Join(reference.names, ", ")))
	}

	result.Discrepancies = msgs
	if result.Discrepancies == nil {
		result.Discrepancies = []string{}
	}
	return result
}

func (e *Engine) mismatchMessages(msgs []string, label string, local, reference decimal.Decimal, matched bool) []string {
	if matched {
		return msgs
	}
	return append(msgs, fmt.Sprintf("%s mismatch: local %s, reference %s, difference %s",
		label, e.format(local), e.format(reference), e.format(reference.Sub(local))))
}

// within reports |d| < epsilon, computed exactly.
func (e *Engine) within(d decimal.Decimal) bool {
	return d.Abs().LessThan(e.epsilon)
}

var (
	maxMinorUnits = decimal.NewFromInt(math.MaxInt64)
	minMinorUnits = decimal.NewFromInt(math.MinInt64)
)

// format renders an amount in the engine's currency, e.g. "€11,328.89".
// Amounts beyond int64 minor units fall back to a plain fixed-point string.
func (e *Engine) format(amount decimal.Decimal) string {
	cur := money.New(0, e.currency).Currency()
	minor := amount.Shift(int32(cur.Fraction)).Round(0)
	if minor.GreaterThan(maxMinorUnits) || minor.LessThan(minMinorUnits) {
		return amount.StringFixed(int32(cur.Fraction)) + " " + cur.Code
	}
	return cur.Formatter().Format(minor.IntPart())
}

func zeroRecord(key, name string) domain.AccountBalanceRecord {
	return domain.AccountBalanceRecord{AccountKey: key, AccountName: name}
}

// classify derives health from ratios over all audited accounts.
// An empty audit is synced and healthy.
func classify(report *FullAuditReport) Health {
	s := report.Summary
	h := Health{
		SyncStatus:           SyncStatusSynced,
		APIHealth:            APIHealthHealthy,
		TransactionIntegrity: IntegrityValid,
	}

	for _, r := range report.Results {
		if len(r.Discrepancies) > 0 {
			h.TransactionIntegrity = IntegrityInvalid
			break
		}
	}

	if s.Accounts == 0 {
		return h
	}

	total := float64(s.Accounts)
	perfectRatio := float64(s.PerfectMatches) / total
	balanceRatio := float64(s.Accounts-s.BalanceDiscrepancies) / total

	switch {
	case perfectRatio > 0.9:
		h.SyncStatus = SyncStatusSynced
	case perfectRatio > 0.7:
		h.SyncStatus = SyncStatusDelayed
	default:
		h.SyncStatus = SyncStatusError
	}

	switch {
	case balanceRatio > 0.8:
		h.APIHealth = APIHealthHealthy
	case balanceRatio > 0.5:
		h.APIHealth = APIHealthDegraded
	default:
		h.APIHealth = APIHealthDown
	}

	return h
}
