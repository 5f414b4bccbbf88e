package reconciliation

import "fmt"

// AllClear is the single recommendation for a clean audit.
const AllClear = "All accounts reconciled: local and reference balances agree."

// recommend derives advice purely from the counters.
func recommend(s Summary, localOnly bool) []string {
	var out []string

	if localOnly {
		out = append(out, "Reference view unavailable: the audit ran in local-only mode. Retry once the service is reachable.")
	}
	if s.BalanceDiscrepancies > 0 {
		out = append(out, fmt.Sprintf("%s with balance discrepancies: check the data source for unposted or duplicated transactions.", accounts(s.BalanceDiscrepancies)))
	}
	if s.FlowDiscrepancies > 0 {
		out = append(out, fmt.Sprintf("%s with inflow/outflow discrepancies: review how the period's transactions were categorized.", accounts(s.FlowDiscrepancies)))
	}
	if s.MissingFromLocal > 0 {
		out = append(out, fmt.Sprintf("%s only in the reference view: update account sync.", accounts(s.MissingFromLocal)))
	}
	if s.MissingFromReference > 0 && !localOnly {
		out = append(out, fmt.Sprintf("%s only in the local ledger: register them in the reference source.", accounts(s.MissingFromReference)))
	}
	if s.SheetCalculationErrors > 0 {
		out = append(out, fmt.Sprintf("%s failing the reference sheet's own arithmetic: fix the sheet formulas.", accounts(s.SheetCalculationErrors)))
	}
	if s.NameCollisions > 0 {
		out = append(out, fmt.Sprintf("%d account key(s) merged differently named accounts: rename them so names differ by more than case or punctuation.", s.NameCollisions))
	}

	if len(out) == 0 {
		out = append(out, AllClear)
	}
	return out
}

func accounts(n int) string {
	if n == 1 {
		return "1 account"
	}
	return fmt.Sprintf("%d accounts", n)
}
