package reconciliation

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, report *FullAuditReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// Markdown renders a human summary of the report.
func (e *Engine) Markdown(report *FullAuditReport) string {
	var b strings.Builder
	s := report.Summary

	period := report.Period
	if period == "" {
		period = "all time"
	}

	fmt.Fprintf(&b, "# Balance audit (%s)\n\n", period)
	fmt.Fprintf(&b, "Generated %s", report.GeneratedAt.Format("2006-01-02 15:04:05"))
	if report.LocalOnly {
		b.WriteString(" in **local-only mode**")
	}
	b.WriteString("\n\n")

	b.WriteString("| Sync | API | Integrity |\n|---|---|---|\n")
	fmt.Fprintf(&b, "| %s | %s | %s |\n\n", report.Health.SyncStatus, report.Health.APIHealth, report.Health.TransactionIntegrity)

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Accounts audited: %d\n", s.Accounts)
	fmt.Fprintf(&b, "- Perfect matches: %d\n", s.PerfectMatches)
	fmt.Fprintf(&b, "- Balance discrepancies: %d\n", s.BalanceDiscrepancies)
	fmt.Fprintf(&b, "- Flow discrepancies: %d\n", s.FlowDiscrepancies)
	fmt.Fprintf(&b, "- Missing from local / reference: %d / %d\n", s.MissingFromLocal, s.MissingFromReference)
	fmt.Fprintf(&b, "- Total local: %s\n", e.format(s.TotalLocalBalance))
	fmt.Fprintf(&b, "- Total reference: %s\n", e.format(s.TotalReferenceBalance))
	fmt.Fprintf(&b, "- Total difference: %s\n\n", e.format(s.TotalBalanceDifference))

	if len(report.Results) > 0 {
		b.WriteString("## Accounts\n\n")
		b.WriteString("| Account | Local | Reference | Difference | Status |\n|---|---:|---:|---:|---|\n")
		for _, r := range report.Results {
			status := "ok"
			switch {
			case r.Flag() != "":
				status = r.Flag()
			case !r.IsPerfectMatch:
				status = "mismatch"
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
				escapeCell(r.AccountName),
				e.format(r.Local.CurrentBalance),
				e.format(r.Reference.CurrentBalance),
				e.format(r.Differences.Balance),
				status)
		}
		b.WriteString("\n")
	}

	var details []AccountAuditResult
	for _, r := range report.Results {
		if len(r.Discrepancies) > 0 || len(r.Notes) > 0 {
			details = append(details, r)
		}
	}
	if len(details) > 0 {
		b.WriteString("## Discrepancies\n\n")
		for _, r := range details {
			fmt.Fprintf(&b, "### %s\n\n", r.AccountName)
			for _, msg := range r.Discrepancies {
				fmt.Fprintf(&b, "- %s\n", msg)
			}
			for _, note := range r.Notes {
				fmt.Fprintf(&b, "- _%s_\n", note)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("## Recommendations\n\n")
	for _, rec := range report.Recommendations {
		fmt.Fprintf(&b, "- %s\n", rec)
	}

	return b.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
