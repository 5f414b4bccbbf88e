package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"github.com/aristath/ledgersync/internal/events"
	"github.com/aristath/ledgersync/internal/reconciliation"
)

type auditCmd struct {
	period string
	json   bool
	strict bool
}

func (*auditCmd) Name() string     { return "audit" }
func (*auditCmd) Synopsis() string { return "compare local and reference balances" }
func (*auditCmd) Usage() string {
	return `ledgersync audit [-period <YYYY-MM>] [-json] [-strict]

  Fetches both balance views and reports every account that disagrees.
  With -strict the exit status is non-zero unless transaction integrity
  is VALID.
`
}

func (c *auditCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.period, "period", "", "Period to audit (empty for all time)")
	f.BoolVar(&c.json, "json", false, "Print the full report as JSON")
	f.BoolVar(&c.strict, "strict", false, "Fail when any discrepancy is found")
}

func (c *auditCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	a, err := newApp(false)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer a.close()

	engine := a.container.Reconciliation
	report, err := engine.Audit(ctx, c.period)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}

	a.container.EventBus.Emit("reconciliation", &events.AuditCompletedData{
		Period:               report.Period,
		Accounts:             report.Summary.Accounts,
		PerfectMatches:       report.Summary.PerfectMatches,
		BalanceDiscrepancies: report.Summary.BalanceDiscrepancies,
		SyncStatus:           string(report.Health.SyncStatus),
		LocalOnly:            report.LocalOnly,
	})

	if c.json {
		if err := reconciliation.WriteJSON(os.Stdout, report); err != nil {
			fail(err)
			return subcommands.ExitFailure
		}
	} else {
		printMarkdown(engine.Markdown(report))
	}

	if c.strict && report.Health.TransactionIntegrity != reconciliation.IntegrityValid {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
