package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/aristath/ledgersync/internal/domain"
	"github.com/aristath/ledgersync/internal/queue"
)

type addCmd struct {
	date     string
	category string
	method   string
	debit    string
	credit   string
	detail   string
	ref      string
}

func (*addCmd) Name() string     { return "add" }
func (*addCmd) Synopsis() string { return "queue a transaction for submission" }
func (*addCmd) Usage() string {
	return `ledgersync add -c <category> -m <payment method> (-debit <amount> | -credit <amount>) [-d <YYYY-MM-DD>] [-detail <text>] [-ref <reference>]

  Validates the transaction, stores it in the write queue and, when logged
  in, runs a drain pass right away. Writes that cannot be delivered now stay
  queued for the next drain (ledgersync drain, or a running server).
`
}

func (c *addCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "d", "", "Transaction date (defaults to today)")
	f.StringVar(&c.category, "c", "", "Category")
	f.StringVar(&c.method, "m", "", "Payment method")
	f.StringVar(&c.debit, "debit", "0", "Debit amount")
	f.StringVar(&c.credit, "credit", "0", "Credit amount")
	f.StringVar(&c.detail, "detail", "", "Free-text detail")
	f.StringVar(&c.ref, "ref", "", "Caller reference")
}

func (c *addCmd) record() (domain.TransactionRecord, error) {
	on := time.Now()
	if c.date != "" {
		parsed, err := time.Parse("2006-01-02", c.date)
		if err != nil {
			return domain.TransactionRecord{}, fmt.Errorf("invalid date %q: %w", c.date, err)
		}
		on = parsed
	}
	debit, err := decimal.NewFromString(c.debit)
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("invalid debit %q: %w", c.debit, err)
	}
	credit, err := decimal.NewFromString(c.credit)
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("invalid credit %q: %w", c.credit, err)
	}

	return domain.TransactionRecord{
		Year:          on.Year(),
		Month:         int(on.Month()),
		Day:           on.Day(),
		Category:      c.category,
		PaymentMethod: c.method,
		Detail:        c.detail,
		Reference:     c.ref,
		Debit:         debit,
		Credit:        credit,
	}, nil
}

func (c *addCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	rec, err := c.record()
	if err != nil {
		fail(err)
		return subcommands.ExitUsageError
	}

	a, err := newApp(false)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer a.close()

	err = enqueueAndDrain(ctx, os.Stdout, a.container.QueueManager, a.container.Session.Active(), rec)
	if err != nil {
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			fail(err)
			return subcommands.ExitUsageError
		}
		fail(err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// writeQueue is the part of queue.Manager the add command drives.
type writeQueue interface {
	Enqueue(ctx context.Context, rec domain.TransactionRecord) (string, error)
	Drain(ctx context.Context) (queue.DrainResult, error)
	Stats() queue.Stats
}

// enqueueAndDrain queues rec and delivers it immediately when a session is
// active. A failed drain is reported but leaves the write queued.
func enqueueAndDrain(ctx context.Context, w io.Writer, q writeQueue, active bool, rec domain.TransactionRecord) error {
	id, err := q.Enqueue(ctx, rec)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "queued %s\n", id)

	if !active {
		fmt.Fprintf(w, "not logged in: %d pending until `ledgersync login`\n", q.Stats().Depth)
		return nil
	}

	result, err := q.Drain(ctx)
	printDrainResult(w, result)
	if err != nil {
		fmt.Fprintf(w, "drain failed: %v\n", err)
	}
	return nil
}

func printDrainResult(w io.Writer, result queue.DrainResult) {
	fmt.Fprintf(w, "attempted %d, delivered %d, retried %d, abandoned %d, rejected %d, remaining %d\n",
		result.Attempted, result.Delivered, result.Retried, result.Abandoned, result.Rejected, result.Remaining)
	if result.Paused {
		fmt.Fprintln(w, "queue is paused: log in with `ledgersync login` to resume")
	}
}

type queueCmd struct{}

func (*queueCmd) Name() string     { return "queue" }
func (*queueCmd) Synopsis() string { return "list pending writes" }
func (*queueCmd) Usage() string {
	return `ledgersync queue

  Lists queued transactions in delivery order.
`
}

func (*queueCmd) SetFlags(f *flag.FlagSet) {}

func (c *queueCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	a, err := newApp(false)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer a.close()

	printMarkdown(pendingMarkdown(a.container.QueueManager.Pending()))
	return subcommands.ExitSuccess
}

func pendingMarkdown(items []queue.QueuedWrite) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Write queue (%d pending)\n\n", len(items))
	if len(items) == 0 {
		return b.String()
	}

	b.WriteString("| # | Date | Category | Method | Debit | Credit | Retries | Queued |\n")
	b.WriteString("|---:|---|---|---|---:|---:|---:|---|\n")
	for i, item := range items {
		p := item.Payload
		fmt.Fprintf(&b, "| %d | %04d-%02d-%02d | %s | %s | %s | %s | %d/%d | %s |\n",
			i+1, p.Year, p.Month, p.Day, p.Category, p.PaymentMethod,
			p.Debit.StringFixed(2), p.Credit.StringFixed(2),
			item.RetryCount, queue.MaxRetries,
			item.EnqueuedAt.Format("2006-01-02 15:04"))
	}
	return b.String()
}

type drainCmd struct{}

func (*drainCmd) Name() string     { return "drain" }
func (*drainCmd) Synopsis() string { return "deliver queued writes now" }
func (*drainCmd) Usage() string {
	return `ledgersync drain

  Runs one drain pass against the remote service and prints the outcome.
`
}

func (*drainCmd) SetFlags(f *flag.FlagSet) {}

func (c *drainCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	a, err := newApp(false)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer a.close()

	result, err := a.container.QueueManager.Drain(ctx)
	printDrainResult(os.Stdout, result)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
