package reconciliation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/ledgersync/internal/domain"
	"github.com/aristath/ledgersync/internal/reconciliation/mocks"
	testingutil "github.com/aristath/ledgersync/internal/testing"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestEngine() *Engine {
	e := NewEngine(nil, "EUR", zerolog.Nop())
	e.now = func() time.Time { return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC) }
	return e
}

func fiveAccounts() []domain.AccountBalanceRecord {
	return []domain.AccountBalanceRecord{
		testingutil.NewBalanceFixture("Main Checking", "17000.00", "2500.43", "1614.50"),
		testingutil.NewBalanceFixture("Savings", "50000.00", "1000.00", "0"),
		testingutil.NewBalanceFixture("Credit Card", "-1200.00", "1200.00", "980.25"),
		testingutil.NewBalanceFixture("Cash", "150.00", "0", "37.80"),
		testingutil.NewBalanceFixture("Brokerage", "23000.00", "0", "0"),
	}
}

func clone(records []domain.AccountBalanceRecord) []domain.AccountBalanceRecord {
	return append([]domain.AccountBalanceRecord(nil), records...)
}

func TestTolerance(t *testing.T) {
	tests := []struct {
		name      string
		local     string
		reference string
		want      bool
	}{
		{"identical", "17885.93", "17885.93", true},
		{"half a cent", "17885.93", "17885.935", true},
		{"exactly epsilon is a mismatch", "17885.93", "17885.94", false},
		{"two cents", "17885.93", "17885.95", false},
		{"negative direction", "17885.95", "17885.93", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine()
			local := []domain.AccountBalanceRecord{{AccountName: "Main", CurrentBalance: d(tt.local), OpeningBalance: d(tt.local)}}
			ref := []domain.AccountBalanceRecord{{AccountName: "Main", CurrentBalance: d(tt.reference), OpeningBalance: d(tt.reference)}}

			report := e.Compare(local, ref, "")
			require.Len(t, report.Results, 1)
			assert.Equal(t, tt.want, report.Results[0].Matches.Balance)
		})
	}
}

func TestCompare_PerfectSync(t *testing.T) {
	e := newTestEngine()
	accounts := fiveAccounts()

	report := e.Compare(clone(accounts), clone(accounts), "2024-05")

	assert.Equal(t, 5, report.Summary.Accounts)
	assert.Equal(t, 5, report.Summary.PerfectMatches)
	assert.Zero(t, report.Summary.BalanceDiscrepancies)
	assert.True(t, report.Summary.TotalBalanceDifference.IsZero())
	assert.Equal(t, SyncStatusSynced, report.Health.SyncStatus)
	assert.Equal(t, APIHealthHealthy, report.Health.APIHealth)
	assert.Equal(t, IntegrityValid, report.Health.TransactionIntegrity)
	assert.Equal(t, []string{AllClear}, report.Recommendations)
	assert.Equal(t, "2024-05", report.Period)

	for _, r := range report.Results {
		assert.True(t, r.IsPerfectMatch, r.AccountName)
		assert.Empty(t, r.Discrepancies)
	}
}

func TestCompare_BalanceDiscrepancy(t *testing.T) {
	e := newTestEngine()
	local := fiveAccounts()
	reference := clone(local)

	// Shift the reference sheet consistently so only the cross-source check fails.
	reference[1].OpeningBalance = reference[1].OpeningBalance.Add(d("11328.89"))
	reference[1].CurrentBalance = reference[1].CurrentBalance.Add(d("11328.89"))
	// A sub-cent drift elsewhere still counts toward the signed total.
	reference[3].OpeningBalance = reference[3].OpeningBalance.Sub(d("0.005"))
	reference[3].CurrentBalance = reference[3].CurrentBalance.Sub(d("0.005"))

	report := e.Compare(local, reference, "")

	var savings AccountAuditResult
	for _, r := range report.Results {
		if r.AccountName == "Savings" {
			savings = r
		}
	}
	assert.False(t, savings.Matches.Balance)
	assert.False(t, savings.IsPerfectMatch)
	assert.True(t, savings.Differences.Balance.Equal(d("11328.89")))
	require.NotEmpty(t, savings.Discrepancies)
	assert.Contains(t, savings.Discrepancies[0], "Balance mismatch")
	assert.Contains(t, savings.Discrepancies[0], "11,328.89")
	assert.False(t, savings.SheetCalculationError)

	assert.Equal(t, 1, report.Summary.BalanceDiscrepancies)
	assert.Equal(t, 4, report.Summary.PerfectMatches)
	assert.True(t, report.Summary.TotalBalanceDifference.Equal(d("11328.885")),
		"got %s", report.Summary.TotalBalanceDifference)
	assert.True(t, report.Summary.TotalBalanceDifference.Equal(
		report.Summary.TotalReferenceBalance.Sub(report.Summary.TotalLocalBalance)))
	assert.Equal(t, IntegrityInvalid, report.Health.TransactionIntegrity)
	assert.Equal(t, SyncStatusDelayed, report.Health.SyncStatus) // 4/5 perfect
	assert.Equal(t, APIHealthDegraded, report.Health.APIHealth)
	assert.Contains(t, strings.Join(report.Recommendations, " "), "check the data source")
}

func TestCompare_MissingFromLocal(t *testing.T) {
	e := newTestEngine()
	local := fiveAccounts()[:4]
	reference := fiveAccounts()

	report := e.Compare(local, reference, "")

	var missing *AccountAuditResult
	for i := range report.Results {
		if report.Results[i].MissingFromLocal {
			missing = &report.Results[i]
		}
	}
	require.NotNil(t, missing)
	assert.Equal(t, "Brokerage", missing.AccountName)
	assert.Equal(t, FlagMissingFromLocal, missing.Flag())
	assert.False(t, missing.IsPerfectMatch)
	assert.True(t, missing.Local.CurrentBalance.IsZero())
	assert.Contains(t, missing.Discrepancies[0], FlagMissingFromLocal)

	// Local deficit: the reference balance enters the total as reference - 0.
	assert.True(t, report.Summary.TotalBalanceDifference.Equal(d("23000.00")))
	assert.True(t, missing.Differences.Balance.Equal(d("23000.00")))
	assert.Equal(t, 1, report.Summary.MissingFromLocal)
	assert.Equal(t, 1, report.Summary.BalanceDiscrepancies)
	assert.Contains(t, strings.Join(report.Recommendations, " "), "update account sync")
}

func TestCompare_MissingFromReference(t *testing.T) {
	e := newTestEngine()
	local := fiveAccounts()
	reference := fiveAccounts()[1:]

	report := e.Compare(local, reference, "")
	assert.Equal(t, 1, report.Summary.MissingFromReference)

	for _, r := range report.Results {
		if r.AccountName == "Main Checking" {
			assert.True(t, r.MissingFromReference)
			assert.False(t, r.SheetCalculationError, "no sheet to check")
			assert.True(t, r.Differences.Balance.IsNegative())
		}
	}
}

func TestCompare_SheetCalculationError(t *testing.T) {
	e := newTestEngine()
	local := []domain.AccountBalanceRecord{testingutil.NewBalanceFixture("Savings", "100", "50", "0")}
	reference := clone(local)
	reference[0].NetChange = d("40") // sheet: 100 + 40 != 150

	report := e.Compare(local, reference, "")
	r := report.Results[0]

	assert.True(t, r.SheetCalculationError)
	assert.True(t, r.Matches.Balance)
	assert.False(t, r.Matches.NetChange)
	assert.Equal(t, 1, report.Summary.SheetCalculationErrors)

	var sheetMsg string
	for _, msg := range r.Discrepancies {
		if strings.HasPrefix(msg, "Sheet calculation error") {
			sheetMsg = msg
		}
	}
	assert.NotEmpty(t, sheetMsg)
}

func TestCompare_NormalizationPairsFormattingDrift(t *testing.T) {
	e := newTestEngine()
	local := []domain.AccountBalanceRecord{
		testingutil.NewBalanceFixture("Main Checking", "10", "0", "0"),
		testingutil.NewBalanceFixture("Épargne Été", "20", "0", "0"),
	}
	reference := []domain.AccountBalanceRecord{
		testingutil.NewBalanceFixture("main-checking ", "10", "0", "0"),
		testingutil.NewBalanceFixture("ÉPARGNE_été", "20", "0", "0"),
	}

	report := e.Compare(local, reference, "")
	assert.Equal(t, 2, report.Summary.Accounts)
	assert.Equal(t, 2, report.Summary.PerfectMatches)
	assert.Equal(t, "mainchecking", report.Results[0].AccountKey)
	assert.Equal(t, "épargneété", report.Results[1].AccountKey)
}

func TestCompare_CollisionsAreMergedAndNoted(t *testing.T) {
	e := newTestEngine()
	local := []domain.AccountBalanceRecord{
		testingutil.NewBalanceFixture("Cash", "100", "0", "0"),
		testingutil.NewBalanceFixture("CASH!", "50", "0", "0"),
	}
	reference := []domain.AccountBalanceRecord{
		testingutil.NewBalanceFixture("cash", "150", "0", "0"),
	}

	report := e.Compare(local, reference, "")
	require.Len(t, report.Results, 1)
	r := report.Results[0]

	assert.Equal(t, 2, r.MergedLocal)
	assert.True(t, r.Local.CurrentBalance.Equal(d("150")))
	assert.True(t, r.IsPerfectMatch)
	require.Len(t, r.Notes, 1)
	assert.Contains(t, r.Notes[0], "merged 2 local accounts")
	assert.Equal(t, 1, report.Summary.NameCollisions)
	assert.Equal(t, IntegrityValid, report.Health.TransactionIntegrity)
}

func TestCompare_Classification(t *testing.T) {
	tests := []struct {
		name       string
		accounts   int
		badBalance int
		badFlow    int
		wantSync   SyncStatus
		wantAPI    APIHealth
	}{
		{"ten clean", 10, 0, 0, SyncStatusSynced, APIHealthHealthy},
		{"one bad balance of ten", 10, 1, 0, SyncStatusDelayed, APIHealthHealthy},
		{"two bad balances of ten", 10, 2, 0, SyncStatusDelayed, APIHealthDegraded},
		{"flow issues only", 10, 0, 3, SyncStatusError, APIHealthHealthy},
		{"mostly broken", 4, 3, 0, SyncStatusError, APIHealthDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var local, reference []domain.AccountBalanceRecord
			for i := 0; i < tt.accounts; i++ {
				rec := testingutil.NewBalanceFixture(string(rune('a'+i)), "100", "10", "5")
				local = append(local, rec)
				reference = append(reference, rec)
			}
			for i := 0; i < tt.badBalance; i++ {
				reference[i].OpeningBalance = reference[i].OpeningBalance.Add(d("1"))
				reference[i].CurrentBalance = reference[i].CurrentBalance.Add(d("1"))
			}
			for i := tt.accounts - tt.badFlow; i < tt.accounts; i++ {
				// Same net, different gross flows.
				reference[i].Inflow = reference[i].Inflow.Add(d("3"))
				reference[i].Outflow = reference[i].Outflow.Add(d("3"))
			}

			report := newTestEngine().Compare(local, reference, "")
			assert.Equal(t, tt.wantSync, report.Health.SyncStatus)
			assert.Equal(t, tt.wantAPI, report.Health.APIHealth)
			assert.Equal(t, tt.badFlow, report.Summary.FlowDiscrepancies)
		})
	}
}

func TestCompare_Empty(t *testing.T) {
	report := newTestEngine().Compare(nil, nil, "")
	assert.Zero(t, report.Summary.Accounts)
	assert.Equal(t, SyncStatusSynced, report.Health.SyncStatus)
	assert.Equal(t, APIHealthHealthy, report.Health.APIHealth)
	assert.Equal(t, []string{AllClear}, report.Recommendations)
	assert.NotNil(t, report.Results)
}

func TestCompare_DeterministicAndNonMutating(t *testing.T) {
	e := newTestEngine()
	local := fiveAccounts()
	reference := fiveAccounts()
	reference[0].CurrentBalance = reference[0].CurrentBalance.Add(d("3"))

	localCopy, referenceCopy := clone(local), clone(reference)

	first := e.Compare(local, reference, "p")
	second := e.Compare(local, reference, "p")

	assert.Equal(t, first, second)
	assert.Equal(t, localCopy, local)
	assert.Equal(t, referenceCopy, reference)
}

func TestAudit_ConcurrentFetch(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := mocks.NewMockBalanceSource(ctrl)
	source.EXPECT().Balances(gomock.Any(), domain.SourceLocal, "2024-05").Return(fiveAccounts(), nil)
	source.EXPECT().Balances(gomock.Any(), domain.SourceReference, "2024-05").Return(fiveAccounts(), nil)

	report, err := NewEngine(source, "EUR", zerolog.Nop()).Audit(context.Background(), "2024-05")
	require.NoError(t, err)
	assert.False(t, report.LocalOnly)
	assert.Equal(t, 5, report.Summary.PerfectMatches)
}

func TestAudit_ReferenceFailureDegradesToLocalOnly(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := mocks.NewMockBalanceSource(ctrl)
	source.EXPECT().Balances(gomock.Any(), domain.SourceLocal, "").Return(fiveAccounts(), nil)
	source.EXPECT().Balances(gomock.Any(), domain.SourceReference, "").Return(nil, errors.New("sheet offline"))

	report, err := NewEngine(source, "EUR", zerolog.Nop()).Audit(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, report.LocalOnly)
	assert.Equal(t, "sheet offline", report.ReferenceError)
	assert.Equal(t, 5, report.Summary.MissingFromReference)
	assert.True(t, report.Summary.TotalReferenceBalance.IsZero())
	assert.Contains(t, report.Recommendations[0], "local-only")
}

func TestAudit_LocalFailureIsFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := mocks.NewMockBalanceSource(ctrl)
	source.EXPECT().Balances(gomock.Any(), domain.SourceLocal, "").Return(nil, errors.New("ledger unreachable"))
	source.EXPECT().Balances(gomock.Any(), domain.SourceReference, "").Return(fiveAccounts(), nil)

	report, err := NewEngine(source, "EUR", zerolog.Nop()).Audit(context.Background(), "")
	require.Error(t, err)
	assert.Nil(t, report)
	assert.Contains(t, err.Error(), "ledger unreachable")
}

func TestNewEngine_UnknownCurrencyFallsBack(t *testing.T) {
	e := NewEngine(nil, "XYZ", zerolog.Nop())
	assert.Equal(t, "EUR", e.currency)
}

func TestRender(t *testing.T) {
	e := newTestEngine()
	local := fiveAccounts()[:4]
	reference := fiveAccounts()
	report := e.Compare(local, reference, "2024-05")

	md := e.Markdown(report)
	assert.Contains(t, md, "# Balance audit (2024-05)")
	assert.Contains(t, md, "## Recommendations")
	assert.Contains(t, md, FlagMissingFromLocal)
	assert.Contains(t, md, "| Brokerage |")

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, report))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "2024-05", decoded["period"])
	assert.Len(t, decoded["results"], 5)
}

func TestFormat_OutOfRangeFallsBackToFixedPoint(t *testing.T) {
	e := newTestEngine()

	assert.Equal(t, "100000000000000000000.00 EUR", e.format(decimal.RequireFromString("1e20")))
	assert.Equal(t, "-100000000000000000000.00 EUR", e.format(decimal.RequireFromString("-1e20")))
	assert.NotContains(t, e.format(decimal.RequireFromString("11328.89")), "EUR")
}
