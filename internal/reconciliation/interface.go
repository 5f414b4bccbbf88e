package reconciliation

import (
	"context"

	"github.com/aristath/ledgersync/internal/domain"
)

// BalanceSource fetches one balance view. The engine depends on this
// interface, not on the HTTP client.
//
//go:generate mockgen -destination=mocks/mock_source.go -package=mocks -source=interface.go BalanceSource
type BalanceSource interface {
	Balances(ctx context.Context, source domain.BalanceSource, period string) ([]domain.AccountBalanceRecord, error)
}
