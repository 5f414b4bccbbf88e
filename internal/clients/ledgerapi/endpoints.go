package ledgerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/ledgersync/internal/clientdata"
	"github.com/aristath/ledgersync/internal/domain"
)

// Remote endpoints.
const (
	EndpointTransactions = "/transactions"
	EndpointBalances     = "/balances"
	EndpointHealth       = "/health"
	EndpointOptions      = "/options"
)

// Options are the enumerations the UI offers when entering a transaction.
type Options struct {
	Categories     []string `json:"categories"`
	PaymentMethods []string `json:"paymentMethods"`
	Properties     []string `json:"properties"`
}

type transactionBody struct {
	Year          int         `json:"year"`
	Month         int         `json:"month"`
	Day           int         `json:"day"`
	Category      string      `json:"category"`
	PaymentMethod string      `json:"paymentMethod"`
	Detail        string      `json:"detail"`
	Reference     string      `json:"reference"`
	Debit         json.Number `json:"debit"`
	Credit        json.Number `json:"credit"`
}

type ackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type balanceItem struct {
	AccountKey     string           `json:"accountKey"`
	AccountName    string           `json:"accountName"`
	OpeningBalance *decimal.Decimal `json:"openingBalance"`
	Inflow         *decimal.Decimal `json:"inflow"`
	Outflow        *decimal.Decimal `json:"outflow"`
	NetChange      *decimal.Decimal `json:"netChange"`
	CurrentBalance *decimal.Decimal `json:"currentBalance"`
	LastUpdatedAt  json.RawMessage  `json:"lastUpdatedAt"`
}

type balancesResponse struct {
	OK    bool          `json:"ok"`
	Error string        `json:"error"`
	Items []balanceItem `json:"items"`
}

type healthResponse struct {
	OK             bool            `json:"ok"`
	LastSync       json.RawMessage `json:"lastSync"`
	SyncedAccounts *int            `json:"syncedAccounts"`
}

// SubmitTransaction posts one transaction. Validation failures are returned
// before any network call.
func (c *Client) SubmitTransaction(ctx context.Context, rec domain.TransactionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	resp, err := c.Do(ctx, Request{
		Method:   http.MethodPost,
		Endpoint: EndpointTransactions,
		Body: transactionBody{
			Year:          rec.Year,
			Month:         rec.Month,
			Day:           rec.Day,
			Category:      strings.TrimSpace(rec.Category),
			PaymentMethod: strings.TrimSpace(rec.PaymentMethod),
			Detail:        rec.Detail,
			Reference:     rec.Reference,
			Debit:         json.Number(rec.Debit.String()),
			Credit:        json.Number(rec.Credit.String()),
		},
	})
	if err != nil {
		return err
	}

	var ack ackResponse
	if err := decode(resp.Body, &ack); err != nil {
		return err
	}
	if !ack.OK {
		msg := ack.Error
		if msg == "" {
			msg = "transaction rejected"
		}
		return &RequestFailedError{Code: resp.Status, Message: msg}
	}
	return nil
}

// Balances fetches one balance view, cached for clientdata.TTLBalances.
// Missing figures default to zero; a missing net change is derived from the
// flows; a missing key or name falls back to the other.
func (c *Client) Balances(ctx context.Context, source domain.BalanceSource, period string) ([]domain.AccountBalanceRecord, error) {
	query := url.Values{}
	query.Set("source", string(source))
	if period != "" {
		query.Set("period", period)
	}

	resp, err := c.Do(ctx, Request{
		Method:   http.MethodGet,
		Endpoint: EndpointBalances,
		Query:    query,
		Cache:    &CacheOptions{TTL: clientdata.TTLBalances, Cacheable: reportsOK},
	})
	if err != nil {
		return nil, err
	}

	var payload balancesResponse
	if err := decode(resp.Body, &payload); err != nil {
		return nil, err
	}
	if !payload.OK {
		msg := payload.Error
		if msg == "" {
			msg = fmt.Sprintf("%s balances unavailable", source)
		}
		return nil, &RequestFailedError{Code: resp.Status, Message: msg}
	}

	records := make([]domain.AccountBalanceRecord, 0, len(payload.Items))
	for _, item := range payload.Items {
		records = append(records, item.toRecord())
	}
	return records, nil
}

func (b balanceItem) toRecord() domain.AccountBalanceRecord {
	rec := domain.AccountBalanceRecord{
		AccountKey:     strings.TrimSpace(b.AccountKey),
		AccountName:    strings.TrimSpace(b.AccountName),
		OpeningBalance: orZero(b.OpeningBalance),
		Inflow:         orZero(b.Inflow),
		Outflow:        orZero(b.Outflow),
		CurrentBalance: orZero(b.CurrentBalance),
		LastUpdatedAt:  parseTimestamp(b.LastUpdatedAt),
	}
	if b.NetChange != nil {
		rec.NetChange = *b.NetChange
	} else {
		rec.NetChange = rec.Inflow.Sub(rec.Outflow)
	}
	if rec.AccountName == "" {
		rec.AccountName = rec.AccountKey
	}
	if rec.AccountKey == "" {
		rec.AccountKey = rec.AccountName
	}
	return rec
}

// Health polls the status endpoint. Never cached.
func (c *Client) Health(ctx context.Context) (domain.HealthStatus, error) {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Endpoint: EndpointHealth})
	if err != nil {
		return domain.HealthStatus{}, err
	}

	var payload healthResponse
	if err := decode(resp.Body, &payload); err != nil {
		return domain.HealthStatus{}, err
	}

	status := domain.HealthStatus{
		Healthy:   payload.OK,
		LastSync:  parseTimestamp(payload.LastSync),
		CheckedAt: time.Now(),
	}
	if payload.SyncedAccounts != nil {
		status.SyncedAccounts = *payload.SyncedAccounts
	}
	if !payload.OK {
		status.Error = "service reported not ok"
	}
	return status, nil
}

// Options fetches the entry enumerations, cached for clientdata.TTLOptions.
func (c *Client) Options(ctx context.Context) (*Options, error) {
	resp, err := c.Do(ctx, Request{
		Method:   http.MethodGet,
		Endpoint: EndpointOptions,
		Cache:    &CacheOptions{TTL: clientdata.TTLOptions},
	})
	if err != nil {
		return nil, err
	}

	var opts Options
	if err := decode(resp.Body, &opts); err != nil {
		return nil, err
	}
	if opts.Categories == nil {
		opts.Categories = []string{}
	}
	if opts.PaymentMethods == nil {
		opts.PaymentMethods = []string{}
	}
	if opts.Properties == nil {
		opts.Properties = []string{}
	}
	return &opts, nil
}

// reportsOK keeps {"ok":false} envelopes out of the cache.
func reportsOK(body []byte) bool {
	var ack ackResponse
	return json.Unmarshal(body, &ack) == nil && ack.OK
}

func decode(body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

// parseTimestamp accepts RFC 3339 strings or epoch milliseconds. Anything
// else yields the zero time.
func parseTimestamp(raw json.RawMessage) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms)
		}
		return time.Time{}
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if ms, err := n.Int64(); err == nil {
			return time.UnixMilli(ms)
		}
		if f, err := n.Float64(); err == nil {
			return time.UnixMilli(int64(f))
		}
	}
	return time.Time{}
}
