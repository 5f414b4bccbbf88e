// Package ledgerapi is the single access layer to the remote accounting
// service. Every outbound call gets the bearer token, device and trace
// headers, read caching with a per-call TTL, and a classified error.
package ledgerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/ledgersync/internal/clientdata"
)

const (
	// DefaultTimeout bounds a single attempt. A timed-out attempt is retried once.
	DefaultTimeout = 20 * time.Second

	maxBodyBytes = 10 << 20
)

// Session supplies credentials and is told when the server rejects them.
type Session interface {
	Token() string
	DeviceID() string
	Invalidate(reason string) error
}

// Cache is the response cache consulted for reads.
type Cache interface {
	GetIfFresh(key string, ttl time.Duration) (*clientdata.Entry, error)
	Store(key, endpoint string, data json.RawMessage) error
	InvalidateEndpoint(endpoint string) (int64, error)
}

// CacheOptions enables caching for a GET. A zero TTL disables it.
type CacheOptions struct {
	TTL    time.Duration
	Bypass bool // skip the lookup but still refresh the entry

	// Cacheable reports whether a 2xx body is a successful read worth
	// storing. Nil stores every 2xx body.
	Cacheable func(body []byte) bool
}

// Request describes one call.
type Request struct {
	Method   string
	Endpoint string
	Query    url.Values
	Body     interface{}
	Cache    *CacheOptions
}

// Response is a successful (2xx or cached) outcome.
type Response struct {
	Status    int
	Body      json.RawMessage
	FromCache bool
	StoredAt  time.Time
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Sleep      SleepFunc
}

// Client is the access layer. It is safe for concurrent use.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	session    Session
	cache      Cache
	schemas    *schemaRegistry
	sleep      SleepFunc
	log        zerolog.Logger

	// writes to key invalidate cached reads of the listed endpoints
	invalidates map[string][]string
}

// NewClient creates a new access layer client. cache may be nil to disable caching.
func NewClient(cfg Config, session Session, cache Cache, log zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("ledgerapi: base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Sleep == nil {
		cfg.Sleep = waitWithContext
	}

	schemas, err := loadSchemas()
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		httpClient: cfg.HTTPClient,
		session:    session,
		cache:      cache,
		schemas:    schemas,
		sleep:      cfg.Sleep,
		log:        log.With().Str("component", "ledgerapi").Logger(),
		invalidates: map[string][]string{
			http.MethodPost + " " + EndpointTransactions: {EndpointBalances},
		},
	}, nil
}

// Do performs a request through the cache and classifies failures.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	cacheable := method == http.MethodGet && c.cache != nil && req.Cache != nil && req.Cache.TTL > 0
	cacheKey := clientdata.Key(method, req.Endpoint, req.Query)

	if cacheable && !req.Cache.Bypass {
		entry, err := c.cache.GetIfFresh(cacheKey, req.Cache.TTL)
		if err != nil {
			c.log.Warn().Err(err).Str("key", cacheKey).Msg("Cache lookup failed, going to network")
		} else if entry != nil {
			c.log.Debug().Str("key", cacheKey).Msg("Cache hit")
			return &Response{Status: http.StatusOK, Body: entry.Data, FromCache: true, StoredAt: entry.StoredAt}, nil
		}
	}

	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s %s body: %w", method, req.Endpoint, err)
		}
	}

	status, header, body, err := c.sendWithTimeoutRetry(ctx, method, req.Endpoint, req.Query, payload)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusUnauthorized:
		if c.session != nil {
			if invErr := c.session.Invalidate("unauthorized"); invErr != nil {
				c.log.Error().Err(invErr).Msg("Failed to clear session after 401")
			}
		}
		return nil, fmt.Errorf("%s %s: %w", method, req.Endpoint, ErrSessionExpired)

	case status == http.StatusTooManyRequests:
		wait := rateLimitWait(body, header, time.Now())
		c.log.Warn().Str("endpoint", req.Endpoint).Dur("wait", wait).Msg("Rate limited")
		return nil, &RateLimitedError{Wait: wait}

	case status < 200 || status > 299:
		return nil, &RequestFailedError{Code: status, Message: errorMessage(body, status)}
	}

	if err := c.schemas.validate(method, req.Endpoint, body); err != nil {
		c.log.Error().Err(err).Msg("Response failed schema validation")
		return nil, err
	}

	now := time.Now()
	if cacheable && (req.Cache.Cacheable == nil || req.Cache.Cacheable(body)) {
		if err := c.cache.Store(cacheKey, req.Endpoint, body); err != nil {
			c.log.Warn().Err(err).Str("key", cacheKey).Msg("Failed to cache response")
		}
	}
	if method != http.MethodGet && c.cache != nil {
		for _, endpoint := range c.invalidates[method+" "+req.Endpoint] {
			if _, err := c.cache.InvalidateEndpoint(endpoint); err != nil {
				c.log.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to invalidate cache")
			}
		}
	}

	return &Response{Status: status, Body: body, StoredAt: now}, nil
}

// WithRateLimitRetry runs fn, waiting out one rate limit with the client's sleeper.
func (c *Client) WithRateLimitRetry(ctx context.Context, fn func(context.Context) error) error {
	return WithRateLimitRetry(ctx, c.sleep, fn)
}

func (c *Client) sendWithTimeoutRetry(ctx context.Context, method, endpoint string, query url.Values, payload []byte) (int, http.Header, []byte, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		status, header, body, err := c.send(ctx, method, endpoint, query, payload)
		if err == nil {
			return status, header, body, nil
		}
		if ctx.Err() != nil {
			return 0, nil, nil, ctx.Err()
		}

		lastErr = err
		if !isTimeout(err) {
			break
		}
		c.log.Warn().
			Str("method", method).
			Str("endpoint", endpoint).
			Int("attempt", attempt+1).
			Msg("Request timed out")
	}

	return 0, nil, nil, &RequestFailedError{Code: 0, Message: lastErr.Error(), Cause: ErrNetworkFailure}
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, payload []byte) (int, http.Header, []byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, method, target, bodyReader)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("X-Trace-Id", uuid.NewString())
	if c.session != nil {
		if deviceID := c.session.DeviceID(); deviceID != "" {
			httpReq.Header.Set("X-Device-Id", deviceID)
		}
		if token := c.session.Token(); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.log.Debug().
		Str("method", method).
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Msg("Request completed")

	return resp.StatusCode, resp.Header, body, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// errorMessage extracts the server's error text from a JSON or plain body.
func errorMessage(body []byte, status int) string {
	var envelope struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error != "" {
			return envelope.Error
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		if len(text) > 512 {
			text = text[:512]
		}
		return text
	}
	return http.StatusText(status)
}
