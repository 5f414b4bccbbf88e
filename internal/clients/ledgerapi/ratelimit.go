package ledgerapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultRateLimitWait applies when a 429 carries no usable reset hint.
const DefaultRateLimitWait = time.Second

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// rateLimitWait derives the remaining wait from, in order, a resetAt epoch-ms
// field in the JSON body, the X-RateLimit-Reset header (epoch seconds), and
// Retry-After (seconds or HTTP date).
func rateLimitWait(body []byte, header http.Header, now time.Time) time.Duration {
	var payload struct {
		ResetAt json.Number `json:"resetAt"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.ResetAt != "" {
		if ms, err := payload.ResetAt.Float64(); err == nil && ms > 0 {
			return clampWait(time.UnixMilli(int64(ms)).Sub(now))
		}
	}

	if reset := strings.TrimSpace(header.Get("X-RateLimit-Reset")); reset != "" {
		if secs, err := strconv.ParseInt(reset, 10, 64); err == nil && secs > 0 {
			return clampWait(time.Unix(secs, 0).Sub(now))
		}
	}

	if wait, ok := parseRetryAfter(header.Get("Retry-After"), now); ok {
		return wait
	}

	return DefaultRateLimitWait
}

func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second, true
	}
	if ts, err := http.ParseTime(value); err == nil {
		return clampWait(ts.Sub(now)), true
	}
	return 0, false
}

func clampWait(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WithRateLimitRetry runs fn and, if it fails with RateLimitedError, sleeps
// for the reported wait and runs it exactly once more.
func WithRateLimitRetry(ctx context.Context, sleep SleepFunc, fn func(context.Context) error) error {
	err := fn(ctx)

	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		return err
	}

	if sleep == nil {
		sleep = waitWithContext
	}
	if waitErr := sleep(ctx, limited.Wait); waitErr != nil {
		return waitErr
	}
	return fn(ctx)
}
