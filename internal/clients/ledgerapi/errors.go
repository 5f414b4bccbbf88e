package ledgerapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/ledgersync/internal/domain"
)

var (
	// ErrNetworkFailure marks transport faults where no response arrived.
	ErrNetworkFailure = errors.New("network failure")
	// ErrSessionExpired is returned on 401. The session has already been cleared.
	ErrSessionExpired = errors.New("session expired")
	// ErrInvalidResponse marks a 2xx body that failed schema validation or decoding.
	ErrInvalidResponse = errors.New("invalid response")
)

// ValidationError is malformed local input, caught before any network call.
type ValidationError = domain.ValidationError

// RateLimitedError is returned on 429 with the time left until the server's reset.
type RateLimitedError struct {
	Wait time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %s", e.Wait)
}

// RequestFailedError is any other non-2xx outcome. Code is 0 for transport
// faults, in which case Cause is ErrNetworkFailure.
type RequestFailedError struct {
	Code    int
	Message string
	Cause   error
}

func (e *RequestFailedError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("request failed: %s", e.Message)
	}
	return fmt.Sprintf("request failed: http %d: %s", e.Code, e.Message)
}

func (e *RequestFailedError) Unwrap() error {
	return e.Cause
}

// IsTransient reports whether a failure may succeed on a later attempt.
// Session expiry is neither transient nor permanent and reports false; check
// it with errors.Is first.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionExpired) {
		return false
	}

	var validation *ValidationError
	if errors.As(err, &validation) {
		return false
	}

	var limited *RateLimitedError
	if errors.As(err, &limited) {
		return true
	}

	var failed *RequestFailedError
	if errors.As(err, &failed) {
		switch {
		case failed.Code == 0:
			return true
		case failed.Code == http.StatusRequestTimeout:
			return true
		case failed.Code >= 500:
			return true
		default:
			return false
		}
	}

	if errors.Is(err, ErrNetworkFailure) || errors.Is(err, ErrInvalidResponse) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Unknown failures are retried; the retry ceiling bounds the cost.
	return true
}

// IsPermanent reports failures that will never succeed as submitted.
func IsPermanent(err error) bool {
	return err != nil && !errors.Is(err, ErrSessionExpired) && !IsTransient(err)
}
