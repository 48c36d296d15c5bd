package httpclient

import (
	"math"
	"net/http"
	"strconv"
	"time"

	bioetlerrors "bioetl.dev/bioetl/errors"
)

// RetryPolicy implements the wait-calculation and give-up rules for the
// HTTP core: exponential backoff capped at BackoffMax, overridden by an
// upstream Retry-After header when one is present.
type RetryPolicy struct {
	Total           int
	BackoffFactor   float64
	BackoffMax      time.Duration
	RetryableStatus map[int]bool
}

// DefaultRetryableStatus is the standard retryable status set.
func DefaultRetryableStatus() map[int]bool {
	return map[int]bool{408: true, 429: true, 500: true, 502: true, 503: true, 504: true}
}

// NewRetryPolicy builds a RetryPolicy with the standard retryable set.
func NewRetryPolicy(total int, backoffFactor float64, backoffMax time.Duration) *RetryPolicy {
	return &RetryPolicy{
		Total:           total,
		BackoffFactor:   backoffFactor,
		BackoffMax:      backoffMax,
		RetryableStatus: DefaultRetryableStatus(),
	}
}

// ShouldRetry reports whether attempt (0-indexed) should be retried given
// the error observed. A nil httpErr with non-nil transportErr is treated
// as a network/timeout failure, retryable until Total is exhausted.
func (p *RetryPolicy) ShouldRetry(attempt int, httpErr *bioetlerrors.HTTPError, transportErr error) bool {
	if attempt >= p.Total {
		return false
	}
	if httpErr != nil {
		return httpErr.Retryable()
	}
	return transportErr != nil
}

// Wait computes the backoff duration for the given attempt, honoring a
// Retry-After header (numeric seconds or HTTP-date) when present.
func (p *RetryPolicy) Wait(attempt int, retryAfter string) time.Duration {
	if d, ok := parseRetryAfter(retryAfter); ok {
		if d < 0 {
			d = 0
		}
		return d
	}
	wait := time.Duration(math.Pow(p.BackoffFactor, float64(attempt)) * float64(time.Second))
	if p.BackoffMax > 0 && wait > p.BackoffMax {
		wait = p.BackoffMax
	}
	return wait
}

func parseRetryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t), true
	}
	return 0, false
}
