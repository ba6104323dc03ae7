// Package retrypolicy implements the C6 classification and backoff
// computation pipeline: (exception, http_status) -> ErrorCategory, and
// ErrorCategory -> backoff delay given a RetryPolicy.
package retrypolicy

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/northcloud/crawlctl/internal/domain"
)

// JitterFraction is the default jitter applied to computed delays.
const JitterFraction = 0.20

// Classify maps an (err, httpStatus) pair to an ErrorCategory per the
// spec's two-branch pipeline: HTTP status takes precedence when
// present, otherwise the error is inspected.
func Classify(err error, httpStatus int) domain.ErrorCategory {
	if httpStatus > 0 {
		return classifyStatus(httpStatus)
	}
	return classifyError(err)
}

func classifyStatus(status int) domain.ErrorCategory {
	switch {
	case status == http.StatusNotFound:
		return domain.ErrorCategoryNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.ErrorCategoryAuthError
	case status == http.StatusRequestTimeout:
		return domain.ErrorCategoryTimeout
	case status == http.StatusTooManyRequests:
		return domain.ErrorCategoryRateLimit
	case status >= 500 && status <= 599:
		return domain.ErrorCategoryServerError
	case status >= 400 && status <= 499:
		return domain.ErrorCategoryClientError
	default:
		return domain.ErrorCategoryUnknown
	}
}

func classifyError(err error) domain.ErrorCategory {
	if err == nil {
		return domain.ErrorCategoryUnknown
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return domain.ErrorCategoryTimeout
	case strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "network is unreachable") ||
		strings.Contains(msg, "connection reset"):
		return domain.ErrorCategoryNetworkError
	case strings.Contains(msg, "parse") || strings.Contains(msg, "decod") || strings.Contains(msg, "unmarshal"):
		return domain.ErrorCategoryParseError
	case strings.Contains(msg, "validation") || strings.Contains(msg, "invalid"):
		return domain.ErrorCategoryValidationError
	default:
		return domain.ErrorCategoryUnknown
	}
}

// CanRetry reports whether policy permits another attempt at
// attemptNumber (1-indexed, matching the domain.RetryHistory attempt
// numbering). A category marked not retryable (NOT_FOUND, AUTH_ERROR,
// CLIENT_ERROR, VALIDATION_ERROR) never reaches another attempt
// regardless of MaxAttempts.
func CanRetry(policy domain.RetryPolicy, attemptNumber int) bool {
	if !policy.IsRetryable {
		return false
	}
	if policy.MaxAttempts <= 0 {
		return false
	}
	return attemptNumber <= policy.MaxAttempts
}

// Backoff computes the delay before attempt n (1-indexed, n=1 is the
// first retry) given a strategy, initial delay, max delay, and
// multiplier. Jitter, when enabled, multiplies the result by a factor
// drawn uniformly from [1-j, 1+j] and clamps to [0, max].
func Backoff(strategy domain.RetryStrategy, n int, initial, maxDelay time.Duration, multiplier float64, jitter bool, jitterFraction float64) time.Duration {
	if n < 1 {
		n = 1
	}

	var d time.Duration
	switch strategy {
	case domain.RetryStrategyExponential:
		d = time.Duration(float64(initial) * math.Pow(multiplier, float64(n-1)))
	case domain.RetryStrategyLinear:
		d = initial * time.Duration(n)
	case domain.RetryStrategyFixed:
		d = initial
	default:
		d = initial
	}
	if d > maxDelay {
		d = maxDelay
	}

	if jitter {
		if jitterFraction <= 0 {
			jitterFraction = JitterFraction
		}
		factor := 1 - jitterFraction + rand.Float64()*(2*jitterFraction) //nolint:gosec // jitter need not be cryptographic
		d = time.Duration(float64(d) * factor)
		if d < 0 {
			d = 0
		}
		if d > maxDelay {
			d = maxDelay
		}
	}

	return d
}

// notRetryableCategories are the client-input categories the spec
// says must go straight to the DLQ instead of being retried: the
// request was never going to succeed no matter how many attempts are
// spent on it.
var notRetryableCategories = map[domain.ErrorCategory]bool{
	domain.ErrorCategoryNotFound:        true,
	domain.ErrorCategoryAuthError:       true,
	domain.ErrorCategoryClientError:     true,
	domain.ErrorCategoryValidationError: true,
}

// DefaultPolicy returns the built-in RetryPolicy used as a fallback
// when no row exists yet in the store-backed retry_policies table for
// category (e.g. before the seed migration has run). jobType is
// accepted for PolicyLookup signature compatibility but the built-in
// defaults do not vary per job type; only category does.
func DefaultPolicy(jobType string, category domain.ErrorCategory) domain.RetryPolicy {
	_ = jobType
	p := domain.RetryPolicy{
		Category:          category,
		IsRetryable:       !notRetryableCategories[category],
		Strategy:          domain.RetryStrategyExponential,
		InitialDelaySec:   5,
		MaxDelaySec:       900,
		BackoffMultiplier: 2.0,
		MaxAttempts:       3,
		Description:       "built-in default, no persisted override",
	}
	if category == domain.ErrorCategoryRateLimit {
		p.InitialDelaySec = 30
		p.MaxAttempts = 5
	}
	if !p.IsRetryable {
		p.MaxAttempts = 0
	}
	return p
}

// DefaultLookup is a retryhandler.PolicyLookup backed solely by
// DefaultPolicy, for callers (such as tests) that don't need a
// database. The store-backed lookup wired in cmd/crawlctl falls back
// to DefaultPolicy directly.
func DefaultLookup(_ context.Context, jobType string, category domain.ErrorCategory) (domain.RetryPolicy, error) {
	return DefaultPolicy(jobType, category), nil
}

// HonorRetryAfter returns the larger of the computed delay and a
// server-supplied Retry-After delay, since the spec prefers the
// server-directed delay when it is larger.
func HonorRetryAfter(computed, serverDelay time.Duration) time.Duration {
	if serverDelay > computed {
		return serverDelay
	}
	return computed
}

// ParseRetryAfter parses an HTTP Retry-After header value, which is
// either an integer number of seconds or an HTTP-date, returning the
// delay relative to now.
func ParseRetryAfter(header string, now time.Time) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.ParseInt(header, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(header); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
