package secrets

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/aws/smithy-go"
)

// Retryer matches the AWS SDK v2 aws.Retryer surface used by this package.
type Retryer interface {
	MaxAttempts() int
	RetryDelay(attempt int, err error) (time.Duration, error)
	IsErrorRetryable(error) bool
}

// CustomRetryer implements exponential backoff with jitter and retries only
// throttling-class errors. All fields are immutable, making the retryer safe
// for concurrent use.
type CustomRetryer struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewCustomRetryer builds a retryer with the given attempt budget and delay
// bounds.
func NewCustomRetryer(maxAttempts int, baseDelay, maxDelay time.Duration) *CustomRetryer {
	return &CustomRetryer{maxAttempts: maxAttempts, baseDelay: baseDelay, maxDelay: maxDelay}
}

// MaxAttempts returns the maximum number of attempts.
func (r *CustomRetryer) MaxAttempts() int {
	return r.maxAttempts
}

// RetryDelay returns an exponentially growing delay with ±25% jitter,
// capped at the configured maximum.
func (r *CustomRetryer) RetryDelay(attempt int, _ error) (time.Duration, error) {
	delay := time.Duration(math.Pow(2, float64(attempt-1))) * r.baseDelay

	jitterRange := int64(float64(delay) * 0.25)
	if jitterRange > 0 {
		delay += time.Duration(rand.Int63n(2*jitterRange) - jitterRange)
	}

	if delay > r.maxDelay {
		delay = r.maxDelay
	}
	if delay < 0 {
		delay = 0
	}
	return delay, nil
}

// IsErrorRetryable retries throttling errors and refuses permanent
// failures and context cancellations.
func (r *CustomRetryer) IsErrorRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException",
			"ProvisionedThroughputExceededException",
			"RequestLimitExceeded",
			"TooManyRequestsException":
			return true
		case "AccessDeniedException",
			"UnauthorizedOperation",
			"InvalidParameterException",
			"ValidationException":
			return false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	return false
}

// GetRetryToken satisfies the SDK token interface with a no-op token pool.
func (r *CustomRetryer) GetRetryToken(context.Context, error) (func(error) error, error) {
	return func(error) error { return nil }, nil
}

// GetInitialToken satisfies the SDK token interface with a no-op token pool.
func (r *CustomRetryer) GetInitialToken() func(error) error {
	return func(error) error { return nil }
}

// clientOptions holds the configuration assembled from Options.
type clientOptions struct {
	logger  *slog.Logger
	cache   Cache
	retryer Retryer
	region  string
}

// Option configures the secrets client.
type Option func(*clientOptions)

// WithLogger sets the structured logger. A nil logger disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithCache enables value caching through the given implementation.
func WithCache(cache Cache) Option {
	return func(o *clientOptions) {
		o.cache = cache
	}
}

// WithRetryer replaces the SDK default retry behavior.
func WithRetryer(retryer Retryer) Option {
	return func(o *clientOptions) {
		o.retryer = retryer
	}
}

// WithRegion sets the region for the underlying SDK client.
func WithRegion(region string) Option {
	return func(o *clientOptions) {
		o.region = region
	}
}
