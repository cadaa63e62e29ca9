package providers

import (
	"context"
	"math"
	"time"
)

// baseProvider holds the retry configuration shared by the adapters.
type baseProvider struct {
	vendor     string
	maxRetries int
	retryDelay time.Duration
}

func newBaseProvider(vendor string, maxRetries int, retryDelay time.Duration) baseProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return baseProvider{
		vendor:     vendor,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// retry executes op, waiting between attempts according to backoff, as long
// as the error is retryable. It returns the last error after exhausting
// attempts, or the context error if canceled while waiting.
func (b *baseProvider) retry(ctx context.Context, backoff func(attempt int) time.Duration, op func() error) error {
	var lastErr error
	for attempt := 0; attempt < b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !IsRetryableError(lastErr) {
			return lastErr
		}
		if attempt == b.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(attempt + 1)):
		}
	}
	return lastErr
}

// linearBackoff waits retryDelay * attempt between tries.
func (b *baseProvider) linearBackoff(attempt int) time.Duration {
	return b.retryDelay * time.Duration(attempt)
}

// exponentialBackoff waits retryDelay * 2^(attempt-1) between tries.
func (b *baseProvider) exponentialBackoff(attempt int) time.Duration {
	return b.retryDelay * time.Duration(math.Pow(2, float64(attempt-1)))
}
