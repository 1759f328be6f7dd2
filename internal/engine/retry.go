package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"agencyflow/backend/internal/integrations"
)

// RetryPolicy bounds how retryable integration errors are retried. It is a
// plain value so tests can run it with zero intervals.
type RetryPolicy struct {
	MaxRetries          int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultRetryPolicy matches the engine defaults from configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:          3,
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         30 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.3,
	}
}

func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.RandomizationFactor
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxRetries)), ctx)
}

// Do invokes fn, retrying retryable integration errors with exponential
// backoff until success, a fatal error, or the retry bound is exhausted.
// The returned error is always an *integrations.IntegrationError on failure.
func (p RetryPolicy) Do(ctx context.Context, fn func() (*integrations.Result, error)) (*integrations.Result, error) {
	var result *integrations.Result
	op := func() error {
		r, err := fn()
		if err != nil {
			ie := integrations.AsIntegrationError(err)
			if !ie.Retryable {
				return backoff.Permanent(ie)
			}
			return ie
		}
		result = r
		return nil
	}
	if err := backoff.Retry(op, p.newBackOff(ctx)); err != nil {
		return nil, integrations.AsIntegrationError(err)
	}
	return result, nil
}
