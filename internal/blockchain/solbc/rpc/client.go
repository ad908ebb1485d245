// internal/blockchain/solbc/rpc/client.go
package rpc

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// Operation is one attempt of a remote call against a chosen endpoint.
type Operation func(ctx context.Context, ep *Endpoint) error

// ResilientClient runs operations against a Pool, retrying transient
// failures with exponential backoff on freshly selected endpoints.
type ResilientClient struct {
	pool   *Pool
	cfg    RetryConfig
	logger *zap.Logger
}

// NewResilientClient creates a client over pool.
func NewResilientClient(pool *Pool, cfg RetryConfig, logger *zap.Logger) *ResilientClient {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return &ResilientClient{
		pool:   pool,
		cfg:    cfg,
		logger: logger.Named("resilient").With(zap.String("pool", pool.Name())),
	}
}

// Pool returns the underlying endpoint pool.
func (c *ResilientClient) Pool() *Pool {
	return c.pool
}

// Do executes op with the configured retry budget.
func (c *ResilientClient) Do(ctx context.Context, method string, op Operation) error {
	return c.Execute(ctx, method, c.cfg.MaxRetries, op)
}

// Execute runs op at most maxRetries+1 times. Non-retryable errors are
// returned immediately; after the budget is spent an *ExhaustedRetriesError
// is returned. ctx is checked between attempts.
func (c *ResilientClient) Execute(ctx context.Context, method string, maxRetries int, op Operation) error {
	if maxRetries < 0 {
		maxRetries = 0
	}

	var (
		attempts int
		lastErr  error
		fatal    error
	)

	attempt := func() (struct{}, error) {
		if err := ctx.Err(); err != nil {
			fatal = err
			return struct{}{}, backoff.Permanent(err)
		}

		ep, err := c.pool.Select()
		if err != nil {
			fatal = err
			return struct{}{}, backoff.Permanent(err)
		}
		attempts++

		attemptCtx, cancel := c.attemptContext(ctx)
		err = op(attemptCtx, ep)
		cancel()

		if err == nil {
			c.pool.RecordSuccess(ep)
			return struct{}{}, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			fatal = ctxErr
			return struct{}{}, backoff.Permanent(ctxErr)
		}

		wrapped := NewError(err, ep.URL, method)
		if !IsRetryable(err) {
			fatal = wrapped
			return struct{}{}, backoff.Permanent(wrapped)
		}

		c.pool.RecordFailure(ep)
		lastErr = wrapped
		return struct{}{}, wrapped
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.cfg.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         c.cfg.MaxDelay,
	}

	_, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(maxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("Retrying after transient failure",
				zap.String("method", method),
				zap.Int("attempt", attempts),
				zap.Duration("backoff", next),
				zap.Error(err))
		}),
	)

	switch {
	case err == nil:
		return nil
	case fatal != nil:
		return fatal
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		c.logger.Warn("Retries exhausted",
			zap.String("method", method),
			zap.Int("attempts", attempts),
			zap.Error(lastErr))
		return &ExhaustedRetriesError{Method: method, Attempts: attempts, Last: lastErr}
	}
}

func (c *ResilientClient) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.AttemptTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.AttemptTimeout)
}

// Call is Do for operations that produce a value.
func Call[T any](ctx context.Context, c *ResilientClient, method string, fn func(ctx context.Context, ep *Endpoint) (T, error)) (T, error) {
	var out T
	err := c.Do(ctx, method, func(ctx context.Context, ep *Endpoint) error {
		v, err := fn(ctx, ep)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
