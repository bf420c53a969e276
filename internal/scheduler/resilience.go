package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/TobiSchelling/RecipeSorter/internal/classifier"
	"github.com/TobiSchelling/RecipeSorter/internal/llm"
	"github.com/TobiSchelling/RecipeSorter/internal/metrics"
	"github.com/TobiSchelling/RecipeSorter/internal/recipe"
)

// BreakerSettings configure the circuit breaker around classifier calls.
type BreakerSettings struct {
	Enabled      bool
	MinRequests  uint32
	FailureRatio float64
	OpenTimeout  time.Duration
}

// DefaultBreakerSettings trips after half of at least five items fail on
// transport errors.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Enabled:      true,
		MinRequests:  5,
		FailureRatio: 0.5,
		OpenTimeout:  30 * time.Second,
	}
}

// errorClass says how a classifier error is treated.
type errorClass struct {
	Retryable     bool
	RecordFailure bool
}

// classify retries timeouts and transient service errors. Malformed replies
// mean the service is up, so they neither retry nor count against the breaker.
func classify(err error) errorClass {
	kind, ok := classifier.KindOf(err)
	if !ok {
		return errorClass{}
	}
	switch kind {
	case recipe.KindTimeout:
		return errorClass{Retryable: true, RecordFailure: true}
	case recipe.KindServiceError:
		var apiErr *llm.APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return errorClass{RecordFailure: true}
		}
		return errorClass{Retryable: true, RecordFailure: true}
	}
	return errorClass{}
}

// caller runs one item's classifier call under the run's retry policy,
// rate limit and circuit breaker.
type caller struct {
	maxRetries uint64
	backoff    time.Duration
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[recipe.RawJudgment]
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func newCaller(opts Options, logger *zap.Logger, m *metrics.Metrics) *caller {
	c := &caller{
		maxRetries: uint64(max(opts.MaxRetries, 0)),
		backoff:    opts.RetryBackoff,
		logger:     logger,
		metrics:    m,
	}
	if opts.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	if opts.Breaker.Enabled {
		c.breaker = newBreaker(opts.Breaker, logger, m)
	}
	return c
}

func newBreaker(s BreakerSettings, logger *zap.Logger, m *metrics.Metrics) *gobreaker.CircuitBreaker[recipe.RawJudgment] {
	settings := gobreaker.Settings{
		Name:        "classifier",
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= s.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classify(err).RecordFailure
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			m.SetBreakerState(to.String())
		},
	}
	m.SetBreakerState(gobreaker.StateClosed.String())
	return gobreaker.NewCircuitBreaker[recipe.RawJudgment](settings)
}

// call invokes fn until it succeeds, fails permanently or retries run out.
// It returns the number of attempts made.
func (c *caller) call(ctx context.Context, itemID string, fn func(context.Context) (recipe.RawJudgment, error)) (recipe.RawJudgment, int, error) {
	attempts := 0
	withRetry := func() (recipe.RawJudgment, error) {
		var raw recipe.RawJudgment
		b := retry.WithMaxRetries(c.maxRetries, retry.NewFibonacci(c.backoff))
		err := retry.Do(ctx, b, func(ctx context.Context) error {
			if c.limiter != nil {
				if err := c.limiter.Wait(ctx); err != nil {
					return err
				}
			}
			attempts++
			var err error
			raw, err = fn(ctx)
			if err == nil {
				c.metrics.ObserveAttempt("ok")
				return nil
			}
			result := "error"
			if kind, ok := classifier.KindOf(err); ok {
				result = string(kind)
			}
			c.metrics.ObserveAttempt(result)
			if classify(err).Retryable {
				c.logger.Debug("retrying item",
					zap.String("item", itemID),
					zap.Int("attempt", attempts),
					zap.Error(err))
				return retry.RetryableError(err)
			}
			return err
		})
		return raw, err
	}

	if c.breaker == nil {
		raw, err := withRetry()
		return raw, attempts, err
	}
	raw, err := c.breaker.Execute(withRetry)
	return raw, attempts, err
}

func isCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
