package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"athena-runner/internal/clock"
	"athena-runner/internal/domain"
)

// RetryPolicy bounds retries of transient status check failures within one tick.
type RetryPolicy struct {
	MaxRetries    int           // retries after the first attempt
	Base          time.Duration // first backoff delay, doubled per retry
	Cap           time.Duration // upper bound on a single delay
	JitterPercent uint64
}

// DefaultRetryPolicy returns the documented defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    DefaultMaxPollRetries,
		Base:          DefaultRetryBase,
		Cap:           DefaultRetryCap,
		JitterPercent: DefaultRetryJitter,
	}
}

// backoff builds a fresh backoff; go-retry backoffs are stateful.
func (p RetryPolicy) backoff() retry.Backoff {
	base := p.Base
	if base <= 0 {
		base = DefaultRetryBase
	}
	b := retry.NewExponential(base)
	if p.Cap > 0 {
		b = retry.WithCappedDuration(p.Cap, b)
	}
	if p.JitterPercent > 0 {
		b = retry.WithJitterPercent(p.JitterPercent, b)
	}
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return retry.WithMaxRetries(uint64(retries), b)
}

// Poller drives an execution to a terminal state.
type Poller struct {
	service domain.QueryService
	clock   clock.Clock
	retry   RetryPolicy
	logger  *slog.Logger
}

// NewPoller creates a Poller. Nil clock and logger mean the real clock and slog.Default().
func NewPoller(svc domain.QueryService, clk clock.Clock, policy RetryPolicy, logger *slog.Logger) *Poller {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{service: svc, clock: clk, retry: policy, logger: logger}
}

// AwaitCompletion polls h every pollInterval until it reaches a terminal
// state or maxWait elapses. Non-positive durations fall back to the defaults.
//
// The flow per tick:
//  1. Fetch the state, retrying transient errors per the RetryPolicy
//  2. SUCCEEDED returns a Completion; FAILED and CANCELLED return typed errors
//  3. QUEUED/RUNNING wait for the next tick, or time out past the deadline
//
// A timeout leaves the remote execution running. AwaitCompletion never
// fetches results and never cancels.
func (p *Poller) AwaitCompletion(ctx context.Context, h domain.ExecutionHandle, pollInterval, maxWait time.Duration) (*domain.Completion, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}

	start := p.clock.Now()
	deadline := start.Add(maxWait)
	polls := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, &domain.PollingError{Handle: h, Attempts: 0, Err: err}
		}
		status, attempts, err := p.observe(ctx, h)
		polls++
		if err != nil {
			p.logger.Warn("status check failed", "execution_id", h, "poll", polls, "attempts", attempts, "error", err)
			return nil, &domain.PollingError{Handle: h, Attempts: attempts, Err: err}
		}
		p.logger.Debug("execution state", "execution_id", h, "state", status.State, "poll", polls)

		switch status.State {
		case domain.StateSucceeded:
			return &domain.Completion{
				Handle:  h,
				State:   domain.StateSucceeded,
				Stats:   status.Stats,
				Polls:   polls,
				Elapsed: p.clock.Now().Sub(start),
			}, nil
		case domain.StateFailed:
			return nil, &domain.ExecutionFailedError{Handle: h, Reason: status.Reason}
		case domain.StateCancelled:
			return nil, &domain.ExecutionCancelledError{Handle: h, Reason: status.Reason}
		case domain.StateQueued, domain.StateRunning:
			// keep polling
		default:
			return nil, &domain.PollingError{
				Handle:   h,
				Attempts: attempts,
				Err:      fmt.Errorf("service reported state %s", status.State),
			}
		}

		now := p.clock.Now()
		if !now.Before(deadline) {
			p.logger.Warn("execution did not finish in time", "execution_id", h, "state", status.State, "waited", now.Sub(start))
			return nil, &domain.TimeoutError{Handle: h, Waited: now.Sub(start), LastState: status.State}
		}

		wait := pollInterval
		if remaining := deadline.Sub(now); remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, &domain.PollingError{Handle: h, Attempts: attempts, Err: ctx.Err()}
		case <-p.clock.After(wait):
		}
	}
}

// observe performs one tick. attempts counts GetState calls made in it.
func (p *Poller) observe(ctx context.Context, h domain.ExecutionHandle) (*domain.ExecutionStatus, int, error) {
	var (
		status   *domain.ExecutionStatus
		attempts int
	)
	err := retry.Do(ctx, p.retry.backoff(), func(ctx context.Context) error {
		attempts++
		s, err := p.service.GetState(ctx, h)
		if err != nil {
			if domain.IsTransient(err) {
				p.logger.Debug("transient status check failure", "execution_id", h, "attempt", attempts, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		if s == nil {
			return errors.New("query service returned no status")
		}
		status = s
		return nil
	})
	if err != nil {
		return nil, attempts, err
	}
	return status, attempts, nil
}
