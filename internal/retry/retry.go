// Package retry wraps fallible operations with backoff. Policies retry every
// error until their attempt ceiling; callers that need selective retry check
// the error themselves before returning it.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Policy decides how many attempts are made and how long to wait between them.
type Policy interface {
	// MaxTries is the total number of attempts, including the first.
	MaxTries() int
	// Delay is the wait after the given failed attempt (1-indexed).
	Delay(attempt int) time.Duration
}

// Exponential waits Base * 2^(attempt-1) between attempts, capped at Max
// when Max is positive. Jitter in [0,1] spreads each delay by up to that
// fraction in either direction.
type Exponential struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
	Tries  int
}

// DefaultExponential returns 3 attempts starting at 1s, capped at 30s.
func DefaultExponential() *Exponential {
	return &Exponential{
		Base:  1 * time.Second,
		Max:   30 * time.Second,
		Tries: 3,
	}
}

func (p *Exponential) MaxTries() int { return p.Tries }

// Delay returns the backoff delay for the given attempt number (1-indexed).
func (p *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.Base) * math.Pow(2, float64(attempt-1))
	if p.Max > 0 && delay > float64(p.Max) {
		delay = float64(p.Max)
	}
	delay = min(delay, math.MaxInt64)
	if p.Jitter > 0 {
		delay += delay * p.Jitter * (2*rand.Float64() - 1)
	}
	switch {
	case !(delay > 0):
		return 0
	case delay >= math.MaxInt64:
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Linear waits a fixed Interval between attempts.
type Linear struct {
	Interval time.Duration
	Tries    int
}

// DefaultLinear returns 5 attempts one second apart.
func DefaultLinear() *Linear {
	return &Linear{Interval: 1 * time.Second, Tries: 5}
}

func (p *Linear) MaxTries() int { return p.Tries }

func (p *Linear) Delay(int) time.Duration { return p.Interval }

// Option configures a single Do call.
type Option func(*options)

type options struct {
	notify func(attempt int, err error, wait time.Duration)
}

// WithNotify registers a callback invoked before each backoff wait.
func WithNotify(fn func(attempt int, err error, wait time.Duration)) Option {
	return func(o *options) { o.notify = fn }
}

// Do runs fn until it succeeds or the policy's attempts are exhausted, and
// returns the last error unchanged. A context cancelled during a wait also
// ends the loop with the last error from fn.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error, opts ...Option) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts...)
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	tries := p.MaxTries()
	if tries < 1 {
		tries = 1
	}

	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= tries; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt == tries || ctx.Err() != nil {
			break
		}

		wait := p.Delay(attempt)
		if o.notify != nil {
			o.notify(attempt, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}
