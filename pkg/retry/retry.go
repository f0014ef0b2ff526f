// Package retry implements the bounded-retry engine used by the
// executor: configurable backoff and jitter
// strategies, a total-time ceiling, and an optional custom retry
// predicate on top of the built-in transient-error heuristic.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"
)

// BackoffStrategy computes the base delay before the next attempt, given
// the zero-indexed attempt number and the policy's initial delay.
type BackoffStrategy interface {
	Delay(attempt int, initial time.Duration) time.Duration
}

// ConstantBackoff always waits the initial delay.
type ConstantBackoff struct{}

func (ConstantBackoff) Delay(_ int, initial time.Duration) time.Duration { return initial }

// LinearBackoff grows delay linearly with attempt count: initial*(n+1).
type LinearBackoff struct{}

func (LinearBackoff) Delay(attempt int, initial time.Duration) time.Duration {
	return initial * time.Duration(attempt+1)
}

// ExponentialBackoff grows delay geometrically: initial*multiplier^n.
// Multiplier defaults to 2.0 when zero.
type ExponentialBackoff struct {
	Multiplier float64
}

func (b ExponentialBackoff) Delay(attempt int, initial time.Duration) time.Duration {
	mult := b.Multiplier
	if mult == 0 {
		mult = 2.0
	}
	factor := math.Pow(mult, float64(attempt))
	return time.Duration(float64(initial) * factor)
}

// FibonacciBackoff grows delay along the Fibonacci sequence (1-indexed:
// fib(1)=1, fib(2)=1, fib(3)=2, ...): initial*fib(n+1).
type FibonacciBackoff struct{}

func fib(n int) int64 {
	if n <= 0 {
		return 0
	}
	if n <= 2 {
		return 1
	}
	var a, b int64 = 1, 1
	for i := 3; i <= n; i++ {
		a, b = b, a+b
	}
	return b
}

func (FibonacciBackoff) Delay(attempt int, initial time.Duration) time.Duration {
	return initial * time.Duration(fib(attempt+1))
}

// PolynomialBackoff grows delay as initial*(n+1)^exponent.
type PolynomialBackoff struct {
	Exponent float64
}

func (b PolynomialBackoff) Delay(attempt int, initial time.Duration) time.Duration {
	factor := math.Pow(float64(attempt+1), b.Exponent)
	return time.Duration(float64(initial) * factor)
}

// JitterStrategy perturbs a computed base delay to avoid thundering-herd
// retries across many concurrent callers.
type JitterStrategy interface {
	Apply(delay time.Duration, previous time.Duration) time.Duration
}

// NoJitter returns the delay unchanged.
type NoJitter struct{}

func (NoJitter) Apply(delay, _ time.Duration) time.Duration { return delay }

// FullJitter returns a uniform random value in [0, delay).
type FullJitter struct{}

func (FullJitter) Apply(delay, _ time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(delay)))
}

// EqualJitter returns delay/2 + uniform random value in [0, delay/2).
type EqualJitter struct{}

func (EqualJitter) Apply(delay, _ time.Duration) time.Duration {
	half := delay / 2
	if half <= 0 {
		return delay
	}
	return half + time.Duration(rand.Int63n(int64(half)))
}

// DecorrelatedJitter returns uniform random value in [base, max(base, 3*previous)).
type DecorrelatedJitter struct {
	Base time.Duration
}

func (d DecorrelatedJitter) Apply(delay, previous time.Duration) time.Duration {
	base := d.Base
	if base <= 0 {
		base = delay
	}
	upper := 3 * previous
	if upper < base {
		upper = base
	}
	if upper <= base {
		return base
	}
	return base + time.Duration(rand.Int63n(int64(upper-base)))
}

// BoundedJitter perturbs delay by +/- percentage of itself.
type BoundedJitter struct {
	Percentage float64
}

func (b BoundedJitter) Apply(delay, _ time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	spread := float64(delay) * b.Percentage
	offset := (rand.Float64()*2 - 1) * spread
	result := float64(delay) + offset
	if result < 0 {
		result = 0
	}
	return time.Duration(result)
}

// transientPatterns are substrings (case-insensitive) that mark an error
// message as likely transient and therefore worth retrying.
var transientPatterns = []string{
	"timeout", "timed out", "connection refused", "connection reset",
	"connection closed", "temporary failure", "temporarily unavailable",
	"try again", "service unavailable", "too many requests", "rate limit",
	"network unreachable", "host unreachable", "no route to host",
	"broken pipe", "resource temporarily unavailable", "operation would block",
	"connection aborted", "socket hang up", "econnreset", "econnrefused",
	"etimedout", "enetunreach", "ehostunreach",
}

// IsTransientErrorMessage reports whether msg matches a known transient
// failure pattern.
func IsTransientErrorMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range transientPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Condition decides whether a given error should trigger another attempt.
type Condition func(err error) bool

// Policy configures a bounded retry loop.
type Policy struct {
	maxRetries      int
	initialDelay    time.Duration
	maxDelay        time.Duration
	maxTotalTime    time.Duration
	backoff         BackoffStrategy
	jitter          JitterStrategy
	retryOnTimeout  bool
	condition       Condition
}

// Option configures a Policy via NewPolicy.
type Option func(*Policy)

// NewPolicy builds a Policy with sane defaults (3 retries, 100ms initial
// delay, exponential backoff, full jitter) overridden by opts.
func NewPolicy(opts ...Option) *Policy {
	p := &Policy{
		maxRetries:     3,
		initialDelay:   100 * time.Millisecond,
		maxDelay:       30 * time.Second,
		backoff:        ExponentialBackoff{Multiplier: 2.0},
		jitter:         FullJitter{},
		retryOnTimeout: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func WithMaxRetries(n int) Option             { return func(p *Policy) { p.maxRetries = n } }
func WithInitialDelay(d time.Duration) Option { return func(p *Policy) { p.initialDelay = d } }
func WithMaxDelay(d time.Duration) Option     { return func(p *Policy) { p.maxDelay = d } }
func WithMaxTotalTime(d time.Duration) Option { return func(p *Policy) { p.maxTotalTime = d } }
func WithBackoff(b BackoffStrategy) Option    { return func(p *Policy) { p.backoff = b } }
func WithJitter(j JitterStrategy) Option      { return func(p *Policy) { p.jitter = j } }
func WithRetryOnTimeout(v bool) Option        { return func(p *Policy) { p.retryOnTimeout = v } }
func WithCondition(c Condition) Option        { return func(p *Policy) { p.condition = c } }

// Context tracks one in-flight retry loop's progress.
type Context struct {
	Attempt        int
	MaxRetries     int
	StartTime      time.Time
	PreviousDelay  time.Duration
}

// Elapsed returns time since the loop began.
func (c *Context) Elapsed() time.Duration { return time.Since(c.StartTime) }

// CanRetry reports whether another attempt is still within budget.
func (c *Context) CanRetry() bool { return c.Attempt < c.MaxRetries }

// RemainingRetries returns how many attempts are left.
func (c *Context) RemainingRetries() int {
	if r := c.MaxRetries - c.Attempt; r > 0 {
		return r
	}
	return 0
}

// MaxRetriesExceeded is returned when the attempt budget runs out.
type MaxRetriesExceeded struct {
	Attempts  int
	LastError error
}

func (e *MaxRetriesExceeded) Error() string {
	return "retry: max retries exceeded after " + itoa(e.Attempts) + " attempts: " + e.LastError.Error()
}
func (e *MaxRetriesExceeded) Unwrap() error { return e.LastError }

// TotalTimeoutExceeded is returned when the wall-clock budget runs out.
type TotalTimeoutExceeded struct {
	Attempts  int
	Elapsed   time.Duration
	LastError error
}

func (e *TotalTimeoutExceeded) Error() string {
	return "retry: total timeout exceeded after " + itoa(e.Attempts) + " attempts (" + e.Elapsed.String() + "): " + e.LastError.Error()
}
func (e *TotalTimeoutExceeded) Unwrap() error { return e.LastError }

// ConditionNotMet is returned when the custom Condition rejects a retry.
type ConditionNotMet struct {
	Attempts int
	Elapsed  time.Duration
}

func (e *ConditionNotMet) Error() string {
	return "retry: condition not met after " + itoa(e.Attempts) + " attempts"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Do runs fn under policy, retrying on transient failure (or whenever the
// policy's Condition accepts the error) until success, the retry budget
// is exhausted, or ctx is cancelled.
func Do(ctx context.Context, p *Policy, fn func(ctx context.Context) error) error {
	rc := &Context{MaxRetries: p.maxRetries, StartTime: time.Now()}
	var lastErr error

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if p.maxTotalTime > 0 && rc.Elapsed() >= p.maxTotalTime {
			return &TotalTimeoutExceeded{Attempts: rc.Attempt + 1, Elapsed: rc.Elapsed(), LastError: lastErr}
		}

		if !shouldRetry(p, lastErr) {
			return &ConditionNotMet{Attempts: rc.Attempt + 1, Elapsed: rc.Elapsed()}
		}

		if !rc.CanRetry() {
			return &MaxRetriesExceeded{Attempts: rc.Attempt + 1, LastError: lastErr}
		}

		delay := p.backoff.Delay(rc.Attempt, p.initialDelay)
		if p.maxDelay > 0 && delay > p.maxDelay {
			delay = p.maxDelay
		}
		delay = p.jitter.Apply(delay, rc.PreviousDelay)
		if p.maxDelay > 0 && delay > p.maxDelay {
			delay = p.maxDelay
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		rc.PreviousDelay = delay
		rc.Attempt++
	}
}

func shouldRetry(p *Policy, err error) bool {
	if p.condition != nil {
		return p.condition(err)
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) {
		return p.retryOnTimeout
	}
	return IsTransientErrorMessage(err.Error())
}
