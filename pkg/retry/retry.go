// Package retry provides bounded retry helpers for calls that cross a
// process boundary: opening target database connections and talking to
// the NER sidecar. Callers pick a Config, wrap the call in a closure, and
// get back either the call's result or the last error once the budget is
// spent.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Config shapes one retry sequence.
type Config struct {
	MaxRetries       int           // attempts after the first
	InitialDelay     time.Duration // delay before the first retry
	MaxDelay         time.Duration // ceiling the delay schedule grows toward
	Multiplier       float64       // growth factor between delays
	JitterFactor     float64       // 0.0-1.0 random spread applied to each delay
	MaxSameErrorType int           // consecutive same-kind failures before DoIfRetryable gives up
}

// DefaultConfig suits target database operations: three retries starting
// at 100ms and doubling toward a 5s ceiling, with 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       3,
		InitialDelay:     100 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		Multiplier:       2.0,
		JitterFactor:     0.1,
		MaxSameErrorType: 5,
	}
}

// FixedDelayConfig waits the same delay between every attempt. Used for
// calls to the NER sidecar, which either answers quickly or is down.
func FixedDelayConfig(maxRetries int, delay time.Duration) *Config {
	return &Config{
		MaxRetries:   maxRetries,
		InitialDelay: delay,
		MaxDelay:     delay,
		Multiplier:   1.0,
	}
}

// backoff walks a Config's delay schedule across one retry sequence.
type backoff struct {
	cfg   *Config
	delay time.Duration
}

func newBackoff(cfg *Config) backoff {
	return backoff{cfg: cfg, delay: cfg.InitialDelay}
}

// wait sleeps for the current delay, jittered, then advances the schedule.
// It returns ctx.Err() if the context expires first.
func (b *backoff) wait(ctx context.Context) error {
	select {
	case <-time.After(jittered(b.delay, b.cfg.JitterFactor)):
	case <-ctx.Done():
		return ctx.Err()
	}

	b.delay = time.Duration(float64(b.delay) * b.cfg.Multiplier)
	if b.delay > b.cfg.MaxDelay {
		b.delay = b.cfg.MaxDelay
	}
	return nil
}

// jittered spreads a delay by up to +/- factor so concurrent retry
// sequences do not fire in lockstep.
func jittered(delay time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return delay
	}
	spread := float64(delay) * factor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + spread)
}

// Do runs fn until it succeeds or the retry budget is spent, sleeping the
// backoff schedule between attempts. It returns nil on success, the last
// error once the budget is spent, or ctx.Err() if the context expires
// during a wait.
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	b := newBackoff(cfg)
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt == cfg.MaxRetries {
			break
		}
		if err := b.wait(ctx); err != nil {
			return err
		}
	}
	return lastErr
}

// DoWithResult is Do for closures that produce a value, such as opening a
// connection pool. On failure it returns the last attempt's result
// alongside the last error.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	b := newBackoff(cfg)
	var result T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if result, lastErr = fn(); lastErr == nil {
			return result, nil
		}
		if attempt == cfg.MaxRetries {
			break
		}
		if err := b.wait(ctx); err != nil {
			return result, err
		}
	}
	return result, lastErr
}

// DoIfRetryable runs fn like Do but returns immediately on permanent
// errors, and gives up early when the same kind of error repeats
// cfg.MaxSameErrorType times in a row: a service answering 503 on every
// attempt is down, not momentarily busy.
func DoIfRetryable(ctx context.Context, cfg *Config, fn func() error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	b := newBackoff(cfg)
	var streak errorStreak
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if n := streak.observe(lastErr); n > 1 && cfg.MaxSameErrorType > 0 && n >= cfg.MaxSameErrorType {
			return fmt.Errorf("repeated error (%d times, type=%s): %w", n, streak.kind, lastErr)
		}
		if attempt == cfg.MaxRetries {
			break
		}
		if err := b.wait(ctx); err != nil {
			return err
		}
	}
	return lastErr
}

// RetryableError lets an error declare its own retryability. The NER
// client's HTTP errors implement it so a missing endpoint fails fast
// while a busy service keeps retrying.
type RetryableError interface {
	error
	IsRetryable() bool
}

// transientPatterns are substrings of error messages that mark a failure
// worth retrying: connection churn, saturation, and upstream 5xx or 429
// responses.
var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"timeout",
	"timed out",
	"temporary failure",
	"too many connections",
	"deadlock",
	"i/o timeout",
	"network is unreachable",
	"connection timed out",
	"429",
	"500",
	"502",
	"503",
	"504",
	"rate limit",
	"service busy",
	"service unavailable",
	"too many requests",
}

// IsRetryable reports whether an error is transient. Errors implementing
// RetryableError answer for themselves; anything else is matched against
// transientPatterns. Permanent failures, bad credentials and malformed
// SQL among them, report false so callers fail fast.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if r, ok := err.(RetryableError); ok {
		return r.IsRetryable()
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// classifyError buckets an error for streak detection: the HTTP status
// code when one appears in the message, otherwise a coarse transport
// category.
func classifyError(err error) string {
	if err == nil {
		return "nil"
	}

	msg := strings.ToLower(err.Error())

	for _, code := range []string{"503", "502", "504", "500", "429", "404", "403", "401", "400"} {
		if strings.Contains(msg, code) {
			return code
		}
	}

	switch {
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"):
		return "connection"
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return "timeout"
	case strings.Contains(msg, "broken pipe"):
		return "broken_pipe"
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return "rate_limit"
	}
	return "unknown"
}

// errorStreak counts consecutive failures that classify to the same kind.
type errorStreak struct {
	kind  string
	count int
}

// observe records err and returns the streak length, resetting to one
// when the kind changes.
func (s *errorStreak) observe(err error) int {
	kind := classifyError(err)
	if kind != s.kind {
		s.kind = kind
		s.count = 1
		return 1
	}
	s.count++
	return s.count
}
