// Package dispatch serializes platform work per pull request key. Each key
// owns a FIFO lane; unrelated keys run concurrently with no global lock.
package dispatch

import (
	"context"
	"time"

	"github.com/goliatone/go-prbridge/core"
	glog "github.com/goliatone/go-logger/glog"
)

// Executor retries a lane task until it succeeds, exhausts its attempt
// budget, or the context ends. Rate limit errors suspend the lane for the
// platform's retry-after hint without consuming an attempt, so a throttled
// key never reorders its own queue.
type Executor struct {
	Logger         core.Logger
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Sleep          func(ctx context.Context, d time.Duration) error
}

func NewExecutor(logger core.Logger) *Executor {
	return &Executor{
		Logger:         glog.Ensure(logger),
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Sleep:          sleepContext,
	}
}

func (e *Executor) Run(ctx context.Context, key string, task func(context.Context) error) error {
	attempts := 0
	backoff := e.initialBackoff()
	for {
		err := task(ctx)
		if err == nil {
			return nil
		}
		if retryAfter, limited := core.IsRateLimited(err); limited {
			if retryAfter <= 0 {
				retryAfter = backoff
			}
			e.logWarn("lane suspended by rate limit", key, err, retryAfter)
			if sleepErr := e.sleep(ctx, retryAfter); sleepErr != nil {
				return sleepErr
			}
			continue
		}

		if core.IsPlatformNotFound(err) {
			// The target is gone; retrying cannot bring it back.
			e.logError("lane task target vanished", key, err, 0)
			return err
		}

		attempts++
		if attempts >= e.maxAttempts() {
			e.logError("lane task exhausted retries", key, err, 0)
			return err
		}
		e.logWarn("lane task failed, retrying", key, err, backoff)
		if sleepErr := e.sleep(ctx, backoff); sleepErr != nil {
			return sleepErr
		}
		backoff *= 2
		if max := e.maxBackoff(); backoff > max {
			backoff = max
		}
	}
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if e != nil && e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Executor) maxAttempts() int {
	if e != nil && e.MaxAttempts > 0 {
		return e.MaxAttempts
	}
	return 5
}

func (e *Executor) initialBackoff() time.Duration {
	if e != nil && e.InitialBackoff > 0 {
		return e.InitialBackoff
	}
	return 500 * time.Millisecond
}

func (e *Executor) maxBackoff() time.Duration {
	if e != nil && e.MaxBackoff > 0 {
		return e.MaxBackoff
	}
	return 30 * time.Second
}

func (e *Executor) logWarn(message, key string, err error, delay time.Duration) {
	if e == nil || e.Logger == nil {
		return
	}
	args := []any{"key", key, "error", err.Error()}
	if delay > 0 {
		args = append(args, "delay_ms", delay.Milliseconds())
	}
	e.Logger.Warn(message, args...)
}

func (e *Executor) logError(message, key string, err error, _ time.Duration) {
	if e == nil || e.Logger == nil {
		return
	}
	e.Logger.Error(message, "key", key, "error", err.Error())
}
