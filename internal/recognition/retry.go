package recognition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/docconvert/internal/limiter"
	"github.com/local/docconvert/internal/metrics"
)

// RetryOptions bounds the attempts made by a Retrier.
type RetryOptions struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Retrier wraps a Recognizer with per-attempt timeouts, a shared rate-limit
// cooldown and exponential backoff for transient failures.
type Retrier struct {
	next     Recognizer
	cooldown *limiter.Cooldown
	opts     RetryOptions
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewRetrier(next Recognizer, cooldown *limiter.Cooldown, opts RetryOptions) *Retrier {
	if cooldown == nil {
		cooldown = limiter.New(nil)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 300 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 5 * time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 60 * time.Second
	}
	return &Retrier{next: next, cooldown: cooldown, opts: opts, sleep: sleepCtx}
}

func (r *Retrier) Recognize(ctx context.Context, req Request) (Response, error) {
	transient, limited := 0, 0
	for {
		if err := r.cooldown.Wait(ctx); err != nil {
			return Response{}, err
		}

		actx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
		start := time.Now()
		resp, err := r.next.Recognize(actx, req)
		cancel()
		if err == nil {
			metrics.ObserveRecognition("success", time.Since(start))
			r.cooldown.Close()
			return resp, nil
		}
		if ctx.Err() != nil {
			metrics.ObserveRecognition("canceled", time.Since(start))
			return Response{}, ctx.Err()
		}

		var rl *RateLimitError
		switch {
		case errors.As(err, &rl):
			metrics.ObserveRecognition("rate_limited", time.Since(start))
			limited++
			if limited > r.cooldown.Steps() {
				return Response{}, fmt.Errorf("rate limited %d times: %w", limited, err)
			}
			wait := r.cooldown.Open(rl.RetryAfter)
			metrics.IncRetry("rate_limit")
			log.Warn().Str("file", req.Name).Int("attempt", limited).Dur("cooldown", wait).Msg("recognition rate limited, cooling down")

		case isFatal(err):
			metrics.ObserveRecognition("rejected", time.Since(start))
			return Response{}, err

		case isTransient(err):
			metrics.ObserveRecognition("error", time.Since(start))
			transient++
			if transient > r.opts.MaxRetries {
				return Response{}, fmt.Errorf("giving up after %d retries: %w", r.opts.MaxRetries, err)
			}
			delay := r.backoff(transient)
			metrics.IncRetry("transient")
			log.Warn().Err(err).Str("file", req.Name).Int("attempt", transient).Dur("delay", delay).Msg("recognition failed, retrying")
			if err := r.sleep(ctx, delay); err != nil {
				return Response{}, err
			}

		default:
			metrics.ObserveRecognition("error", time.Since(start))
			return Response{}, err
		}
	}
}

// backoff is base x 2^(n-1), capped at MaxDelay.
func (r *Retrier) backoff(n int) time.Duration {
	d := r.opts.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= r.opts.MaxDelay {
			return r.opts.MaxDelay
		}
	}
	if d > r.opts.MaxDelay {
		d = r.opts.MaxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
