// Package ratelimit provides the single host limiter every network-issuing
// component shares. It enforces a minimum inter-request interval plus a
// randomized jitter on top, so the request cadence never settles into a
// fixed beat.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/mazen160/go-random"
	"golang.org/x/time/rate"
)

type Limiter struct {
	limiter *rate.Limiter
	jitter  time.Duration
}

// New builds a limiter with at least `min` between requests and a uniformly
// random extra delay of up to `max-min`.
func New(min, max time.Duration) (*Limiter, error) {
	if min <= 0 {
		return nil, fmt.Errorf("minimum interval must be positive, got %s", min)
	}
	if max < min {
		return nil, fmt.Errorf("delay range inverted: %s > %s", min, max)
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Every(min), 1),
		jitter:  max - min,
	}, nil
}

// Wait blocks until the next request may be issued or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	err := l.limiter.Wait(ctx)
	if err != nil {
		return err
	}
	if l.jitter <= 0 {
		return nil
	}

	extra, err := random.IntRange(0, int(l.jitter.Milliseconds())+1)
	if err != nil {
		return err
	}
	select {
	case <-time.After(time.Duration(extra) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
