package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 2 * time.Minute
)

// Limiter paces requests to one upstream. On top of the token bucket it
// keeps a backoff that grows on every 429 and is slept before the next
// request until a request succeeds again.
type Limiter struct {
	limiter *rate.Limiter
	name    string

	mu        sync.Mutex
	backoff   time.Duration
	throttled bool
}

// NewLimiter creates a limiter allowing perMinute requests per minute
func NewLimiter(name string, perMinute int) *Limiter {
	if perMinute < 1 {
		perMinute = 1
	}
	rps := float64(perMinute) / 60.0
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	if burst > 5 {
		burst = 5
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		name:    name,
		backoff: initialBackoff,
	}
}

// Wait sleeps out any pending backoff, then blocks for a token
func (l *Limiter) Wait(ctx context.Context) error {
	if d := l.pending(); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return l.limiter.Wait(ctx)
}

// Allow reports whether a request may happen now without waiting
func (l *Limiter) Allow() bool {
	if l.pending() > 0 {
		return false
	}
	return l.limiter.Allow()
}

func (l *Limiter) pending() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.throttled {
		return 0
	}
	return l.backoff
}

// SignalRateLimited records a 429. The first signal arms the initial
// backoff, later ones double it up to two minutes.
func (l *Limiter) SignalRateLimited() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.throttled {
		l.backoff *= 2
		if l.backoff > maxBackoff {
			l.backoff = maxBackoff
		}
	}
	l.throttled = true
}

// ResetBackoff clears the backoff after a successful request
func (l *Limiter) ResetBackoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backoff = initialBackoff
	l.throttled = false
}

// Backoff returns the delay the next Wait will add, zero when not throttled
func (l *Limiter) Backoff() time.Duration {
	return l.pending()
}

// Name returns the limiter name
func (l *Limiter) Name() string {
	return l.name
}
