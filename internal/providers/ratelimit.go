package providers

import (
	"context"
	"sync"
	"time"
)

// RateLimiter paces requests to one model at a requests-per-minute rate.
// It tracks the theoretical arrival time of the next request (GCRA): up to
// burst requests pass at once, after which they are spaced Interval apart.
// Conservative runs use a burst of 1.
type RateLimiter struct {
	interval time.Duration
	burst    int
	now      func() time.Time

	mu          sync.Mutex
	tat         time.Time // theoretical arrival time of the next request
	pausedUntil time.Time
	granted     int64
	waited      time.Duration
}

// LimiterStats is a snapshot of a limiter.
type LimiterStats struct {
	Interval    time.Duration `json:"interval"`
	Burst       int           `json:"burst"`
	Granted     int64         `json:"granted"`
	Waited      time.Duration `json:"waited"`
	PausedUntil time.Time     `json:"paused_until,omitempty"`
}

// NewRateLimiter creates a limiter for rpm requests per minute. rpm <= 0
// means 60; burst <= 0 allows a full minute of requests at once.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	if rpm <= 0 {
		rpm = 60
	}
	if burst <= 0 || burst > rpm {
		burst = rpm
	}
	return &RateLimiter{
		interval: time.Minute / time.Duration(rpm),
		burst:    burst,
		now:      time.Now,
	}
}

// Interval returns the steady-state spacing between requests.
func (r *RateLimiter) Interval() time.Duration {
	return r.interval
}

// reserve grants a slot at now or reports how long to wait for one.
// Must be called with the lock held.
func (r *RateLimiter) reserve(now time.Time) time.Duration {
	if now.Before(r.pausedUntil) {
		return r.pausedUntil.Sub(now)
	}
	tat := r.tat
	if tat.Before(now) {
		tat = now
	}
	allowAt := tat.Add(-time.Duration(r.burst-1) * r.interval)
	if now.Before(allowAt) {
		return allowAt.Sub(now)
	}
	r.tat = tat.Add(r.interval)
	r.granted++
	return 0
}

// Wait blocks until a request may be sent or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		wait := r.reserve(r.now())
		r.mu.Unlock()
		if wait == 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			r.mu.Lock()
			r.waited += wait
			r.mu.Unlock()
		}
	}
}

// TryConsume takes a slot if one is free now.
func (r *RateLimiter) TryConsume() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reserve(r.now()) == 0
}

// Pause holds every request for d, e.g. for a server's Retry-After.
// A shorter pause never cuts an earlier one short.
func (r *RateLimiter) Pause(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if until := r.now().Add(d); until.After(r.pausedUntil) {
		r.pausedUntil = until
	}
}

// Stats returns the limiter counters.
func (r *RateLimiter) Stats() LimiterStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := LimiterStats{
		Interval: r.interval,
		Burst:    r.burst,
		Granted:  r.granted,
		Waited:   r.waited,
	}
	if r.now().Before(r.pausedUntil) {
		stats.PausedUntil = r.pausedUntil
	}
	return stats
}
