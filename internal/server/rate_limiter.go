package server

import (
	"strings"
	"sync"
	"time"
)

type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   float64
}

type tokenBucket struct {
	tokens float64
	last   time.Time
}

// rateLimiter keeps one token bucket per user. Idle buckets are dropped
// after ttl.
type rateLimiter struct {
	mu       sync.Mutex
	cfg      RateLimitConfig
	bkt      map[string]*tokenBucket
	ttl      time.Duration
	stop     chan struct{}
	stopOnce sync.Once
	start    sync.Once
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		bkt:  map[string]*tokenBucket{},
		ttl:  10 * time.Minute,
		stop: make(chan struct{}),
	}
}

func (r *rateLimiter) cleanupLoop() {
	t := time.NewTicker(1 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-t.C:
			cutoff := time.Now().Add(-r.ttl)
			r.mu.Lock()
			for k, v := range r.bkt {
				if v.last.Before(cutoff) {
					delete(r.bkt, k)
				}
			}
			r.mu.Unlock()
		}
	}
}

func (r *rateLimiter) close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *rateLimiter) allow(user string, now time.Time) bool {
	if !r.cfg.Enabled {
		return true
	}
	r.start.Do(func() { go r.cleanupLoop() })

	user = strings.TrimSpace(user)
	if user == "" {
		user = "anonymous"
	}
	burst := r.cfg.Burst
	if burst < 1 {
		burst = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bkt[user]
	if b == nil {
		b = &tokenBucket{tokens: burst, last: now}
		r.bkt[user] = b
	}
	return takeToken(b, r.cfg.RPS, burst, now)
}

func takeToken(b *tokenBucket, rps, burst float64, now time.Time) bool {
	if b.last.IsZero() {
		b.last = now
	}
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * rps
		if b.tokens > burst {
			b.tokens = burst
		}
	}
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens -= 1
	return true
}
