package agent

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket for throttling chat turns.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
}

func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 10
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 30 // 30 requests per minute default
	}
	return &RateLimiter{
		tokens:   float64(maxBurst),
		max:      float64(maxBurst),
		rate:     ratePerMinute / 60.0, // Convert to per-second
		lastTime: time.Now(),
	}
}

// refill must be called with mu held.
func (rl *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(rl.lastTime).Seconds()
	rl.tokens += elapsed * rl.rate
	if rl.tokens > rl.max {
		rl.tokens = rl.max
	}
	rl.lastTime = now
}

// Allow takes a token if one is available and reports whether it did.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill(time.Now())
	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}
	return false
}

func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill(time.Now())

		if rl.tokens >= 1.0 {
			rl.tokens -= 1.0
			rl.mu.Unlock()
			return nil
		}

		waitSec := (1.0 - rl.tokens) / rl.rate
		rl.mu.Unlock()

		timer := time.NewTimer(time.Duration(waitSec * float64(time.Second)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (rl *RateLimiter) idleSince(now time.Time) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return now.Sub(rl.lastTime)
}

const limiterIdleTTL = 10 * time.Minute

// KeyedLimiter keeps one token bucket per caller key (client address,
// chat id).
type KeyedLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*RateLimiter
	burst     int
	perMinute float64
	lastSweep time.Time
}

func NewKeyedLimiter(burst int, ratePerMinute float64) *KeyedLimiter {
	return &KeyedLimiter{
		buckets:   make(map[string]*RateLimiter),
		burst:     burst,
		perMinute: ratePerMinute,
		lastSweep: time.Now(),
	}
}

// Allow reports whether key may start another turn now.
func (k *KeyedLimiter) Allow(key string) bool {
	k.mu.Lock()
	now := time.Now()
	if now.Sub(k.lastSweep) > limiterIdleTTL {
		for id, b := range k.buckets {
			if b.idleSince(now) > limiterIdleTTL {
				delete(k.buckets, id)
			}
		}
		k.lastSweep = now
	}
	b, ok := k.buckets[key]
	if !ok {
		b = NewRateLimiter(k.burst, k.perMinute)
		k.buckets[key] = b
	}
	k.mu.Unlock()
	return b.Allow()
}

// Len returns the number of tracked keys.
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}
