// Package limitx provides a keyed token-bucket limiter for throttling
// per-account operations such as verification-code resends. It is transport
// agnostic: callers supply the key (typically a user ID).
package limitx

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines the limiting parameters for one operation kind.
type Config struct {
	// EventsPerWindow is the number of events allowed in the time window
	EventsPerWindow int
	// Window is the time window for limiting
	Window time.Duration
	// Burst allows for temporary bursts above the sustained rate
	Burst int
}

// KeyedLimiter manages one token bucket per key.
type KeyedLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int

	mu sync.Mutex
	// Cleanup old limiters periodically
	lastCleanup time.Time
}

// New builds a KeyedLimiter from a Config. Zero/negative fields fall back to
// one event per minute with a burst of one.
func New(cfg Config) *KeyedLimiter {
	if cfg.EventsPerWindow <= 0 {
		cfg.EventsPerWindow = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &KeyedLimiter{
		rate:        rate.Limit(float64(cfg.EventsPerWindow) / cfg.Window.Seconds()),
		burst:       cfg.Burst,
		lastCleanup: time.Now(),
	}
}

// Allow reports whether the event for key may proceed now, consuming a token
// if it may.
func (kl *KeyedLimiter) Allow(key string) bool {
	return kl.getLimiter(key).Allow()
}

// RetryAfter estimates how long the caller for key should wait before the
// next event would be allowed. Returns at least one second when throttled.
func (kl *KeyedLimiter) RetryAfter(key string) time.Duration {
	limiter := kl.getLimiter(key)
	reservation := limiter.Reserve()
	delay := reservation.Delay()
	reservation.Cancel() // Don't actually consume the reservation

	if delay < time.Second {
		return time.Second
	}
	return delay
}

// getLimiter retrieves or creates the limiter for the given key.
func (kl *KeyedLimiter) getLimiter(key string) *rate.Limiter {
	// Fast path: limiter already exists
	if limiter, ok := kl.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}

	// Slow path: create new limiter
	limiter := rate.NewLimiter(kl.rate, kl.burst)
	actual, _ := kl.limiters.LoadOrStore(key, limiter)

	// Periodic cleanup to prevent memory leak
	kl.maybeCleanup()

	return actual.(*rate.Limiter)
}

// maybeCleanup removes limiters that have refilled completely, which means
// their key has been idle for at least a full window.
func (kl *KeyedLimiter) maybeCleanup() {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	// Only cleanup once every 5 minutes
	if time.Since(kl.lastCleanup) < 5*time.Minute {
		return
	}
	kl.lastCleanup = time.Now()

	kl.limiters.Range(func(key, value any) bool {
		limiter := value.(*rate.Limiter)
		if limiter.Tokens() >= float64(kl.burst) {
			kl.limiters.Delete(key)
		}
		return true
	})
}
