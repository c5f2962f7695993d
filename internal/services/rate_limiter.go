package services

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const rateLimiterSweepEvery = time.Minute

type loginBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// LoginRateLimiter is a token bucket per login source (typically the client IP).
// Capacity and refill are read from settings on every check, so changes apply to
// existing buckets without a restart. Refill is computed lazily from the clock.
type LoginRateLimiter struct {
	settings *SettingsStore
	Now      func() time.Time

	mu        sync.Mutex
	buckets   map[string]*loginBucket
	lastSweep time.Time
}

func NewLoginRateLimiter(settings *SettingsStore) *LoginRateLimiter {
	return &LoginRateLimiter{
		settings: settings,
		Now:      time.Now,
		buckets:  make(map[string]*loginBucket),
	}
}

type bucketParams struct {
	capacity int
	limit    rate.Limit
}

func (l *LoginRateLimiter) params(ctx context.Context) bucketParams {
	capacity := l.settings.GetInt(ctx, KeyRateLimitCapacity)
	tokens := l.settings.GetInt(ctx, KeyRateLimitRefillTokens)
	interval := time.Duration(l.settings.GetInt(ctx, KeyRateLimitRefillIntervalS)) * time.Second
	if capacity < 1 {
		capacity = 1
	}
	limit := rate.Limit(0)
	if tokens > 0 && interval > 0 {
		limit = rate.Every(interval / time.Duration(tokens))
	}
	return bucketParams{capacity: capacity, limit: limit}
}

// Allow consumes one token for key and reports whether the attempt may proceed.
func (l *LoginRateLimiter) Allow(ctx context.Context, key string) bool {
	if !l.settings.GetBool(ctx, KeyRateLimitEnabled) {
		return true
	}
	if key == "" {
		key = "unknown"
	}
	p := l.params(ctx)
	now := l.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now, p)

	b, ok := l.buckets[key]
	if !ok {
		b = &loginBucket{lim: rate.NewLimiter(p.limit, p.capacity)}
		l.buckets[key] = b
	} else {
		if b.lim.Limit() != p.limit {
			b.lim.SetLimitAt(now, p.limit)
		}
		// with a zero limit the limiter spends burst itself, so leave it alone
		if p.limit > 0 && b.lim.Burst() != p.capacity {
			b.lim.SetBurstAt(now, p.capacity)
		}
	}
	b.lastSeen = now
	return b.lim.AllowN(now, 1)
}

// sweep drops buckets idle long enough to have refilled completely, which makes them
// indistinguishable from new ones.
func (l *LoginRateLimiter) sweep(now time.Time, p bucketParams) {
	if now.Sub(l.lastSweep) < rateLimiterSweepEvery {
		return
	}
	l.lastSweep = now
	if p.limit <= 0 {
		return
	}
	idle := time.Duration(float64(p.capacity) / float64(p.limit) * float64(time.Second))
	if idle < rateLimiterSweepEvery {
		idle = rateLimiterSweepEvery
	}
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > idle {
			delete(l.buckets, k)
		}
	}
}

// Len returns the number of tracked sources.
func (l *LoginRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
