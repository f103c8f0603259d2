package server

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	RPS   int // requests per second
	Burst int // burst size
}

// staleAfter is how long an idle client bucket is kept.
const staleAfter = 10 * time.Minute

type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*tokenBucket
	rps     int
	burst   int
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(rps, burst int, now time.Time) *tokenBucket {
	if burst < 1 {
		burst = rps
	}
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: float64(rps),
		lastRefill: now,
	}
}

func (b *tokenBucket) allow(now time.Time) bool {
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// newRateLimiter starts a per-client token-bucket limiter. stop ends its
// cleanup goroutine.
func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	rl := &rateLimiter{
		clients: make(map[string]*tokenBucket),
		rps:     cfg.RPS,
		burst:   cfg.Burst,
		now:     time.Now,
		done:    make(chan struct{}),
	}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.sweep()
			case <-rl.done:
				return
			}
		}
	}()
	return rl
}

func (rl *rateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for k, v := range rl.clients {
		if now.Sub(v.lastRefill) > staleAfter {
			delete(rl.clients, k)
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.once.Do(func() { close(rl.done) })
}

func (rl *rateLimiter) allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	bucket, ok := rl.clients[client]
	if !ok {
		bucket = newTokenBucket(rl.rps, rl.burst, now)
		rl.clients[client] = bucket
	}
	return bucket.allow(now)
}

func (rl *rateLimiter) handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if isProbe(c.Path()) {
			return c.Next()
		}
		if !rl.allow(c.IP()) {
			c.Set(fiber.HeaderRetryAfter, "1")
			return problemResponse(c, fiber.StatusTooManyRequests,
				"rate_limit_exceeded", "Too Many Requests",
				"Rate limit exceeded. Please try again later.")
		}
		return c.Next()
	}
}
