// Package health provides liveness and readiness probes for the service.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// Status represents the health status of a dependency.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// checkTimeout bounds a single dependency check.
const checkTimeout = 5 * time.Second

// CheckFunc is a function that checks a dependency's health.
type CheckFunc func(ctx context.Context) Status

// Pinger is implemented by the stores and cache tiers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker manages health checks for all dependencies.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
	cache  map[string]Status
	logger zerolog.Logger
}

// NewChecker creates a new health checker.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		checks: make(map[string]CheckFunc),
		cache:  make(map[string]Status),
		logger: logger.With().Str("component", "health").Logger(),
	}
}

// Register adds a named health check.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// PingCheck turns a Pinger into a CheckFunc. A failed ping reports onFail,
// so optional dependencies can degrade instead of failing readiness.
func (c *Checker) PingCheck(name string, p Pinger, onFail Status) CheckFunc {
	return func(ctx context.Context) Status {
		if err := p.Ping(ctx); err != nil {
			c.logger.Warn().Err(err).Str("check", name).Msg("dependency ping failed")
			return onFail
		}
		return StatusOK
	}
}

// RunAll executes all health checks concurrently and caches results.
func (c *Checker) RunAll(ctx context.Context) map[string]Status {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()

	results := make(map[string]Status, len(checks))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, fn := range checks {
		wg.Add(1)
		go func(n string, f CheckFunc) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			s := f(checkCtx)
			mu.Lock()
			results[n] = s
			mu.Unlock()
		}(name, fn)
	}

	wg.Wait()

	c.mu.Lock()
	c.cache = results
	c.mu.Unlock()

	return results
}

// Last returns the results of the most recent RunAll.
func (c *Checker) Last() map[string]Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Status, len(c.cache))
	for k, v := range c.cache {
		out[k] = v
	}
	return out
}

// IsReady returns true if no check is down.
func (c *Checker) IsReady(ctx context.Context) bool {
	return ready(c.RunAll(ctx))
}

func ready(results map[string]Status) bool {
	for _, s := range results {
		if s == StatusDown {
			return false
		}
	}
	return true
}

// Liveness answers /healthz.
func Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness answers /readyz with every check result.
func (c *Checker) Readiness(ctx *fiber.Ctx) error {
	results := c.RunAll(ctx.UserContext())
	if ready(results) {
		return ctx.JSON(fiber.Map{"status": "ready", "checks": results})
	}
	return ctx.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not_ready", "checks": results})
}
