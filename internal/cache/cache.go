// Package cache memoizes planning and template generation results.
//
// Keys are fingerprints of (prompt, platform, schema). Values are stored as
// encoded byte snapshots in an in-process LRU, optionally backed by a remote
// store with its own TTL. A cached value is never mutated in place; a new
// Set replaces the snapshot and the last writer wins.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/appforge/internal/schema"
	"github.com/p-blackswan/appforge/lru"
)

// cacheVersion is bumped whenever the encoding of cached values or the
// generators change in a way that invalidates old entries.
const cacheVersion = "appforge-cache-v1"

// Tiers reported to the Observer.
const (
	TierLocal  = "local"
	TierRemote = "remote"
)

// Kind tags an Entry.
type Kind string

const (
	KindSchema Kind = "schema"
	KindFiles  Kind = "files"
)

// Entry is the cached value shape used by the pipeline.
type Entry struct {
	Kind         Kind                   `json:"kind"`
	Schema       *schema.AppSchema      `json:"schema,omitempty"`
	Reasoning    string                 `json:"reasoning,omitempty"`
	Suggestions  []string               `json:"suggestions,omitempty"`
	Files        []schema.GeneratedFile `json:"files,omitempty"`
	Dependencies map[string]string      `json:"dependencies,omitempty"`
	Scripts      map[string]string      `json:"scripts,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// RemoteStore is a shared cache tier. Get reports found=false for missing
// or expired keys.
type RemoteStore interface {
	GetCache(ctx context.Context, key string) (value []byte, found bool, err error)
	SetCache(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Observer receives lookup outcomes ("hit" or "miss") per tier.
type Observer interface {
	CacheLookup(tier, outcome string)
}

// Cache is a two-tier byte cache.
type Cache struct {
	local    *lru.Cache[string, []byte]
	remote   RemoteStore
	ttl      time.Duration
	observer Observer
	logger   zerolog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithRemote adds a shared tier behind the LRU.
func WithRemote(r RemoteStore) Option {
	return func(c *Cache) { c.remote = r }
}

// WithObserver reports hits and misses.
func WithObserver(o Observer) Option {
	return func(c *Cache) { c.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a cache holding capacity entries locally, each living for
// ttl (zero means no expiry).
func New(capacity int, ttl time.Duration, opts ...Option) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	c := &Cache{ttl: ttl, logger: zerolog.Nop()}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With().Str("component", "cache").Logger()
	c.local = lru.New[string, []byte](capacity,
		lru.WithTTL[string, []byte](ttl),
		lru.WithOnEvict[string, []byte](func(key string, _ []byte) {
			c.logger.Debug().Str("key", short(key)).Msg("cache entry evicted")
		}),
	)
	return c
}

func (c *Cache) observe(tier, outcome string) {
	if c.observer != nil {
		c.observer.CacheLookup(tier, outcome)
	}
}

// Get returns a private copy of the bytes stored under key and the tier
// that served it.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, string, bool) {
	if v, ok := c.local.Get(key); ok {
		c.observe(TierLocal, "hit")
		return slices.Clone(v), TierLocal, true
	}
	c.observe(TierLocal, "miss")
	if c.remote == nil {
		return nil, "", false
	}

	v, found, err := c.remote.GetCache(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", short(key)).Msg("remote cache read failed")
		c.observe(TierRemote, "miss")
		return nil, "", false
	}
	if !found {
		c.observe(TierRemote, "miss")
		return nil, "", false
	}
	c.observe(TierRemote, "hit")
	c.local.Put(key, slices.Clone(v))
	return v, TierRemote, true
}

// Set stores a copy of value under key in every tier. Remote failures are
// logged and ignored.
func (c *Cache) Set(ctx context.Context, key string, value []byte) {
	c.local.Put(key, slices.Clone(value))
	if c.remote == nil {
		return
	}
	if err := c.remote.SetCache(ctx, key, value, c.ttl); err != nil {
		c.logger.Warn().Err(err).Str("key", short(key)).Msg("remote cache write failed")
	}
}

// Len is the number of locally cached entries.
func (c *Cache) Len() int { return c.local.Len() }

// Metrics returns the local tier counters.
func (c *Cache) Metrics() lru.Metrics { return c.local.Metrics() }

// WithSchemaCache returns the value cached under key, or runs compute and
// caches its result. cached reports whether compute was skipped. A nil
// cache always computes. Values that fail to encode or decode are treated
// as misses.
func WithSchemaCache[T any](ctx context.Context, c *Cache, key string, compute func(ctx context.Context) (T, error)) (value T, cached bool, err error) {
	if c == nil {
		value, err = compute(ctx)
		return value, false, err
	}
	if data, tier, ok := c.Get(ctx, key); ok {
		var v T
		uerr := json.Unmarshal(data, &v)
		if uerr == nil {
			c.logger.Debug().Str("key", short(key)).Str("tier", tier).Msg("cache hit")
			return v, true, nil
		}
		c.logger.Warn().Err(uerr).Str("key", short(key)).Msg("discarding undecodable cache entry")
	}

	value, err = compute(ctx)
	if err != nil {
		return value, false, err
	}
	data, merr := json.Marshal(value)
	if merr != nil {
		c.logger.Warn().Err(merr).Msg("cache value not encodable")
		return value, false, nil
	}
	c.Set(ctx, key, data)
	return value, false, nil
}

// Fingerprint derives the cache key for a request. The prompt is lowercased
// with whitespace collapsed; the schema is canonicalized so that component,
// page and table order do not matter.
func Fingerprint(prompt string, platform schema.Platform, s *schema.AppSchema) string {
	h := sha256.New()
	write := func(parts ...string) {
		for _, p := range parts {
			h.Write([]byte(p))
			h.Write([]byte{0})
		}
	}
	version := ""
	if s != nil && s.Meta != nil {
		version = s.Meta.Version
	}
	write(cacheVersion, string(platform), NormalizePrompt(prompt), version)
	h.Write(canonical(s))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizePrompt trims and collapses runs of whitespace. Case is kept:
// "ACME" and "acme" may name different things.
func NormalizePrompt(p string) string {
	return strings.Join(strings.Fields(p), " ")
}

func canonical(s *schema.AppSchema) []byte {
	if s == nil {
		return []byte("null")
	}
	c := s.Clone()
	// Page order drives navigation and route order in the output, so pages
	// keep their order. Components and tables are looked up by name.
	slices.SortStableFunc(c.Components, func(a, b schema.Component) int { return strings.Compare(a.ID, b.ID) })
	if c.Features != nil && c.Features.Database != nil {
		slices.SortStableFunc(c.Features.Database.Tables, func(a, b schema.Table) int { return strings.Compare(a.Name, b.Name) })
	}
	data, err := json.Marshal(c)
	if err != nil {
		return []byte("null")
	}
	return data
}

func short(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
