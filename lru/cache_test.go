package lru

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clock returns a settable time source for c.
func clock[K comparable, V any](c *Cache[K, V]) func(d time.Duration) {
	start := time.Now()
	c.now = func() time.Time { return start }
	return func(d time.Duration) {
		c.now = func() time.Time { return start.Add(d) }
	}
}

func TestGetPut(t *testing.T) {
	c := New[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a")

	k, v, evicted := c.Put("c", 3)
	require.True(t, evicted)
	assert.Equal(t, "b", k)
	assert.Equal(t, 2, v)
	assert.Equal(t, []string{"c", "a"}, c.Keys())
}

func TestUpdateDoesNotEvict(t *testing.T) {
	c := New[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)

	_, _, evicted := c.Put("a", 10)
	assert.False(t, evicted)
	v, _ := c.Get("a")
	assert.Equal(t, 10, v)
	assert.Equal(t, 2, c.Len())
}

func TestDeletePeekClear(t *testing.T) {
	c := New[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)

	v, ok := c.Peek("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	c.Put("c", 3)
	_, ok = c.Get("a")
	assert.False(t, ok, "peek does not promote")

	assert.True(t, c.Delete("b"))
	assert.False(t, c.Delete("b"))
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Zero(t, c.Len())
	assert.Empty(t, c.Keys())
}

func TestPanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[string, int](0) })
}

func TestTTL(t *testing.T) {
	c := New[string, int](10, WithTTL[string, int](100*time.Millisecond))
	advance := clock(c)

	c.Put("a", 1)
	c.PutWithTTL("long", 2, time.Second)
	c.PutWithTTL("forever", 3, 0)

	advance(80 * time.Millisecond)
	c.Put("b", 4)

	advance(150 * time.Millisecond)
	_, ok := c.Get("a")
	assert.False(t, ok, "default ttl expired")
	_, ok = c.Peek("a")
	assert.False(t, ok)

	v, ok := c.Get("b")
	assert.True(t, ok, "put after 80ms expires at 180ms")
	assert.Equal(t, 4, v)
	assert.ElementsMatch(t, []string{"b", "long", "forever"}, c.Keys())
}

func TestTTLResetOnUpdate(t *testing.T) {
	c := New[string, int](10, WithTTL[string, int](100*time.Millisecond))
	advance := clock(c)

	c.Put("a", 1)
	advance(80 * time.Millisecond)
	c.Put("a", 2)
	advance(150 * time.Millisecond)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestOnEvict(t *testing.T) {
	var got []string
	c := New[string, int](2,
		WithTTL[string, int](100*time.Millisecond),
		WithOnEvict[string, int](func(k string, v int) {
			got = append(got, fmt.Sprintf("%s=%d", k, v))
		}),
	)
	advance := clock(c)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)
	assert.Equal(t, []string{"a=1"}, got)

	c.Delete("b")
	assert.Len(t, got, 1, "delete is not an eviction")

	advance(time.Second)
	c.Get("c")
	assert.Equal(t, []string{"a=1", "c=3"}, got)
}

func TestMetrics(t *testing.T) {
	c := New[string, int](2, WithTTL[string, int](time.Minute))
	advance := clock(c)

	assert.Zero(t, c.Metrics().HitRate())

	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a")
	c.Get("a")
	c.Get("b")
	c.Get("missing")
	c.Put("c", 3)

	m := c.Metrics()
	assert.Equal(t, uint64(3), m.Hits)
	assert.Equal(t, uint64(1), m.Misses)
	assert.Equal(t, uint64(1), m.Evictions)
	assert.InDelta(t, 0.75, m.HitRate(), 1e-9)

	advance(2 * time.Minute)
	c.Get("c")
	m = c.Metrics()
	assert.Equal(t, uint64(1), m.Expirations)
	assert.Equal(t, uint64(2), m.Misses)
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int, int](100, WithTTL[int, int](50*time.Millisecond))
	var wg sync.WaitGroup
	for g := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 1000 {
				c.Put(g*1000+i, i)
				c.Get(g*1000 + i)
				c.Peek(i)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 100)
}

func BenchmarkPut(b *testing.B) {
	c := New[int, int](1000)
	for i := 0; b.Loop(); i++ {
		c.Put(i, i)
	}
}

func BenchmarkGetHit(b *testing.B) {
	c := New[int, int](1000)
	for i := range 1000 {
		c.Put(i, i)
	}
	for i := 0; b.Loop(); i++ {
		c.Get(i % 1000)
	}
}

func BenchmarkParallel(b *testing.B) {
	c := New[int, int](1000, WithTTL[int, int](time.Minute))
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if i%2 == 0 {
				c.Put(i, i)
			} else {
				c.Get(i)
			}
			i++
		}
	})
}

func ExampleCache() {
	cache := New[string, int](2)
	cache.Put("a", 1)
	cache.Put("b", 2)

	v, _ := cache.Get("a")
	fmt.Println(v)

	cache.Put("c", 3)
	_, ok := cache.Get("b")
	fmt.Println(ok)

	// Output:
	// 1
	// false
}
