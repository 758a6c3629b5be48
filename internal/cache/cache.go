// Package cache provides a thread-safe LRU cache for compiled FHIRPath
// expressions, so repeated Evaluate calls with the same source text avoid
// re-lexing and re-parsing. Grounded on the corpus's pkg/cache, but the
// key is no longer the bare source string: Parse accepts options
// (WithRecovery, WithMaxDepth) that change what an identical source text
// compiles to, so two Parse calls against the same text under different
// options must not collide on one cache slot. Key folds the parser
// options that affect the compiled Expression into the lookup key, and
// Stats tracks hit/miss/eviction counts so a long-lived cache (e.g. an
// *Cache shared across a FHIR server's request handlers) can be
// monitored the way the rest of this module exposes slog debug tracing.
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/atomic-ehr/fhirpath-sub002/internal/ast"
	"github.com/atomic-ehr/fhirpath-sub002/internal/parser"
)

// Key identifies a cache slot: the source text plus the parser options
// that shape its compiled form. Two Parse calls with the same source but
// different recovery/depth settings get distinct entries.
type Key struct {
	Source         string
	EnableRecovery bool
	MaxDepth       int
}

// KeyFor derives a Key from source and the same CompileOptions Parse
// would build from opts, so callers never need to replicate the
// default-filling logic in internal/parser themselves.
func KeyFor(source string, opts ...parser.CompileOption) Key {
	o := parser.CompileOptions{EnableRecovery: false, MaxDepth: 100}
	for _, opt := range opts {
		opt(&o)
	}
	return Key{Source: source, EnableRecovery: o.EnableRecovery, MaxDepth: o.MaxDepth}
}

// String renders k as a single string, used only for diagnostics (log
// lines, test failure messages) — the cache itself keys off the struct.
func (k Key) String() string {
	return fmt.Sprintf("%s|recovery=%t|depth=%d", k.Source, k.EnableRecovery, k.MaxDepth)
}

type entry struct {
	key  Key
	expr *ast.Expression
}

// Stats is a point-in-time snapshot of cache activity since creation.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache is a thread-safe LRU cache for compiled expressions. Safe for
// concurrent use by multiple goroutines.
type Cache struct {
	mu       sync.RWMutex
	capacity int
	ll       *list.List
	items    map[Key]*list.Element

	hits, misses, evictions atomic.Uint64
}

// New creates an LRU cache with the given capacity. capacity <= 0 uses a
// default of 256.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 256
	}
	return &Cache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[Key]*list.Element, capacity),
	}
}

// Get retrieves a compiled expression, promoting it to most-recently-used.
func (c *Cache) Get(key Key) (*ast.Expression, bool) {
	c.mu.RLock()
	el, ok := c.items[key]
	alreadyFront := ok && c.ll.Front() == el
	c.mu.RUnlock()
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	if !alreadyFront {
		c.mu.Lock()
		el, ok = c.items[key]
		if ok {
			c.ll.MoveToFront(el)
		}
		c.mu.Unlock()
		if !ok {
			c.misses.Add(1)
			return nil, false
		}
	}
	c.hits.Add(1)
	return el.Value.(*entry).expr, true
}

// Set inserts or replaces an expression, evicting the LRU entry if at
// capacity.
func (c *Cache) Set(key Key, expr *ast.Expression) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*entry).expr = expr
		c.ll.MoveToFront(el)
		return
	}

	if c.ll.Len() >= c.capacity {
		c.evictLocked()
	}

	el := c.ll.PushFront(&entry{key: key, expr: expr})
	c.items[key] = el
}

// GetOrCompile returns the cached expression for key, or calls compile to
// produce and cache one. compile runs on every miss: concurrent misses on
// the same key may each call it, and an evicted key is compiled again.
// Errors are not cached, so a malformed expression is re-parsed (and
// re-fails) on every call rather than poisoning the slot.
func (c *Cache) GetOrCompile(key Key, compile func() (*ast.Expression, error)) (*ast.Expression, error) {
	if expr, ok := c.Get(key); ok {
		return expr, nil
	}
	expr, err := compile()
	if err != nil {
		return nil, err
	}
	c.Set(key, expr)
	return expr, nil
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Capacity returns the maximum number of entries the cache can hold.
func (c *Cache) Capacity() int { return c.capacity }

// Stats returns a snapshot of hit/miss/eviction counters accumulated
// since the cache was created.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// Invalidate removes a single entry from the cache.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.Remove(el)
		delete(c.items, key)
	}
}

// Clear removes all cached entries. Stats counters are left intact — they
// describe lifetime activity, not current occupancy.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[Key]*list.Element, c.capacity)
}

func (c *Cache) evictLocked() {
	el := c.ll.Back()
	if el == nil {
		return
	}
	c.ll.Remove(el)
	delete(c.items, el.Value.(*entry).key)
	c.evictions.Add(1)
}
