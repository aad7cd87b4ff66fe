// Package toolcache is a bounded, TTL-based cache for tool results, keyed by
// (tool type, operation, normalized parameters).
package toolcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultCapacity = 256
	defaultTTL      = 5 * time.Minute
)

// volatileFields are request metadata excluded from key generation so that
// semantically identical calls collide regardless of who asked.
var volatileFields = map[string]bool{
	"operation":  true,
	"request_id": true,
	"trace_id":   true,
}

// OverrideKey addresses one per-(tool type, operation) TTL override.
type OverrideKey struct {
	ToolType  string
	Operation string
}

// Config configures the cache.
type Config struct {
	// Capacity is the maximum number of entries; at capacity the entry with
	// the oldest last access is evicted.
	Capacity int
	// DefaultTTL applies when neither the Set call nor an override names one.
	DefaultTTL time.Duration
	// TTLOverrides maps (tool type, operation) pairs to their own TTL.
	TTLOverrides map[OverrideKey]time.Duration
	// OnEvict is called once per capacity eviction, outside the cache lock.
	// Used to feed the eviction metric.
	OnEvict func()
}

// SetOptions carries the optional arguments of Set.
type SetOptions struct {
	// TTL overrides every other TTL source when positive.
	TTL time.Duration
	// ToolType/Operation select a configured TTL override.
	ToolType  string
	Operation string
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
}

type entry struct {
	value        map[string]any
	createdAt    time.Time
	expiresAt    time.Time
	lastAccessed time.Time
	hits         uint64
}

// Cache is safe for concurrent use. A single mutex covers the LRU store and
// the counters so that "check TTL, maybe delete, maybe insert, maybe evict"
// is atomic per call.
type Cache struct {
	mu           sync.Mutex
	store        *lru.Cache[string, *entry]
	defaultTTL   time.Duration
	ttlOverrides map[OverrideKey]time.Duration
	onEvict      func()

	hits      uint64
	misses    uint64
	evictions uint64

	// now is swappable so tests can simulate the clock.
	now func() time.Time
}

func New(config Config) *Cache {
	if config.Capacity <= 0 {
		config.Capacity = defaultCapacity
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = defaultTTL
	}
	// lru.New only errors on non-positive size which we guard above.
	store, _ := lru.New[string, *entry](config.Capacity)
	return &Cache{
		store:        store,
		defaultTTL:   config.DefaultTTL,
		ttlOverrides: config.TTLOverrides,
		onEvict:      config.OnEvict,
		now:          time.Now,
	}
}

// Get returns the cached value for key. Absent covers both a true miss and a
// lazily detected TTL expiry; an expired entry is removed on the way out.
func (c *Cache) Get(key string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.store.Get(key)
	if !ok {
		c.misses++
		return nil, false
	}
	now := c.now()
	if !now.Before(e.expiresAt) {
		c.store.Remove(key)
		c.misses++
		return nil, false
	}
	e.lastAccessed = now
	e.hits++
	c.hits++
	return e.value, true
}

// Contains reports whether key holds a live entry without touching recency or
// counters. Used as the selector's cache-hit signal.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.store.Peek(key)
	return ok && c.now().Before(e.expiresAt)
}

// Set stores value under key, evicting the least-recently-accessed entry
// when at capacity. TTL resolution: explicit > per-(tool type, operation)
// override > process default.
func (c *Cache) Set(key string, value map[string]any, opts SetOptions) {
	ttl := opts.TTL
	if ttl <= 0 {
		if override, ok := c.ttlOverrides[OverrideKey{ToolType: opts.ToolType, Operation: opts.Operation}]; ok {
			ttl = override
		}
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	now := c.now()
	evicted := c.store.Add(key, &entry{
		value:        value,
		createdAt:    now,
		expiresAt:    now.Add(ttl),
		lastAccessed: now,
	})
	if evicted {
		c.evictions++
	}
	c.mu.Unlock()

	if evicted && c.onEvict != nil {
		c.onEvict()
	}
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.store.Len(),
	}
}

// Purge drops every entry. Counters survive; they are cumulative.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Purge()
}

// SetClock swaps the cache's time source. Test hook.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Key produces a stable hash for (toolType, operation, params). Volatile
// request metadata inside params is excluded so identical calls collide.
func Key(toolType, operation string, params map[string]any) string {
	h := sha256.New()
	h.Write([]byte(toolType))
	h.Write([]byte{0})
	h.Write([]byte(operation))
	h.Write([]byte{0})
	h.Write([]byte(normalizeParams(params)))
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeParams serialises params into deterministic JSON by dropping
// volatile fields and sorting keys at every level.
func normalizeParams(params map[string]any) string {
	if len(params) == 0 {
		return "{}"
	}
	filtered := make(map[string]any, len(params))
	for k, v := range params {
		if volatileFields[k] {
			continue
		}
		filtered[k] = v
	}
	data, err := json.Marshal(sortedMap(filtered))
	if err != nil {
		// Corrupt values hash as an empty payload; callers treat the
		// resulting collision window as acceptable for a cache.
		return "{}"
	}
	return string(data)
}

// sortedMap returns a representation of m that json.Marshal serialises with
// keys in sorted order at every nesting level.
func sortedMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := m[k]
		if nested, ok := v.(map[string]any); ok {
			v = sortedMap(nested)
		}
		out[k] = v
	}
	return out
}
