// Package cache provides the risk result cache and its optional second tier.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rival420/donwatcher/internal/domain"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMaxEntries     = 1000
	DefaultTTL            = 5 * time.Minute
	DefaultBackendTimeout = 2 * time.Second
)

// Key identifies a cached value: a domain plus an optional view qualifier.
type Key struct {
	Domain string
	View   string
}

func (k Key) String() string {
	return k.Domain + "/" + k.View
}

// ComputeFunc produces the value for a missing key.
type ComputeFunc[V any] func(ctx context.Context) (V, error)

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Computes      uint64 `json:"computes"`
	Evictions     uint64 `json:"evictions"`
	Expirations   uint64 `json:"expirations"`
	Invalidations uint64 `json:"invalidations"`
	Size          int    `json:"size"`
	Capacity      int    `json:"capacity"`
}

// RiskCache is a size and time bounded LRU cache with per-key request coalescing.
//
// Every domain has a generation that invalidation bumps. A computation only
// stores its result if the generation it started under is still current, so
// a value computed from facts older than an invalidation is never cached.
// Concurrent misses under the same generation share one computation.
//
// Generation counters are never pruned per domain, since dropping one would
// let an in-flight computation match a reset counter. The map is bounded by
// the number of distinct domains and cleared by InvalidateAll.
//
// With a backend configured the cache is two-phase: L1 in process, L2 shared.
// Backend failures are logged and treated as misses.
type RiskCache[V any] struct {
	name       string
	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	mu          sync.Mutex
	items       map[Key]*list.Element
	order       *list.List
	epoch       uint64
	generations map[string]uint64 // one counter per domain ever invalidated; reset by InvalidateAll

	backend        domain.CacheBackend
	backendTimeout time.Duration
	backendMu      sync.RWMutex // writers hold R, invalidation holds W
	bypass         map[string]time.Time
	bypassAll      time.Time

	flight singleflight.Group

	hits          atomic.Uint64
	misses        atomic.Uint64
	computes      atomic.Uint64
	evictions     atomic.Uint64
	expirations   atomic.Uint64
	invalidations atomic.Uint64
}

type entry[V any] struct {
	key       Key
	value     V
	createdAt time.Time
	expiresAt time.Time
}

type generation struct {
	epoch  uint64
	domain uint64
}

// Option configures a RiskCache.
type Option func(*options)

type options struct {
	name           string
	maxEntries     int
	ttl            time.Duration
	now            func() time.Time
	backend        domain.CacheBackend
	backendTimeout time.Duration
}

// WithName labels the cache in logs, metrics and backend keys.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithMaxEntries bounds the number of L1 entries.
func WithMaxEntries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEntries = n
		}
	}
}

// WithTTL sets the lifetime of an entry regardless of recency.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock injects the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithBackend enables the second cache tier.
func WithBackend(b domain.CacheBackend) Option {
	return func(o *options) { o.backend = b }
}

// WithBackendTimeout bounds each backend call.
func WithBackendTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.backendTimeout = d
		}
	}
}

// New creates a RiskCache.
func New[V any](opts ...Option) *RiskCache[V] {
	o := options{
		name:           "risk",
		maxEntries:     DefaultMaxEntries,
		ttl:            DefaultTTL,
		now:            time.Now,
		backendTimeout: DefaultBackendTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &RiskCache[V]{
		name:           o.name,
		maxEntries:     o.maxEntries,
		ttl:            o.ttl,
		now:            o.now,
		items:          make(map[Key]*list.Element),
		order:          list.New(),
		generations:    make(map[string]uint64),
		backend:        o.backend,
		backendTimeout: o.backendTimeout,
		bypass:         make(map[string]time.Time),
	}
}

// Get returns a live L1 entry without computing.
func (c *RiskCache[V]) Get(key Key) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		return zero, false
	}

	e := elem.Value.(*entry[V])
	if !c.now().Before(e.expiresAt) {
		c.removeElement(elem)
		c.expirations.Add(1)
		cacheEvictions.WithLabelValues(c.name, "expired").Inc()
		return zero, false
	}

	// Move to front (most recently used)
	c.order.MoveToFront(elem)
	return e.value, true
}

// GetOrCompute returns the cached value for key or computes it.
//
// The computation runs detached from ctx cancellation so one caller giving
// up does not fail the others waiting on it; ctx only bounds this caller's wait.
func (c *RiskCache[V]) GetOrCompute(ctx context.Context, key Key, compute ComputeFunc[V]) (V, error) {
	if v, ok := c.Get(key); ok {
		c.hits.Add(1)
		cacheRequests.WithLabelValues(c.name, "hit").Inc()
		return v, nil
	}
	c.misses.Add(1)
	cacheRequests.WithLabelValues(c.name, "miss").Inc()

	return c.load(ctx, key, compute, "get", true)
}

// Refresh invalidates the key's domain, then computes and stores a fresh value
// without consulting either tier.
func (c *RiskCache[V]) Refresh(ctx context.Context, key Key, compute ComputeFunc[V]) (V, error) {
	c.InvalidateDomain(ctx, key.Domain)
	return c.load(ctx, key, compute, "refresh", false)
}

func (c *RiskCache[V]) load(ctx context.Context, key Key, compute ComputeFunc[V], mode string, readBackend bool) (V, error) {
	c.mu.Lock()
	gen := c.generationLocked(key.Domain)
	c.mu.Unlock()

	flightKey := fmt.Sprintf("%s:%s#%d.%d", mode, key, gen.epoch, gen.domain)
	ch := c.flight.DoChan(flightKey, func() (any, error) {
		fctx := context.WithoutCancel(ctx)

		if readBackend {
			if v, ok := c.readBackend(fctx, key); ok {
				c.store(key, v, gen)
				return v, nil
			}
		}

		c.computes.Add(1)
		v, err := compute(fctx)
		if err != nil {
			return nil, err
		}

		if c.store(key, v, gen) {
			c.writeBackend(fctx, key, v, gen)
		}
		return v, nil
	})

	var zero V
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// store inserts the value unless the domain was invalidated after gen was taken.
func (c *RiskCache[V]) store(key Key, value V, gen generation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generationLocked(key.Domain) != gen {
		return false
	}

	now := c.now()

	// Update existing entry
	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		e := elem.Value.(*entry[V])
		e.value = value
		e.createdAt = now
		e.expiresAt = now.Add(c.ttl)
		return true
	}

	// Add new entry
	elem := c.order.PushFront(&entry[V]{
		key:       key,
		value:     value,
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	})
	c.items[key] = elem

	// Evict if over capacity
	for c.order.Len() > c.maxEntries {
		c.removeOldest()
		c.evictions.Add(1)
		cacheEvictions.WithLabelValues(c.name, "capacity").Inc()
	}
	return true
}

// Invalidate drops a single key. In-flight computations for the key's domain
// will not be stored.
func (c *RiskCache[V]) Invalidate(ctx context.Context, key Key) {
	c.backendMu.Lock()
	defer c.backendMu.Unlock()

	c.mu.Lock()
	c.generations[key.Domain]++
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
	c.mu.Unlock()
	c.invalidations.Add(1)

	if c.backend == nil {
		return
	}
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.backendTimeout)
	defer cancel()
	if err := c.backend.Delete(bctx, c.backendKey(key)); err != nil {
		c.backendFailed("delete", err, key.Domain)
		c.bypassDomain(key.Domain)
	}
}

// InvalidateDomain drops every view cached for a domain. When it returns, no
// later read observes a value computed before the call.
func (c *RiskCache[V]) InvalidateDomain(ctx context.Context, domainName string) {
	c.backendMu.Lock()
	defer c.backendMu.Unlock()

	c.mu.Lock()
	c.generations[domainName]++
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*entry[V]).key.Domain == domainName {
			c.removeElement(elem)
		}
		elem = next
	}
	c.mu.Unlock()
	c.invalidations.Add(1)

	if c.backend == nil {
		return
	}
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.backendTimeout)
	defer cancel()
	if err := c.backend.DeletePrefix(bctx, c.backendDomainPrefix(domainName)); err != nil {
		c.backendFailed("delete_prefix", err, domainName)
		c.bypassDomain(domainName)
	}
}

// InvalidateAll drops everything.
func (c *RiskCache[V]) InvalidateAll(ctx context.Context) {
	c.backendMu.Lock()
	defer c.backendMu.Unlock()

	c.mu.Lock()
	c.epoch++
	c.generations = make(map[string]uint64)
	c.items = make(map[Key]*list.Element)
	c.order.Init()
	c.mu.Unlock()
	c.invalidations.Add(1)

	if c.backend == nil {
		return
	}
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.backendTimeout)
	defer cancel()
	if err := c.backend.DeletePrefix(bctx, c.backendPrefix()); err != nil {
		c.backendFailed("delete_prefix", err, "")
		c.mu.Lock()
		c.bypassAll = c.now().Add(c.ttl)
		c.mu.Unlock()
	}
}

// Stats returns cache statistics.
func (c *RiskCache[V]) Stats() Stats {
	c.mu.Lock()
	size := c.order.Len()
	c.mu.Unlock()

	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Computes:      c.computes.Load(),
		Evictions:     c.evictions.Load(),
		Expirations:   c.expirations.Load(),
		Invalidations: c.invalidations.Load(),
		Size:          size,
		Capacity:      c.maxEntries,
	}
}

func (c *RiskCache[V]) readBackend(ctx context.Context, key Key) (V, bool) {
	var zero V
	if c.backend == nil || c.bypassed(key.Domain) {
		return zero, false
	}

	bctx, cancel := context.WithTimeout(ctx, c.backendTimeout)
	defer cancel()

	data, err := c.backend.Get(bctx, c.backendKey(key))
	if err != nil {
		c.backendFailed("get", err, key.Domain)
		return zero, false
	}
	if data == nil {
		return zero, false
	}

	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		c.backendFailed("decode", err, key.Domain)
		return zero, false
	}
	cacheRequests.WithLabelValues(c.name, "l2_hit").Inc()
	return v, true
}

func (c *RiskCache[V]) writeBackend(ctx context.Context, key Key, value V, gen generation) {
	if c.backend == nil {
		return
	}

	c.backendMu.RLock()
	defer c.backendMu.RUnlock()

	c.mu.Lock()
	current := c.generationLocked(key.Domain) == gen
	c.mu.Unlock()
	if !current {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		c.backendFailed("encode", err, key.Domain)
		return
	}

	bctx, cancel := context.WithTimeout(ctx, c.backendTimeout)
	defer cancel()
	if err := c.backend.Set(bctx, c.backendKey(key), data, c.ttl); err != nil {
		c.backendFailed("set", err, key.Domain)
	}
}

// bypassDomain stops L2 reads for a domain for one TTL after a failed delete,
// so a value that should have been removed is never served.
func (c *RiskCache[V]) bypassDomain(domainName string) {
	c.mu.Lock()
	c.bypass[domainName] = c.now().Add(c.ttl)
	c.mu.Unlock()
}

func (c *RiskCache[V]) bypassed(domainName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Before(c.bypassAll) {
		return true
	}
	until, ok := c.bypass[domainName]
	if !ok {
		return false
	}
	if now.Before(until) {
		return true
	}
	delete(c.bypass, domainName)
	return false
}

func (c *RiskCache[V]) backendFailed(op string, err error, domainName string) {
	backendErrors.WithLabelValues(c.name, op).Inc()
	slog.Warn("risk cache backend error",
		"cache", c.name,
		"op", op,
		"domain", domainName,
		"error", err,
	)
}

func (c *RiskCache[V]) generationLocked(domainName string) generation {
	return generation{epoch: c.epoch, domain: c.generations[domainName]}
}

func (c *RiskCache[V]) backendPrefix() string {
	return "donwatcher:" + c.name + ":"
}

func (c *RiskCache[V]) backendDomainPrefix(domainName string) string {
	return c.backendPrefix() + domainName + "/"
}

func (c *RiskCache[V]) backendKey(key Key) string {
	return c.backendDomainPrefix(key.Domain) + key.View
}

func (c *RiskCache[V]) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*entry[V]).key)
}

func (c *RiskCache[V]) removeOldest() {
	elem := c.order.Back()
	if elem != nil {
		c.removeElement(elem)
	}
}
