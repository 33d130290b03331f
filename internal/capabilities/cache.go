// Package capabilities resolves printer capability profiles and keeps a
// bounded cache of them, keyed by printer address.
package capabilities

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/orrn/netprint/internal/config"
	"github.com/orrn/netprint/internal/core"
	"github.com/orrn/netprint/internal/metrics"
	"github.com/orrn/netprint/internal/printer"
)

// Prober fetches a profile from the device itself.
type Prober interface {
	Probe(ctx context.Context, d printer.Descriptor) (printer.Capabilities, error)
}

// Cache implements core.CapabilityResolver. Concurrent requests for one
// address share a single probe; background requests are throttled while
// priority requests never wait for a slot.
type Cache struct {
	prober  Prober
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics

	group      singleflight.Group
	background chan struct{}

	mu      sync.Mutex
	size    int
	order   *list.List
	entries map[string]*list.Element

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ core.CapabilityResolver = (*Cache)(nil)

type entry struct {
	key  string
	caps printer.Capabilities
}

func NewCache(prober Prober, cfg config.CapabilitiesConfig, logger *zap.Logger, m *metrics.Metrics) *Cache {
	size := cfg.CacheSize
	if size < 1 {
		size = 64
	}
	slots := cfg.BackgroundProbes
	if slots < 1 {
		slots = 1
	}
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		prober:     prober,
		timeout:    timeout,
		logger:     logger.Named("capabilities"),
		metrics:    m,
		background: make(chan struct{}, slots),
		size:       size,
		order:      list.New(),
		entries:    make(map[string]*list.Element),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func cacheKey(d printer.Descriptor) string {
	return strings.ToLower(d.Address)
}

func (c *Cache) Cached(d printer.Descriptor) (printer.Capabilities, bool) {
	return c.lookup(cacheKey(d))
}

// Request serves from the cache synchronously when possible and otherwise
// calls cb from a probe goroutine.
func (c *Cache) Request(d printer.Descriptor, priority bool, cb core.CapabilityCallback) {
	if caps, ok := c.Cached(d); ok {
		c.metrics.CapabilityRequests.WithLabelValues("cached").Inc()
		cb(d, caps, true)
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		caps, err := c.resolve(d, priority)
		if err != nil {
			c.logger.Debug("capability probe failed", zap.String("address", d.Address), zap.Error(err))
			c.metrics.CapabilityRequests.WithLabelValues("failed").Inc()
			cb(d, printer.Capabilities{}, false)
			return
		}
		cb(d, caps, true)
	}()
}

func (c *Cache) resolve(d printer.Descriptor, priority bool) (printer.Capabilities, error) {
	if !priority {
		select {
		case c.background <- struct{}{}:
			defer func() { <-c.background }()
		case <-c.ctx.Done():
			return printer.Capabilities{}, c.ctx.Err()
		}
	}

	key := cacheKey(d)
	probed := false
	v, err, _ := c.group.Do(key, func() (any, error) {
		if caps, ok := c.lookup(key); ok {
			return caps, nil
		}
		probed = true
		ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
		defer cancel()

		caps, err := c.prober.Probe(ctx, d)
		if err != nil {
			return nil, err
		}
		c.store(key, caps)
		return caps, nil
	})
	if probed {
		c.metrics.CapabilityRequests.WithLabelValues("issued").Inc()
	} else {
		c.metrics.CapabilityRequests.WithLabelValues("coalesced").Inc()
	}
	if err != nil {
		return printer.Capabilities{}, err
	}
	return v.(printer.Capabilities), nil
}

func (c *Cache) Evict(d printer.Descriptor) {
	key := cacheKey(d)
	c.group.Forget(key)

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

// Len reports how many profiles are cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Close aborts outstanding probes and waits for their callbacks.
func (c *Cache) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Cache) lookup(key string) (printer.Capabilities, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return printer.Capabilities{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).caps, true
}

func (c *Cache) store(key string, caps printer.Capabilities) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*entry).caps = caps
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&entry{key: key, caps: caps})
	for c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).key)
	}
}
