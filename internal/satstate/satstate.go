/*
	Last known live signals reported by satellites, per (node, resource).

	Nothing in here is authoritative or persisted: entries are overwritten by
	every event, cleared when a stream ends and rebuilt from the next stream
	after a restart. An optional TTL drops entries of satellites that went
	quiet without closing their stream.
*/

package satstate

import (
	"context"
	"sync"
	"time"

	"github.com/InsulaLabs/strata/internal/names"
	"github.com/InsulaLabs/strata/internal/tristate"
	"github.com/jellydator/ttlcache/v3"
)

type Key struct {
	Node     string
	Resource string
}

func KeyOf(node names.NodeName, rsc names.ResourceName) Key {
	return Key{Node: node.Canonical(), Resource: rsc.Canonical()}
}

type ResourceState struct {
	InUse    tristate.Bool
	Ready    tristate.Bool
	UpToDate tristate.Bool
}

type Cache struct {
	// serializes read-modify-write per cache; the ttlcache itself is safe
	// for concurrent use
	mu    sync.Mutex
	ttl   time.Duration
	cache *ttlcache.Cache[Key, ResourceState]
}

// New creates the cache. A ttl of zero keeps entries until they are removed.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	return &Cache{
		ttl: ttl,
		cache: ttlcache.New[Key, ResourceState](
			ttlcache.WithTTL[Key, ResourceState](ttl),
			ttlcache.WithDisableTouchOnHit[Key, ResourceState](),
		),
	}
}

// Run expires entries in the background until ctx is done.
func (c *Cache) Run(ctx context.Context) {
	go c.cache.Start()
	<-ctx.Done()
	c.cache.Stop()
}

func (c *Cache) update(key Key, fn func(*ResourceState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var st ResourceState
	if item := c.cache.Get(key); item != nil {
		st = item.Value()
	}
	fn(&st)
	c.cache.Set(key, st, ttlcache.DefaultTTL)
}

// Set replaces the whole state of one resource.
func (c *Cache) Set(node names.NodeName, rsc names.ResourceName, st ResourceState) {
	c.update(KeyOf(node, rsc), func(cur *ResourceState) { *cur = st })
}

func (c *Cache) SetInUse(node names.NodeName, rsc names.ResourceName, inUse tristate.Bool) {
	c.update(KeyOf(node, rsc), func(cur *ResourceState) { cur.InUse = inUse })
}

// UnsetInUse clears in-use of an existing entry. A key without an entry
// already reads as Unknown and stays absent, so a stream closed after
// Remove does not bring the entry back.
func (c *Cache) UnsetInUse(node names.NodeName, rsc names.ResourceName) {
	key := KeyOf(node, rsc)
	c.mu.Lock()
	defer c.mu.Unlock()
	item := c.cache.Get(key)
	if item == nil || item.IsExpired() {
		return
	}
	st := item.Value()
	st.InUse = tristate.Unknown
	c.cache.Set(key, st, ttlcache.DefaultTTL)
}

func (c *Cache) Remove(node names.NodeName, rsc names.ResourceName) {
	c.cache.Delete(KeyOf(node, rsc))
}

func (c *Cache) Get(node names.NodeName, rsc names.ResourceName) (ResourceState, bool) {
	item := c.cache.Get(KeyOf(node, rsc))
	if item == nil || item.IsExpired() {
		return ResourceState{}, false
	}
	return item.Value(), true
}

// InUse is Unknown for keys without an entry.
func (c *Cache) InUse(node names.NodeName, rsc names.ResourceName) tristate.Bool {
	st, _ := c.Get(node, rsc)
	return st.InUse
}

func (c *Cache) Len() int { return c.cache.Len() }
