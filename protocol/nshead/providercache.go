package nshead

import (
	"container/list"
	"sync"
)

// providerCacheSize bounds how many distinct provider names trimProvider
// will intern before evicting the least recently seen one. Providers are
// a small, mostly-fixed set per deployment (spec §4.5.4's routing key),
// so this stays far under the bound in practice; the cap only protects
// against an adversarial or misbehaving peer cycling through garbage
// provider bytes on every packet.
const providerCacheSize = 256

// providerCache interns the 16-byte provider field into a string once
// per distinct value instead of allocating a fresh string on every
// decoded packet, evicting the least recently used entry once full.
// Adapted from the teacher's generic utils/lru.LRU[string] (same
// []byte-in/string-out GetOrAdd shape) into a provider-name-specific
// cache shared across every Codec, since NSHead's Codec is stateless
// and safe to share across connections (server.Static's contract).
type providerCache struct {
	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List
}

var providers = newProviderCache(providerCacheSize)

func newProviderCache(maxSize int) *providerCache {
	return &providerCache{
		items: make(map[string]*list.Element, maxSize),
		order: list.New(),
	}
}

func (c *providerCache) intern(raw []byte) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	// The compiler elides the []byte->string conversion's allocation
	// for a map index expression shaped exactly like this one, so a
	// cache hit costs no allocation at all.
	if el, ok := c.items[string(raw)]; ok {
		c.order.MoveToFront(el)
		return el.Value.(string)
	}

	if len(c.items) >= providerCacheSize {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(string))
		}
	}

	key := string(raw)
	el := c.order.PushFront(key)
	c.items[key] = el
	return key
}
