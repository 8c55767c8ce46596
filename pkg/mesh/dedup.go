package mesh

import (
	"container/list"
	"net"
)

// dedupCapacity bounds the broadcast suppression cache. Sized for peers times
// a generous burst; once full the least recently seen pair is evicted.
const dedupCapacity = 4096

type dedupKey struct {
	origin string
	stamp  int64
}

// dedupCache remembers (origin, stamp) pairs of flooded frames so a
// broadcast travelling a cycle is injected and re-flooded at most once.
type dedupCache struct {
	capacity int
	order    *list.List
	seen     map[dedupKey]*list.Element
}

func newDedupCache(capacity int) *dedupCache {
	if capacity <= 0 {
		capacity = dedupCapacity
	}
	return &dedupCache{
		capacity: capacity,
		order:    list.New(),
		seen:     make(map[dedupKey]*list.Element),
	}
}

// Seen records (origin, stamp) and reports whether it was already present.
func (c *dedupCache) Seen(origin net.HardwareAddr, stamp int64) bool {
	key := dedupKey{origin: origin.String(), stamp: stamp}
	if el, ok := c.seen[key]; ok {
		c.order.MoveToFront(el)
		return true
	}
	c.seen[key] = c.order.PushFront(key)
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.seen, oldest.Value.(dedupKey))
	}
	return false
}

// Len returns the number of remembered pairs.
func (c *dedupCache) Len() int { return c.order.Len() }
